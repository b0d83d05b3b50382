package transform

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/teranos/mintdoi/errors"
)

//go:embed schema/datacite-draft.schema.json
var payloadSchema []byte

// payloadValidator checks payloads against the registrar's required-field set
type payloadValidator struct {
	schema *gojsonschema.Schema
}

func newPayloadValidator() (*payloadValidator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(payloadSchema))
	if err != nil {
		return nil, errors.Wrap(err, "compile payload schema")
	}
	return &payloadValidator{schema: schema}, nil
}

func (v *payloadValidator) validate(p Payload) error {
	result, err := v.schema.Validate(gojsonschema.NewGoLoader(p))
	if err != nil {
		return errors.Mark(errors.Wrap(err, "validate payload"), errors.ErrSchema)
	}
	if result.Valid() {
		return nil
	}

	fields := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		fields = append(fields, fmt.Sprintf("%s: %s", re.Field(), re.Description()))
	}
	return errors.WithDetail(
		errors.NewSchemaError("payload fails required-field check: %s", strings.Join(fields, "; ")),
		"see schema/datacite-draft.schema.json",
	)
}
