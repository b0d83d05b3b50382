package transform

import (
	"encoding/json"
	"strings"

	"github.com/teranos/mintdoi/errors"
)

// Repository metadata field names
const (
	FieldDateIssued = "dc.date.issued"
	FieldAbstract   = "dc.description.abstract"
	FieldURI        = "dc.identifier.uri"
	FieldPublisher  = "dc.publisher"
	FieldTitle      = "dc.title"
	FieldType       = "dc.type"
	FieldAuthor     = "dc.contributor.author"
	FieldORCID      = "dc.identifier.orcid"
	FieldDOI        = "dc.identifier.doi"
)

// requiredFields are the single-valued fields every record must carry
var requiredFields = []string{FieldDateIssued, FieldAbstract, FieldURI, FieldPublisher, FieldTitle, FieldType}

// MetadataValue is one value of a repository metadata field
type MetadataValue struct {
	Value      string  `json:"value"`
	Language   *string `json:"language,omitempty"`
	Authority  *string `json:"authority,omitempty"`
	Confidence int     `json:"confidence,omitempty"`
	Place      int     `json:"place,omitempty"`
}

// Metadata is a record's metadata as returned by the repository:
// field name to ordered values.
type Metadata map[string][]MetadataValue

// First returns the trimmed first value of field, or ""
func (m Metadata) First(field string) string {
	values := m[field]
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0].Value)
}

// Values returns every non-blank trimmed value of field
func (m Metadata) Values(field string) []string {
	var out []string
	for _, v := range m[field] {
		if s := strings.TrimSpace(v.Value); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ExistingIdentifier returns the DOI already recorded on the record, or ""
func (m Metadata) ExistingIdentifier() string {
	return m.First(FieldDOI)
}

// Encode returns the JSON encoding used for persistence
func (m Metadata) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "encode metadata")
	}
	return data, nil
}

// DecodeMetadata parses persisted or fetched metadata JSON
func DecodeMetadata(data []byte) (Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "decode metadata"), errors.ErrSchema)
	}
	return m, nil
}
