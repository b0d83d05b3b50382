// Package transform turns repository record metadata into a registrar
// draft-DOI payload. Transformation is pure: no network, no clock, no
// randomness, so the same metadata always yields byte-identical output.
package transform

import (
	"regexp"
	"strings"

	"github.com/teranos/mintdoi/errors"
)

// Fixed payload values
const (
	PayloadType     = "dois"
	Language        = "en"
	DescriptionType = "Abstract"

	rorScheme    = "ROR"
	rorSchemeURI = "https://ror.org/"

	orcidScheme    = "ORCID"
	orcidSchemeURI = "https://orcid.org"
	orcidBaseURL   = "https://orcid.org/"
)

var orcidPattern = regexp.MustCompile(`\d{4}-\d{4}-\d{4}-\d{3}[\dX]`)

// Options are the per-run constants folded into every payload
type Options struct {
	Prefix          string // registrar DOI prefix, e.g. 10.80000
	AffiliationName string
	AffiliationROR  string
	// HandleBase, when set, replaces everything before the last path
	// segment of dc.identifier.uri, e.g. https://repo.example.edu/handle/20.500.14038
	HandleBase string
}

// Result is a successful transformation
type Result struct {
	Payload Payload
	// UnassociatedORCIDs lists ORCID iDs found on a multi-creator record.
	// They are not attached to any creator and must be paired by hand.
	UnassociatedORCIDs []string
}

// Transformer converts Metadata into a Payload
type Transformer struct {
	opts      Options
	validator *payloadValidator
}

// New creates a Transformer. It fails only if the embedded payload schema cannot be compiled.
func New(opts Options) (*Transformer, error) {
	v, err := newPayloadValidator()
	if err != nil {
		return nil, err
	}
	opts.HandleBase = strings.TrimRight(opts.HandleBase, "/")
	return &Transformer{opts: opts, validator: v}, nil
}

// Transform builds the registrar payload for m. Missing or malformed source
// fields, and payloads failing the required-field schema, return an error
// marked ErrSchema.
func (t *Transformer) Transform(m Metadata) (Result, error) {
	for _, field := range requiredFields {
		if m.First(field) == "" {
			return Result{}, errors.NewSchemaError("record is missing %s", field)
		}
	}

	authors := m.Values(FieldAuthor)
	if len(authors) == 0 {
		return Result{}, errors.NewSchemaError("record is missing %s", FieldAuthor)
	}

	year, err := publicationYear(m.First(FieldDateIssued))
	if err != nil {
		return Result{}, err
	}

	landing, err := t.landingURL(m.First(FieldURI))
	if err != nil {
		return Result{}, err
	}

	creators := t.creators(authors)

	var unassociated []string
	orcids := m.Values(FieldORCID)
	if len(orcids) > 0 {
		if len(creators) == 1 {
			creators[0].NameIdentifiers = []NameIdentifier{orcidIdentifier(orcids[0])}
		} else {
			unassociated = extractORCIDs(orcids)
		}
	}

	payload := Payload{Data: PayloadData{
		Type: PayloadType,
		Attributes: Attributes{
			Prefix:          t.opts.Prefix,
			Creators:        creators,
			Titles:          []Title{{Title: m.First(FieldTitle)}},
			Publisher:       m.First(FieldPublisher),
			PublicationYear: year,
			Language:        Language,
			Types:           LookupResourceType(m.First(FieldType)).types(),
			Descriptions: []Description{{
				Lang:            Language,
				Description:     m.First(FieldAbstract),
				DescriptionType: DescriptionType,
			}},
			URL: landing,
		},
	}}

	if err := t.validator.validate(payload); err != nil {
		return Result{}, err
	}

	return Result{Payload: payload, UnassociatedORCIDs: unassociated}, nil
}

// creators builds one Creator per author display name, each carrying the
// configured affiliation. Every call returns fresh slices.
func (t *Transformer) creators(names []string) []Creator {
	out := make([]Creator, 0, len(names))
	for _, name := range names {
		c := ParseCreator(name)
		if t.opts.AffiliationName != "" {
			c.Affiliation = []Affiliation{{
				AffiliationIdentifier:       t.opts.AffiliationROR,
				AffiliationIdentifierScheme: rorScheme,
				Name:                        t.opts.AffiliationName,
				SchemeURI:                   rorSchemeURI,
			}}
		}
		out = append(out, c)
	}
	return out
}

// ParseCreator classifies a display name. Names containing a comma are
// Personal and split into family and given name at the first ", ";
// anything else is Organizational.
func ParseCreator(name string) Creator {
	name = strings.TrimSpace(name)
	if !strings.Contains(name, ",") {
		return Creator{Name: name, NameType: NameTypeOrganizational}
	}

	sep := ", "
	if !strings.Contains(name, sep) {
		sep = ","
	}
	family, given, _ := strings.Cut(name, sep)
	return Creator{
		Name:       name,
		NameType:   NameTypePersonal,
		GivenName:  strings.TrimSpace(given),
		FamilyName: strings.TrimSpace(family),
	}
}

func orcidIdentifier(raw string) NameIdentifier {
	id := raw
	if m := orcidPattern.FindString(raw); m != "" {
		id = m
	}
	return NameIdentifier{
		SchemeURI:            orcidSchemeURI,
		NameIdentifier:       orcidBaseURL + id,
		NameIdentifierScheme: orcidScheme,
	}
}

// extractORCIDs returns every distinct ORCID iD in values, in order of
// appearance. A non-blank value holding no recognisable iD is kept as
// written so it still reaches the operator.
func extractORCIDs(values []string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, v := range values {
		ids := orcidPattern.FindAllString(v, -1)
		if len(ids) == 0 {
			if raw := strings.TrimSpace(v); raw != "" {
				add(raw)
			}
			continue
		}
		for _, id := range ids {
			add(id)
		}
	}
	return out
}

// publicationYear truncates an ISO date (2024-05-17, 2024-05, 2024) to its year
func publicationYear(issued string) (string, error) {
	if len(issued) < 4 {
		return "", errors.NewSchemaError("%s %q is not a date", FieldDateIssued, issued)
	}
	year := issued[:4]
	for _, r := range year {
		if r < '0' || r > '9' {
			return "", errors.NewSchemaError("%s %q does not start with a year", FieldDateIssued, issued)
		}
	}
	return year, nil
}

// landingURL rebuilds the record URL on the configured handle base
func (t *Transformer) landingURL(uri string) (string, error) {
	if t.opts.HandleBase == "" {
		return uri, nil
	}
	trimmed := strings.TrimRight(uri, "/")
	i := strings.LastIndex(trimmed, "/")
	if i < 0 || i == len(trimmed)-1 {
		return "", errors.NewSchemaError("%s %q has no handle suffix", FieldURI, uri)
	}
	return t.opts.HandleBase + "/" + trimmed[i+1:], nil
}
