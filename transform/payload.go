package transform

import (
	"encoding/json"

	"github.com/teranos/mintdoi/errors"
)

// Payload is the JSON:API document POSTed to the registrar's /dois endpoint.
// Field order is fixed by the struct so encoding is byte-stable.
type Payload struct {
	Data PayloadData `json:"data"`
}

// PayloadData is the resource object of a Payload
type PayloadData struct {
	Type       string     `json:"type"`
	Attributes Attributes `json:"attributes"`
}

// Attributes carries the DOI metadata
type Attributes struct {
	Prefix          string        `json:"prefix"`
	Creators        []Creator     `json:"creators"`
	Titles          []Title       `json:"titles"`
	Publisher       string        `json:"publisher"`
	PublicationYear string        `json:"publicationYear"`
	Language        string        `json:"language"`
	Types           Types         `json:"types"`
	Descriptions    []Description `json:"descriptions"`
	URL             string        `json:"url"`
}

// Name types
const (
	NameTypePersonal       = "Personal"
	NameTypeOrganizational = "Organizational"
)

// Creator is one author of the record
type Creator struct {
	Name            string           `json:"name"`
	NameType        string           `json:"nameType"`
	GivenName       string           `json:"givenName,omitempty"`
	FamilyName      string           `json:"familyName,omitempty"`
	Affiliation     []Affiliation    `json:"affiliation,omitempty"`
	NameIdentifiers []NameIdentifier `json:"nameIdentifiers,omitempty"`
}

// Affiliation identifies an institution by name and ROR id
type Affiliation struct {
	AffiliationIdentifier       string `json:"affiliationIdentifier,omitempty"`
	AffiliationIdentifierScheme string `json:"affiliationIdentifierScheme,omitempty"`
	Name                        string `json:"name"`
	SchemeURI                   string `json:"schemeUri,omitempty"`
}

// NameIdentifier is a persistent person identifier, here always ORCID
type NameIdentifier struct {
	SchemeURI            string `json:"schemeUri"`
	NameIdentifier       string `json:"nameIdentifier"`
	NameIdentifierScheme string `json:"nameIdentifierScheme"`
}

// Title is one title of the record
type Title struct {
	Title string `json:"title"`
}

// Types is the resource type pair
type Types struct {
	ResourceTypeGeneral string `json:"resourceTypeGeneral"`
	ResourceType        string `json:"resourceType,omitempty"`
}

// Description is one description of the record
type Description struct {
	Lang            string `json:"lang"`
	Description     string `json:"description"`
	DescriptionType string `json:"descriptionType"`
}

// Encode returns the canonical JSON encoding of p
func (p Payload) Encode() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, errors.Wrap(err, "encode payload")
	}
	return data, nil
}

// DecodePayload parses a payload previously produced by Encode
func DecodePayload(data []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return Payload{}, errors.Mark(errors.Wrap(err, "decode payload"), errors.ErrSchema)
	}
	return p, nil
}
