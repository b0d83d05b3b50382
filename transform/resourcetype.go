package transform

import "strings"

// ResourceType is the registrar's (resourceTypeGeneral, resourceType) pair
type ResourceType struct {
	General  string
	Specific string // empty when the general type says it all
}

// DefaultResourceType is used for any dc.type not in the table
var DefaultResourceType = ResourceType{General: "Text"}

// resourceTypes maps lower-cased dc.type values to registrar types
var resourceTypes = map[string]ResourceType{
	"doctoral dissertation": {General: "Dissertation"},
	"master's thesis":       {General: "Dissertation", Specific: "Master's Thesis"},
	"newsletter":            {General: "Text", Specific: "Newsletter"},
	"poster":                {General: "Text", Specific: "Conference Poster"},
	"presentation":          {General: "Text", Specific: "Conference Presentation"},
	"other":                 {General: "Text"},
	"podcast":               {General: "Sound", Specific: "Podcast"},
	"video":                 {General: "Audiovisual", Specific: "Video"},
	"dataset":               {General: "Dataset"},
	"preprint":              {General: "Preprint"},
	"report":                {General: "Report"},
}

// LookupResourceType maps a repository dc.type value to a registrar type.
// It never fails: unknown values map to DefaultResourceType.
func LookupResourceType(dcType string) ResourceType {
	key := strings.ToLower(strings.Join(strings.Fields(dcType), " "))
	if rt, ok := resourceTypes[key]; ok {
		return rt
	}
	return DefaultResourceType
}

func (rt ResourceType) types() Types {
	return Types{ResourceTypeGeneral: rt.General, ResourceType: rt.Specific}
}
