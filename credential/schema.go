package credential

import (
	"github.com/invopop/jsonschema"
)

// ClaimsSchema reflects Claims into a self-contained JSON schema. Every member
// is listed as required.
func ClaimsSchema() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference: true, // inline defs
		ExpandedStruct: true, // put struct at root
	}
	s := r.Reflect(new(Claims))
	s.Title = "Node access token claims"
	return s
}
