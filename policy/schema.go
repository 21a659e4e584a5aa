package policy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

var ErrInvalidRequirementDocument = errors.New("invalid credential-requirement document")

// requirementSchema validates the wire form of a credential
// requirement before it reaches the typed model.
const requirementSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["issuer", "credentialType"],
  "properties": {
    "issuer": {"type": "string", "minLength": 1},
    "credentialType": {"type": "string", "minLength": 1},
    "claims": {
      "type": "object",
      "properties": {
        "handle": {
          "oneOf": [
            {"type": "string", "minLength": 1},
            {"type": "array", "items": {"type": "string", "minLength": 1}, "minItems": 1}
          ]
        },
        "minIssuanceAge": {"type": "integer", "minimum": 0},
        "requiredEvidence": {"type": "array", "items": {"type": "string", "minLength": 1}}
      },
      "additionalProperties": true
    }
  },
  "additionalProperties": true
}`

var requirementSchemaLoader = gojsonschema.NewStringLoader(requirementSchema)

// ValidateRequirementDocument checks a raw requirement JSON document
// against the schema. Structural problems are reported before any
// trust evaluation happens.
func ValidateRequirementDocument(raw []byte) error {
	result, err := gojsonschema.Validate(requirementSchemaLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequirementDocument, err)
	}

	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalidRequirementDocument, strings.Join(problems, "; "))
	}

	return nil
}
