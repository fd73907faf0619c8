package block

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

const catalogSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["blocks"],
  "properties": {
    "blocks": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "name"],
        "properties": {
          "id": {"type": "integer", "minimum": 0, "maximum": 65534},
          "name": {"type": "string", "minLength": 1},
          "solid": {"type": "boolean"},
          "opaque": {"type": "boolean"},
          "material": {"type": "integer", "minimum": 0, "maximum": 65535},
          "color": {"type": "array", "items": {"type": "integer", "minimum": 0, "maximum": 255}, "minItems": 4, "maxItems": 4},
          "max_health": {"type": "integer", "minimum": 0, "maximum": 255}
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`

var compiledSchema = jsonschema.MustCompileString("catalog.schema.json", catalogSchema)

type catalogFile struct {
	Blocks []Definition `yaml:"blocks" json:"blocks"`
}

// LoadCatalog reads a YAML catalog file, validates it and builds a Catalog.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog validates YAML catalog data against the catalog schema and
// builds a Catalog from it.
func ParseCatalog(data []byte) (*Catalog, error) {
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	// The validator expects JSON-shaped values.
	asJSON, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("normalize catalog: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(asJSON, &doc); err != nil {
		return nil, fmt.Errorf("normalize catalog: %w", err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return NewCatalog(file.Blocks)
}
