package oracle

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// DenseFormat identifies the dense artifact format.
const DenseFormat = "steerd.dense/v1"

// DenseSchema is the JSON schema of a dense model artifact.
const DenseSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["format", "input", "layers"],
  "properties": {
    "format": {"const": "steerd.dense/v1"},
    "input": {
      "type": "object",
      "required": ["height", "width", "channels", "scale", "offset"],
      "properties": {
        "height": {"type": "integer", "minimum": 1},
        "width": {"type": "integer", "minimum": 1},
        "channels": {"type": "integer", "minimum": 1},
        "scale": {"type": "number"},
        "offset": {"type": "number"}
      }
    },
    "layers": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["in", "out", "weights", "bias"],
        "properties": {
          "in": {"type": "integer", "minimum": 1},
          "out": {"type": "integer", "minimum": 1},
          "weights": {"type": "array", "items": {"type": "number"}},
          "bias": {"type": "array", "items": {"type": "number"}},
          "activation": {"enum": ["linear", "relu", "elu", "tanh"]}
        }
      }
    }
  }
}`

var denseSchemaLoader = gojsonschema.NewStringLoader(DenseSchema)

func validateDenseSchema(data []byte) error {
	result, err := gojsonschema.Validate(denseSchemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return fmt.Errorf("artifact does not match %s: %s", DenseFormat, strings.Join(msgs, "; "))
	}
	return nil
}
