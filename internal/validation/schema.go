package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// InvocationSchema describes the per-task descriptor handed to the OCR worker
const InvocationSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["task_id", "model_path", "input_path", "output_path", "prompt", "file_type"],
  "properties": {
    "task_id":              {"type": "string", "minLength": 1},
    "model_path":           {"type": "string", "minLength": 1},
    "input_path":           {"type": "string", "minLength": 1},
    "output_path":          {"type": "string", "minLength": 1},
    "prompt":               {"type": "string", "minLength": 1},
    "file_type":            {"type": "string", "enum": ["pdf", "image"]},
    "device_id":            {"type": "string"},
    "base_size":            {"type": "integer", "minimum": 1},
    "image_size":           {"type": "integer", "minimum": 1},
    "crop_mode":            {"type": "boolean"},
    "min_crops":            {"type": "integer", "minimum": 1},
    "max_crops":            {"type": "integer", "minimum": 1},
    "max_concurrency":      {"type": "integer", "minimum": 1},
    "num_workers":          {"type": "integer", "minimum": 1},
    "print_num_vis_tokens": {"type": "boolean"},
    "skip_repeat":          {"type": "boolean"}
  }
}`

var invocationSchema *gojsonschema.Schema

func init() {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(InvocationSchema))
	if err != nil {
		panic(fmt.Sprintf("invalid invocation schema: %v", err))
	}
	invocationSchema = schema
}

// ValidateDocument validates a JSON document against a schema
func ValidateDocument(document []byte, schema *gojsonschema.Schema) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(document))
	if err != nil {
		return fmt.Errorf("failed to validate: %w", err)
	}

	if !result.Valid() {
		var errors []string
		for _, desc := range result.Errors() {
			errors = append(errors, desc.String())
		}
		return fmt.Errorf("validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}

// ValidateInvocation marshals v and validates it against InvocationSchema,
// returning the encoded document when it is valid
func ValidateInvocation(v interface{}) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode invocation: %w", err)
	}
	if err := ValidateDocument(data, invocationSchema); err != nil {
		return nil, err
	}
	return data, nil
}
