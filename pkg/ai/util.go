package ai

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/kaptinlin/jsonrepair"
)

// GenerateSchema creates a JSON Schema from the given Go type, suitable for
// structured output modes of chat models.
func GenerateSchema(value any) *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	t := reflect.TypeOf(value)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	return reflector.Reflect(reflect.New(t).Interface())
}

// SchemaJSON is GenerateSchema encoded as JSON.
func SchemaJSON(value any) ([]byte, error) {
	return json.Marshal(GenerateSchema(value))
}

// ParseClassification decodes a model reply into a ClassificationResponse.
// Malformed replies are reported as fatal: repeating the same prompt is
// unlikely to help.
func ParseClassification(message string) (ClassificationResponse, error) {
	var out ClassificationResponse
	if strings.TrimSpace(message) == "" {
		return out, Fatal("empty response from model", nil)
	}
	if err := UnmarshalFlexible(message, &out); err != nil {
		return out, Fatal("invalid classification payload", err)
	}
	return out, nil
}

// UnmarshalFlexible unmarshals model generated JSON into out. It tries plain
// JSON first, then double-encoded JSON strings, then repairs the input.
func UnmarshalFlexible(input string, out any) error {
	input = strings.TrimSpace(input)
	input = strings.TrimPrefix(input, "```json")
	input = strings.TrimSuffix(strings.TrimSpace(strings.TrimPrefix(input, "```")), "```")
	input = strings.TrimSpace(input)

	if err := json.Unmarshal([]byte(input), out); err == nil {
		return nil
	}

	var asString string
	if err := json.Unmarshal([]byte(input), &asString); err == nil {
		asString = strings.TrimSpace(asString)
		if err := json.Unmarshal([]byte(asString), out); err == nil {
			return nil
		}
		input = asString
	}

	repaired, err := jsonrepair.JSONRepair(input)
	if err != nil {
		return fmt.Errorf("json repair failed: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), out); err != nil {
		return fmt.Errorf("unmarshal failed after repair: %w", err)
	}
	return nil
}
