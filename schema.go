package mentor

import (
	"encoding/json"
	"strings"

	"github.com/zoobzio/sentinel"
)

// generateJSONSchema creates a JSON Schema from a Go type using sentinel.
// Every structured output contract (clarification outcome, stage outputs,
// memory, persona) embeds its schema into the prompt this way.
func generateJSONSchema[T any]() string {
	metadata := sentinel.Inspect[T]()

	schema := map[string]interface{}{
		"type":                 "object",
		"properties":           buildProperties(metadata.Fields),
		"required":             buildRequiredFields(metadata.Fields),
		"additionalProperties": false,
	}

	jsonBytes, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(jsonBytes)
}

// buildProperties converts field metadata to JSON Schema properties.
func buildProperties(fields []sentinel.FieldMetadata) map[string]interface{} {
	properties := make(map[string]interface{})

	for _, field := range fields {
		jsonName := jsonFieldName(field)
		if jsonName == "-" {
			continue
		}

		prop := map[string]interface{}{
			"type": goTypeToJSONType(field.Type),
		}
		if desc, ok := field.Tags["desc"]; ok {
			prop["description"] = desc
		}
		properties[jsonName] = prop
	}

	return properties
}

// buildRequiredFields marks every field without omitempty as required.
func buildRequiredFields(fields []sentinel.FieldMetadata) []string {
	var required []string
	for _, field := range fields {
		jsonName := jsonFieldName(field)
		if jsonName == "-" {
			continue
		}
		if !hasOmitempty(field) {
			required = append(required, jsonName)
		}
	}
	return required
}

func jsonFieldName(field sentinel.FieldMetadata) string {
	if jsonTag, ok := field.Tags["json"]; ok {
		parts := strings.Split(jsonTag, ",")
		if len(parts) > 0 && parts[0] != "" {
			return parts[0]
		}
	}
	return strings.ToLower(field.Name[:1]) + field.Name[1:]
}

func hasOmitempty(field sentinel.FieldMetadata) bool {
	if jsonTag, ok := field.Tags["json"]; ok {
		return strings.Contains(jsonTag, "omitempty")
	}
	return false
}

// goTypeToJSONType maps Go types to JSON Schema types.
func goTypeToJSONType(goType string) string {
	switch {
	case strings.HasPrefix(goType, "string"):
		return "string"
	case strings.HasPrefix(goType, "int"), strings.HasPrefix(goType, "uint"):
		return "integer"
	case strings.HasPrefix(goType, "float"), strings.HasPrefix(goType, "complex"):
		return "number"
	case strings.HasPrefix(goType, "bool"):
		return "boolean"
	case strings.HasPrefix(goType, "[]"):
		return "array"
	case strings.HasPrefix(goType, "map["):
		return "object"
	default:
		return "object"
	}
}
