package structured

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseError is one field-level validation failure.
type ParseError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors collects every failure found in one document.
type ValidationErrors struct {
	Errors []ParseError `json:"errors"`
}

func (e *ValidationErrors) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for i := range e.Errors {
		parts = append(parts, e.Errors[i].Error())
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Validator checks JSON documents against a JSONSchema.
type Validator struct{}

func NewValidator() *Validator { return &Validator{} }

// Validate returns *ValidationErrors when data does not satisfy schema.
func (v *Validator) Validate(data []byte, schema *JSONSchema) error {
	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return &ValidationErrors{Errors: []ParseError{{Message: fmt.Sprintf("invalid JSON: %v", err)}}}
	}

	var errs []ParseError
	v.validateValue(value, schema, "", &errs)
	if len(errs) > 0 {
		return &ValidationErrors{Errors: errs}
	}
	return nil
}

func (v *Validator) validateValue(value any, schema *JSONSchema, path string, errs *[]ParseError) {
	if schema == nil {
		return
	}
	if value == nil {
		if !schema.Nullable && schema.Type != TypeNull && schema.Type != "" {
			*errs = append(*errs, ParseError{Path: path, Message: "value must not be null"})
		}
		return
	}

	if len(schema.Enum) > 0 && !inEnum(value, schema.Enum) {
		*errs = append(*errs, ParseError{Path: path, Message: fmt.Sprintf("value %v not in enum", value)})
		return
	}

	switch schema.Type {
	case TypeString:
		if _, ok := value.(string); !ok {
			*errs = append(*errs, ParseError{Path: path, Message: "expected string"})
		}
	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			*errs = append(*errs, ParseError{Path: path, Message: "expected boolean"})
		}
	case TypeNumber, TypeInteger:
		f, ok := value.(float64)
		if !ok {
			*errs = append(*errs, ParseError{Path: path, Message: "expected number"})
		} else if schema.Type == TypeInteger && f != float64(int64(f)) {
			*errs = append(*errs, ParseError{Path: path, Message: "expected integer"})
		}
	case TypeArray:
		arr, ok := value.([]any)
		if !ok {
			*errs = append(*errs, ParseError{Path: path, Message: "expected array"})
			return
		}
		for i, item := range arr {
			v.validateValue(item, schema.Items, fmt.Sprintf("%s[%d]", path, i), errs)
		}
	case TypeObject:
		obj, ok := value.(map[string]any)
		if !ok {
			*errs = append(*errs, ParseError{Path: path, Message: "expected object"})
			return
		}
		v.validateObject(obj, schema, path, errs)
	}
}

func (v *Validator) validateObject(obj map[string]any, schema *JSONSchema, path string, errs *[]ParseError) {
	for _, name := range schema.Required {
		if _, ok := obj[name]; !ok {
			*errs = append(*errs, ParseError{Path: joinPath(path, name), Message: "required field missing"})
		}
	}
	for name, val := range obj {
		prop, ok := schema.Properties[name]
		if !ok {
			if schema.AdditionalProperties != nil && !*schema.AdditionalProperties {
				*errs = append(*errs, ParseError{Path: joinPath(path, name), Message: "additional property not allowed"})
			}
			continue
		}
		v.validateValue(val, prop, joinPath(path, name), errs)
	}
}

func inEnum(value any, enum []any) bool {
	for _, e := range enum {
		if e == value {
			return true
		}
	}
	return false
}

func joinPath(base, segment string) string {
	if base == "" {
		return segment
	}
	return base + "." + segment
}
