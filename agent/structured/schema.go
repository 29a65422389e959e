package structured

import "encoding/json"

// SchemaType represents JSON Schema types.
type SchemaType string

const (
	TypeString  SchemaType = "string"
	TypeNumber  SchemaType = "number"
	TypeInteger SchemaType = "integer"
	TypeBoolean SchemaType = "boolean"
	TypeNull    SchemaType = "null"
	TypeObject  SchemaType = "object"
	TypeArray   SchemaType = "array"
)

// JSONSchema is the subset of JSON Schema accepted by strict structured output.
type JSONSchema struct {
	Description          string                 `json:"description,omitempty"`
	Type                 SchemaType             `json:"-"`
	Nullable             bool                   `json:"-"`
	Properties           map[string]*JSONSchema `json:"properties,omitempty"`
	Required             []string               `json:"required,omitempty"`
	AdditionalProperties *bool                  `json:"additionalProperties,omitempty"`
	Items                *JSONSchema            `json:"items,omitempty"`
	Enum                 []any                  `json:"enum,omitempty"`
}

// MarshalJSON renders a nullable type as ["<type>", "null"].
func (s *JSONSchema) MarshalJSON() ([]byte, error) {
	type alias JSONSchema
	out := struct {
		Type any `json:"type,omitempty"`
		*alias
	}{alias: (*alias)(s)}

	switch {
	case s.Type == "":
	case s.Nullable:
		out.Type = []SchemaType{s.Type, TypeNull}
	default:
		out.Type = s.Type
	}
	return json.Marshal(out)
}

// NewObjectSchema returns a closed object schema.
func NewObjectSchema() *JSONSchema {
	closed := false
	return &JSONSchema{
		Type:                 TypeObject,
		Properties:           make(map[string]*JSONSchema),
		AdditionalProperties: &closed,
	}
}

func NewStringSchema() *JSONSchema {
	return &JSONSchema{Type: TypeString}
}

// NewEnumSchema returns a string schema restricted to values.
func NewEnumSchema(values ...string) *JSONSchema {
	s := &JSONSchema{Type: TypeString}
	for _, v := range values {
		s.Enum = append(s.Enum, v)
	}
	return s
}

func (s *JSONSchema) WithDescription(desc string) *JSONSchema {
	s.Description = desc
	return s
}

// AsNullable permits null in addition to the declared type.
func (s *JSONSchema) AsNullable() *JSONSchema {
	s.Nullable = true
	if len(s.Enum) > 0 {
		s.Enum = append(s.Enum, nil)
	}
	return s
}

// AddProperty adds a property and marks it required, as strict mode demands.
func (s *JSONSchema) AddProperty(name string, prop *JSONSchema) *JSONSchema {
	if s.Properties == nil {
		s.Properties = make(map[string]*JSONSchema)
	}
	s.Properties[name] = prop
	s.Required = append(s.Required, name)
	return s
}

// ToJSON marshals the schema.
func (s *JSONSchema) ToJSON() (json.RawMessage, error) {
	return json.Marshal(s)
}
