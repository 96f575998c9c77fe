package types

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// SchemaType represents JSON Schema types.
type SchemaType string

const (
	SchemaTypeString  SchemaType = "string"
	SchemaTypeNumber  SchemaType = "number"
	SchemaTypeInteger SchemaType = "integer"
	SchemaTypeBoolean SchemaType = "boolean"
	SchemaTypeObject  SchemaType = "object"
	SchemaTypeArray   SchemaType = "array"
)

// JSONSchema is the schema attached to a block type: one for its
// configuration, one per declared input/output handle. Block config is
// validated against it at graph-validation time, before an execution exists.
type JSONSchema struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`

	Type SchemaType `json:"type,omitempty"`

	// Object properties
	Properties map[string]*JSONSchema `json:"properties,omitempty"`
	Required   []string               `json:"required,omitempty"`

	// Array items
	Items *JSONSchema `json:"items,omitempty"`

	// Enum
	Enum []any `json:"enum,omitempty"`

	// String constraints
	MinLength *int   `json:"minLength,omitempty"`
	MaxLength *int   `json:"maxLength,omitempty"`
	Pattern   string `json:"pattern,omitempty"`

	// Numeric constraints
	Minimum *float64 `json:"minimum,omitempty"`
	Maximum *float64 `json:"maximum,omitempty"`

	// Default value, applied when the key is absent
	Default any `json:"default,omitempty"`
}

// NewObjectSchema creates a new object schema.
func NewObjectSchema() *JSONSchema {
	return &JSONSchema{
		Type:       SchemaTypeObject,
		Properties: make(map[string]*JSONSchema),
	}
}

// NewStringSchema creates a new string schema.
func NewStringSchema() *JSONSchema {
	return &JSONSchema{Type: SchemaTypeString}
}

// NewNumberSchema creates a new number schema.
func NewNumberSchema() *JSONSchema {
	return &JSONSchema{Type: SchemaTypeNumber}
}

// NewIntegerSchema creates a new integer schema.
func NewIntegerSchema() *JSONSchema {
	return &JSONSchema{Type: SchemaTypeInteger}
}

// NewBooleanSchema creates a new boolean schema.
func NewBooleanSchema() *JSONSchema {
	return &JSONSchema{Type: SchemaTypeBoolean}
}

// NewEnumSchema creates a new enum schema.
func NewEnumSchema(values ...any) *JSONSchema {
	return &JSONSchema{Enum: values}
}

// AddProperty adds a property to an object schema.
func (s *JSONSchema) AddProperty(name string, prop *JSONSchema) *JSONSchema {
	if s.Properties == nil {
		s.Properties = make(map[string]*JSONSchema)
	}
	s.Properties[name] = prop
	return s
}

// AddRequired adds required field names.
func (s *JSONSchema) AddRequired(names ...string) *JSONSchema {
	s.Required = append(s.Required, names...)
	return s
}

// WithDescription sets the description.
func (s *JSONSchema) WithDescription(desc string) *JSONSchema {
	s.Description = desc
	return s
}

// WithDefault sets the default value.
func (s *JSONSchema) WithDefault(v any) *JSONSchema {
	s.Default = v
	return s
}

// ToJSON serializes the schema to JSON.
func (s *JSONSchema) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}

// SchemaFromJSON deserializes a schema from JSON.
func SchemaFromJSON(data []byte) (*JSONSchema, error) {
	var schema JSONSchema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("failed to unmarshal JSON schema: %w", err)
	}
	return &schema, nil
}

// Validate checks value against the schema. For object schemas, defaults are
// applied to absent keys before required checks, so a config key with a
// declared default never fails as missing.
func (s *JSONSchema) Validate(value any) error {
	if s == nil {
		return nil
	}
	switch s.Type {
	case SchemaTypeObject:
		obj, ok := value.(map[string]any)
		if !ok {
			return fmt.Errorf("expected object, got %T", value)
		}
		for name, prop := range s.Properties {
			if _, present := obj[name]; !present && prop.Default != nil {
				obj[name] = prop.Default
			}
		}
		for _, req := range s.Required {
			if _, present := obj[req]; !present {
				return fmt.Errorf("missing required field %q", req)
			}
		}
		for name, prop := range s.Properties {
			if v, present := obj[name]; present {
				if err := prop.Validate(v); err != nil {
					return fmt.Errorf("field %q: %w", name, err)
				}
			}
		}
	case SchemaTypeString:
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
		if s.MinLength != nil && len(str) < *s.MinLength {
			return fmt.Errorf("string shorter than %d", *s.MinLength)
		}
		if s.MaxLength != nil && len(str) > *s.MaxLength {
			return fmt.Errorf("string longer than %d", *s.MaxLength)
		}
		if s.Pattern != "" {
			matched, err := regexp.MatchString(s.Pattern, str)
			if err != nil {
				return fmt.Errorf("invalid pattern %q: %w", s.Pattern, err)
			}
			if !matched {
				return fmt.Errorf("string does not match pattern %q", s.Pattern)
			}
		}
	case SchemaTypeNumber, SchemaTypeInteger:
		num, ok := toFloat(value)
		if !ok {
			return fmt.Errorf("expected number, got %T", value)
		}
		if s.Minimum != nil && num < *s.Minimum {
			return fmt.Errorf("value %v below minimum %v", num, *s.Minimum)
		}
		if s.Maximum != nil && num > *s.Maximum {
			return fmt.Errorf("value %v above maximum %v", num, *s.Maximum)
		}
	case SchemaTypeBoolean:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", value)
		}
	case SchemaTypeArray:
		arr, ok := value.([]any)
		if !ok {
			return fmt.Errorf("expected array, got %T", value)
		}
		if s.Items != nil {
			for i, item := range arr {
				if err := s.Items.Validate(item); err != nil {
					return fmt.Errorf("item %d: %w", i, err)
				}
			}
		}
	}
	if len(s.Enum) > 0 {
		for _, allowed := range s.Enum {
			if value == allowed {
				return nil
			}
		}
		return fmt.Errorf("value %v not in enum %v", value, s.Enum)
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
