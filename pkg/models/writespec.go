package models

import (
	"errors"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// FieldType enumerates the value types a write spec field may declare.
type FieldType string

const (
	FieldTypeString FieldType = "string"
	FieldTypeNumber FieldType = "number"
	FieldTypeBool   FieldType = "bool"
	FieldTypeList   FieldType = "list"
	FieldTypeObject FieldType = "object"
)

// FieldSpec declares the expected shape of one field in a write payload.
type FieldSpec struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required"`
}

// WriteSpec is a tagged-variant description of a single write: the entity it
// targets, the field values to store, and the declared field shapes. Shape is
// validated once, before any write runs, instead of ad hoc per call site.
type WriteSpec struct {
	Entity string         `json:"entity" validate:"required"`
	Fields map[string]any `json:"fields" validate:"required"`

	// Schema declares per-field shape. Optional: an empty schema skips
	// field-level validation.
	Schema []FieldSpec `json:"schema,omitempty"`

	// JSONSchema optionally holds a full JSON-schema document validated
	// against Fields, for payloads whose shape is caller-supplied.
	JSONSchema map[string]any `json:"json_schema,omitempty"`
}

var ErrInvalidWriteSpec = errors.New("invalid write spec")

// Validate checks the spec against its declared field shapes and, when
// present, its JSON schema. Returns the first violation found.
func (s *WriteSpec) Validate() error {
	if s.Entity == "" {
		return fmt.Errorf("%w: entity is required", ErrInvalidWriteSpec)
	}

	if s.Fields == nil {
		return fmt.Errorf("%w: fields are required", ErrInvalidWriteSpec)
	}

	for _, field := range s.Schema {
		value, present := s.Fields[field.Name]
		if !present || value == nil {
			if field.Required {
				return fmt.Errorf("%w: missing required field %q", ErrInvalidWriteSpec, field.Name)
			}

			continue
		}

		if !matchesFieldType(value, field.Type) {
			return fmt.Errorf("%w: field %q is not a %s", ErrInvalidWriteSpec, field.Name, field.Type)
		}
	}

	if s.JSONSchema != nil {
		return s.validateJSONSchema()
	}

	return nil
}

func (s *WriteSpec) validateJSONSchema() error {
	schemaLoader := gojsonschema.NewGoLoader(s.JSONSchema)
	documentLoader := gojsonschema.NewGoLoader(s.Fields)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("%w: schema validation error: %w", ErrInvalidWriteSpec, err)
	}

	if !result.Valid() {
		if len(result.Errors()) > 0 {
			return fmt.Errorf("%w: %s", ErrInvalidWriteSpec, result.Errors()[0].String())
		}

		return ErrInvalidWriteSpec
	}

	return nil
}

func matchesFieldType(value any, fieldType FieldType) bool {
	switch fieldType {
	case FieldTypeString:
		_, ok := value.(string)

		return ok
	case FieldTypeNumber:
		switch value.(type) {
		case int, int32, int64, float32, float64:
			return true
		}

		return false
	case FieldTypeBool:
		_, ok := value.(bool)

		return ok
	case FieldTypeList:
		switch value.(type) {
		case []any, []string, []map[string]any:
			return true
		}

		return false
	case FieldTypeObject:
		_, ok := value.(map[string]any)

		return ok
	}

	return false
}
