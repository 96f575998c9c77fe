package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONMap stores a map[string]any as a JSON column.
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

func (m *JSONMap) Scan(value any) error {
	if value == nil {
		*m = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("unsupported JSON column type %T", value)
	}
}

// JSONDocument stores an arbitrary JSON document (a workflow definition)
// as a text column.
type JSONDocument []byte

func (d JSONDocument) Value() (driver.Value, error) {
	if len(d) == 0 {
		return nil, nil
	}
	return []byte(d), nil
}

func (d *JSONDocument) Scan(value any) error {
	if value == nil {
		*d = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*d = append((*d)[:0], v...)
		return nil
	case string:
		*d = JSONDocument(v)
		return nil
	default:
		return fmt.Errorf("unsupported JSON column type %T", value)
	}
}

func (d JSONDocument) MarshalJSON() ([]byte, error) {
	if len(d) == 0 {
		return []byte("null"), nil
	}
	return d, nil
}

func (d *JSONDocument) UnmarshalJSON(data []byte) error {
	*d = append((*d)[:0], data...)
	return nil
}
