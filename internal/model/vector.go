package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Vector is an embedding persisted as a JSON array of float32 for portability
// across MySQL, Postgres and SQLite.
type Vector []float32

// Dim returns the vector's dimension.
func (v Vector) Dim() int { return len(v) }

func (v Vector) Value() (driver.Value, error) {
	if v == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]float32(v))
	if err != nil {
		return nil, fmt.Errorf("marshal vector failed: %w", err)
	}
	return string(b), nil
}

func (v *Vector) Scan(src any) error {
	var raw []byte
	switch s := src.(type) {
	case nil:
		*v = nil
		return nil
	case string:
		raw = []byte(s)
	case []byte:
		raw = s
	default:
		return fmt.Errorf("scan vector: unsupported type %T", src)
	}
	var out []float32
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("unmarshal vector failed: %w", err)
	}
	*v = out
	return nil
}
