package telemetry

import (
	"fmt"
	"strings"
)

// SchemaError reports a missing or malformed required column.
type SchemaError struct {
	Columns []string
	// Row is the zero-based record index, or -1 when the whole dataset is at fault.
	Row    int
	Reason string
}

func (e *SchemaError) Error() string {
	cols := strings.Join(e.Columns, ", ")
	if e.Row < 0 {
		return fmt.Sprintf("schema error: %s: %s", e.Reason, cols)
	}
	return fmt.Sprintf("schema error: row %d: %s: %s", e.Row, e.Reason, cols)
}

// MissingColumns returns a SchemaError naming every absent column.
func MissingColumns(cols ...string) *SchemaError {
	return &SchemaError{Columns: cols, Row: -1, Reason: "missing required column(s)"}
}

// EmptyDatasetError is returned when a stage receives no records.
type EmptyDatasetError struct{}

func (e *EmptyDatasetError) Error() string {
	return "empty dataset"
}

// InsufficientSamplesError is returned when too few records are supplied.
type InsufficientSamplesError struct {
	Have int
	Need int
}

func (e *InsufficientSamplesError) Error() string {
	return fmt.Sprintf("insufficient samples: have %d, need at least %d", e.Have, e.Need)
}

// InsufficientDimensionsError is returned when too few distinct features are supplied.
type InsufficientDimensionsError struct {
	Have int
	Need int
}

func (e *InsufficientDimensionsError) Error() string {
	return fmt.Sprintf("insufficient dimensions: have %d distinct features, need at least %d", e.Have, e.Need)
}

// ConfigError reports an out-of-range parameter.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
