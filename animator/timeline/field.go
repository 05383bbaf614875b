package timeline

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	// ErrValidation matches every *ValidationError via errors.Is.
	ErrValidation     = errors.New("validation failed")
	ErrRecordNotFound = errors.New("record not found")
)

// Field is one of the timeline columns a user may edit.
type Field int

const (
	FieldLayer Field = iota + 1
	FieldStartTime
	FieldDuration
	FieldVolume
)

var fieldNames = map[Field]string{
	FieldLayer:     "layer",
	FieldStartTime: "start_time",
	FieldDuration:  "duration",
	FieldVolume:    "volume",
}

func (f Field) String() string {
	if name, ok := fieldNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Field(%d)", int(f))
}

// Fields returns the editable fields in column order.
func Fields() []Field {
	return []Field{FieldLayer, FieldStartTime, FieldDuration, FieldVolume}
}

// ParseField maps a column name onto a Field.
func ParseField(name string) (Field, error) {
	for f, n := range fieldNames {
		if n == name {
			return f, nil
		}
	}
	return 0, &ValidationError{Field: name, Reason: "field is not editable"}
}

// ValidationError reports a rejected edit.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func parseInt(field Field, raw string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, &ValidationError{Field: field.String(), Value: raw, Reason: "not an integer"}
	}
	return v, nil
}

func parseFloat(field Field, raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, &ValidationError{Field: field.String(), Value: raw, Reason: "not a number"}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &ValidationError{Field: field.String(), Value: raw, Reason: "must be finite"}
	}
	return v, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
