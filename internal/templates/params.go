package templates

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Kind enumerates the supported parameter types a template may declare.
type Kind string

const (
	KindInteger Kind = "integer"
	KindString  Kind = "string"
	KindAddress Kind = "address"
	KindEnum    Kind = "enum"
	KindISODate Kind = "isoDate"
)

// Param describes one named, typed parameter a template accepts.
type Param struct {
	Name     string
	Kind     Kind
	Required bool
	Default  interface{}

	Min, Max           int64 // integer range, inclusive
	MinLen, MaxLen     int   // string length bounds
	EnumValues         []string
}

// ValidationError reports which spec error code a parameter failed with.
type ValidationError struct {
	Code    string
	Param   string
	Message string
	Allowed []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("templates: param %q: %s (%s)", e.Param, e.Message, e.Code)
}

func newValidationError(code, param, message string) *ValidationError {
	return &ValidationError{Code: code, Param: param, Message: message}
}

// Validate checks raw against the parameter's declared type and constraints,
// returning the normalized value to bind into the template's SQL.
func (p Param) Validate(raw interface{}) (interface{}, error) {
	switch p.Kind {
	case KindInteger:
		return p.validateInteger(raw)
	case KindString:
		return p.validateString(raw)
	case KindAddress:
		return p.validateAddress(raw)
	case KindEnum:
		return p.validateEnum(raw)
	case KindISODate:
		return p.validateISODate(raw)
	default:
		return nil, newValidationError("INVALID_PARAM_TYPE", p.Name, fmt.Sprintf("unknown param kind %q", p.Kind))
	}
}

func (p Param) validateInteger(raw interface{}) (interface{}, error) {
	var n int64
	switch v := raw.(type) {
	case int64:
		n = v
	case int:
		n = int64(v)
	case float64:
		if v != float64(int64(v)) {
			return nil, newValidationError("INVALID_PARAM_TYPE", p.Name, "expected integer")
		}
		n = int64(v)
	default:
		return nil, newValidationError("INVALID_PARAM_TYPE", p.Name, "expected integer")
	}
	if p.Min != 0 || p.Max != 0 {
		if n < p.Min || n > p.Max {
			return nil, newValidationError("INVALID_PARAM_RANGE", p.Name, fmt.Sprintf("must be within [%d, %d]", p.Min, p.Max))
		}
	}
	return n, nil
}

func (p Param) validateString(raw interface{}) (interface{}, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, newValidationError("INVALID_PARAM_TYPE", p.Name, "expected string")
	}
	if p.MinLen > 0 && len(s) < p.MinLen {
		return nil, newValidationError("INVALID_PARAM_LENGTH", p.Name, fmt.Sprintf("must be at least %d characters", p.MinLen))
	}
	if p.MaxLen > 0 && len(s) > p.MaxLen {
		return nil, newValidationError("INVALID_PARAM_LENGTH", p.Name, fmt.Sprintf("must be at most %d characters", p.MaxLen))
	}
	return s, nil
}

func (p Param) validateAddress(raw interface{}) (interface{}, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, newValidationError("INVALID_PARAM_TYPE", p.Name, "expected address string")
	}
	if !common.IsHexAddress(s) {
		return nil, newValidationError("INVALID_PARAM_FORMAT", p.Name, "not a valid 0x address")
	}
	return strings.ToLower(s), nil
}

func (p Param) validateEnum(raw interface{}) (interface{}, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, newValidationError("INVALID_PARAM_TYPE", p.Name, "expected string")
	}
	for _, allowed := range p.EnumValues {
		if s == allowed {
			return s, nil
		}
	}
	err := newValidationError("INVALID_PARAM_VALUE", p.Name, "value not in enum")
	err.Allowed = p.EnumValues
	return nil, err
}

func (p Param) validateISODate(raw interface{}) (interface{}, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, newValidationError("INVALID_PARAM_TYPE", p.Name, "expected ISO-8601 date string")
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, newValidationError("INVALID_PARAM_FORMAT", p.Name, "not a valid ISO-8601 timestamp")
	}
	return t.UTC().Format(time.RFC3339), nil
}
