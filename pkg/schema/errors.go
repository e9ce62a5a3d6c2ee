package schema

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	MissingField ErrorKind = iota + 1
	TypeMismatch
	UnknownEnumValue
	ConstraintViolation
)

func (k ErrorKind) String() string {
	switch k {
	case MissingField:
		return "missing field"
	case TypeMismatch:
		return "type mismatch"
	case UnknownEnumValue:
		return "unknown enum value"
	case ConstraintViolation:
		return "constraint violation"
	default:
		return "unknown error"
	}
}

// ConfigError is a fatal problem with a training document. Path is the
// dotted location of the offending entry, e.g. "model.rotary_dim" or
// "optimizer.learning_rate[1].total_iters".
type ConfigError struct {
	Kind ErrorKind
	Path string
	Msg  string
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Path, e.Kind, e.Msg)
}

func newError(kind ErrorKind, path, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Kind: kind, Path: path, Msg: fmt.Sprintf(format, args...)}
}

// IsKind reports whether err wraps a ConfigError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}

// ConfigWarning is an advisory finding that does not reject the document.
type ConfigWarning struct {
	Check string
	Path  string
	Msg   string
}

func (w ConfigWarning) String() string {
	if w.Path == "" {
		return fmt.Sprintf("[%s] %s", w.Check, w.Msg)
	}
	return fmt.Sprintf("[%s] %s: %s", w.Check, w.Path, w.Msg)
}
