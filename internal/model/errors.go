package model

import (
	"errors"

	"github.com/rotisserie/eris"
)

// Kind classifies a failure for reporting and retry decisions.
type Kind int

const (
	KindUnknown Kind = iota
	// KindConfiguration covers unknown distributors and missing credentials.
	KindConfiguration
	// KindInput covers malformed task files and failed row validation.
	KindInput
	// KindTransient is a volatile page state that may succeed after a refresh.
	KindTransient
	// KindFatal is an automation failure that ends the task.
	KindFatal
	// KindPublish is an outbound notification failure. Never escalated.
	KindPublish
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindInput:
		return "input"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	case KindPublish:
		return "publish"
	default:
		return "unknown"
	}
}

// Error attaches a Kind and the name of the component that failed.
type Error struct {
	Kind   Kind
	Source string
	Err    error
}

func (e *Error) Error() string {
	if e.Source == "" {
		return e.Err.Error()
	}
	return e.Source + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a kind and source. A nil err yields nil.
func NewError(kind Kind, source string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Source: source, Err: err}
}

// ConfigurationError marks err as a configuration failure.
func ConfigurationError(source string, err error) error {
	return NewError(KindConfiguration, source, err)
}

// InputError marks err as an input failure.
func InputError(source string, err error) error {
	return NewError(KindInput, source, err)
}

// FatalError marks err as a fatal automation failure.
func FatalError(source string, err error) error {
	return NewError(KindFatal, source, err)
}

// PublishError marks err as an outbound channel failure.
func PublishError(source string, err error) error {
	return NewError(KindPublish, source, err)
}

// KindOf returns the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// SourceOf returns the source of the outermost *Error in err's chain.
func SourceOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Source
	}
	return ""
}

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = eris.New("not found")
