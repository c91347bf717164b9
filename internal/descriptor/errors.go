package descriptor

import (
	"errors"
	"strings"
)

var (
	ErrParseFailure       = errors.New("descriptor: parse failure")
	ErrUnresolvedVariable = errors.New("descriptor: unresolved variable")
	ErrMissingDependency  = errors.New("descriptor: missing dependency")
	ErrInvalidValue       = errors.New("descriptor: invalid value")
	ErrUnknownService     = errors.New("descriptor: unknown service")
)

// ConfigError is returned by every loader failure. Kind is one of the
// sentinel errors above, so callers can use errors.Is on the kind.
type ConfigError struct {
	Kind    error
	Subject string
	Err     error
}

func (e *ConfigError) Error() string {
	parts := []string{e.Kind.Error()}
	if e.Subject != "" {
		parts = append(parts, e.Subject)
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

func (e *ConfigError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func configErr(kind error, subject string, err error) error {
	return &ConfigError{Kind: kind, Subject: subject, Err: err}
}
