package domain

import (
	"errors"
	"fmt"
)

// Common domain errors
var (
	ErrExtractionFailed = errors.New("extraction failed")
	ErrUnresolvedType   = errors.New("unresolved type reference")
	ErrInvalidRule      = errors.New("invalid rewrite rule")
	ErrMissingMatch     = errors.New("rule matched nothing")
	ErrConfigInvalid    = errors.New("invalid configuration")
	ErrUnsupportedDecl  = errors.New("unsupported declaration")
	ErrDrift            = errors.New("generated bindings differ from committed bindings")
)

// Stage names a step of the generation pipeline.
type Stage string

const (
	StageExtract   Stage = "extract"
	StageNormalize Stage = "normalize"
	StageCorrect   Stage = "correct"
	StageEmit      Stage = "emit"
	StageWrite     Stage = "write"
	StageCheck     Stage = "check"
)

// GenerationError wraps a pipeline failure with the stage and symbol it concerns.
type GenerationError struct {
	Stage  Stage
	Symbol string
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Symbol != "" {
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Symbol, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// StageOf reports the pipeline stage recorded in err, if any.
func StageOf(err error) (Stage, bool) {
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		return genErr.Stage, true
	}
	return "", false
}
