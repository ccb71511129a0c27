package datanorm

import (
	"errors"
	"fmt"
)

// Pipeline failures. Any of these aborts the run.
var (
	ErrMissingColumns   = errors.New("required columns missing")
	ErrSourceUnreadable = errors.New("source unreadable")
	ErrIdentityConflict = errors.New("identity bridge maps one user_uuid to several leads")
	ErrTieOut           = errors.New("record accounting does not tie out")
)

// ParseError is a source record that could not be decoded into the expected
// shape. It is counted and skipped; it never aborts a run.
type ParseError struct {
	Source  Source
	Seq     int
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s line %d: %s", e.Source, e.Line, e.Message)
}

// StageError is a pipeline failure, tagged with the stage and source it came from.
type StageError struct {
	Stage  string
	Source Source
	Err    error
}

func (e *StageError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Source, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage string, src Source, err error) error {
	return &StageError{Stage: stage, Source: src, Err: err}
}
