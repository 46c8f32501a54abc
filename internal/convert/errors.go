package convert

import (
	"errors"
	"fmt"
)

// Failure classes. Every error returned by Converter matches exactly one of
// them with errors.Is, and still unwraps to the originating error.
var (
	ErrInputRead  = errors.New("input read failed")
	ErrParse      = errors.New("email parse failed")
	ErrRender     = errors.New("render failed")
	ErrDelegation = errors.New("downstream extraction failed")
)

// ErrArtifactExists is returned under the fail policy when the artifact path
// is already taken. It is classed as a render failure.
var ErrArtifactExists = errors.New("artifact already exists")

// Stage names a step of one conversion call.
type Stage string

const (
	StageReading    Stage = "reading"
	StageParsing    Stage = "parsing"
	StageComposing  Stage = "composing"
	StageRendering  Stage = "rendering"
	StageDelegating Stage = "delegating"
)

func (s Stage) class() error {
	switch s {
	case StageReading:
		return ErrInputRead
	case StageParsing, StageComposing:
		return ErrParse
	case StageRendering:
		return ErrRender
	default:
		return ErrDelegation
	}
}

// StageError records where a conversion call stopped.
type StageError struct {
	Stage Stage
	Path  string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %s %s: %v", e.Stage.class(), e.Stage, e.Path, e.Err)
}

// Unwrap returns the originating error.
func (e *StageError) Unwrap() error { return e.Err }

// Is matches the failure class of the stage.
func (e *StageError) Is(target error) bool { return target == e.Stage.class() }
