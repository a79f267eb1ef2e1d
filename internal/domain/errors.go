package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrSpawn means an external command could not be started.
	ErrSpawn = errors.New("spawn error")
	// ErrProcessFailure means a command ran but its expected output is missing or invalid.
	ErrProcessFailure = errors.New("process failure")
	// ErrIO covers filesystem and stream failures.
	ErrIO = errors.New("io error")
	// ErrUpload covers object storage transport and auth failures.
	ErrUpload = errors.New("upload error")
	// ErrConfiguration means a required setting is missing or invalid.
	ErrConfiguration = errors.New("configuration error")
)

// StageError ties a failure to the target and stage it happened in.
type StageError struct {
	Target string
	Stage  Stage
	Kind   error
	Err    error
}

// Error leaves the target out; callers label it.
func (e *StageError) Error() string {
	if errors.Is(e.Err, e.Kind) {
		return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s stage: %v: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// NewStageError builds a StageError. A nil kind is classified from err.
func NewStageError(target string, stage Stage, kind, err error) *StageError {
	if kind == nil {
		kind = Classify(err)
	}
	return &StageError{Target: target, Stage: stage, Kind: kind, Err: err}
}

// Classify returns the taxonomy sentinel err matches, defaulting to ErrIO.
func Classify(err error) error {
	for _, kind := range []error{ErrSpawn, ErrProcessFailure, ErrUpload, ErrConfiguration, ErrIO} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return ErrIO
}

// ConfigError lists every missing or invalid setting found during validation.
type ConfigError struct {
	Missing []string
	Invalid []string
}

func (e *ConfigError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing required: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid: "+strings.Join(e.Invalid, ", "))
	}
	return "configuration error: " + strings.Join(parts, "; ")
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrConfiguration
}

// Empty reports whether no problems were recorded.
func (e *ConfigError) Empty() bool {
	return len(e.Missing) == 0 && len(e.Invalid) == 0
}
