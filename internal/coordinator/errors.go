package coordinator

import (
	"errors"
	"fmt"
	"strings"
)

type ErrorKind string

const (
	KindNotFound    ErrorKind = "not_found"
	KindGeneration  ErrorKind = "generation"
	KindPersistence ErrorKind = "persistence"
	KindFinalize    ErrorKind = "finalize"
)

// ErrAlreadyRunning is returned by Run when another driver holds the job.
var ErrAlreadyRunning = errors.New("job already has a driver")

// StepError is a job-fatal failure. Its message is what the job record shows.
type StepError struct {
	Step string
	Kind ErrorKind
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s failed: %v", stepLabel(e.Step), e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func stepLabel(step string) string {
	switch step {
	case StepBrief:
		return "loading child profile"
	case StepText:
		return "story generation"
	case StepImages:
		return "illustration"
	case StepPersist:
		return "saving illustrations"
	case StepFinalize:
		return "saving story"
	}
	if strings.HasPrefix(step, "image_") {
		return "illustration"
	}
	return step
}

func stepError(step string, kind ErrorKind, err error) *StepError {
	var se *StepError
	if errors.As(err, &se) {
		return se
	}
	return &StepError{Step: step, Kind: kind, Err: err}
}
