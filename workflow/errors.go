package workflow

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrActionPending   = errors.New("workflow: action already pending")
	ErrActionCompleted = errors.New("workflow: action already completed")
	ErrActionNotFailed = errors.New("workflow: action has not failed")
	ErrUnknownOption   = errors.New("workflow: unknown option")
	ErrDuplicateOption = errors.New("workflow: duplicate option id")
	ErrStepBlocked     = errors.New("workflow: step blocked")
	ErrNoPreviousStep  = errors.New("workflow: no previous step")
	ErrWizardComplete  = errors.New("workflow: wizard already complete")
)

// GateError reports why a gated control could not be used.
type GateError struct {
	Step     string
	Failed   []string
	Warnings []string
}

func (e *GateError) Error() string {
	msg := fmt.Sprintf("workflow: step %q blocked by %s", e.Step, strings.Join(e.Failed, ", "))
	if len(e.Warnings) > 0 {
		msg += " (" + strings.Join(e.Warnings, "; ") + ")"
	}
	return msg
}

func (e *GateError) Unwrap() error { return ErrStepBlocked }
