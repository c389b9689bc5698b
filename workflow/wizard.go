package workflow

import (
	"fmt"
	"sync"
)

// Step is one screen of a guided flow.
type Step struct {
	ID    string `json:"id" yaml:"id"`
	Title string `json:"title" yaml:"title"`
}

// GateFunc evaluates the gate of a step. Wizards call it synchronously from
// Next and State, so it must not take locks the caller of those methods holds.
type GateFunc func(stepID string) Gate

// Wizard walks an ordered list of steps, advancing only through open gates.
type Wizard struct {
	mu       sync.Mutex
	steps    []Step
	gateFor  GateFunc
	current  int
	complete bool
}

// WizardState is the serialisable view of a Wizard.
type WizardState struct {
	Steps    []Step     `json:"steps"`
	Current  Step       `json:"current"`
	Index    int        `json:"index"`
	Complete bool       `json:"complete"`
	Gate     GateResult `json:"gate"`
}

func NewWizard(steps []Step, gateFor GateFunc) (*Wizard, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("workflow: wizard needs at least one step")
	}
	seen := make(map[string]struct{}, len(steps))
	for _, s := range steps {
		if s.ID == "" {
			return nil, fmt.Errorf("workflow: wizard step with empty id")
		}
		if _, dup := seen[s.ID]; dup {
			return nil, fmt.Errorf("workflow: duplicate wizard step %s", s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	if gateFor == nil {
		gateFor = func(string) Gate { return NewGate() }
	}
	out := make([]Step, len(steps))
	copy(out, steps)
	return &Wizard{steps: out, gateFor: gateFor}, nil
}

func (w *Wizard) Current() Step {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.steps[w.current]
}

func (w *Wizard) Complete() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.complete
}

// Next advances past the current step when its gate is enabled. Passing the
// final step marks the wizard complete.
func (w *Wizard) Next() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.complete {
		return ErrWizardComplete
	}
	step := w.steps[w.current]
	if err := w.gateFor(step.ID).Check(step.ID); err != nil {
		return err
	}
	if w.current == len(w.steps)-1 {
		w.complete = true
		return nil
	}
	w.current++
	return nil
}

// Back returns to the previous step. A completed wizard reopens on its last step.
func (w *Wizard) Back() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.complete {
		w.complete = false
		return nil
	}
	if w.current == 0 {
		return ErrNoPreviousStep
	}
	w.current--
	return nil
}

// Jump moves directly to an earlier step, e.g. to edit parties from review.
func (w *Wizard) Jump(stepID string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for i, s := range w.steps {
		if s.ID != stepID {
			continue
		}
		if i > w.current && !w.complete {
			return fmt.Errorf("workflow: cannot jump forward to %s", stepID)
		}
		w.current = i
		w.complete = false
		return nil
	}
	return fmt.Errorf("workflow: unknown step %s", stepID)
}

func (w *Wizard) State() WizardState {
	w.mu.Lock()
	defer w.mu.Unlock()
	steps := make([]Step, len(w.steps))
	copy(steps, w.steps)
	cur := w.steps[w.current]
	return WizardState{
		Steps:    steps,
		Current:  cur,
		Index:    w.current,
		Complete: w.complete,
		Gate:     w.gateFor(cur.ID).Result(),
	}
}
