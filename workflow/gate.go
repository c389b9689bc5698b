package workflow

// Condition is one independent precondition of a gate.
type Condition struct {
	Name string `json:"name"`
	Met  bool   `json:"met"`
	// Warning is shown inline when the condition fails. Most conditions have none.
	Warning string `json:"warning,omitempty"`
}

// Gate decides whether a continue control is enabled.
type Gate struct {
	conditions []Condition
}

// GateResult is the evaluated, serialisable form of a Gate.
type GateResult struct {
	Enabled    bool        `json:"enabled"`
	Conditions []Condition `json:"conditions"`
	Failed     []string    `json:"failed,omitempty"`
	Warnings   []string    `json:"warnings,omitempty"`
}

// NewGate builds a gate from conditions, keeping their order.
func NewGate(conditions ...Condition) Gate {
	out := make([]Condition, len(conditions))
	copy(out, conditions)
	return Gate{conditions: out}
}

// Require is shorthand for a condition without a warning.
func Require(name string, met bool) Condition {
	return Condition{Name: name, Met: met}
}

// RequireWithWarning attaches the inline warning shown when met is false.
func RequireWithWarning(name string, met bool, warning string) Condition {
	return Condition{Name: name, Met: met, Warning: warning}
}

// And returns a gate holding the conditions of g followed by extra.
func (g Gate) And(extra ...Condition) Gate {
	return NewGate(append(g.Conditions(), extra...)...)
}

// Enabled is the conjunction of every condition. A gate with no conditions is open.
func (g Gate) Enabled() bool {
	for _, c := range g.conditions {
		if !c.Met {
			return false
		}
	}
	return true
}

// Failed lists unmet condition names in declaration order.
func (g Gate) Failed() []string {
	var out []string
	for _, c := range g.conditions {
		if !c.Met {
			out = append(out, c.Name)
		}
	}
	return out
}

// Warnings lists the warning text of unmet conditions that carry one.
func (g Gate) Warnings() []string {
	var out []string
	for _, c := range g.conditions {
		if !c.Met && c.Warning != "" {
			out = append(out, c.Warning)
		}
	}
	return out
}

func (g Gate) Conditions() []Condition {
	out := make([]Condition, len(g.conditions))
	copy(out, g.conditions)
	return out
}

func (g Gate) Result() GateResult {
	return GateResult{
		Enabled:    g.Enabled(),
		Conditions: g.Conditions(),
		Failed:     g.Failed(),
		Warnings:   g.Warnings(),
	}
}

// Check returns nil when the gate is enabled and a *GateError otherwise.
func (g Gate) Check(step string) error {
	if g.Enabled() {
		return nil
	}
	return &GateError{Step: step, Failed: g.Failed(), Warnings: g.Warnings()}
}
