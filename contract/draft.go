// Package contract implements the contract drafting wizard, generation of the
// contract text and the contract lifecycle.
package contract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"contractflow/catalog"
	"contractflow/generate"
	"contractflow/journal"
	"contractflow/workflow"
)

var (
	ErrNotFound          = errors.New("contract: not found")
	ErrForbidden         = errors.New("contract: forbidden")
	ErrNotEditable       = errors.New("contract: not editable")
	ErrInvalidTransition = errors.New("contract: invalid status transition")
	ErrInvalidInput      = errors.New("contract: invalid input")
)

// GenerationFailedMessage is shown when generation fails. The raw error is kept
// on the action for logs.
const GenerationFailedMessage = "contract generation failed, please retry"

const (
	StepType       = "type"
	StepParties    = "parties"
	StepTerms      = "terms"
	StepFinancials = "financials"
	StepDocuments  = "documents"
	StepGenerate   = "generate"
	StepReview     = "review"
)

var steps = []workflow.Step{
	{ID: StepType, Title: "Contract type"},
	{ID: StepParties, Title: "Parties"},
	{ID: StepTerms, Title: "Terms"},
	{ID: StepFinancials, Title: "Financials"},
	{ID: StepDocuments, Title: "Documents"},
	{ID: StepGenerate, Title: "Generate"},
	{ID: StepReview, Title: "Review"},
}

// Draft is a contract from its first wizard step until the end of its lifecycle.
type Draft struct {
	id        string
	ownerID   string
	catalog   *catalog.Catalog
	generator generate.Generator
	recorder  journal.Recorder
	logger    logrus.FieldLogger
	now       func() time.Time
	idGen     func() string

	contractType *workflow.Selection
	schedule     *workflow.Selection
	wizard       *workflow.Wizard
	generation   *workflow.Action[string]

	mu         sync.Mutex
	parties    []Party
	terms      Terms
	financials Financials
	documents  []Document
	clauses    []Clause
	prompt     string
	generated  string
	confirmed  bool
	status     Status
	createdAt  time.Time
	updatedAt  time.Time
}

// State is the serialisable view of a Draft.
type State struct {
	ID              string                       `json:"id"`
	OwnerID         string                       `json:"ownerId"`
	Status          Status                       `json:"status"`
	ContractType    workflow.SelectionState      `json:"contractType"`
	PaymentSchedule workflow.SelectionState      `json:"paymentSchedule"`
	Parties         []Party                      `json:"parties"`
	Terms           Terms                        `json:"terms"`
	Financials      Financials                   `json:"financials"`
	Documents       []Document                   `json:"documents"`
	Clauses         []Clause                     `json:"clauses"`
	GeneratedText   string                       `json:"generatedText,omitempty"`
	ReviewConfirmed bool                         `json:"reviewConfirmed"`
	Wizard          workflow.WizardState         `json:"wizard"`
	Generation      workflow.ActionState[string] `json:"generation"`
	CreatedAt       time.Time                    `json:"createdAt"`
	UpdatedAt       time.Time                    `json:"updatedAt"`
}

func (d *Draft) ID() string { return d.id }

func (d *Draft) OwnerID() string { return d.ownerID }

func (d *Draft) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// IsParticipant reports whether userID owns the draft or is a registered party.
func (d *Draft) IsParticipant(userID string) bool {
	if userID == "" {
		return false
	}
	if userID == d.ownerID {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.parties {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// SelectType chooses the contract type and reseeds the clause list.
func (d *Draft) SelectType(id string) error {
	if err := d.requireEditable(); err != nil {
		return err
	}
	if err := d.contractType.Select(id); err != nil {
		return fmt.Errorf("contract: select type: %w", err)
	}
	templates := d.catalog.Clauses(id)
	clauses := make([]Clause, 0, len(templates))
	for _, t := range templates {
		clauses = append(clauses, Clause{ID: t.ID, Title: t.Title, Text: t.Text})
	}
	d.mu.Lock()
	d.clauses = clauses
	d.touchLocked()
	d.mu.Unlock()
	d.discardGeneration()
	return nil
}

// SetParties replaces the party list. Missing ids are generated and the party
// status is derived from the identifying fields.
func (d *Draft) SetParties(parties []Party) ([]Party, error) {
	if err := d.requireEditable(); err != nil {
		return nil, err
	}
	out := make([]Party, 0, len(parties))
	for i, p := range parties {
		if _, err := ParsePartyRole(string(p.Role)); err != nil {
			return nil, fmt.Errorf("%w: party %d: %v", ErrInvalidInput, i, err)
		}
		p.Name = strings.TrimSpace(p.Name)
		p.Email = strings.TrimSpace(p.Email)
		if p.ID == "" {
			p.ID = d.idGen()
		}
		switch {
		case p.UserID != "":
			p.Status = PartyRegistered
		case p.Email != "":
			p.Status = PartyPending
		default:
			p.Status = PartyManual
		}
		out = append(out, p)
	}
	d.mu.Lock()
	d.parties = out
	d.touchLocked()
	d.mu.Unlock()
	d.discardGeneration()
	return append([]Party(nil), out...), nil
}

func (d *Draft) SetTerms(t Terms) error {
	if err := d.requireEditable(); err != nil {
		return err
	}
	t.Scope = strings.TrimSpace(t.Scope)
	t.Jurisdiction = strings.TrimSpace(t.Jurisdiction)
	d.mu.Lock()
	d.terms = t
	d.touchLocked()
	d.mu.Unlock()
	d.discardGeneration()
	return nil
}

// SetFinancials stores amount and currency and selects the payment schedule.
func (d *Draft) SetFinancials(f Financials, scheduleID string) error {
	if err := d.requireEditable(); err != nil {
		return err
	}
	if f.Amount > catalog.MaxAmount {
		return fmt.Errorf("%w: amount exceeds %d", ErrInvalidInput, catalog.MaxAmount)
	}
	if scheduleID != "" {
		if err := d.schedule.Select(scheduleID); err != nil {
			return fmt.Errorf("contract: select schedule: %w", err)
		}
	}
	f.Currency = strings.ToUpper(strings.TrimSpace(f.Currency))
	d.mu.Lock()
	d.financials = f
	d.touchLocked()
	d.mu.Unlock()
	d.discardGeneration()
	return nil
}

func (d *Draft) AddDocument(name string) (Document, error) {
	if err := d.requireEditable(); err != nil {
		return Document{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return Document{}, fmt.Errorf("%w: document name required", ErrInvalidInput)
	}
	doc := Document{ID: d.idGen(), Name: name, UploadedAt: d.now().UTC()}
	d.mu.Lock()
	d.documents = append(d.documents, doc)
	d.touchLocked()
	d.mu.Unlock()
	d.discardGeneration()
	return doc, nil
}

// ConfirmReview ticks the final review checkbox.
func (d *Draft) ConfirmReview(confirmed bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.confirmed = confirmed
	d.touchLocked()
}

func (d *Draft) Next() error { return d.wizard.Next() }

func (d *Draft) Back() error { return d.wizard.Back() }

func (d *Draft) Jump(stepID string) error { return d.wizard.Jump(stepID) }

// Generate builds the prompt from the current draft and starts generation.
// A previous successful result is discarded. While an attempt is pending the
// call fails with workflow.ErrActionPending and the pending prompt is kept.
func (d *Draft) Generate(ctx context.Context) error {
	for _, s := range []string{StepType, StepParties, StepTerms, StepFinancials} {
		if err := d.gate(s).Check(s); err != nil {
			return err
		}
	}
	prompt := d.Prompt()

	// generateText reads the prompt under mu, so the new attempt cannot see
	// the old one.
	d.mu.Lock()
	defer d.mu.Unlock()
	switch d.generation.Status() {
	case workflow.ActionPending:
		return workflow.ErrActionPending
	case workflow.ActionSuccess:
		if err := d.generation.Reset(); err != nil {
			return err
		}
	}
	if err := d.generation.Trigger(ctx); err != nil {
		return err
	}
	d.prompt = prompt
	d.generated = ""
	d.confirmed = false
	return nil
}

// Retry re-issues the failed generation with the identical prompt.
func (d *Draft) Retry(ctx context.Context) error {
	return d.generation.Retry(ctx)
}

// Generation exposes the generation action, e.g. to wait for it.
func (d *Draft) Generation() *workflow.Action[string] { return d.generation }

// Clauses returns the current clause list.
func (d *Draft) Clauses() []Clause {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Clause(nil), d.clauses...)
}

// AdoptClauses replaces clause texts with negotiated ones, matched by id. Only
// draft and negotiating contracts take new clause texts.
func (d *Draft) AdoptClauses(clauses []Clause) error {
	byID := make(map[string]Clause, len(clauses))
	for _, c := range clauses {
		byID[c.ID] = c
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status != StatusDraft && d.status != StatusNegotiating {
		return fmt.Errorf("%w: status is %s", ErrNotEditable, d.status)
	}
	for i, c := range d.clauses {
		if nc, ok := byID[c.ID]; ok {
			d.clauses[i].Text = nc.Text
		}
	}
	d.touchLocked()
	return nil
}

// Parties returns a copy of the party list.
func (d *Draft) Parties() []Party {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Party(nil), d.parties...)
}

func (d *Draft) Financials() Financials {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.financials
}

func (d *Draft) State() State {
	d.mu.Lock()
	st := State{
		ID:              d.id,
		OwnerID:         d.ownerID,
		Status:          d.status,
		Parties:         append([]Party(nil), d.parties...),
		Terms:           d.terms,
		Financials:      d.financials,
		Documents:       append([]Document(nil), d.documents...),
		Clauses:         append([]Clause(nil), d.clauses...),
		GeneratedText:   d.generated,
		ReviewConfirmed: d.confirmed,
		CreatedAt:       d.createdAt,
		UpdatedAt:       d.updatedAt,
	}
	d.mu.Unlock()

	st.ContractType = d.contractType.State()
	st.PaymentSchedule = d.schedule.State()
	st.Wizard = d.wizard.State()
	st.Generation = d.generation.Snapshot()
	return st
}

func (d *Draft) gate(stepID string) workflow.Gate {
	switch stepID {
	case StepType:
		return workflow.NewGate(workflow.Require("contract_type_selected", d.contractType.HasSelection()))
	case StepParties:
		d.mu.Lock()
		var first, second bool
		named := len(d.parties) > 0
		for _, p := range d.parties {
			first = first || p.Role == RoleFirstParty
			second = second || p.Role == RoleSecondParty
			named = named && p.Name != ""
		}
		d.mu.Unlock()
		return workflow.NewGate(
			workflow.Require("first_party_present", first),
			workflow.Require("second_party_present", second),
			workflow.Require("parties_named", named),
		)
	case StepTerms:
		d.mu.Lock()
		t := d.terms
		d.mu.Unlock()
		return workflow.NewGate(
			workflow.Require("scope_present", t.Scope != ""),
			workflow.Require("jurisdiction_present", t.Jurisdiction != ""),
			workflow.Require("start_date_present", t.StartDate != nil),
			workflow.RequireWithWarning("end_after_start",
				t.EndDate == nil || (t.StartDate != nil && t.EndDate.After(*t.StartDate)),
				"end date must be after start date"),
		)
	case StepFinancials:
		d.mu.Lock()
		f := d.financials
		d.mu.Unlock()
		return workflow.NewGate(
			workflow.Require("amount_positive", f.Amount > 0),
			workflow.RequireWithWarning("currency_supported", d.catalog.HasCurrency(f.Currency), "unsupported currency"),
			workflow.Require("payment_schedule_selected", d.schedule.HasSelection()),
		)
	case StepGenerate:
		return workflow.NewGate(workflow.Require("contract_generated", d.generation.Succeeded()))
	case StepReview:
		d.mu.Lock()
		confirmed := d.confirmed
		d.mu.Unlock()
		return workflow.NewGate(workflow.Require("review_confirmed", confirmed))
	}
	return workflow.NewGate()
}

func (d *Draft) generateText(ctx context.Context) (string, error) {
	d.mu.Lock()
	prompt := d.prompt
	d.mu.Unlock()

	text, err := d.generator.Generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", generate.ErrEmptyCompletion
	}
	return text, nil
}

func (d *Draft) storeGenerated(text string) {
	d.mu.Lock()
	d.generated = text
	d.touchLocked()
	d.mu.Unlock()
	d.record(context.Background(), "CONTRACT_GENERATED", d.ownerID, map[string]any{"length": len(text)}, "", nil)
}

func (d *Draft) requireDraft() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.status != StatusDraft {
		return fmt.Errorf("%w: status is %s", ErrNotEditable, d.status)
	}
	return nil
}

// requireEditable is requireDraft plus no generation in flight, so a pending
// attempt never finishes on details that changed under it.
func (d *Draft) requireEditable() error {
	if err := d.requireDraft(); err != nil {
		return err
	}
	if d.generation.Status() == workflow.ActionPending {
		return fmt.Errorf("%w: generation in progress", ErrNotEditable)
	}
	return nil
}

// discardGeneration drops a settled generation built from details that have
// since changed, so Retry cannot resend a stale prompt. The draft has to be
// generated and reviewed again.
func (d *Draft) discardGeneration() {
	if st := d.generation.Status(); st != workflow.ActionSuccess && st != workflow.ActionError {
		return
	}
	if err := d.generation.Reset(); err != nil {
		return
	}
	d.mu.Lock()
	d.generated = ""
	d.confirmed = false
	d.mu.Unlock()
}

func (d *Draft) touchLocked() {
	d.updatedAt = d.now().UTC()
}

func (d *Draft) record(ctx context.Context, eventType, actorID string, payload map[string]any, topic string, outbox map[string]any) {
	err := d.recorder.Record(ctx, journal.Event{
		AggregateType: "contract",
		AggregateID:   d.id,
		Type:          eventType,
		ActorID:       actorID,
		Payload:       payload,
		Topic:         topic,
		OutboxPayload: outbox,
	})
	if err != nil {
		d.logger.WithError(err).WithField("event", eventType).Warn("contract: journal write failed")
	}
}

func newID() string {
	return uuid.NewString()
}
