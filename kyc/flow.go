// Package kyc drives identity verification: account type, document upload,
// consent and a simulated verification with a fixed delay.
package kyc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"contractflow/clock"
	"contractflow/journal"
	"contractflow/workflow"
)

var (
	ErrInvalidTransition = errors.New("kyc: invalid status transition")
	ErrUnknownDocument   = errors.New("kyc: unknown document type")
	ErrNotFound          = errors.New("kyc: profile not found")
	ErrMissingFileName   = errors.New("kyc: file name required")
)

const (
	StepAccountType = "account_type"
	StepDocuments   = "documents"
	StepReview      = "review"
	StepSubmit      = "submit"
)

var steps = []workflow.Step{
	{ID: StepAccountType, Title: "Account type"},
	{ID: StepDocuments, Title: "Documents"},
	{ID: StepReview, Title: "Review"},
	{ID: StepSubmit, Title: "Submit"},
}

// Verifier decides a submission. It runs after the simulated delay.
type Verifier func(ctx context.Context, s Submission) (Decision, error)

// RequiredDocumentsVerifier approves a submission when every requirement of
// its account type has an upload.
func RequiredDocumentsVerifier(_ context.Context, s Submission) (Decision, error) {
	have := make(map[string]bool, len(s.Documents))
	for _, d := range s.Documents {
		have[d.Type] = true
	}
	for _, req := range RequiredDocuments(s.AccountType) {
		if !anyOf(have, req.AnyOf) {
			return Decision{Approved: false, Reason: "missing " + req.Name}, nil
		}
	}
	return Decision{Approved: true}, nil
}

// Flow is one user's verification journey.
type Flow struct {
	userID    string
	recorder  journal.Recorder
	logger    logrus.FieldLogger
	now       func() time.Time
	docTypes  map[string]struct{}
	verifier  Verifier
	accountTy *workflow.Selection
	wizard    *workflow.Wizard
	verify    *workflow.Action[Decision]

	mu        sync.Mutex
	documents map[string]Document
	consent   bool
	status    Status
	reason    string
}

type flowDeps struct {
	clock    clock.Clock
	delay    time.Duration
	recorder journal.Recorder
	logger   logrus.FieldLogger
	docTypes []workflow.Option
	verifier Verifier
}

func newFlow(userID string, deps flowDeps) *Flow {
	f := &Flow{
		userID:    userID,
		recorder:  deps.recorder,
		logger:    deps.logger.WithField("user_id", userID),
		now:       deps.clock.Now,
		docTypes:  make(map[string]struct{}, len(deps.docTypes)),
		verifier:  deps.verifier,
		accountTy: workflow.MustSelection(AccountTypes),
		documents: make(map[string]Document),
		status:    StatusUnverified,
	}
	for _, o := range deps.docTypes {
		f.docTypes[o.ID] = struct{}{}
	}
	f.wizard, _ = workflow.NewWizard(steps, f.gate)
	f.verify = workflow.NewAction("kyc_verification", deps.delay, f.runVerification,
		workflow.WithClock(deps.clock),
		workflow.WithLogger(f.logger),
		workflow.WithFailureMessage("verification service unavailable, please resubmit"),
	)
	f.verify.OnSuccess(f.applyDecision).OnFailure(f.verificationFailed)
	return f
}

func (f *Flow) UserID() string { return f.userID }

// SelectAccountType chooses the account type. Changing it is only allowed
// while no verification is pending or done.
func (f *Flow) SelectAccountType(id string) error {
	if err := f.requireEditable(); err != nil {
		return err
	}
	if err := f.accountTy.Select(id); err != nil {
		return fmt.Errorf("kyc: select account type: %w", err)
	}
	return nil
}

// UploadDocument records an upload, replacing an earlier file of the same type.
func (f *Flow) UploadDocument(docType, fileName string) (Document, error) {
	if _, ok := f.docTypes[docType]; !ok {
		return Document{}, fmt.Errorf("%w: %s", ErrUnknownDocument, docType)
	}
	if fileName == "" {
		return Document{}, ErrMissingFileName
	}
	if err := f.requireEditable(); err != nil {
		return Document{}, err
	}
	doc := Document{Type: docType, FileName: fileName, UploadedAt: f.now().UTC()}
	f.mu.Lock()
	f.documents[docType] = doc
	f.mu.Unlock()
	return doc, nil
}

func (f *Flow) SetConsent(given bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.consent = given
}

func (f *Flow) Next() error { return f.wizard.Next() }

func (f *Flow) Back() error { return f.wizard.Back() }

// Submit moves unverified or rejected profiles to pending and starts the
// simulated verification. Every step before submit must be complete.
func (f *Flow) Submit(ctx context.Context) error {
	for _, s := range []string{StepAccountType, StepDocuments, StepReview} {
		if err := f.gate(s).Check(s); err != nil {
			return err
		}
	}

	f.mu.Lock()
	if f.status != StatusUnverified && f.status != StatusRejected {
		st := f.status
		f.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, st, StatusPending)
	}
	prev := f.status
	f.status = StatusPending
	f.reason = ""
	f.mu.Unlock()

	if f.verify.Status() != workflow.ActionIdle {
		if err := f.verify.Reset(); err != nil {
			f.setStatus(prev, "")
			return fmt.Errorf("kyc: reset verification: %w", err)
		}
	}
	if err := f.verify.Trigger(ctx); err != nil {
		f.setStatus(prev, "")
		return fmt.Errorf("kyc: trigger verification: %w", err)
	}
	for i := 0; i < len(steps) && f.wizard.Current().ID != StepSubmit; i++ {
		if err := f.wizard.Next(); err != nil {
			f.logger.WithError(err).Debug("kyc: wizard did not reach submit step")
			break
		}
	}

	f.record(ctx, "KYC_SUBMITTED", "", map[string]any{"previous_status": prev, "account_type": f.accountTy.SelectedID()})
	return nil
}

// Verification exposes the underlying action, e.g. to wait for it.
func (f *Flow) Verification() *workflow.Action[Decision] { return f.verify }

func (f *Flow) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *Flow) State() State {
	f.mu.Lock()
	docs := make([]Document, 0, len(f.documents))
	for _, d := range f.documents {
		docs = append(docs, d)
	}
	consent, status, reason := f.consent, f.status, f.reason
	reqs := f.requirementsLocked()
	f.mu.Unlock()

	sort.Slice(docs, func(i, j int) bool { return docs[i].Type < docs[j].Type })
	return State{
		UserID:       f.userID,
		AccountType:  f.accountTy.State(),
		Documents:    docs,
		Requirements: reqs,
		Consent:      consent,
		Status:       status,
		Reason:       reason,
		Wizard:       f.wizard.State(),
		Verification: f.verify.Snapshot(),
	}
}

func (f *Flow) gate(stepID string) workflow.Gate {
	switch stepID {
	case StepAccountType:
		return workflow.NewGate(workflow.Require("account_type_selected", f.accountTy.HasSelection()))
	case StepDocuments:
		f.mu.Lock()
		reqs := f.requirementsLocked()
		f.mu.Unlock()
		conds := make([]workflow.Condition, 0, len(reqs))
		for _, r := range reqs {
			conds = append(conds, workflow.Require("document_"+r.Name, r.Satisfied))
		}
		return workflow.NewGate(conds...)
	case StepReview:
		f.mu.Lock()
		consent := f.consent
		f.mu.Unlock()
		return workflow.NewGate(workflow.Require("consent_given", consent))
	case StepSubmit:
		return workflow.NewGate(workflow.RequireWithWarning("verified", f.Status() == StatusVerified, "identity not verified yet"))
	}
	return workflow.NewGate()
}

func (f *Flow) requirementsLocked() []RequirementState {
	have := make(map[string]bool, len(f.documents))
	for t := range f.documents {
		have[t] = true
	}
	reqs := RequiredDocuments(AccountType(f.accountTy.SelectedID()))
	out := make([]RequirementState, 0, len(reqs))
	for _, r := range reqs {
		out = append(out, RequirementState{Requirement: r, Satisfied: anyOf(have, r.AnyOf)})
	}
	return out
}

func (f *Flow) requireEditable() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status == StatusPending || f.status == StatusVerified {
		return fmt.Errorf("%w: profile is %s", ErrInvalidTransition, f.status)
	}
	return nil
}

func (f *Flow) runVerification(ctx context.Context) (Decision, error) {
	f.mu.Lock()
	sub := Submission{UserID: f.userID, AccountType: AccountType(f.accountTy.SelectedID())}
	for _, d := range f.documents {
		sub.Documents = append(sub.Documents, d)
	}
	f.mu.Unlock()
	return f.verifier(ctx, sub)
}

func (f *Flow) applyDecision(d Decision) {
	next := StatusRejected
	if d.Approved {
		next = StatusVerified
	}
	f.setStatus(next, d.Reason)
	f.record(context.Background(), "KYC_DECIDED", "kyc."+string(next), map[string]any{"status": next, "reason": d.Reason})
}

func (f *Flow) verificationFailed(err error) {
	f.setStatus(StatusUnverified, "verification service unavailable")
	f.logger.WithError(err).Warn("kyc: verification failed")
}

func (f *Flow) setStatus(st Status, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = st
	f.reason = reason
}

func (f *Flow) record(ctx context.Context, eventType, topic string, payload map[string]any) {
	err := f.recorder.Record(ctx, journal.Event{
		AggregateType: "kyc",
		AggregateID:   f.userID,
		Type:          eventType,
		ActorID:       f.userID,
		Payload:       payload,
		Topic:         topic,
		OutboxPayload: payload,
	})
	if err != nil {
		f.logger.WithError(err).Warn("kyc: journal write failed")
	}
}

func anyOf(have map[string]bool, types []string) bool {
	for _, t := range types {
		if have[t] {
			return true
		}
	}
	return false
}
