package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"contractflow/auth"
	"contractflow/contract"
	"contractflow/dispute"
	"contractflow/escrow"
	"contractflow/kyc"
	"contractflow/marketplace"
	"contractflow/negotiation"
	"contractflow/signature"
	"contractflow/thread"
	"contractflow/workflow"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details"`
}

type errorEnvelope struct {
	RequestID string    `json:"request_id"`
	Error     errorBody `json:"error"`
}

type listResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

func newList[T any](items []T) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Items: items, Total: len(items)}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

func requestID(r *http.Request) string {
	if id := middleware.GetReqID(r.Context()); id != "" {
		return id
	}
	return "req_" + uuid.NewString()
}

func writeFail(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	writeJSON(w, status, errorEnvelope{
		RequestID: requestID(r),
		Error:     errorBody{Code: code, Message: message, Details: details},
	})
}

func writeBadJSON(w http.ResponseWriter, r *http.Request, err error) {
	writeFail(w, r, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
}

type errorMapping struct {
	status int
	code   string
	errs   []error
}

var errorTable = []errorMapping{
	{http.StatusUnauthorized, "UNAUTHORIZED", []error{
		auth.ErrInvalidCredentials, auth.ErrInvalidToken,
	}},
	{http.StatusNotFound, "NOT_FOUND", []error{
		auth.ErrUserNotFound, kyc.ErrNotFound, contract.ErrNotFound,
		negotiation.ErrNotFound, negotiation.ErrClauseNotFound, negotiation.ErrProposalNotFound,
		signature.ErrNotFound, signature.ErrUnknownSigner, escrow.ErrNotFound, dispute.ErrNotFound,
		marketplace.ErrNotFound, marketplace.ErrRequestNotFound, marketplace.ErrOfferNotFound,
		marketplace.ErrBookingNotFound, thread.ErrEntryNotFound,
	}},
	{http.StatusForbidden, "FORBIDDEN", []error{
		contract.ErrForbidden, signature.ErrForbidden, escrow.ErrForbidden, dispute.ErrForbidden,
		negotiation.ErrOwnProposal, marketplace.ErrRequestNotOwned, marketplace.ErrOfferForbidden,
		marketplace.ErrCancelForbidden,
	}},
	{http.StatusBadRequest, "GATE_BLOCKED", []error{
		workflow.ErrStepBlocked,
	}},
	{http.StatusBadRequest, "BAD_REQUEST", []error{
		auth.ErrWeakPassword, auth.ErrInvalidInput, workflow.ErrUnknownOption, kyc.ErrUnknownDocument,
		kyc.ErrMissingFileName,
		contract.ErrInvalidInput, negotiation.ErrEmptyText, signature.ErrMissingIdempotencyKey,
		signature.ErrNoSigners, escrow.ErrInvalidAmount, escrow.ErrUnknownCondition,
		escrow.ErrInsufficientFunds, dispute.ErrBadStatus, dispute.ErrInvalidInput, marketplace.ErrInvalidRequest,
		marketplace.ErrOfferInvalidScore,
	}},
	{http.StatusBadGateway, "GENERATOR_FAILED", []error{
		negotiation.ErrSuggestFailed,
	}},
	{http.StatusConflict, "CONFLICT", []error{
		auth.ErrDuplicateEmail, kyc.ErrInvalidTransition, contract.ErrInvalidTransition,
		contract.ErrNotEditable, negotiation.ErrProposalSettled, negotiation.ErrSessionExists,
		negotiation.ErrSessionClosed,
		signature.ErrAlreadySigned, signature.ErrSigningInProgress, signature.ErrNotAllSigned,
		signature.ErrCeremonyClosed, escrow.ErrInvalidTransition, workflow.ErrActionPending,
		workflow.ErrActionCompleted, workflow.ErrActionNotFailed, workflow.ErrNoPreviousStep,
		workflow.ErrWizardComplete, marketplace.ErrOfferDuplicate, marketplace.ErrOfferInvalidState,
		marketplace.ErrCancelInvalidState,
	}},
}

func classify(err error) (int, string) {
	for _, m := range errorTable {
		for _, target := range m.errs {
			if errors.Is(err, target) {
				return m.status, m.code
			}
		}
	}
	return http.StatusInternalServerError, "INTERNAL"
}

// writeError maps domain errors to status codes. Gate errors carry the failed
// conditions and warnings as details; unknown errors are logged and hidden.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status == http.StatusInternalServerError {
		s.log().WithError(err).WithField("request_id", requestID(r)).Error("request failed")
		writeFail(w, r, status, code, "internal error", nil)
		return
	}

	var details any
	var gateErr *workflow.GateError
	if errors.As(err, &gateErr) {
		details = map[string]any{
			"step":     gateErr.Step,
			"failed":   gateErr.Failed,
			"warnings": gateErr.Warnings,
		}
	}
	writeFail(w, r, status, code, err.Error(), details)
}
