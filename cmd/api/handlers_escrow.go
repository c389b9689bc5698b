package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"contractflow/contract"
	"contractflow/escrow"
	"contractflow/signature"
)

// handleOpenEscrow opens the escrow account of a contract for its financials.
// The payer defaults to the registered first party, else the owner; the payee
// to the registered second party.
func (s *Server) handleOpenEscrow(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PayerID    string   `json:"payerId"`
		PayeeID    string   `json:"payeeId"`
		Conditions []string `json:"conditions"`
	}
	if r.ContentLength != 0 {
		if err := readJSON(w, r, &req); err != nil {
			writeBadJSON(w, r, err)
			return
		}
	}
	d, ok := s.participantDraft(w, r)
	if !ok {
		return
	}

	payer, payee := req.PayerID, req.PayeeID
	for _, p := range d.Parties() {
		if p.UserID == "" {
			continue
		}
		if payer == "" && p.Role == contract.RoleFirstParty {
			payer = p.UserID
		}
		if payee == "" && p.Role == contract.RoleSecondParty {
			payee = p.UserID
		}
	}
	if payer == "" {
		payer = d.OwnerID()
	}
	for _, id := range []string{payer, payee} {
		if id != "" && !d.IsParticipant(id) {
			s.writeError(w, r, fmt.Errorf("%w: %s is not a contract participant", contract.ErrForbidden, id))
			return
		}
	}

	kinds := make([]escrow.ConditionKind, 0, len(req.Conditions))
	for _, c := range req.Conditions {
		kind, err := escrow.ParseConditionKind(strings.TrimSpace(c))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		kinds = append(kinds, kind)
	}

	fin := d.Financials()
	actorID := userIDFrom(r.Context())
	a, err := s.escrows.Open(r.Context(), escrow.OpenParams{
		ContractID: d.ID(),
		PayerID:    payer,
		PayeeID:    payee,
		Amount:     fin.Amount,
		Currency:   fin.Currency,
		Conditions: kinds,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if c, err := s.signatures.ForContract(d.ID()); err == nil && c.Status() == signature.StatusCompleted {
		if err := a.MarkConditionMet(r.Context(), actorID, escrow.ConditionSignatureCompleted); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, a.State())
}

// account loads the escrow named in the path for its payer, payee or any
// participant of its contract.
func (s *Server) account(w http.ResponseWriter, r *http.Request) (*escrow.Account, bool) {
	a, err := s.escrows.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	userID := userIDFrom(r.Context())
	if a.IsParty(userID) {
		return a, true
	}
	if _, err := s.contracts.GetFor(a.ContractID(), userID); err != nil {
		s.writeError(w, r, escrow.ErrForbidden)
		return nil, false
	}
	return a, true
}

func (s *Server) handleGetEscrow(w http.ResponseWriter, r *http.Request) {
	a, ok := s.account(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, a.State())
}

func (s *Server) handleGetCheckout(w http.ResponseWriter, r *http.Request) {
	co, err := s.escrows.Checkout(chi.URLParam(r, "id"), userIDFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, co.State())
}

// handleCheckout applies the payment method and terms, then confirms when
// asked. Confirming starts the simulated payment.
func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Method        string `json:"method"`
		TermsAccepted *bool  `json:"termsAccepted"`
		Confirm       bool   `json:"confirm"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeBadJSON(w, r, err)
		return
	}
	co, err := s.escrows.Checkout(chi.URLParam(r, "id"), userIDFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Method != "" {
		if err := co.SelectMethod(req.Method); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	if req.TermsAccepted != nil {
		co.AcceptTerms(*req.TermsAccepted)
	}
	status := http.StatusOK
	if req.Confirm {
		if err := co.Confirm(detached(r)); err != nil {
			s.writeError(w, r, err)
			return
		}
		status = http.StatusAccepted
	}
	writeJSON(w, status, co.State())
}

// handleEscrowCondition marks a release condition met. The signature
// condition is set by the ceremony only.
func (s *Server) handleEscrowCondition(w http.ResponseWriter, r *http.Request) {
	kind, err := escrow.ParseConditionKind(chi.URLParam(r, "kind"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if kind == escrow.ConditionSignatureCompleted {
		writeFail(w, r, http.StatusBadRequest, "BAD_REQUEST", "signature_completed is set when the signature ceremony completes", nil)
		return
	}
	a, ok := s.account(w, r)
	if !ok {
		return
	}
	if userIDFrom(r.Context()) != a.PayerID() {
		s.writeError(w, r, escrow.ErrForbidden)
		return
	}
	if err := a.MarkConditionMet(r.Context(), userIDFrom(r.Context()), kind); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a.State())
}

func (s *Server) handleEscrowRelease(w http.ResponseWriter, r *http.Request) {
	a, ok := s.account(w, r)
	if !ok {
		return
	}
	if userIDFrom(r.Context()) != a.PayerID() {
		s.writeError(w, r, escrow.ErrForbidden)
		return
	}
	if err := a.Release(detached(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, a.State())
}

type walletResponse struct {
	UserID       string               `json:"userId"`
	Currency     string               `json:"currency"`
	Balance      int64                `json:"balance"`
	Transactions []escrow.Transaction `json:"transactions"`
}

func (s *Server) walletView(userID, currency string) walletResponse {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" && len(s.catalog.Currencies) > 0 {
		currency = s.catalog.Currencies[0]
	}
	wallet := s.escrows.Wallet(userID)
	txs := wallet.Transactions()
	if txs == nil {
		txs = []escrow.Transaction{}
	}
	return walletResponse{
		UserID:       userID,
		Currency:     currency,
		Balance:      wallet.Balance(currency),
		Transactions: txs,
	}
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.walletView(userIDFrom(r.Context()), r.URL.Query().Get("currency")))
}

func (s *Server) handleWalletDeposit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount    int64  `json:"amount"`
		Currency  string `json:"currency"`
		Reference string `json:"reference"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeBadJSON(w, r, err)
		return
	}
	if !s.catalog.HasCurrency(strings.ToUpper(req.Currency)) {
		s.writeError(w, r, fmt.Errorf("%w: unsupported currency %q", escrow.ErrInvalidAmount, req.Currency))
		return
	}
	userID := userIDFrom(r.Context())
	if _, err := s.escrows.Wallet(userID).Deposit(req.Amount, req.Currency, req.Reference); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.walletView(userID, req.Currency))
}
