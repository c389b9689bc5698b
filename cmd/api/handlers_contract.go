package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"contractflow/contract"
)

// participantDraft loads the contract named in the path for any participant.
func (s *Server) participantDraft(w http.ResponseWriter, r *http.Request) (*contract.Draft, bool) {
	d, err := s.contracts.GetFor(chi.URLParam(r, "id"), userIDFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	return d, true
}

// ownedDraft loads the contract named in the path for its owner only.
func (s *Server) ownedDraft(w http.ResponseWriter, r *http.Request) (*contract.Draft, bool) {
	d, ok := s.participantDraft(w, r)
	if !ok {
		return nil, false
	}
	if d.OwnerID() != userIDFrom(r.Context()) {
		s.writeError(w, r, contract.ErrForbidden)
		return nil, false
	}
	return d, true
}

func (s *Server) handleCreateContract(w http.ResponseWriter, r *http.Request) {
	d, err := s.contracts.Create(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d.State())
}

func (s *Server) handleListContracts(w http.ResponseWriter, r *http.Request) {
	drafts := s.contracts.List(userIDFrom(r.Context()))
	items := make([]contract.State, 0, len(drafts))
	for _, d := range drafts {
		items = append(items, d.State())
	}
	writeJSON(w, http.StatusOK, newList(items))
}

func (s *Server) handleGetContract(w http.ResponseWriter, r *http.Request) {
	d, ok := s.participantDraft(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, d.State())
}

func (s *Server) handleContractType(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ContractType string `json:"contractType"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeBadJSON(w, r, err)
		return
	}
	d, ok := s.ownedDraft(w, r)
	if !ok {
		return
	}
	if err := d.SelectType(req.ContractType); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d.State())
}

func (s *Server) handleContractParties(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Parties []contract.Party `json:"parties"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeBadJSON(w, r, err)
		return
	}
	d, ok := s.ownedDraft(w, r)
	if !ok {
		return
	}
	if _, err := d.SetParties(req.Parties); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d.State())
}

func (s *Server) handleContractTerms(w http.ResponseWriter, r *http.Request) {
	var req contract.Terms
	if err := readJSON(w, r, &req); err != nil {
		writeBadJSON(w, r, err)
		return
	}
	d, ok := s.ownedDraft(w, r)
	if !ok {
		return
	}
	if err := d.SetTerms(req); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d.State())
}

func (s *Server) handleContractFinancials(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount          int64  `json:"amount"`
		Currency        string `json:"currency"`
		PaymentSchedule string `json:"paymentSchedule"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeBadJSON(w, r, err)
		return
	}
	d, ok := s.ownedDraft(w, r)
	if !ok {
		return
	}
	if err := d.SetFinancials(contract.Financials{Amount: req.Amount, Currency: req.Currency}, req.PaymentSchedule); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d.State())
}

func (s *Server) handleContractDocument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeBadJSON(w, r, err)
		return
	}
	d, ok := s.ownedDraft(w, r)
	if !ok {
		return
	}
	if _, err := d.AddDocument(req.Name); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d.State())
}

func (s *Server) handleContractNext(w http.ResponseWriter, r *http.Request) {
	s.contractStep(w, r, (*contract.Draft).Next)
}

func (s *Server) handleContractBack(w http.ResponseWriter, r *http.Request) {
	s.contractStep(w, r, (*contract.Draft).Back)
}

func (s *Server) contractStep(w http.ResponseWriter, r *http.Request, step func(*contract.Draft) error) {
	d, ok := s.ownedDraft(w, r)
	if !ok {
		return
	}
	if err := step(d); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d.State())
}

// handleContractGenerate starts generation and answers with the pending state.
func (s *Server) handleContractGenerate(w http.ResponseWriter, r *http.Request) {
	d, ok := s.ownedDraft(w, r)
	if !ok {
		return
	}
	if err := d.Generate(detached(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, d.State())
}

func (s *Server) handleContractRetry(w http.ResponseWriter, r *http.Request) {
	d, ok := s.ownedDraft(w, r)
	if !ok {
		return
	}
	if err := d.Retry(detached(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, d.State())
}

func (s *Server) handleContractConfirm(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Confirmed bool `json:"confirmed"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeBadJSON(w, r, err)
		return
	}
	d, ok := s.ownedDraft(w, r)
	if !ok {
		return
	}
	d.ConfirmReview(req.Confirmed)
	writeJSON(w, http.StatusOK, d.State())
}

// handleContractDocumentText renders the contract as plain text.
func (s *Server) handleContractDocumentText(w http.ResponseWriter, r *http.Request) {
	d, ok := s.participantDraft(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Contract-Fingerprint", d.Fingerprint())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(d.Render()))
}

func (s *Server) handleContractStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeBadJSON(w, r, err)
		return
	}
	next, err := contract.ParseStatus(req.Status)
	if err != nil {
		writeFail(w, r, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	d, ok := s.participantDraft(w, r)
	if !ok {
		return
	}
	if err := d.Transition(r.Context(), contract.TransitionParams{
		ActorID:    userIDFrom(r.Context()),
		NextStatus: next,
	}); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d.State())
}
