package main

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"contractflow/marketplace"
)

func (s *Server) handleLawyers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := marketplace.ListParams{Specialty: q.Get("specialty")}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeFail(w, r, http.StatusBadRequest, "BAD_REQUEST", "limit must be a non-negative integer", nil)
			return
		}
		params.Limit = limit
	}
	profiles, err := s.directory.List(r.Context(), params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(profiles))
}

func (s *Server) handleLawyer(w http.ResponseWriter, r *http.Request) {
	p, err := s.directory.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleListEngagements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := marketplace.Filters{
		CreatorUserID: userIDFrom(r.Context()),
		Specialty:     q.Get("specialty"),
	}
	if raw := q.Get("status"); raw != "" {
		st, err := marketplace.ParseRequestStatus(raw)
		if err != nil {
			writeFail(w, r, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
			return
		}
		f.Status = st
	}
	writeJSON(w, http.StatusOK, newList(s.marketplace.ListRequests(r.Context(), f)))
}

// handleCreateEngagement opens a request for legal help, optionally tied to
// a contract the caller takes part in.
func (s *Server) handleCreateEngagement(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ContractID  string   `json:"contractId"`
		Specialty   string   `json:"specialty"`
		Description string   `json:"description"`
		Languages   []string `json:"languages"`
		BudgetMin   int64    `json:"budgetMin"`
		BudgetMax   int64    `json:"budgetMax"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeBadJSON(w, r, err)
		return
	}
	userID := userIDFrom(r.Context())
	if req.ContractID != "" {
		if _, err := s.contracts.GetFor(req.ContractID, userID); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	created, err := s.marketplace.CreateRequest(r.Context(), marketplace.CreateParams{
		CreatorUserID: userID,
		ContractID:    req.ContractID,
		Specialty:     req.Specialty,
		Description:   req.Description,
		Languages:     req.Languages,
		BudgetMin:     req.BudgetMin,
		BudgetMax:     req.BudgetMax,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListOffers(w http.ResponseWriter, r *http.Request) {
	offers, err := s.marketplace.Offers(r.Context(), chi.URLParam(r, "id"), userIDFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newList(offers))
}

func (s *Server) handleCreateOffer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LawyerID string  `json:"lawyerId"`
		Score    float64 `json:"score"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeBadJSON(w, r, err)
		return
	}
	offer, err := s.marketplace.Offer(r.Context(), marketplace.OfferParams{
		RequestID:   chi.URLParam(r, "id"),
		OwnerUserID: userIDFrom(r.Context()),
		LawyerID:    req.LawyerID,
		Score:       req.Score,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, offer)
}

// handleRespondOffer lets the invited lawyer accept or decline. Accepting
// matches the request and declines the sibling offers.
func (s *Server) handleRespondOffer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		State string `json:"state"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeBadJSON(w, r, err)
		return
	}
	state, err := marketplace.ParseOfferState(req.State)
	if err != nil {
		writeFail(w, r, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
		return
	}
	lawyerID := userIDFrom(r.Context())
	offerID := chi.URLParam(r, "oid")
	if !s.hasOffer(r, lawyerID, chi.URLParam(r, "id"), offerID) {
		s.writeError(w, r, marketplace.ErrOfferNotFound)
		return
	}
	res, err := s.marketplace.RespondOffer(r.Context(), marketplace.RespondParams{
		OfferID:  offerID,
		LawyerID: lawyerID,
		NewState: state,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"offer":      res.Offer,
		"engagement": res.Request,
	})
}

func (s *Server) hasOffer(r *http.Request, lawyerID, requestID, offerID string) bool {
	for _, o := range s.marketplace.OffersForLawyer(r.Context(), lawyerID) {
		if o.ID == offerID && o.RequestID == requestID {
			return true
		}
	}
	return false
}

func (s *Server) handleCancelEngagement(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength != 0 {
		if err := readJSON(w, r, &req); err != nil {
			writeBadJSON(w, r, err)
			return
		}
	}
	params := marketplace.CancelParams{
		RequestID: chi.URLParam(r, "id"),
		ActorID:   userIDFrom(r.Context()),
	}
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		params.Reason = &reason
	}
	cancelled, err := s.marketplace.Cancel(r.Context(), params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cancelled)
}

// handleLawyerOffers lists the offers addressed to the calling lawyer.
func (s *Server) handleLawyerOffers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newList(s.marketplace.OffersForLawyer(r.Context(), userIDFrom(r.Context()))))
}

// handleBookConsultation starts the booking; the response shows it pending.
func (s *Server) handleBookConsultation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LawyerID    string    `json:"lawyerId"`
		PackageID   string    `json:"packageId"`
		ScheduledAt time.Time `json:"scheduledAt"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeBadJSON(w, r, err)
		return
	}
	b, err := s.marketplace.BookConsultation(detached(r), userIDFrom(r.Context()), req.LawyerID, req.PackageID, req.ScheduledAt)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, b.State())
}

func (s *Server) handleGetConsultation(w http.ResponseWriter, r *http.Request) {
	b, err := s.marketplace.Booking(chi.URLParam(r, "id"), userIDFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b.State())
}
