package main

import (
	"net/http"
	"time"

	"contractflow/auth"
	"contractflow/kyc"
	"contractflow/marketplace"
)

type userResponse struct {
	ID          string          `json:"id"`
	Email       string          `json:"email"`
	FullName    string          `json:"fullName"`
	AccountType kyc.AccountType `json:"accountType"`
	KYCStatus   kyc.Status      `json:"kycStatus"`
	CreatedAt   string          `json:"createdAt"`
}

func (s *Server) toUserResponse(u auth.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Email:       u.Email,
		FullName:    u.FullName,
		AccountType: u.AccountType,
		KYCStatus:   s.kyc.StatusOf(u.ID),
		CreatedAt:   u.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := readJSON(w, r, &req); err != nil {
		writeBadJSON(w, r, err)
		return
	}
	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// Lawyer accounts join the directory so they can receive offers.
	if user.AccountType == kyc.AccountLawyer && s.directory != nil {
		s.directory.Upsert(marketplace.Profile{ID: user.ID, Name: user.FullName})
	}
	writeJSON(w, http.StatusCreated, s.toUserResponse(*user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := readJSON(w, r, &req); err != nil {
		writeBadJSON(w, r, err)
		return
	}
	res, err := s.authService.Login(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": res.Token,
		"user":  s.toUserResponse(res.User),
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.authService.GetUserByID(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.toUserResponse(*user))
}

func (s *Server) handleCatalog(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.catalog)
}

// handleKYC returns the caller's verification flow; POST starts it.
func (s *Server) handleKYC(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	if r.Method == http.MethodPost {
		f := s.kyc.Flow(userID)
		if t := accountTypeFrom(r.Context()); t != "" && f.State().AccountType.Selected == "" {
			_ = f.SelectAccountType(string(t))
		}
		writeJSON(w, http.StatusCreated, f.State())
		return
	}
	f, err := s.kyc.Lookup(userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f.State())
}

func (s *Server) handleKYCAccountType(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountType string `json:"accountType"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeBadJSON(w, r, err)
		return
	}
	f := s.kyc.Flow(userIDFrom(r.Context()))
	if err := f.SelectAccountType(req.AccountType); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f.State())
}

func (s *Server) handleKYCDocument(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type     string `json:"type"`
		FileName string `json:"fileName"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeBadJSON(w, r, err)
		return
	}
	f := s.kyc.Flow(userIDFrom(r.Context()))
	if _, err := f.UploadDocument(req.Type, req.FileName); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, f.State())
}

func (s *Server) handleKYCConsent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Given bool `json:"given"`
	}
	if err := readJSON(w, r, &req); err != nil {
		writeBadJSON(w, r, err)
		return
	}
	f := s.kyc.Flow(userIDFrom(r.Context()))
	f.SetConsent(req.Given)
	writeJSON(w, http.StatusOK, f.State())
}

func (s *Server) handleKYCNext(w http.ResponseWriter, r *http.Request) {
	f := s.kyc.Flow(userIDFrom(r.Context()))
	if err := f.Next(); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f.State())
}

func (s *Server) handleKYCBack(w http.ResponseWriter, r *http.Request) {
	f := s.kyc.Flow(userIDFrom(r.Context()))
	if err := f.Back(); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f.State())
}

// handleKYCSubmit starts verification; the response shows it pending.
func (s *Server) handleKYCSubmit(w http.ResponseWriter, r *http.Request) {
	f, err := s.kyc.Lookup(userIDFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := f.Submit(detached(r)); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, f.State())
}
