package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"contractflow/auth"
	"contractflow/catalog"
	"contractflow/contract"
	"contractflow/dispute"
	"contractflow/escrow"
	"contractflow/generate"
	"contractflow/kyc"
	"contractflow/logging"
	"contractflow/marketplace"
	"contractflow/negotiation"
	"contractflow/signature"
)

type ctxKey string

const (
	ctxKeyUserID      ctxKey = "user_id"
	ctxKeyAccountType ctxKey = "account_type"
)

// Server exposes every flow over JSON. Domain state lives in the services.
type Server struct {
	catalog      *catalog.Catalog
	generator    generate.Generator
	logger       logrus.FieldLogger
	authService  *auth.Service
	kyc          *kyc.Service
	contracts    *contract.Service
	negotiations *negotiation.Service
	signatures   *signature.Service
	escrows      *escrow.Service
	disputes     *dispute.Service
	directory    *marketplace.Directory
	marketplace  *marketplace.Service
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	r.Route("/api", func(api chi.Router) {
		api.Post("/auth/register", s.handleRegister)
		api.Post("/auth/login", s.handleLogin)
		api.Get("/catalog", s.handleCatalog)

		api.Group(func(p chi.Router) {
			p.Use(s.authenticate)
			p.Get("/me", s.handleMe)

			p.Route("/kyc", func(k chi.Router) {
				k.Get("/", s.handleKYC)
				k.Post("/", s.handleKYC)
				k.Put("/account-type", s.handleKYCAccountType)
				k.Post("/documents", s.handleKYCDocument)
				k.Post("/consent", s.handleKYCConsent)
				k.Post("/next", s.handleKYCNext)
				k.Post("/back", s.handleKYCBack)
				k.Post("/submit", s.handleKYCSubmit)
			})

			p.Post("/contracts", s.handleCreateContract)
			p.Get("/contracts", s.handleListContracts)
			p.Route("/contracts/{id}", func(c chi.Router) {
				c.Get("/", s.handleGetContract)
				c.Put("/type", s.handleContractType)
				c.Put("/parties", s.handleContractParties)
				c.Put("/terms", s.handleContractTerms)
				c.Put("/financials", s.handleContractFinancials)
				c.Post("/documents", s.handleContractDocument)
				c.Post("/next", s.handleContractNext)
				c.Post("/back", s.handleContractBack)
				c.Post("/generate", s.handleContractGenerate)
				c.Post("/retry", s.handleContractRetry)
				c.Post("/confirm", s.handleContractConfirm)
				c.Get("/document", s.handleContractDocumentText)
				c.Post("/status", s.handleContractStatus)
				c.Post("/negotiation", s.handleStartNegotiation)
				c.Post("/signature", s.handleStartSignature)
				c.Post("/escrow", s.handleOpenEscrow)
			})

			p.Route("/negotiations/{id}", func(n chi.Router) {
				n.Get("/", s.handleGetNegotiation)
				n.Post("/proposals", s.handlePropose)
				n.Post("/proposals/{pid}/accept", s.handleAcceptProposal)
				n.Post("/proposals/{pid}/reject", s.handleRejectProposal)
				n.Post("/messages", s.handlePostMessage)
				n.Post("/clauses/{cid}/suggest", s.handleSuggest)
			})

			p.Route("/signatures/{id}", func(sg chi.Router) {
				sg.Get("/", s.handleGetSignature)
				sg.Post("/sign", s.handleSign)
				sg.Post("/decline", s.handleDeclineSignature)
				sg.Post("/complete", s.handleCompleteSignature)
			})

			p.Route("/escrows/{id}", func(e chi.Router) {
				e.Get("/", s.handleGetEscrow)
				e.Get("/checkout", s.handleGetCheckout)
				e.Post("/checkout", s.handleCheckout)
				e.Post("/conditions/{kind}", s.handleEscrowCondition)
				e.Post("/release", s.handleEscrowRelease)
			})
			p.Get("/wallet", s.handleWallet)
			p.Post("/wallet/deposit", s.handleWalletDeposit)

			p.Get("/disputes", s.handleDisputes)
			p.Post("/disputes", s.handleDisputes)
			p.Get("/disputes/{id}", s.handleDisputeDetail)
			p.Patch("/disputes/{id}", s.handleDisputeDetail)
			p.Get("/disputes/{id}/evidence", s.handleDisputeEvidence)
			p.Post("/disputes/{id}/evidence", s.handleDisputeEvidence)
			p.Patch("/disputes/{id}/evidence/{eid}", s.handleReviewEvidence)

			p.Get("/lawyers", s.handleLawyers)
			p.Get("/lawyers/{id}", s.handleLawyer)
			p.Get("/engagements", s.handleListEngagements)
			p.Post("/engagements", s.handleCreateEngagement)
			p.Get("/engagements/{id}/offers", s.handleListOffers)
			p.Post("/engagements/{id}/offers", s.handleCreateOffer)
			p.Patch("/engagements/{id}/offers/{oid}", s.handleRespondOffer)
			p.Post("/engagements/{id}/cancel", s.handleCancelEngagement)
			p.Get("/offers", s.handleLawyerOffers)
			p.Post("/consultations", s.handleBookConsultation)
			p.Get("/consultations/{id}", s.handleGetConsultation)
		})
	})
	return r
}

// logRequests writes one logrus entry per request.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log().WithFields(logrus.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"bytes":      ww.BytesWritten(),
			"duration":   time.Since(start).String(),
		}).Info("http request")
	})
}

// authenticate requires a bearer token and stores its claims in the context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeFail(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token", nil)
			return
		}
		claims, err := s.authService.VerifyToken(strings.TrimSpace(token))
		if err != nil {
			writeFail(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid token", nil)
			return
		}
		ctx := context.WithValue(r.Context(), ctxKeyUserID, claims.UserID)
		ctx = context.WithValue(ctx, ctxKeyAccountType, claims.AccountType)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) log() logrus.FieldLogger {
	if s.logger == nil {
		return logging.Nop()
	}
	return s.logger
}

func userIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyUserID).(string)
	return id
}

func accountTypeFrom(ctx context.Context) kyc.AccountType {
	t, _ := ctx.Value(ctxKeyAccountType).(kyc.AccountType)
	return t
}

// detached keeps request values but outlives the request, for simulated
// actions that settle after the response is written.
func detached(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}
