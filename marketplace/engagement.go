package marketplace

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"contractflow/catalog"
	"contractflow/clock"
	"contractflow/journal"
	"contractflow/logging"
	"contractflow/workflow"
)

var (
	ErrRequestNotFound    = errors.New("marketplace: request not found")
	ErrRequestNotOwned    = errors.New("marketplace: request not owned by user")
	ErrOfferNotFound      = errors.New("marketplace: offer not found")
	ErrOfferDuplicate     = errors.New("marketplace: offer already exists")
	ErrOfferInvalidScore  = errors.New("marketplace: invalid offer score")
	ErrOfferForbidden     = errors.New("marketplace: offer forbidden")
	ErrOfferInvalidState  = errors.New("marketplace: invalid offer transition")
	ErrCancelForbidden    = errors.New("marketplace: cancel forbidden")
	ErrCancelInvalidState = errors.New("marketplace: cancel invalid state")
	ErrBookingNotFound    = errors.New("marketplace: booking not found")
	ErrInvalidRequest     = errors.New("marketplace: invalid request")
)

// Service holds engagement requests, offers and consultation bookings in memory.
type Service struct {
	directory   ProfileReader
	catalog     *catalog.Catalog
	recorder    journal.Recorder
	clock       clock.Clock
	logger      logrus.FieldLogger
	idGenerator func() string

	// mu guards requests and offers together so accepting an offer, declining
	// its siblings and matching the request is one update.
	mu       sync.Mutex
	requests map[string]Request
	offers   map[string]Offer
	bookings map[string]*Booking
}

type CreateParams struct {
	CreatorUserID string
	ContractID    string
	Specialty     string
	Description   string
	Languages     []string
	BudgetMin     int64
	BudgetMax     int64
}

type Filters struct {
	CreatorUserID string
	Status        RequestStatus
	Specialty     string
}

type OfferParams struct {
	RequestID   string
	OwnerUserID string
	LawyerID    string
	Score       float64
}

type RespondParams struct {
	OfferID  string
	LawyerID string
	NewState OfferState
}

// RespondResult carries the offer and its request after a response.
type RespondResult struct {
	Offer   Offer
	Request Request
}

type CancelParams struct {
	RequestID string
	ActorID   string
	Reason    *string
}

func NewService(directory ProfileReader, cat *catalog.Catalog, recorder journal.Recorder) *Service {
	if recorder == nil {
		recorder = journal.Nop()
	}
	return &Service{
		directory:   directory,
		catalog:     cat,
		recorder:    recorder,
		clock:       clock.Real(),
		logger:      logging.Nop(),
		idGenerator: uuid.NewString,
		requests:    make(map[string]Request),
		offers:      make(map[string]Offer),
		bookings:    make(map[string]*Booking),
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithClock(c clock.Clock) *Service {
	s.clock = c
	return s
}

func (s *Service) WithLogger(l logrus.FieldLogger) *Service {
	s.logger = l
	return s
}

func (s *Service) CreateRequest(ctx context.Context, params CreateParams) (Request, error) {
	if params.CreatorUserID == "" {
		return Request{}, fmt.Errorf("%w: missing creator user id", ErrInvalidRequest)
	}
	if strings.TrimSpace(params.Specialty) == "" {
		return Request{}, fmt.Errorf("%w: specialty required", ErrInvalidRequest)
	}
	if params.BudgetMin < 0 || params.BudgetMax <= 0 || params.BudgetMin > params.BudgetMax {
		return Request{}, fmt.Errorf("%w: invalid budget range", ErrInvalidRequest)
	}

	now := s.clock.Now().UTC()
	req := Request{
		ID:            s.idGenerator(),
		CreatorUserID: params.CreatorUserID,
		ContractID:    params.ContractID,
		Specialty:     strings.ToLower(strings.TrimSpace(params.Specialty)),
		Description:   strings.TrimSpace(params.Description),
		Languages:     params.Languages,
		BudgetMin:     params.BudgetMin,
		BudgetMax:     params.BudgetMax,
		Status:        RequestOpen,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.mu.Lock()
	s.requests[req.ID] = req
	s.mu.Unlock()

	s.record(ctx, req.ID, "ENGAGEMENT_CREATED", req.CreatorUserID, map[string]any{
		"specialty": req.Specialty,
		"status":    req.Status,
	}, "engagement.created")
	return req, nil
}

// ListRequests returns matching requests, newest first.
func (s *Service) ListRequests(_ context.Context, f Filters) []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, 0, len(s.requests))
	for _, r := range s.requests {
		if f.CreatorUserID != "" && r.CreatorUserID != f.CreatorUserID {
			continue
		}
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if f.Specialty != "" && r.Specialty != strings.ToLower(f.Specialty) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (s *Service) GetRequest(_ context.Context, id string) (Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return Request{}, ErrRequestNotFound
	}
	return r, nil
}

// Offer invites a lawyer to an open request owned by params.OwnerUserID.
func (s *Service) Offer(ctx context.Context, params OfferParams) (Offer, error) {
	if params.Score < 0 || params.Score > 1 {
		return Offer{}, ErrOfferInvalidScore
	}
	if _, err := s.directory.GetByID(ctx, params.LawyerID); err != nil {
		return Offer{}, err
	}

	s.mu.Lock()
	req, ok := s.requests[params.RequestID]
	if !ok {
		s.mu.Unlock()
		return Offer{}, ErrRequestNotFound
	}
	if req.CreatorUserID != params.OwnerUserID {
		s.mu.Unlock()
		return Offer{}, ErrRequestNotOwned
	}
	if req.Status != RequestOpen {
		s.mu.Unlock()
		return Offer{}, fmt.Errorf("%w: request is %s", ErrOfferInvalidState, req.Status)
	}
	for _, o := range s.offers {
		if o.RequestID == req.ID && o.LawyerID == params.LawyerID {
			s.mu.Unlock()
			return Offer{}, ErrOfferDuplicate
		}
	}
	offer := Offer{
		ID:        s.idGenerator(),
		RequestID: req.ID,
		LawyerID:  params.LawyerID,
		State:     OfferInvited,
		Score:     params.Score,
		CreatedAt: s.clock.Now().UTC(),
	}
	s.offers[offer.ID] = offer
	s.mu.Unlock()

	s.record(ctx, req.ID, "ENGAGEMENT_OFFERED", params.OwnerUserID, map[string]any{
		"offer_id":  offer.ID,
		"lawyer_id": offer.LawyerID,
	}, "engagement.offered")
	return offer, nil
}

// Offers lists the offers of a request, newest first. Only the creator may see them.
func (s *Service) Offers(_ context.Context, requestID, ownerID string) ([]Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[requestID]
	if !ok {
		return nil, ErrRequestNotFound
	}
	if req.CreatorUserID != ownerID {
		return nil, ErrRequestNotOwned
	}
	out := make([]Offer, 0, 8)
	for _, o := range s.offers {
		if o.RequestID == requestID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// OffersForLawyer lists the offers sent to one lawyer.
func (s *Service) OffersForLawyer(_ context.Context, lawyerID string) []Offer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Offer, 0, 8)
	for _, o := range s.offers {
		if o.LawyerID == lawyerID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// RespondOffer lets the invited lawyer accept or decline. Accepting declines
// every sibling offer and marks the request matched in the same update.
// Repeating the current state is a no-op.
func (s *Service) RespondOffer(ctx context.Context, params RespondParams) (RespondResult, error) {
	if params.NewState != OfferAccepted && params.NewState != OfferDeclined {
		return RespondResult{}, ErrOfferInvalidState
	}

	s.mu.Lock()
	offer, ok := s.offers[params.OfferID]
	if !ok {
		s.mu.Unlock()
		return RespondResult{}, ErrOfferNotFound
	}
	if offer.LawyerID != params.LawyerID {
		s.mu.Unlock()
		return RespondResult{}, ErrOfferForbidden
	}
	req := s.requests[offer.RequestID]
	if offer.State == params.NewState {
		s.mu.Unlock()
		return RespondResult{Offer: offer, Request: req}, nil
	}
	if offer.State != OfferInvited || req.Status != RequestOpen {
		s.mu.Unlock()
		return RespondResult{}, fmt.Errorf("%w: offer %s, request %s", ErrOfferInvalidState, offer.State, req.Status)
	}

	offer.State = params.NewState
	s.offers[offer.ID] = offer
	var declined []string
	if params.NewState == OfferAccepted {
		for id, o := range s.offers {
			if o.RequestID == req.ID && id != offer.ID && o.State == OfferInvited {
				o.State = OfferDeclined
				s.offers[id] = o
				declined = append(declined, id)
			}
		}
		req.Status = RequestMatched
		req.UpdatedAt = s.clock.Now().UTC()
		s.requests[req.ID] = req
	}
	s.mu.Unlock()

	eventType, topic := "ENGAGEMENT_OFFER_DECLINED", ""
	if params.NewState == OfferAccepted {
		eventType, topic = "ENGAGEMENT_MATCHED", "engagement.matched"
	}
	sort.Strings(declined)
	s.record(ctx, req.ID, eventType, params.LawyerID, map[string]any{
		"offer_id":        offer.ID,
		"lawyer_id":       offer.LawyerID,
		"declined_offers": declined,
	}, topic)
	return RespondResult{Offer: offer, Request: req}, nil
}

// Cancel withdraws a request. Only its creator may cancel, and only while it
// is open or matched.
func (s *Service) Cancel(ctx context.Context, params CancelParams) (Request, error) {
	if params.RequestID == "" || params.ActorID == "" {
		return Request{}, fmt.Errorf("%w: cancel needs request and actor", ErrInvalidRequest)
	}

	s.mu.Lock()
	req, ok := s.requests[params.RequestID]
	if !ok {
		s.mu.Unlock()
		return Request{}, ErrRequestNotFound
	}
	if req.CreatorUserID != params.ActorID {
		s.mu.Unlock()
		return Request{}, ErrCancelForbidden
	}
	if req.Status != RequestOpen && req.Status != RequestMatched {
		s.mu.Unlock()
		return Request{}, ErrCancelInvalidState
	}
	if params.Reason != nil {
		if trimmed := strings.TrimSpace(*params.Reason); trimmed != "" {
			req.CancelReason = &trimmed
		}
	}
	req.Status = RequestCancelled
	req.UpdatedAt = s.clock.Now().UTC()
	s.requests[req.ID] = req
	s.mu.Unlock()

	payload := map[string]any{"status": req.Status}
	if req.CancelReason != nil {
		payload["reason"] = *req.CancelReason
	}
	s.record(ctx, req.ID, "ENGAGEMENT_CANCELLED", params.ActorID, payload, "engagement.cancelled")
	return req, nil
}

func (s *Service) record(ctx context.Context, requestID, eventType, actorID string, payload map[string]any, topic string) {
	err := s.recorder.Record(ctx, journal.Event{
		AggregateType: "engagement",
		AggregateID:   requestID,
		Type:          eventType,
		ActorID:       actorID,
		Payload:       payload,
		Topic:         topic,
		OutboxPayload: payload,
	})
	if err != nil {
		s.logger.WithError(err).WithField("event", eventType).Warn("marketplace: journal write failed")
	}
}

func (s *Service) consultationDelay() time.Duration {
	if s.catalog != nil && s.catalog.Delays.Consultation > 0 {
		return s.catalog.Delays.Consultation
	}
	return time.Second
}

func (s *Service) packages() []workflow.Option {
	if s.catalog == nil {
		return nil
	}
	return s.catalog.ConsultationPackages
}
