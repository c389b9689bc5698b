package marketplace

import (
	"context"
	"fmt"
	"strings"
	"time"

	"contractflow/workflow"
)

// packageMinutes is the billable time of each consultation package.
var packageMinutes = map[string]int64{
	"quick_call":          30,
	"document_review":     120,
	"full_representation": 480,
}

// Booking is one consultation request with a lawyer.
type Booking struct {
	id          string
	userID      string
	lawyer      Profile
	scheduledAt time.Time
	pkg         *workflow.Selection
	action      *workflow.Action[Confirmation]
}

func (b *Booking) ID() string { return b.id }

func (b *Booking) UserID() string { return b.userID }

// Action exposes the booking action.
func (b *Booking) Action() *workflow.Action[Confirmation] { return b.action }

func (b *Booking) State() BookingState {
	return BookingState{
		ID:          b.id,
		UserID:      b.userID,
		LawyerID:    b.lawyer.ID,
		Package:     b.pkg.State(),
		ScheduledAt: b.scheduledAt,
		Booking:     b.action.Snapshot(),
	}
}

func (b *Booking) confirm(context.Context) (Confirmation, error) {
	opt, _ := b.pkg.Selected()
	minutes := packageMinutes[opt.ID]
	if minutes == 0 {
		minutes = 60
	}
	return Confirmation{
		Reference:   "CNS-" + strings.ToUpper(b.id[:min(8, len(b.id))]),
		LawyerID:    b.lawyer.ID,
		Package:     opt.ID,
		ScheduledAt: b.scheduledAt,
		Fee:         b.lawyer.HourlyRate * minutes / 60,
	}, nil
}

// BookConsultation selects a package and starts the simulated booking.
func (s *Service) BookConsultation(ctx context.Context, userID, lawyerID, packageID string, at time.Time) (*Booking, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: missing user id", ErrInvalidRequest)
	}
	lawyer, err := s.directory.GetByID(ctx, lawyerID)
	if err != nil {
		return nil, err
	}
	if !at.After(s.clock.Now()) {
		return nil, fmt.Errorf("%w: consultation must be scheduled in the future", ErrInvalidRequest)
	}
	pkg, err := workflow.NewSelection(s.packages())
	if err != nil {
		return nil, err
	}
	if err := pkg.Select(packageID); err != nil {
		return nil, err
	}

	b := &Booking{
		id:          s.idGenerator(),
		userID:      userID,
		lawyer:      lawyer,
		scheduledAt: at.UTC(),
		pkg:         pkg,
	}
	b.action = workflow.NewAction("consultation_booking", s.consultationDelay(), b.confirm,
		workflow.WithClock(s.clock),
		workflow.WithLogger(s.logger.WithField("booking_id", b.id)),
	)
	b.action.OnSuccess(func(c Confirmation) {
		s.record(context.Background(), b.id, "CONSULTATION_BOOKED", userID, map[string]any{
			"lawyer_id": c.LawyerID,
			"package":   c.Package,
			"reference": c.Reference,
		}, "consultation.booked")
	})

	s.mu.Lock()
	s.bookings[b.id] = b
	s.mu.Unlock()

	if err := b.action.Trigger(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

// Booking returns a booking owned by userID.
func (s *Service) Booking(id, userID string) (*Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok || b.userID != userID {
		return nil, ErrBookingNotFound
	}
	return b, nil
}
