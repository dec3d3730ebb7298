package buffs

import (
	"context"
	"sort"
	"time"

	"github.com/cockroachdb/errors"

	logx "buffbot/pkg/logx"
)

// SlotStore is the authoritative structured store for web-originated
// bookings. Create and Reschedule must be atomic against concurrent
// writers (the engine's uniqueness constraint, not a separate
// check-then-insert).
type SlotStore interface {
	Create(ctx context.Context, b Booking) (Booking, error)
	FindConflict(ctx context.Context, title Title, start time.Time) (*Booking, error)
	Reschedule(ctx context.Context, title Title, start time.Time, newTitle Title, newStart time.Time) (bool, error)
	Delete(ctx context.Context, title Title, start time.Time) (bool, error)
	ListBetween(ctx context.Context, from, to time.Time) ([]Booking, error)
}

// MirrorStore is the shared file-backed map the chat front end writes.
// Append skips the uniqueness check (it mirrors rows the slot store
// already owns); CheckAndAppend runs the conflict scan and the insert in
// one critical section and is the only safe way to admit a bot booking.
type MirrorStore interface {
	Append(ctx context.Context, b Booking) (string, error)
	CheckAndAppend(ctx context.Context, b Booking) (string, error)
	FindConflict(ctx context.Context, title Title, start time.Time) bool
	Reschedule(ctx context.Context, title Title, start time.Time, newTitle Title, newStart time.Time) (bool, error)
	Remove(ctx context.Context, title Title, start time.Time) (bool, error)
	ClearAll(ctx context.Context) error
	ListUpcoming(ctx context.Context, now time.Time, horizon time.Duration) []Booking
}

// DefaultHorizonDays bounds how far ahead the merged upcoming listing and
// the cross-origin reconciliation look.
const DefaultHorizonDays = 2

// Service is the cross-store scheduling core: conflict resolution across
// both stores, creation routed by origin, and web->mirror synchronization.
type Service struct {
	slots  SlotStore
	mirror MirrorStore
	log    logx.Logger
	now    func() time.Time
}

func NewService(slots SlotStore, mirror MirrorStore, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{slots: slots, mirror: mirror, log: log, now: time.Now}
}

// SetClock overrides the service clock. Test hook.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// CreateRequest carries the raw front-end input for one booking attempt.
type CreateRequest struct {
	RequesterName string
	RequesterID   int64
	Title         Title
	Region        Region
	Start         time.Time
	Source        Source
}

// CreateBooking validates, normalizes and books a slot.
//
// Both stores are consulted before any write; neither alone has full
// knowledge of live bookings. Web bookings land in the slot store (whose
// unique index is the final arbiter) and are mirrored into the shared
// file so the chat side sees them. Bot bookings land in the mirror only,
// through CheckAndAppend so the scan and the insert share one critical
// section; there is deliberately no reverse propagation into the slot
// store (see DESIGN.md).
func (s *Service) CreateBooking(ctx context.Context, req CreateRequest) (Booking, error) {
	b := Booking{
		RequesterName: SanitizeName(req.RequesterName),
		RequesterID:   req.RequesterID,
		Title:         req.Title,
		Region:        req.Region,
		StartUTC:      NormalizeHour(req.Start),
		Source:        req.Source,
		CreatedAt:     s.now().UTC(),
	}
	if err := Validate(b); err != nil {
		return Booking{}, err
	}

	conflict, err := s.HasConflict(ctx, b.Title, b.StartUTC)
	if err != nil {
		return Booking{}, err
	}
	if conflict {
		return Booking{}, ErrConflict
	}

	switch b.Source {
	case SourceWeb:
		created, err := s.slots.Create(ctx, b)
		if err != nil {
			return Booking{}, err
		}
		// Synchronizer: make the web booking visible to the chat side.
		// Mirror write failures are masked per the availability policy;
		// the authoritative row already exists.
		if _, err := s.mirror.Append(ctx, created); err != nil {
			s.log.Warn("mirror append failed after slot create",
				logx.String("title", string(created.Title)),
				logx.Time("start_utc", created.StartUTC),
				logx.Err(err))
		}
		s.log.Info("booking created",
			logx.String("source", string(created.Source)),
			logx.String("title", string(created.Title)),
			logx.Time("start_utc", created.StartUTC))
		return created, nil
	case SourceBot:
		id, err := s.mirror.CheckAndAppend(ctx, b)
		if err != nil {
			return Booking{}, errors.Wrap(err, "mirror append")
		}
		s.log.Info("booking created",
			logx.String("source", string(b.Source)),
			logx.String("request_id", id),
			logx.String("title", string(b.Title)),
			logx.Time("start_utc", b.StartUTC))
		return b, nil
	default:
		return Booking{}, ErrInvalidSource
	}
}

// HasConflict reports whether (title, start) is already booked in either
// store. Short-circuits on the first positive; slot store errors propagate
// since masking them could break the uniqueness invariant.
func (s *Service) HasConflict(ctx context.Context, title Title, start time.Time) (bool, error) {
	start = NormalizeHour(start)
	existing, err := s.slots.FindConflict(ctx, title, start)
	if err != nil {
		return false, errors.Wrap(err, "slot store lookup")
	}
	if existing != nil {
		return true, nil
	}
	return s.mirror.FindConflict(ctx, title, start), nil
}

// EditBooking moves an existing booking to a new (title, start) slot.
// The uniqueness re-check excludes the booking being moved, so
// re-slotting onto its own key is an allowed no-op. Both stores are
// updated; a booking present in neither is ErrNotFound.
func (s *Service) EditBooking(ctx context.Context, title Title, start time.Time, newTitle Title, newStart time.Time) error {
	start = NormalizeHour(start)
	newStart = NormalizeHour(newStart)
	if !ValidTitle(newTitle) {
		return ErrInvalidTitle
	}

	if newTitle != title || !newStart.Equal(start) {
		conflict, err := s.HasConflict(ctx, newTitle, newStart)
		if err != nil {
			return err
		}
		if conflict {
			return ErrConflict
		}
	}

	movedSlots, err := s.slots.Reschedule(ctx, title, start, newTitle, newStart)
	if err != nil {
		return errors.Wrap(err, "slot store reschedule")
	}
	movedMirror, err := s.mirror.Reschedule(ctx, title, start, newTitle, newStart)
	if err != nil {
		return errors.Wrap(err, "mirror reschedule")
	}
	if !movedSlots && !movedMirror {
		return ErrNotFound
	}
	s.log.Info("booking edited",
		logx.String("title", string(title)),
		logx.Time("start_utc", start),
		logx.String("new_title", string(newTitle)),
		logx.Time("new_start_utc", newStart),
		logx.Bool("slot_store", movedSlots),
		logx.Bool("mirror", movedMirror))
	return nil
}

// DeleteBooking removes the (title, start) slot from both stores and
// reports whether anything was removed. Deleting an absent slot is not an
// error.
func (s *Service) DeleteBooking(ctx context.Context, title Title, start time.Time) (bool, error) {
	start = NormalizeHour(start)
	fromSlots, err := s.slots.Delete(ctx, title, start)
	if err != nil {
		return false, errors.Wrap(err, "slot store delete")
	}
	fromMirror, err := s.mirror.Remove(ctx, title, start)
	if err != nil {
		return fromSlots, errors.Wrap(err, "mirror remove")
	}
	if fromSlots || fromMirror {
		s.log.Info("booking deleted",
			logx.String("title", string(title)),
			logx.Time("start_utc", start),
			logx.Bool("slot_store", fromSlots),
			logx.Bool("mirror", fromMirror))
	}
	return fromSlots || fromMirror, nil
}

// ListUpcoming merges both stores into one ascending schedule, deduplicated
// by (title, start). Slot store rows win over mirror duplicates of the same
// logical booking.
func (s *Service) ListUpcoming(ctx context.Context, now time.Time, horizonDays int) ([]Booking, error) {
	if horizonDays <= 0 {
		horizonDays = DefaultHorizonDays
	}
	from := now.UTC()
	to := from.Add(time.Duration(horizonDays) * 24 * time.Hour)

	rows, err := s.slots.ListBetween(ctx, from, to)
	if err != nil {
		return nil, errors.Wrap(err, "slot store list")
	}

	seen := make(map[string]struct{}, len(rows))
	out := make([]Booking, 0, len(rows))
	for _, b := range rows {
		seen[b.Key()] = struct{}{}
		out = append(out, b)
	}
	for _, b := range s.mirror.ListUpcoming(ctx, from, to.Sub(from)) {
		if _, dup := seen[b.Key()]; dup {
			continue
		}
		seen[b.Key()] = struct{}{}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartUTC.Equal(out[j].StartUTC) {
			return out[i].StartUTC.Before(out[j].StartUTC)
		}
		return out[i].Title < out[j].Title
	})
	return out, nil
}

// ClearMirror wipes the shared file wholesale. Moderation command.
func (s *Service) ClearMirror(ctx context.Context) error {
	if err := s.mirror.ClearAll(ctx); err != nil {
		return errors.Wrap(err, "mirror clear")
	}
	s.log.Info("mirror cleared")
	return nil
}
