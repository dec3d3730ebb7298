package buffs

import (
	"time"

	"github.com/cockroachdb/errors"
)

// Title identifies which capital buff a booking reserves.
type Title string

const (
	TitleResearch Title = "Research"
	TitleTraining Title = "Training"
	TitleBuilding Title = "Building"
	TitleCombat   Title = "Combat"
	TitlePvP      Title = "PvP"
)

// ValidTitle reports whether t is one of the bookable buff titles.
func ValidTitle(t Title) bool {
	switch t {
	case TitleResearch, TitleTraining, TitleBuilding, TitleCombat, TitlePvP:
		return true
	}
	return false
}

// Region is the game region the requester plays in. It is informational
// only; the uniqueness key is (title, start_utc).
type Region string

// Source records which front end created a booking.
type Source string

const (
	SourceWeb Source = "web"
	SourceBot Source = "bot"
)

// Booking is a reservation of one buff title for one UTC hour slot.
//
// RequesterID is the chat-platform user id, 0 for web-originated bookings.
// StartUTC must be normalized (see NormalizeHour) before it is compared or
// persisted anywhere.
type Booking struct {
	ID            int64
	RequesterName string `validate:"required,max=50"`
	RequesterID   int64
	Title         Title  `validate:"required,oneof=Research Training Building Combat PvP"`
	Region        Region `validate:"required,oneof=Gaul Olympia Neilos Tinir 'East Kingsland' Eastland Kyuno 'North Kingsland' 'West Kingsland' NA 'Imperial City'"`
	StartUTC      time.Time
	Source        Source `validate:"required,oneof=web bot"`
	CreatedAt     time.Time
}

// Key is the uniqueness key of a booking. Two live bookings must never
// share a key, regardless of store or origin.
func (b Booking) Key() string {
	return string(b.Title) + "|" + NormalizeHour(b.StartUTC).Format(time.RFC3339)
}

var (
	// ErrConflict means the (title, start_utc) slot is already taken in
	// either store. Terminal for the attempt; callers re-drive it.
	ErrConflict = errors.New("slot already taken")

	// ErrNotFound means the (title, start_utc) booking exists in neither
	// store.
	ErrNotFound = errors.New("booking not found")

	ErrInvalidTitle     = errors.New("invalid title")
	ErrInvalidRegion    = errors.New("invalid region")
	ErrInvalidRequester = errors.New("invalid requester name")
	ErrInvalidSource    = errors.New("invalid source")
)
