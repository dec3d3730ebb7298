// Package mirror implements the shared JSON document the chat front end
// reads and writes. The document maps opaque request ids to booking records
// and has no partial-update primitive, so every logical operation is a full
// read-modify-write cycle under one mutex.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"buffbot/internal/buffs"
	logx "buffbot/pkg/logx"
)

// Record is the wire representation of one mirror entry. The field set and
// naming are load-bearing: unmigrated collaborators parse this document.
type Record struct {
	UserID      int64  `json:"user_id"`
	UserName    string `json:"user_name"`
	Title       string `json:"title"`
	TimeSlot    string `json:"time_slot"`
	Region      string `json:"region"`
	RequestTime string `json:"request_time"`
}

// Store is the file-backed mirror map. All readers and writers of the
// document serialize through mu for the whole read-modify-write cycle;
// without that, two near-simultaneous bookings for the same slot could
// both observe "no conflict" and both land.
type Store struct {
	mu   sync.Mutex
	path string
	log  logx.Logger
	now  func() time.Time
}

func Open(path string, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("mirror path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	s := &Store{path: path, log: log, now: time.Now}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.writeLocked(map[string]Record{}); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// SetClock overrides the store clock. Test hook.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// ReadAll returns the full current snapshot. A missing or corrupt document
// yields an empty map, never an error: with multiple independent writers
// the store must always have an answer.
func (s *Store) ReadAll(ctx context.Context) map[string]Record {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

func (s *Store) readLocked() map[string]Record {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("mirror read failed; treating as empty", logx.String("path", s.path), logx.Err(err))
		}
		return map[string]Record{}
	}
	var m map[string]Record
	if err := json.Unmarshal(b, &m); err != nil {
		s.log.Warn("mirror document corrupt; treating as empty", logx.String("path", s.path), logx.Err(err))
		return map[string]Record{}
	}
	if m == nil {
		m = map[string]Record{}
	}
	return m
}

func (s *Store) writeLocked(m map[string]Record) error {
	b, err := json.MarshalIndent(m, "", "    ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Append inserts the booking under a fresh unique request id and rewrites
// the whole document. It never checks uniqueness: it exists to mirror rows
// the slot store already owns. Bot bookings go through CheckAndAppend.
func (s *Store) Append(ctx context.Context, b buffs.Booking) (string, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(s.readLocked(), b)
}

// CheckAndAppend inserts the booking iff its (title, start) slot is free.
// The conflict scan and the insert run under one mutex hold, so two
// concurrent callers for the same slot cannot both observe it free; the
// loser gets buffs.ErrConflict.
func (s *Store) CheckAndAppend(ctx context.Context, b buffs.Booking) (string, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.readLocked()
	if s.conflictLocked(m, b.Title, buffs.NormalizeHour(b.StartUTC), nil) {
		return "", buffs.ErrConflict
	}
	return s.appendLocked(m, b)
}

func (s *Store) appendLocked(m map[string]Record, b buffs.Booking) (string, error) {
	now := s.now().UTC()
	id := fmt.Sprintf("%d.%06d", now.Unix(), now.Nanosecond()/1000)
	if _, taken := m[id]; taken {
		id = uuid.NewString()
	}
	created := b.CreatedAt
	if created.IsZero() {
		created = now
	}
	m[id] = Record{
		UserID:      b.RequesterID,
		UserName:    b.RequesterName,
		Title:       string(b.Title),
		TimeSlot:    buffs.NormalizeHour(b.StartUTC).Format(time.RFC3339),
		Region:      string(b.Region),
		RequestTime: created.UTC().Format(time.RFC3339),
	}
	if err := s.writeLocked(m); err != nil {
		return "", errors.Wrap(err, "mirror write")
	}
	return id, nil
}

// FindConflict scans all entries for a normalized (title, start) match.
// Legacy records whose time_slot lacks a zone are treated as UTC; records
// that fail to parse at all are skipped.
func (s *Store) FindConflict(ctx context.Context, title buffs.Title, start time.Time) bool {
	_ = ctx
	start = buffs.NormalizeHour(start)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conflictLocked(s.readLocked(), title, start, nil)
}

// conflictLocked reports whether any entry outside skip occupies the
// already-normalized (title, start) slot. Caller holds mu.
func (s *Store) conflictLocked(m map[string]Record, title buffs.Title, start time.Time, skip map[string]bool) bool {
	for id, r := range m {
		if skip[id] || r.Title != string(title) || r.TimeSlot == "" {
			continue
		}
		when, err := ParseSlot(r.TimeSlot)
		if err != nil {
			s.log.Warn("skipping malformed mirror record", logx.String("id", id), logx.Err(err))
			continue
		}
		if buffs.NormalizeHour(when).Equal(start) {
			return true
		}
	}
	return false
}

// Remove deletes every entry matching (title, start), duplicates included,
// and reports whether anything was removed.
func (s *Store) Remove(ctx context.Context, title buffs.Title, start time.Time) (bool, error) {
	_ = ctx
	start = buffs.NormalizeHour(start)
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.readLocked()
	var doomed []string
	for id, r := range m {
		if r.Title != string(title) {
			continue
		}
		when, err := ParseSlot(r.TimeSlot)
		if err != nil {
			continue
		}
		if buffs.NormalizeHour(when).Equal(start) {
			doomed = append(doomed, id)
		}
	}
	if len(doomed) == 0 {
		return false, nil
	}
	for _, id := range doomed {
		delete(m, id)
	}
	if err := s.writeLocked(m); err != nil {
		return false, errors.Wrap(err, "mirror write")
	}
	return true, nil
}

// Reschedule moves every entry at (title, start) to (newTitle, newStart),
// duplicates included. The destination must be free among the entries not
// being moved, so re-slotting a booking onto its own key succeeds.
func (s *Store) Reschedule(ctx context.Context, title buffs.Title, start time.Time, newTitle buffs.Title, newStart time.Time) (bool, error) {
	_ = ctx
	start = buffs.NormalizeHour(start)
	newStart = buffs.NormalizeHour(newStart)
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.readLocked()
	moving := map[string]bool{}
	for id, r := range m {
		if r.Title != string(title) {
			continue
		}
		when, err := ParseSlot(r.TimeSlot)
		if err != nil {
			continue
		}
		if buffs.NormalizeHour(when).Equal(start) {
			moving[id] = true
		}
	}
	if len(moving) == 0 {
		return false, nil
	}
	if s.conflictLocked(m, newTitle, newStart, moving) {
		return false, buffs.ErrConflict
	}
	slot := newStart.Format(time.RFC3339)
	for id := range moving {
		r := m[id]
		r.Title = string(newTitle)
		r.TimeSlot = slot
		m[id] = r
	}
	if err := s.writeLocked(m); err != nil {
		return false, errors.Wrap(err, "mirror write")
	}
	return true, nil
}

// ClearAll replaces the document with an empty map. Moderation command.
func (s *Store) ClearAll(ctx context.Context) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(map[string]Record{})
}

// ListUpcoming returns entries with now <= start < now+horizon,
// deduplicated by (title, start) keeping one representative per key,
// ascending by start time.
func (s *Store) ListUpcoming(ctx context.Context, now time.Time, horizon time.Duration) []buffs.Booking {
	_ = ctx
	now = now.UTC()
	end := now.Add(horizon)

	s.mu.Lock()
	m := s.readLocked()
	s.mu.Unlock()

	byKey := map[string]buffs.Booking{}
	for id, r := range m {
		b, err := recordBooking(r)
		if err != nil {
			s.log.Warn("skipping malformed mirror record", logx.String("id", id), logx.Err(err))
			continue
		}
		if b.StartUTC.Before(now) || !b.StartUTC.Before(end) {
			continue
		}
		byKey[b.Key()] = b
	}

	out := make([]buffs.Booking, 0, len(byKey))
	for _, b := range byKey {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartUTC.Equal(out[j].StartUTC) {
			return out[i].StartUTC.Before(out[j].StartUTC)
		}
		return out[i].Title < out[j].Title
	})
	return out
}

// ExpireStale drops entries whose request_time is older than the retention
// window (submission-time policy). Returns how many entries were removed.
func (s *Store) ExpireStale(ctx context.Context, now time.Time, retention time.Duration) (int, error) {
	_ = ctx
	cutoff := now.UTC().Add(-retention)

	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.readLocked()
	var doomed []string
	for id, r := range m {
		at, err := ParseSlot(r.RequestTime)
		if err != nil {
			s.log.Warn("skipping mirror record with bad request_time", logx.String("id", id), logx.Err(err))
			continue
		}
		if at.Before(cutoff) {
			doomed = append(doomed, id)
		}
	}
	if len(doomed) == 0 {
		return 0, nil
	}
	for _, id := range doomed {
		delete(m, id)
	}
	if err := s.writeLocked(m); err != nil {
		return 0, errors.Wrap(err, "mirror write")
	}
	return len(doomed), nil
}

func recordBooking(r Record) (buffs.Booking, error) {
	when, err := ParseSlot(r.TimeSlot)
	if err != nil {
		return buffs.Booking{}, err
	}
	b := buffs.Booking{
		RequesterName: r.UserName,
		RequesterID:   r.UserID,
		Title:         buffs.Title(r.Title),
		Region:        buffs.Region(r.Region),
		StartUTC:      buffs.NormalizeHour(when),
		Source:        buffs.SourceBot,
	}
	if at, err := ParseSlot(r.RequestTime); err == nil {
		b.CreatedAt = at
	}
	return b, nil
}

var slotLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999", // legacy zoneless isoformat, assumed UTC
}

// ParseSlot parses the ISO-8601 timestamps found in mirror documents.
// Records written by older collaborators may lack a zone; those are taken
// as UTC.
func ParseSlot(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	var lastErr error
	for _, layout := range slotLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, errors.Wrapf(lastErr, "bad timestamp %q", s)
}
