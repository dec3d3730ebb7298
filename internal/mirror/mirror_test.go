package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"buffbot/internal/buffs"
	logx "buffbot/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "buff_requests.json"), logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func writeDocument(t *testing.T, s *Store, m map[string]Record) {
	t.Helper()
	b, err := json.MarshalIndent(m, "", "    ")
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.path, b, 0o644); err != nil {
		t.Fatal(err)
	}
}

func testBooking(title buffs.Title, start time.Time) buffs.Booking {
	return buffs.Booking{
		RequesterName: "Caesar",
		RequesterID:   42,
		Title:         title,
		Region:        "Gaul",
		StartUTC:      start,
		Source:        buffs.SourceBot,
		CreatedAt:     start.Add(-2 * time.Hour),
	}
}

func TestReadAllEmptyAndCorrupt(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	s := openTestStore(t)
	if got := s.ReadAll(ctx); len(got) != 0 {
		t.Fatalf("fresh document: got %d entries, want 0", len(got))
	}

	if err := os.WriteFile(s.path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := s.ReadAll(ctx); len(got) != 0 {
		t.Fatalf("corrupt document: got %d entries, want 0", len(got))
	}

	if err := os.Remove(s.path); err != nil {
		t.Fatal(err)
	}
	if got := s.ReadAll(ctx); len(got) != 0 {
		t.Fatalf("missing document: got %d entries, want 0", len(got))
	}
}

func TestAppendRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)

	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	id, err := s.Append(ctx, testBooking(buffs.TitleResearch, start))
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if id == "" {
		t.Fatal("Append returned empty id")
	}

	m := s.ReadAll(ctx)
	r, ok := m[id]
	if !ok {
		t.Fatalf("appended id %q not in document", id)
	}
	if r.Title != "Research" || r.Region != "Gaul" || r.UserName != "Caesar" || r.UserID != 42 {
		t.Fatalf("unexpected record: %+v", r)
	}
	when, err := ParseSlot(r.TimeSlot)
	if err != nil {
		t.Fatalf("ParseSlot(%q): %v", r.TimeSlot, err)
	}
	if !when.Equal(start) {
		t.Fatalf("time_slot = %v, want %v", when, start)
	}
}

func TestAppendGeneratesUniqueIDs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)
	fixed := time.Date(2024, 1, 1, 9, 0, 0, 123456000, time.UTC)
	s.SetClock(func() time.Time { return fixed })

	id1, err := s.Append(ctx, testBooking(buffs.TitleResearch, fixed.Add(time.Hour)))
	if err != nil {
		t.Fatal(err)
	}
	id2, err := s.Append(ctx, testBooking(buffs.TitleTraining, fixed.Add(2*time.Hour)))
	if err != nil {
		t.Fatal(err)
	}
	if id1 == id2 {
		t.Fatalf("ids collided under a frozen clock: %q", id1)
	}
	if len(s.ReadAll(ctx)) != 2 {
		t.Fatal("second append overwrote the first entry")
	}
}

func TestCheckAndAppendAdmitsExactlyOne(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		admitted  int
		conflicts int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CheckAndAppend(ctx, testBooking(buffs.TitleResearch, start))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				admitted++
			case errors.Is(err, buffs.ErrConflict):
				conflicts++
			default:
				t.Errorf("CheckAndAppend: %v", err)
			}
		}()
	}
	wg.Wait()

	if admitted != 1 || conflicts != attempts-1 {
		t.Fatalf("got %d admitted and %d conflicts, want 1 and %d", admitted, conflicts, attempts-1)
	}
	if n := len(s.ReadAll(ctx)); n != 1 {
		t.Fatalf("document holds %d entries for one slot, want 1", n)
	}
}

func TestReschedule(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)

	writeDocument(t, s, map[string]Record{
		"a": {Title: "Research", TimeSlot: "2024-01-01T10:00:00Z", Region: "Gaul", RequestTime: "2024-01-01T08:00:00Z"},
		"b": {Title: "Research", TimeSlot: "2024-01-01T10:00:00Z", Region: "NA", RequestTime: "2024-01-01T08:30:00Z"},
		"c": {Title: "Combat", TimeSlot: "2024-01-01T11:00:00Z", Region: "Gaul", RequestTime: "2024-01-01T08:00:00Z"},
	})
	ten := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	eleven := ten.Add(time.Hour)
	noon := ten.Add(2 * time.Hour)

	// Destination taken by an entry outside the moving set.
	moved, err := s.Reschedule(ctx, buffs.TitleResearch, ten, buffs.TitleCombat, eleven)
	if !errors.Is(err, buffs.ErrConflict) || moved {
		t.Fatalf("Reschedule onto taken slot = (%v, %v), want (false, ErrConflict)", moved, err)
	}

	// Free destination moves every duplicate.
	moved, err = s.Reschedule(ctx, buffs.TitleResearch, ten, buffs.TitleResearch, noon)
	if err != nil || !moved {
		t.Fatalf("Reschedule = (%v, %v), want (true, nil)", moved, err)
	}
	m := s.ReadAll(ctx)
	for _, id := range []string{"a", "b"} {
		when, err := ParseSlot(m[id].TimeSlot)
		if err != nil || !when.Equal(noon) {
			t.Fatalf("entry %q not moved: %+v (%v)", id, m[id], err)
		}
	}
	if m["c"].TimeSlot != "2024-01-01T11:00:00Z" {
		t.Fatalf("unrelated entry changed: %+v", m["c"])
	}

	// The source key itself does not block a same-slot reschedule.
	moved, err = s.Reschedule(ctx, buffs.TitleResearch, noon, buffs.TitleResearch, noon)
	if err != nil || !moved {
		t.Fatalf("same-key Reschedule = (%v, %v), want (true, nil)", moved, err)
	}

	// Absent source.
	moved, err = s.Reschedule(ctx, buffs.TitlePvP, ten, buffs.TitlePvP, noon)
	if err != nil || moved {
		t.Fatalf("Reschedule of absent key = (%v, %v), want (false, nil)", moved, err)
	}
}

func TestFindConflictLegacyZonelessTimestamp(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)

	writeDocument(t, s, map[string]Record{
		"1700000000.000001": {
			UserID:      7,
			UserName:    "legacy",
			Title:       "Combat",
			TimeSlot:    "2024-01-01T10:00:00", // no zone: assumed UTC
			Region:      "NA",
			RequestTime: "2024-01-01T08:00:00",
		},
		"1700000000.000002": {
			UserName:    "broken",
			Title:       "Combat",
			TimeSlot:    "not-a-time",
			Region:      "NA",
			RequestTime: "also-bad",
		},
	})

	if !s.FindConflict(ctx, buffs.TitleCombat, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatal("zoneless legacy record not matched")
	}
	if s.FindConflict(ctx, buffs.TitleCombat, time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC)) {
		t.Fatal("false conflict on a different hour")
	}
	if s.FindConflict(ctx, buffs.TitleResearch, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatal("false conflict on a different title")
	}
}

func TestRemoveDeletesAllDuplicates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)

	writeDocument(t, s, map[string]Record{
		"a": {Title: "Research", TimeSlot: "2024-01-01T10:00:00Z", Region: "Gaul", RequestTime: "2024-01-01T08:00:00Z"},
		"b": {Title: "Research", TimeSlot: "2024-01-01T10:00:00+00:00", Region: "NA", RequestTime: "2024-01-01T08:30:00Z"},
		"c": {Title: "Research", TimeSlot: "2024-01-01T11:00:00Z", Region: "Gaul", RequestTime: "2024-01-01T08:00:00Z"},
	})

	removed, err := s.Remove(ctx, buffs.TitleResearch, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	if err != nil || !removed {
		t.Fatalf("Remove = (%v, %v), want (true, nil)", removed, err)
	}
	m := s.ReadAll(ctx)
	if len(m) != 1 {
		t.Fatalf("got %d entries after remove, want 1", len(m))
	}
	if _, ok := m["c"]; !ok {
		t.Fatal("unrelated entry was removed")
	}

	removed, err = s.Remove(ctx, buffs.TitleResearch, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("removing absent key errored: %v", err)
	}
	if removed {
		t.Fatal("removing absent key reported removal")
	}
}

func TestClearAll(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)

	if _, err := s.Append(ctx, testBooking(buffs.TitlePvP, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))); err != nil {
		t.Fatal(err)
	}
	if err := s.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	if got := s.ReadAll(ctx); len(got) != 0 {
		t.Fatalf("got %d entries after clear, want 0", len(got))
	}
}

func TestListUpcomingDeduplicatesAndSorts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	writeDocument(t, s, map[string]Record{
		"dup1":    {Title: "Research", TimeSlot: "2024-01-01T12:00:00Z", Region: "Gaul", RequestTime: "2024-01-01T08:00:00Z", UserName: "a"},
		"dup2":    {Title: "Research", TimeSlot: "2024-01-01T12:00:00Z", Region: "Gaul", RequestTime: "2024-01-01T08:05:00Z", UserName: "b"},
		"early":   {Title: "Training", TimeSlot: "2024-01-01T10:00:00Z", Region: "NA", RequestTime: "2024-01-01T08:00:00Z"},
		"past":    {Title: "Combat", TimeSlot: "2024-01-01T08:00:00Z", Region: "NA", RequestTime: "2024-01-01T07:00:00Z"},
		"too_far": {Title: "PvP", TimeSlot: "2024-01-05T10:00:00Z", Region: "NA", RequestTime: "2024-01-01T08:00:00Z"},
	})

	got := s.ListUpcoming(ctx, now, 48*time.Hour)
	if len(got) != 2 {
		t.Fatalf("got %d bookings, want 2 (deduplicated, windowed)", len(got))
	}
	if got[0].Title != buffs.TitleTraining || got[1].Title != buffs.TitleResearch {
		t.Fatalf("unexpected order: %s then %s", got[0].Title, got[1].Title)
	}
}

func TestExpireStaleBySubmissionTime(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Date(2024, 1, 2, 8, 0, 0, 0, time.UTC)

	writeDocument(t, s, map[string]Record{
		"stale": {Title: "Research", TimeSlot: "2024-01-01T10:00:00Z", Region: "Gaul",
			RequestTime: now.Add(-24*time.Hour - time.Second).Format(time.RFC3339)},
		"fresh": {Title: "Training", TimeSlot: "2024-01-01T11:00:00Z", Region: "Gaul",
			RequestTime: now.Add(-24*time.Hour + time.Second).Format(time.RFC3339)},
	})

	n, err := s.ExpireStale(ctx, now, 24*time.Hour)
	if err != nil {
		t.Fatalf("ExpireStale: %v", err)
	}
	if n != 1 {
		t.Fatalf("expired %d entries, want 1", n)
	}
	m := s.ReadAll(ctx)
	if _, ok := m["fresh"]; !ok {
		t.Fatal("entry 1s inside the retention window was expired")
	}
	if _, ok := m["stale"]; ok {
		t.Fatal("stale entry survived expiry")
	}

	// Second pass is a no-op.
	n, err = s.ExpireStale(ctx, now, 24*time.Hour)
	if err != nil || n != 0 {
		t.Fatalf("second pass = (%d, %v), want (0, nil)", n, err)
	}
}
