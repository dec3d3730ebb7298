package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"

	"buffbot/internal/buffs"
	logx "buffbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Store is the authoritative booking store. The uniqueness invariant is
// enforced by the database itself (unique index on title + start_utc), so
// Create is atomic against concurrent writers without an explicit
// check-then-insert.
type Store struct {
	db  *sql.DB
	log logx.Logger
}

func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &Store{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create inserts the booking iff its slot is free at the time of insertion.
// Returns buffs.ErrConflict when the unique index rejects the row.
func (s *Store) Create(ctx context.Context, b buffs.Booking) (buffs.Booking, error) {
	start := buffs.NormalizeHour(b.StartUTC)
	created := b.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO bookings(aoe_name, title, region, start_utc, source, created_at)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(title, start_utc) DO NOTHING`,
		b.RequesterName, string(b.Title), string(b.Region),
		start.Format(time.RFC3339), string(b.Source), created.Format(time.RFC3339),
	)
	if err != nil {
		return buffs.Booking{}, errors.Wrap(err, "insert booking")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return buffs.Booking{}, err
	}
	if n == 0 {
		return buffs.Booking{}, buffs.ErrConflict
	}
	id, err := res.LastInsertId()
	if err != nil {
		return buffs.Booking{}, err
	}
	b.ID = id
	b.StartUTC = start
	b.CreatedAt = created
	return b, nil
}

// FindConflict returns the live booking occupying (title, start), or nil.
func (s *Store) FindConflict(ctx context.Context, title buffs.Title, start time.Time) (*buffs.Booking, error) {
	start = buffs.NormalizeHour(start)
	row := s.db.QueryRowContext(ctx,
		`SELECT id, aoe_name, title, region, start_utc, source, created_at
		 FROM bookings WHERE title = ? AND start_utc = ?`,
		string(title), start.Format(time.RFC3339),
	)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Reschedule moves the row at (title, start) to (newTitle, newStart).
// OR IGNORE makes the unique index drop a move onto an occupied slot
// without failing the statement; an untouched source row then means the
// destination was taken.
func (s *Store) Reschedule(ctx context.Context, title buffs.Title, start time.Time, newTitle buffs.Title, newStart time.Time) (bool, error) {
	start = buffs.NormalizeHour(start)
	newStart = buffs.NormalizeHour(newStart)
	res, err := s.db.ExecContext(ctx,
		`UPDATE OR IGNORE bookings SET title = ?, start_utc = ?
		 WHERE title = ? AND start_utc = ?`,
		string(newTitle), newStart.Format(time.RFC3339),
		string(title), start.Format(time.RFC3339),
	)
	if err != nil {
		return false, errors.Wrap(err, "reschedule booking")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	existing, err := s.FindConflict(ctx, title, start)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, buffs.ErrConflict
	}
	return false, nil
}

// Delete removes the row matching (title, start) and reports whether
// anything was removed.
func (s *Store) Delete(ctx context.Context, title buffs.Title, start time.Time) (bool, error) {
	start = buffs.NormalizeHour(start)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM bookings WHERE title = ? AND start_utc = ?`,
		string(title), start.Format(time.RFC3339),
	)
	if err != nil {
		return false, errors.Wrap(err, "delete booking")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListBetween returns bookings with from <= start_utc < to, ascending.
func (s *Store) ListBetween(ctx context.Context, from, to time.Time) ([]buffs.Booking, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, aoe_name, title, region, start_utc, source, created_at
		 FROM bookings WHERE start_utc >= ? AND start_utc < ?
		 ORDER BY start_utc ASC`,
		from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, errors.Wrap(err, "list bookings")
	}
	defer rows.Close()

	var out []buffs.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			s.log.Warn("skipping malformed booking row", logx.Err(err))
			continue
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(r rowScanner) (buffs.Booking, error) {
	var (
		b                 buffs.Booking
		title, region     string
		source            string
		startRaw, created string
	)
	if err := r.Scan(&b.ID, &b.RequesterName, &title, &region, &startRaw, &source, &created); err != nil {
		return buffs.Booking{}, err
	}
	start, err := time.Parse(time.RFC3339, startRaw)
	if err != nil {
		return buffs.Booking{}, errors.Wrapf(err, "bad start_utc %q", startRaw)
	}
	b.Title = buffs.Title(title)
	b.Region = buffs.Region(region)
	b.Source = buffs.Source(source)
	b.StartUTC = start.UTC()
	if at, err := time.Parse(time.RFC3339, created); err == nil {
		b.CreatedAt = at.UTC()
	}
	return b, nil
}
