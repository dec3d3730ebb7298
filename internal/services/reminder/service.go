// Package reminder runs the two recurring duties over the booking stores:
// expiry of stale mirror entries and a one-time pre-start notification per
// booking.
package reminder

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"buffbot/internal/buffs"
	logx "buffbot/pkg/logx"
)

type Config struct {
	Enabled bool

	// Tick is the reminder cadence. The trigger window below is only one
	// minute wide, so a tick delayed past the window boundary loses that
	// booking's reminder. Accepted race; not corrected here.
	Tick time.Duration

	// A booking is announced when LeadMin < start-now <= LeadMax.
	LeadMin time.Duration
	LeadMax time.Duration

	// Retention is how long mirror entries live, measured from their
	// request_time (submission-time policy).
	Retention time.Duration

	HorizonDays int
}

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = time.Minute
	}
	if c.LeadMin <= 0 {
		c.LeadMin = 4 * time.Minute
	}
	if c.LeadMax <= 0 {
		c.LeadMax = 5 * time.Minute
	}
	if c.Retention <= 0 {
		c.Retention = 24 * time.Hour
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = buffs.DefaultHorizonDays
	}
	return c
}

// Schedule is the merged upcoming view over both stores.
type Schedule interface {
	ListUpcoming(ctx context.Context, now time.Time, horizonDays int) ([]buffs.Booking, error)
}

// Expirer purges stale mirror entries.
type Expirer interface {
	ExpireStale(ctx context.Context, now time.Time, retention time.Duration) (int, error)
}

// Notifier delivers one reminder text. Implementations live in
// internal/notifier.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

type Service struct {
	cfg      Config
	schedule Schedule
	expirer  Expirer
	notifier Notifier
	log      logx.Logger
	now      func() time.Time

	c *cron.Cron

	// notified is the process-lifetime "already announced" set, keyed by
	// booking key. Deliberately not persisted: reminders are best-effort
	// and losing the set across a restart is acceptable.
	mu       sync.Mutex
	notified map[string]struct{}
}

func New(cfg Config, schedule Schedule, expirer Expirer, notifier Notifier, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg.withDefaults(),
		schedule: schedule,
		expirer:  expirer,
		notifier: notifier,
		log:      log,
		now:      time.Now,
		notified: map[string]struct{}{},
	}
}

// SetClock overrides the service clock. Test hook.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Start registers the recurring jobs and runs an initial expiry sweep,
// matching what the chat front ends do on ready.
func (s *Service) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.log.Info("reminder service disabled")
		return nil
	}

	s.Expire(ctx)

	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.cfg.Tick), func() { s.Tick(ctx) }); err != nil {
		return err
	}
	// Expiry also runs on every tick; the hourly job is a backstop for
	// periods with nothing upcoming.
	if _, err := c.AddFunc("@hourly", func() { s.Expire(ctx) }); err != nil {
		return err
	}
	c.Start()
	s.c = c
	s.log.Info("reminder service started",
		logx.Duration("tick", s.cfg.Tick),
		logx.Duration("lead_min", s.cfg.LeadMin),
		logx.Duration("lead_max", s.cfg.LeadMax),
		logx.Duration("retention", s.cfg.Retention))
	return nil
}

func (s *Service) Stop() {
	if s.c == nil {
		return
	}
	<-s.c.Stop().Done()
	s.c = nil
	s.log.Info("reminder service stopped")
}

// Tick runs one reminder pass: expire stale entries, then announce every
// booking inside the trigger window that has not been announced yet.
// Idempotent within the window thanks to the notified set.
func (s *Service) Tick(ctx context.Context) {
	now := s.now().UTC()
	s.Expire(ctx)

	upcoming, err := s.schedule.ListUpcoming(ctx, now, s.cfg.HorizonDays)
	if err != nil {
		s.log.Warn("reminder listing failed", logx.Err(err))
		return
	}
	for _, b := range upcoming {
		lead := b.StartUTC.Sub(now)
		if lead <= s.cfg.LeadMin || lead > s.cfg.LeadMax {
			continue
		}
		key := b.Key()
		s.mu.Lock()
		_, done := s.notified[key]
		if !done {
			s.notified[key] = struct{}{}
		}
		s.mu.Unlock()
		if done {
			continue
		}
		if err := s.notifier.Notify(ctx, formatReminder(b)); err != nil {
			s.log.Warn("reminder delivery failed",
				logx.String("title", string(b.Title)),
				logx.Time("start_utc", b.StartUTC),
				logx.Err(err))
			continue
		}
		s.log.Info("reminder sent",
			logx.String("title", string(b.Title)),
			logx.Time("start_utc", b.StartUTC))
	}

	s.pruneNotified(now)
}

// Expire drops mirror entries that have aged out of the retention window.
func (s *Service) Expire(ctx context.Context) {
	n, err := s.expirer.ExpireStale(ctx, s.now().UTC(), s.cfg.Retention)
	if err != nil {
		s.log.Warn("mirror expiry failed", logx.Err(err))
		return
	}
	if n > 0 {
		s.log.Info("expired stale mirror entries", logx.Int("count", n))
	}
}

// pruneNotified forgets keys whose slot is long past so the set stays
// bounded over the process lifetime.
func (s *Service) pruneNotified(now time.Time) {
	cutoff := now.Add(-s.cfg.Retention)
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.notified {
		if start, ok := startFromKey(key); ok && start.Before(cutoff) {
			delete(s.notified, key)
		}
	}
}

func startFromKey(key string) (time.Time, bool) {
	i := strings.IndexByte(key, '|')
	if i < 0 || i >= len(key)-1 {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, key[i+1:])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func formatReminder(b buffs.Booking) string {
	start := b.StartUTC
	end := start.Add(time.Hour)
	return fmt.Sprintf("%s buff starts soon: %s - %s UTC | region %s | requested by %s",
		b.Title, start.Format("15:04"), end.Format("15:04"), b.Region, b.RequesterName)
}
