// Package notifier is the delivery boundary for reminder announcements.
// It formats nothing and schedules nothing; it only sends.
package notifier

import (
	"context"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	logx "buffbot/pkg/logx"
)

type Config struct {
	Token       string
	ChatID      int64
	RatePerSec  int
	PollTimeout time.Duration // 0 means default
}

// Telegram sends reminder texts to one configured chat. Sends are
// rate-limited so a burst of reminders cannot trip Telegram's flood
// control.
type Telegram struct {
	bot     *tele.Bot
	chatID  int64
	limiter *rate.Limiter
	log     logx.Logger
}

func NewTelegram(cfg Config, log logx.Logger) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat_id is required")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 1
	}
	return &Telegram{
		bot:     b,
		chatID:  cfg.ChatID,
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		log:     log,
	}, nil
}

func (t *Telegram) Notify(ctx context.Context, text string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := t.bot.Send(tele.ChatID(t.chatID), text, &tele.SendOptions{DisableWebPagePreview: true})
	if err != nil {
		return errors.Wrap(err, "telegram send")
	}
	t.log.Debug("notification sent", logx.Int64("chat_id", t.chatID))
	return nil
}

// Log is the fallback sink used when no Telegram token is configured.
// Reminders still surface in the daemon log instead of vanishing.
type Log struct {
	log logx.Logger
}

func NewLog(log logx.Logger) *Log {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Log{log: log}
}

func (l *Log) Notify(ctx context.Context, text string) error {
	_ = ctx
	l.log.Info("reminder", logx.String("text", text))
	return nil
}
