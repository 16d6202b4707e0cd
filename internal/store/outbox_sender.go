package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/BookingRelay/internal/clock"
)

const (
	// DefaultOutboxMaxAttempts is how many sends are tried before a message is abandoned.
	DefaultOutboxMaxAttempts = 8
	// DefaultOutboxBaseBackoff is the delay after the first failed resend; it doubles per attempt.
	DefaultOutboxBaseBackoff = 10 * time.Second
	// DefaultOutboxMaxBackoff caps the doubling.
	DefaultOutboxMaxBackoff = 10 * time.Minute

	defaultStaleThreshold = 5 * time.Minute
	defaultClaimLimit     = 10
)

// OutboxSendFunc performs one resend of msg.
type OutboxSendFunc func(ctx context.Context, msg OutboxMessage) error

// SenderOpts configures an OutboxSender.
type SenderOpts struct {
	PollInterval time.Duration
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	ClaimLimit   int
	Clock        clock.Clock
}

// SenderOption configures an OutboxSender.
type SenderOption func(*SenderOpts)

// WithPollInterval sets how often due messages are claimed.
func WithPollInterval(d time.Duration) SenderOption {
	return func(o *SenderOpts) { o.PollInterval = d }
}

// WithMaxAttempts sets how many failed sends abandon a message.
func WithMaxAttempts(n int) SenderOption {
	return func(o *SenderOpts) { o.MaxAttempts = n }
}

// WithBackoff sets the first retry delay and its cap.
func WithBackoff(base, limit time.Duration) SenderOption {
	return func(o *SenderOpts) {
		o.BaseBackoff = base
		o.MaxBackoff = limit
	}
}

// WithSenderClock sets the time source used for scheduling.
func WithSenderClock(c clock.Clock) SenderOption {
	return func(o *SenderOpts) { o.Clock = c }
}

// OutboxSender resends queued notifications until they succeed or run out of attempts.
type OutboxSender struct {
	repo OutboxRepo
	send OutboxSendFunc
	opts SenderOpts
}

// NewOutboxSender creates an OutboxSender that resends through send.
func NewOutboxSender(repo OutboxRepo, send OutboxSendFunc, opts ...SenderOption) *OutboxSender {
	cfg := SenderOpts{
		PollInterval: 5 * time.Second,
		MaxAttempts:  DefaultOutboxMaxAttempts,
		BaseBackoff:  DefaultOutboxBaseBackoff,
		MaxBackoff:   DefaultOutboxMaxBackoff,
		ClaimLimit:   defaultClaimLimit,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultOutboxMaxAttempts
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewSystem()
	}
	return &OutboxSender{repo: repo, send: send, opts: cfg}
}

// backoff returns the delay before the retry that follows attempt number attempts+1.
func (s *OutboxSender) backoff(attempts int) time.Duration {
	d := s.opts.BaseBackoff
	for i := 0; i < attempts && d < s.opts.MaxBackoff; i++ {
		d *= 2
	}
	if s.opts.MaxBackoff > 0 && d > s.opts.MaxBackoff {
		d = s.opts.MaxBackoff
	}
	return d
}

// RecoverStaleMessages requeues messages a previous process left in sending.
// Call it once before Run.
func (s *OutboxSender) RecoverStaleMessages(ctx context.Context) error {
	n, err := s.repo.RequeueStale(ctx, s.opts.Clock.Now().Add(-defaultStaleThreshold))
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("OutboxSender.RecoverStaleMessages: requeued stale messages", "count", n)
	}
	return nil
}

// Run polls until ctx is cancelled.
func (s *OutboxSender) Run(ctx context.Context) {
	slog.Info("OutboxSender.Run: starting", "poll_interval", s.opts.PollInterval, "max_attempts", s.opts.MaxAttempts)

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("OutboxSender.Run: stopping")
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

// poll claims one batch and returns how many messages were sent.
func (s *OutboxSender) poll(ctx context.Context) int {
	now := s.opts.Clock.Now()
	msgs, err := s.repo.ClaimDue(ctx, now, s.opts.ClaimLimit)
	if err != nil {
		slog.Error("OutboxSender.poll: claim failed", "error", err)
		return 0
	}

	sent := 0
	for _, msg := range msgs {
		err := s.send(ctx, msg)
		if err == nil {
			if err := s.repo.MarkSent(ctx, msg.ID); err != nil {
				slog.Error("OutboxSender.poll: mark sent failed", "id", msg.ID, "error", err)
			}
			slog.Info("OutboxSender.poll: queued notification sent", "id", msg.ID, "record_id", msg.RecordID, "attempts", msg.Attempts+1)
			sent++
			continue
		}

		if msg.Attempts+1 >= s.opts.MaxAttempts {
			slog.Error("OutboxSender.poll: giving up", "id", msg.ID, "record_id", msg.RecordID, "attempts", msg.Attempts+1, "error", err)
			if err := s.repo.Abandon(ctx, msg.ID, err.Error()); err != nil {
				slog.Error("OutboxSender.poll: abandon failed", "id", msg.ID, "error", err)
			}
			continue
		}
		next := now.Add(s.backoff(msg.Attempts))
		slog.Warn("OutboxSender.poll: resend failed", "id", msg.ID, "record_id", msg.RecordID, "next_attempt_at", next, "error", err)
		if err := s.repo.Reschedule(ctx, msg.ID, err.Error(), next); err != nil {
			slog.Error("OutboxSender.poll: reschedule failed", "id", msg.ID, "error", err)
		}
	}
	return sent
}
