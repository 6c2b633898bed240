package services

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/example/immo/internal/logging"
	"github.com/example/immo/internal/models"
	"github.com/example/immo/internal/monitoring"
)

// PollOptions bounds one polling run.
type PollOptions struct {
	Interval    time.Duration
	MaxAttempts int
	Timeout     time.Duration
}

// DefaultPollOptions is used for one-shot confirmation outside a monitor.
func DefaultPollOptions() PollOptions {
	return PollOptions{
		Interval:    5 * time.Second,
		MaxAttempts: 12,
		Timeout:     2 * time.Minute,
	}
}

// PollResult carries the last gateway answer alongside the terminal status.
type PollResult struct {
	Status   models.PaymentStatus
	Attempts int
	Last     *StatusResult
}

// Poller repeatedly queries the gateway for a transaction status.
type Poller struct {
	gateway PaymentGateway
	now     func() time.Time
	after   func(time.Duration) <-chan time.Time
}

// NewPoller creates a poller over the given gateway.
func NewPoller(gateway PaymentGateway) *Poller {
	return &Poller{
		gateway: gateway,
		now:     time.Now,
		after:   time.After,
	}
}

// IsTerminal reports whether polling stops on status.
func IsTerminal(status models.PaymentStatus) bool {
	return status.IsTerminal()
}

// Poll queries the gateway until a terminal status, ErrPollingExhausted or
// ErrPollingTimedOut. Non-terminal answers wait opts.Interval; query errors
// count as attempts and wait twice as long. The returned result is never nil
// and holds the last observed status.
func (p *Poller) Poll(ctx context.Context, transactionID string, opts PollOptions) (*PollResult, error) {
	opts = normalizePollOptions(opts)

	ctx, span := monitoring.Tracer().Start(ctx, "payment.poll")
	defer span.End()
	span.SetAttributes(
		attribute.String("payment.transaction_id", transactionID),
		attribute.Int("poll.max_attempts", opts.MaxAttempts),
	)

	deadline := p.now().Add(opts.Timeout)
	callCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	log := logging.With(zap.String("transaction_id", transactionID))
	result := &PollResult{}

	for {
		if !p.now().Before(deadline) {
			span.SetStatus(codes.Error, "timed out")
			return result, ErrPollingTimedOut
		}

		result.Attempts++
		status, err := p.gateway.GetStatus(callCtx, transactionID)

		wait := opts.Interval
		switch {
		case err != nil && ctx.Err() != nil:
			return result, ctx.Err()
		case err != nil:
			monitoring.PollAttempts.WithLabelValues("error").Inc()
			if errorsIsContext(err) && !p.now().Before(deadline) {
				span.SetStatus(codes.Error, "timed out")
				return result, ErrPollingTimedOut
			}
			log.Warn("payment status check failed",
				zap.Int("attempt", result.Attempts),
				zap.Error(err),
			)
			wait = opts.Interval * 2
		default:
			monitoring.PollAttempts.WithLabelValues(string(status.Status)).Inc()
			result.Status = status.Status
			result.Last = status
			if status.Status.IsTerminal() {
				span.SetAttributes(attribute.String("payment.status", string(status.Status)))
				return result, nil
			}
		}

		if result.Attempts >= opts.MaxAttempts {
			span.SetStatus(codes.Error, "attempts exhausted")
			return result, ErrPollingExhausted
		}

		remaining := deadline.Sub(p.now())
		if remaining <= 0 {
			span.SetStatus(codes.Error, "timed out")
			return result, ErrPollingTimedOut
		}
		if wait > remaining {
			wait = remaining
		}

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-p.after(wait):
		}
	}
}

func normalizePollOptions(opts PollOptions) PollOptions {
	def := DefaultPollOptions()
	if opts.Interval <= 0 {
		opts.Interval = def.Interval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	return opts
}

// isPollBudgetError reports whether err only means "no terminal status yet".
func isPollBudgetError(err error) bool {
	return errors.Is(err, ErrPollingExhausted) || errors.Is(err, ErrPollingTimedOut)
}
