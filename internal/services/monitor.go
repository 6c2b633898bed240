package services

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/example/immo/internal/config"
	"github.com/example/immo/internal/logging"
	"github.com/example/immo/internal/models"
	"github.com/example/immo/internal/monitoring"
)

// SessionState is the lifecycle of a monitoring session.
type SessionState string

const (
	StateMonitoring SessionState = "monitoring"
	StateSucceeded  SessionState = "succeeded"
	StateFailed     SessionState = "failed"
	StateTimedOut   SessionState = "timed_out"
	StateStopped    SessionState = "stopped"
)

const settleTimeout = 30 * time.Second

// Target identifies the record a monitored transaction pays for.
type Target struct {
	Kind          string          `json:"kind"`
	ReferenceID   uuid.UUID       `json:"reference_id"`
	TransactionID string          `json:"transaction_id"`
	UserID        uuid.UUID       `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
}

// Settler commits terminal payment outcomes. The bool reports whether the
// outcome was applied; replays and contradicting statuses report false.
type Settler interface {
	Settle(ctx context.Context, target Target, status models.PaymentStatus) (bool, error)
	SettleTransaction(ctx context.Context, transactionID string, status models.PaymentStatus) (*Target, bool, error)
}

// SessionSnapshot is the client-visible view of a session.
type SessionSnapshot struct {
	ID            string               `json:"id"`
	TransactionID string               `json:"transaction_id"`
	Kind          string               `json:"kind"`
	ReferenceID   uuid.UUID            `json:"reference_id"`
	State         SessionState         `json:"state"`
	Progress      int                  `json:"progress"`
	Elapsed       time.Duration        `json:"-"`
	ElapsedSecs   float64              `json:"elapsed_seconds"`
	LastStatus    models.PaymentStatus `json:"last_status,omitempty"`
	LastError     string               `json:"last_error,omitempty"`
	Checks        int                  `json:"checks"`
	StartedAt     time.Time            `json:"started_at"`
	FinishedAt    *time.Time           `json:"finished_at,omitempty"`
}

// Monitor runs payment monitoring sessions, one per transaction.
type Monitor struct {
	poller   *Poller
	settler  Settler
	notifier Notifier
	cfg      config.MonitorConfig

	baseCtx  context.Context
	shutdown context.CancelFunc
	wg       sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*Session
	active   map[string]*Session
}

// NewMonitor wires a monitor. A nil notifier drops notices.
func NewMonitor(poller *Poller, settler Settler, notifier Notifier, cfg config.MonitorConfig) *Monitor {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	def := config.DefaultMonitorConfig()
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = def.PollEvery
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = def.ProgressEvery
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = def.CheckTimeout
	}
	if cfg.Retain <= 0 {
		cfg.Retain = def.Retain
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Monitor{
		poller:   poller,
		settler:  settler,
		notifier: notifier,
		cfg:      cfg,
		baseCtx:  ctx,
		shutdown: cancel,
		sessions: make(map[string]*Session),
		active:   make(map[string]*Session),
	}
}

// Start begins monitoring target.TransactionID. If that transaction is
// already monitored the running session is returned. Cancelling ctx stops the
// session; request-scoped callers should pass a detached context.
func (m *Monitor) Start(ctx context.Context, target Target) *Session {
	m.mu.Lock()
	if existing, ok := m.active[target.TransactionID]; ok {
		m.mu.Unlock()
		return existing
	}

	sessionCtx, cancel := context.WithCancel(m.baseCtx)
	s := &Session{
		id:        uuid.NewString(),
		target:    target,
		monitor:   m,
		cancel:    cancel,
		done:      make(chan struct{}),
		deliver:   make(chan models.PaymentStatus),
		state:     StateMonitoring,
		startedAt: time.Now(),
	}
	m.sessions[s.id] = s
	m.active[target.TransactionID] = s
	m.wg.Add(1)
	m.mu.Unlock()

	monitoring.MonitorSessions.Inc()
	logging.Info("payment monitoring started",
		zap.String("session_id", s.id),
		zap.String("transaction_id", target.TransactionID),
		zap.String("kind", target.Kind),
		zap.String("reference_id", target.ReferenceID.String()),
	)

	stopWithParent := context.AfterFunc(ctx, cancel)
	go func() {
		defer m.wg.Done()
		defer stopWithParent()
		s.run(sessionCtx)
	}()
	return s
}

// Session returns a session by id, including recently finished ones.
func (m *Monitor) Session(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// ActiveFor returns the running session watching a transaction.
func (m *Monitor) ActiveFor(transactionID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.active[transactionID]
	return s, ok
}

// Stop ends a session and waits for its timers to be released.
func (m *Monitor) Stop(id string) error {
	s, ok := m.Session(id)
	if !ok {
		return ErrSessionNotFound
	}
	s.Stop()
	return nil
}

// StopTransaction stops the running session for a transaction, if any.
func (m *Monitor) StopTransaction(transactionID string) {
	if s, ok := m.ActiveFor(transactionID); ok {
		s.Stop()
	}
}

// Deliver feeds a pushed terminal status. A running session resolves through
// its normal terminal path; otherwise, or once that session has exited, the
// outcome is settled directly. Only an applied outcome is notified.
func (m *Monitor) Deliver(ctx context.Context, transactionID string, status models.PaymentStatus) error {
	if !status.IsTerminal() {
		return nil
	}

	if s, ok := m.ActiveFor(transactionID); ok {
		select {
		case s.deliver <- status:
			return nil
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	target, applied, err := m.settler.SettleTransaction(ctx, transactionID, status)
	if err != nil {
		return err
	}
	if applied {
		m.notifier.Notify(ctx, noticeFor(*target, status))
	}
	return nil
}

// Shutdown stops every running session and waits for them to exit.
func (m *Monitor) Shutdown() {
	m.shutdown()
	m.wg.Wait()
}

func (m *Monitor) release(s *Session) {
	m.mu.Lock()
	if m.active[s.target.TransactionID] == s {
		delete(m.active, s.target.TransactionID)
	}
	m.mu.Unlock()

	time.AfterFunc(m.cfg.Retain, func() {
		m.mu.Lock()
		delete(m.sessions, s.id)
		m.mu.Unlock()
	})
}

// Session is one monitoring run over a single transaction.
type Session struct {
	id      string
	target  Target
	monitor *Monitor
	cancel  context.CancelFunc
	done    chan struct{}
	deliver chan models.PaymentStatus

	mu         sync.Mutex
	state      SessionState
	progress   int
	lastStatus models.PaymentStatus
	lastError  string
	checks     int
	startedAt  time.Time
	finishedAt *time.Time
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Target returns what the session pays for.
func (s *Session) Target() Target { return s.target }

// Done is closed once the session has exited and released its timers.
func (s *Session) Done() <-chan struct{} { return s.done }

// Stop cancels the session and blocks until it has exited.
func (s *Session) Stop() {
	s.cancel()
	<-s.done
}

// Snapshot copies the current session state.
func (s *Session) Snapshot() SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	end := time.Now()
	if s.finishedAt != nil {
		end = *s.finishedAt
	}
	elapsed := end.Sub(s.startedAt)
	return SessionSnapshot{
		ID:            s.id,
		TransactionID: s.target.TransactionID,
		Kind:          s.target.Kind,
		ReferenceID:   s.target.ReferenceID,
		State:         s.state,
		Progress:      s.progress,
		Elapsed:       elapsed,
		ElapsedSecs:   elapsed.Seconds(),
		LastStatus:    s.lastStatus,
		LastError:     s.lastError,
		Checks:        s.checks,
		StartedAt:     s.startedAt,
		FinishedAt:    s.finishedAt,
	}
}

// run owns the poll ticker, the progress ticker and the hard timeout. All
// three are released by the deferred cleanup on every exit path.
func (s *Session) run(ctx context.Context) {
	cfg := s.monitor.cfg
	pollTicker := time.NewTicker(cfg.PollEvery)
	progressTicker := time.NewTicker(cfg.ProgressEvery)
	timeout := time.NewTimer(cfg.Timeout)
	defer func() {
		pollTicker.Stop()
		progressTicker.Stop()
		timeout.Stop()
		s.monitor.release(s)
		monitoring.MonitorSessions.Dec()
		close(s.done)
	}()

	if s.check(ctx) {
		return
	}

	for {
		select {
		case <-ctx.Done():
			s.finish(StateStopped)
			return
		case <-timeout.C:
			s.timeOut(ctx)
			return
		case status := <-s.deliver:
			s.resolve(ctx, status)
			return
		case <-progressTicker.C:
			s.advance()
		case <-pollTicker.C:
			if s.check(ctx) {
				return
			}
		}
	}
}

// check issues a single status query. It reports whether the session ended.
func (s *Session) check(ctx context.Context) bool {
	if ctx.Err() != nil {
		s.finish(StateStopped)
		return true
	}

	cfg := s.monitor.cfg
	budget := cfg.CheckTimeout
	if remaining := cfg.Timeout - time.Since(s.startedAt); remaining < budget {
		budget = remaining
	}
	if budget <= 0 {
		return false
	}

	res, err := s.monitor.poller.Poll(ctx, s.target.TransactionID, PollOptions{
		Interval:    cfg.PollEvery,
		MaxAttempts: 1,
		Timeout:     budget,
	})

	s.mu.Lock()
	s.checks++
	if res.Status != "" {
		s.lastStatus = res.Status
	}
	s.lastError = ""
	if err != nil && !isPollBudgetError(err) {
		s.lastError = err.Error()
	}
	s.mu.Unlock()

	switch {
	case err == nil:
		s.resolve(ctx, res.Status)
		return true
	case ctx.Err() != nil:
		s.finish(StateStopped)
		return true
	default:
		return false
	}
}

func (s *Session) advance() {
	elapsed := time.Since(s.startedAt)
	progress := int(elapsed * 100 / s.monitor.cfg.Timeout)
	if progress > 99 {
		progress = 99
	}
	s.mu.Lock()
	if progress > s.progress {
		s.progress = progress
	}
	s.mu.Unlock()
}

// resolve handles a terminal status: persist, notify, exit.
func (s *Session) resolve(ctx context.Context, status models.PaymentStatus) {
	if !status.IsTerminal() {
		return
	}

	log := logging.With(
		zap.String("session_id", s.id),
		zap.String("transaction_id", s.target.TransactionID),
		zap.String("status", string(status)),
	)

	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()
	applied, err := s.monitor.settler.Settle(settleCtx, s.target, status)
	if err != nil {
		log.Error("payment outcome not persisted, manual reconciliation required", zap.Error(err))
	}

	// the payer still hears about an outcome the database could not record
	if applied || err != nil {
		s.monitor.notifier.Notify(settleCtx, noticeFor(s.target, status))
	} else {
		log.Info("payment outcome already settled, notice skipped")
	}

	s.mu.Lock()
	s.lastStatus = status
	s.mu.Unlock()

	if status == models.PaymentStatusSuccessful {
		s.finish(StateSucceeded)
	} else {
		s.finish(StateFailed)
	}
	log.Info("payment monitoring finished")
}

func (s *Session) timeOut(ctx context.Context) {
	logging.Warn("payment monitoring timed out without a terminal status",
		zap.String("session_id", s.id),
		zap.String("transaction_id", s.target.TransactionID),
	)
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()
	s.monitor.notifier.Notify(notifyCtx, Notice{
		Kind:          models.NotifyPaymentTimeout,
		UserID:        s.target.UserID,
		ReferenceID:   s.target.ReferenceID,
		ReferenceType: s.target.Kind,
		TransactionID: s.target.TransactionID,
		Amount:        s.target.Amount,
	})
	s.finish(StateTimedOut)
}

func (s *Session) finish(state SessionState) {
	now := time.Now()
	s.mu.Lock()
	s.state = state
	if state == StateSucceeded {
		s.progress = 100
	}
	s.finishedAt = &now
	s.mu.Unlock()
	monitoring.MonitorOutcomes.WithLabelValues(s.target.Kind, string(state)).Inc()
}

func noticeFor(target Target, status models.PaymentStatus) Notice {
	kind := models.NotifyPaymentFailure
	if status == models.PaymentStatusSuccessful {
		kind = models.NotifyPaymentSuccess
	}
	return Notice{
		Kind:          kind,
		UserID:        target.UserID,
		ReferenceID:   target.ReferenceID,
		ReferenceType: target.Kind,
		TransactionID: target.TransactionID,
		Amount:        target.Amount,
		Status:        status,
	}
}
