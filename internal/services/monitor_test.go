package services

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/immo/internal/models"
)

func newTestMonitor(gw PaymentGateway, settler Settler, notifier Notifier) *Monitor {
	return NewMonitor(NewPoller(gw), settler, notifier, testMonitorConfig())
}

func testTarget(txID string) Target {
	return Target{
		Kind:          models.ReferenceReservation,
		ReferenceID:   uuid.New(),
		TransactionID: txID,
		UserID:        uuid.New(),
		Amount:        decimal.NewFromInt(25000),
	}
}

func TestMonitor_SettlesOnceOnSuccess(t *testing.T) {
	gw := &fakeGateway{statuses: []models.PaymentStatus{
		models.PaymentStatusPending,
		models.PaymentStatusPending,
		models.PaymentStatusSuccessful,
	}}
	settler := &recordingSettler{}
	notifier := &recordingNotifier{}
	m := newTestMonitor(gw, settler, notifier)
	defer m.Shutdown()

	s := m.Start(context.Background(), testTarget("TX-OK"))
	waitDone(t, s)

	calls := settler.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, models.PaymentStatusSuccessful, calls[0].Status)
	assert.Equal(t, "TX-OK", calls[0].Target.TransactionID)
	assert.Equal(t, 3, gw.calls())

	snap := s.Snapshot()
	assert.Equal(t, StateSucceeded, snap.State)
	assert.Equal(t, 100, snap.Progress)
	assert.Equal(t, 3, snap.Checks)
	assert.Equal(t, models.PaymentStatusSuccessful, snap.LastStatus)
	assert.NotNil(t, snap.FinishedAt)
	assert.Equal(t, []string{models.NotifyPaymentSuccess}, notifier.kinds())

	// no further queries once the session ended
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 3, gw.calls())
}

func TestMonitor_FailureSettlesAndNotifies(t *testing.T) {
	gw := &fakeGateway{statuses: []models.PaymentStatus{models.PaymentStatusFailed}}
	settler := &recordingSettler{}
	notifier := &recordingNotifier{}
	m := newTestMonitor(gw, settler, notifier)
	defer m.Shutdown()

	s := m.Start(context.Background(), testTarget("TX-FAIL"))
	waitDone(t, s)

	calls := settler.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, models.PaymentStatusFailed, calls[0].Status)
	assert.Equal(t, StateFailed, s.Snapshot().State)
	assert.Less(t, s.Snapshot().Progress, 100)
	assert.Equal(t, []string{models.NotifyPaymentFailure}, notifier.kinds())
}

func TestMonitor_ExpiredIsAFailure(t *testing.T) {
	gw := &fakeGateway{statuses: []models.PaymentStatus{models.PaymentStatusPending, models.PaymentStatusExpired}}
	settler := &recordingSettler{}
	m := newTestMonitor(gw, settler, nil)
	defer m.Shutdown()

	s := m.Start(context.Background(), testTarget("TX-EXP"))
	waitDone(t, s)

	assert.Equal(t, StateFailed, s.Snapshot().State)
	require.Len(t, settler.snapshot(), 1)
	assert.Equal(t, models.PaymentStatusExpired, settler.snapshot()[0].Status)
}

func TestMonitor_TimeoutDoesNotSettle(t *testing.T) {
	gw := &fakeGateway{}
	settler := &recordingSettler{}
	notifier := &recordingNotifier{}
	cfg := testMonitorConfig()
	cfg.Timeout = 150 * time.Millisecond
	m := NewMonitor(NewPoller(gw), settler, notifier, cfg)
	defer m.Shutdown()

	s := m.Start(context.Background(), testTarget("TX-SLOW"))
	waitDone(t, s)

	assert.Empty(t, settler.snapshot())
	snap := s.Snapshot()
	assert.Equal(t, StateTimedOut, snap.State)
	assert.Equal(t, models.PaymentStatusPending, snap.LastStatus)
	assert.Greater(t, snap.Progress, 0)
	assert.Less(t, snap.Progress, 100)
	assert.Equal(t, []string{models.NotifyPaymentTimeout}, notifier.kinds())

	calls := gw.calls()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, calls, gw.calls())
}

func TestMonitor_StopCancelsInFlightCheck(t *testing.T) {
	gw := &fakeGateway{block: true}
	settler := &recordingSettler{}
	notifier := &recordingNotifier{}
	cfg := testMonitorConfig()
	cfg.CheckTimeout = time.Minute
	m := NewMonitor(NewPoller(gw), settler, notifier, cfg)
	defer m.Shutdown()

	s := m.Start(context.Background(), testTarget("TX-STOP"))
	require.Eventually(t, func() bool { return gw.calls() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Stop(s.ID()))

	assert.Equal(t, StateStopped, s.Snapshot().State)
	assert.Empty(t, settler.snapshot())
	assert.Empty(t, notifier.kinds())

	_, active := m.ActiveFor("TX-STOP")
	assert.False(t, active)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, gw.calls())
}

func TestMonitor_StopUnknownSession(t *testing.T) {
	m := newTestMonitor(&fakeGateway{}, &recordingSettler{}, nil)
	assert.ErrorIs(t, m.Stop("missing"), ErrSessionNotFound)
}

func TestMonitor_ParentContextStopsSession(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestMonitor(gw, &recordingSettler{}, nil)
	defer m.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	s := m.Start(ctx, testTarget("TX-PARENT"))
	cancel()
	waitDone(t, s)

	assert.Equal(t, StateStopped, s.Snapshot().State)
}

func TestMonitor_StartIsIdempotentPerTransaction(t *testing.T) {
	gw := &fakeGateway{}
	cfg := testMonitorConfig()
	cfg.PollEvery = time.Hour
	m := NewMonitor(NewPoller(gw), &recordingSettler{}, nil, cfg)
	defer m.Shutdown()

	first := m.Start(context.Background(), testTarget("TX-DUP"))
	second := m.Start(context.Background(), testTarget("TX-DUP"))
	assert.Same(t, first, second)

	other := m.Start(context.Background(), testTarget("TX-OTHER"))
	assert.NotEqual(t, first.ID(), other.ID())
}

func TestMonitor_DeliverResolvesRunningSession(t *testing.T) {
	gw := &fakeGateway{}
	settler := &recordingSettler{}
	notifier := &recordingNotifier{}
	cfg := testMonitorConfig()
	cfg.PollEvery = time.Hour
	m := NewMonitor(NewPoller(gw), settler, notifier, cfg)
	defer m.Shutdown()

	s := m.Start(context.Background(), testTarget("TX-PUSH"))
	require.NoError(t, m.Deliver(context.Background(), "TX-PUSH", models.PaymentStatusSuccessful))
	waitDone(t, s)

	require.Len(t, settler.snapshot(), 1)
	assert.Equal(t, StateSucceeded, s.Snapshot().State)
	assert.Equal(t, []string{models.NotifyPaymentSuccess}, notifier.kinds())
}

func TestMonitor_DeliverWithoutSessionSettlesDirectly(t *testing.T) {
	settler := &recordingSettler{}
	notifier := &recordingNotifier{}
	m := newTestMonitor(&fakeGateway{}, settler, notifier)

	require.NoError(t, m.Deliver(context.Background(), "TX-LATE", models.PaymentStatusFailed))

	calls := settler.snapshot()
	require.Len(t, calls, 1)
	assert.Equal(t, "TX-LATE", calls[0].Target.TransactionID)
	assert.Equal(t, []string{models.NotifyPaymentFailure}, notifier.kinds())
}

func TestMonitor_DeliverIgnoresNonTerminal(t *testing.T) {
	settler := &recordingSettler{}
	m := newTestMonitor(&fakeGateway{}, settler, nil)

	require.NoError(t, m.Deliver(context.Background(), "TX-1", models.PaymentStatusPending))
	assert.Empty(t, settler.snapshot())
}

func TestMonitor_SettleErrorStillFinishes(t *testing.T) {
	gw := &fakeGateway{statuses: []models.PaymentStatus{models.PaymentStatusSuccessful}}
	settler := &recordingSettler{err: ErrConcurrentUpdate}
	notifier := &recordingNotifier{}
	m := newTestMonitor(gw, settler, notifier)
	defer m.Shutdown()

	s := m.Start(context.Background(), testTarget("TX-DBDOWN"))
	waitDone(t, s)

	assert.Equal(t, StateSucceeded, s.Snapshot().State)
	assert.Equal(t, []string{models.NotifyPaymentSuccess}, notifier.kinds())
}

func TestMonitor_GatewayErrorsKeepMonitoring(t *testing.T) {
	gw := &fakeGateway{
		statuses:   []models.PaymentStatus{models.PaymentStatusPending, models.PaymentStatusPending, models.PaymentStatusSuccessful},
		statusErrs: map[int]error{0: &GatewayError{Op: opStatus, StatusCode: 500, Message: "boom"}},
	}
	settler := &recordingSettler{}
	m := newTestMonitor(gw, settler, nil)
	defer m.Shutdown()

	s := m.Start(context.Background(), testTarget("TX-FLAKY"))
	waitDone(t, s)

	assert.Equal(t, StateSucceeded, s.Snapshot().State)
	assert.Empty(t, s.Snapshot().LastError)
	require.Len(t, settler.snapshot(), 1)
}

func TestMonitor_ShutdownStopsAllSessions(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestMonitor(gw, &recordingSettler{}, nil)

	a := m.Start(context.Background(), testTarget("TX-A"))
	b := m.Start(context.Background(), testTarget("TX-B"))
	m.Shutdown()

	waitDone(t, a)
	waitDone(t, b)
	assert.Equal(t, StateStopped, a.Snapshot().State)
	assert.Equal(t, StateStopped, b.Snapshot().State)
}

func TestMonitor_FinishedSessionStaysQueryable(t *testing.T) {
	gw := &fakeGateway{statuses: []models.PaymentStatus{models.PaymentStatusSuccessful}}
	m := newTestMonitor(gw, &recordingSettler{}, nil)
	defer m.Shutdown()

	s := m.Start(context.Background(), testTarget("TX-DONE"))
	waitDone(t, s)

	found, ok := m.Session(s.ID())
	require.True(t, ok)
	assert.Equal(t, StateSucceeded, found.Snapshot().State)

	_, active := m.ActiveFor("TX-DONE")
	assert.False(t, active)
}

func TestMonitor_DeliverReplaysNotifyOnce(t *testing.T) {
	db := newTestDB(t)
	reservation := seedPendingReservation(t, db, "TX-REPLAY")
	notifier := &recordingNotifier{}
	m := newTestMonitor(&fakeGateway{}, NewSettlementService(db), notifier)
	defer m.Shutdown()

	ctx := context.Background()
	require.NoError(t, m.Deliver(ctx, "TX-REPLAY", models.PaymentStatusSuccessful))
	require.NoError(t, m.Deliver(ctx, "TX-REPLAY", models.PaymentStatusSuccessful))
	require.NoError(t, m.Deliver(ctx, "TX-REPLAY", models.PaymentStatusFailed))

	assert.Equal(t, []string{models.NotifyPaymentSuccess}, notifier.kinds())

	got := reloadReservation(t, db, reservation.ID)
	assert.Equal(t, models.ReservationConfirmed, got.Status)
	assert.Equal(t, models.PaymentStatusSuccessful, *got.PaymentStatus)
	assert.Equal(t, models.PaymentStatusSuccessful, cachedStatus(t, db, "TX-REPLAY"))
}

func TestMonitor_AlreadySettledOutcomeIsNotNotified(t *testing.T) {
	gw := &fakeGateway{statuses: []models.PaymentStatus{models.PaymentStatusSuccessful}}
	settler := &recordingSettler{settled: true}
	notifier := &recordingNotifier{}
	m := newTestMonitor(gw, settler, notifier)
	defer m.Shutdown()

	s := m.Start(context.Background(), testTarget("TX-SEEN"))
	waitDone(t, s)

	assert.Equal(t, StateSucceeded, s.Snapshot().State)
	require.Len(t, settler.snapshot(), 1)
	assert.Empty(t, notifier.kinds())
}

// gatedNotifier holds timeout notices until released.
type gatedNotifier struct {
	recordingNotifier
	entered chan struct{}
	release chan struct{}
}

func (g *gatedNotifier) Notify(ctx context.Context, n Notice) {
	if n.Kind == models.NotifyPaymentTimeout {
		close(g.entered)
		<-g.release
	}
	g.recordingNotifier.Notify(ctx, n)
}

func TestMonitor_DeliverDuringTimeoutIsSettled(t *testing.T) {
	db := newTestDB(t)
	reservation := seedPendingReservation(t, db, "TX-LATE-PUSH")
	notifier := &gatedNotifier{entered: make(chan struct{}), release: make(chan struct{})}
	cfg := testMonitorConfig()
	cfg.Timeout = 100 * time.Millisecond
	m := NewMonitor(NewPoller(&fakeGateway{}), NewSettlementService(db), notifier, cfg)
	defer m.Shutdown()

	s := m.Start(context.Background(), reservationTarget(reservation))
	select {
	case <-notifier.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("session never timed out")
	}
	_, active := m.ActiveFor("TX-LATE-PUSH")
	require.True(t, active)

	delivered := make(chan error, 1)
	go func() {
		delivered <- m.Deliver(context.Background(), "TX-LATE-PUSH", models.PaymentStatusSuccessful)
	}()
	close(notifier.release)

	select {
	case err := <-delivered:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("deliver did not return")
	}
	waitDone(t, s)

	assert.Equal(t, StateTimedOut, s.Snapshot().State)
	assert.Equal(t, models.ReservationConfirmed, reloadReservation(t, db, reservation.ID).Status)
	assert.Equal(t, []string{models.NotifyPaymentTimeout, models.NotifyPaymentSuccess}, notifier.kinds())
}

func TestMonitor_DeliverHonoursCallerContext(t *testing.T) {
	gw := &fakeGateway{block: true}
	settler := &recordingSettler{}
	cfg := testMonitorConfig()
	cfg.CheckTimeout = time.Minute
	m := NewMonitor(NewPoller(gw), settler, nil, cfg)
	defer m.Shutdown()

	m.Start(context.Background(), testTarget("TX-BUSY"))
	require.Eventually(t, func() bool { return gw.calls() == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := m.Deliver(ctx, "TX-BUSY", models.PaymentStatusSuccessful)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, settler.snapshot())
}
