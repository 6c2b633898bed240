package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/example/immo/internal/config"
	"github.com/example/immo/internal/database"
	"github.com/example/immo/internal/models"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

func seedProperty(t *testing.T, db *gorm.DB) models.Property {
	t.Helper()

	agent := models.User{
		FirstName: "Awa",
		Phone:     "2376" + uuid.NewString()[:8],
		Role:      models.RoleAgent,
	}
	require.NoError(t, db.Create(&agent).Error)

	property := models.Property{
		AgentID:     agent.ID,
		Title:       "Two bedroom flat, Bastos",
		City:        "Yaounde",
		ListingType: "rent",
		Price:       decimal.NewFromInt(150000),
		Currency:    "XAF",
		Status:      models.PropertyAvailable,
	}
	require.NoError(t, db.Create(&property).Error)
	return property
}

func testMonitorConfig() config.MonitorConfig {
	return config.MonitorConfig{
		PollEvery:     20 * time.Millisecond,
		ProgressEvery: 5 * time.Millisecond,
		Timeout:       3 * time.Second,
		CheckTimeout:  200 * time.Millisecond,
		Retain:        time.Minute,
	}
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("session %s did not finish", s.ID())
	}
}

// fakeGateway replays scripted statuses. Once the script runs out the last
// status repeats; an empty script answers PENDING.
type fakeGateway struct {
	mu sync.Mutex

	statuses    []models.PaymentStatus
	statusErrs  map[int]error
	block       bool
	statusCalls int

	collectErr    error
	withdrawErr   error
	collectCalls  int
	withdrawCalls int
	requests      []PaymentRequest
	nextID        int
}

func (g *fakeGateway) InitiateCollection(_ context.Context, req PaymentRequest) (*InitiateResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.collectCalls++
	g.requests = append(g.requests, req)
	if g.collectErr != nil {
		return nil, g.collectErr
	}
	g.nextID++
	return &InitiateResult{TransactionID: fmt.Sprintf("TX-C-%d", g.nextID), Message: "Accepted"}, nil
}

func (g *fakeGateway) InitiateWithdrawal(_ context.Context, req PaymentRequest) (*InitiateResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.withdrawCalls++
	g.requests = append(g.requests, req)
	if g.withdrawErr != nil {
		return nil, g.withdrawErr
	}
	g.nextID++
	return &InitiateResult{TransactionID: fmt.Sprintf("TX-W-%d", g.nextID), Message: "Accepted"}, nil
}

func (g *fakeGateway) GetStatus(ctx context.Context, transactionID string) (*StatusResult, error) {
	g.mu.Lock()
	idx := g.statusCalls
	g.statusCalls++
	block := g.block
	err := g.statusErrs[idx]
	status := models.PaymentStatusPending
	if n := len(g.statuses); n > 0 {
		if idx < n {
			status = g.statuses[idx]
		} else {
			status = g.statuses[n-1]
		}
	}
	g.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return &StatusResult{TransactionID: transactionID, Status: status}, nil
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.statusCalls
}

func (g *fakeGateway) lastRequest() PaymentRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests[len(g.requests)-1]
}

type settleCall struct {
	Target Target
	Status models.PaymentStatus
}

// recordingSettler applies every outcome unless settled is set, in which
// case it behaves like a record that is already terminal.
type recordingSettler struct {
	mu      sync.Mutex
	calls   []settleCall
	err     error
	settled bool
}

func (r *recordingSettler) Settle(_ context.Context, target Target, status models.PaymentStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, settleCall{Target: target, Status: status})
	return r.err == nil && !r.settled, r.err
}

func (r *recordingSettler) SettleTransaction(_ context.Context, transactionID string, status models.PaymentStatus) (*Target, bool, error) {
	target := Target{Kind: models.ReferenceReservation, TransactionID: transactionID}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, settleCall{Target: target, Status: status})
	return &target, r.err == nil && !r.settled, r.err
}

func (r *recordingSettler) snapshot() []settleCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]settleCall(nil), r.calls...)
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *recordingNotifier) Notify(_ context.Context, n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *recordingNotifier) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]string, 0, len(r.notices))
	for _, n := range r.notices {
		kinds = append(kinds, n.Kind)
	}
	return kinds
}

// fakeClock advances virtual time on every wait so poll loops run instantly.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Now()}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waits = append(c.waits, d)
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func (c *fakeClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.waits...)
}

func newClockedPoller(gateway PaymentGateway, clock *fakeClock) *Poller {
	p := NewPoller(gateway)
	p.now = clock.Now
	p.after = clock.After
	return p
}
