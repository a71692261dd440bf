package importer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/photark/photark-backend/internal/statemachine"
	"github.com/photark/photark-backend/pkg/config"
	"github.com/photark/photark-backend/pkg/db"
	"github.com/photark/photark-backend/pkg/db/models"
	"github.com/photark/photark-backend/pkg/enums"
	"github.com/photark/photark-backend/pkg/outbox"
)

type fakeClaimer struct {
	win     bool
	claimed []uuid.UUID
	guards  []*recordingGuard
}

func (f *fakeClaimer) Claim(_ context.Context, item *models.SelectionItem, _ string) (bool, error) {
	if f.win {
		f.claimed = append(f.claimed, item.ID)
	}
	return f.win, nil
}

func (f *fakeClaimer) Heartbeat(context.Context, uuid.UUID, string) (bool, error) {
	return true, nil
}

func (f *fakeClaimer) Guard(uuid.UUID) *statemachine.Guard {
	rg := newRecordingGuard()
	f.guards = append(f.guards, rg)
	return rg.guard
}

type fakeClaimableLister struct {
	items []models.SelectionItem
}

func (f *fakeClaimableLister) FindClaimable(context.Context, uuid.UUID, int, time.Time, time.Duration) ([]models.SelectionItem, error) {
	return f.items, nil
}

type fakeRunnableLister struct {
	sessions []models.ImportSession
}

func (f *fakeRunnableLister) ListRunnable(context.Context, int) ([]models.ImportSession, error) {
	return f.sessions, nil
}

type fakeFinisher struct {
	transitions []enums.SessionStatus
	counts      statemachine.ItemStateCounts
}

func (f *fakeFinisher) Transition(_ context.Context, _ uuid.UUID, target enums.SessionStatus, _ string) error {
	f.transitions = append(f.transitions, target)
	return nil
}

func (f *fakeFinisher) RefreshStats(context.Context, uuid.UUID) (statemachine.ItemStateCounts, error) {
	return f.counts, nil
}

type fakeActivity struct {
	registered   int
	deregistered int
}

func (f *fakeActivity) Register(context.Context, uuid.UUID, string) error {
	f.registered++
	return nil
}

func (f *fakeActivity) Renew(context.Context, uuid.UUID, string) error { return nil }

func (f *fakeActivity) Deregister(context.Context, uuid.UUID) error {
	f.deregistered++
	return nil
}

type fakeItemProcessor struct {
	processed []uuid.UUID
	outcome   enums.ItemStatus
}

func (f *fakeItemProcessor) Process(ctx context.Context, _ *models.ImportSession, item *models.SelectionItem, _ Fetcher, guard *statemachine.Guard) error {
	f.processed = append(f.processed, item.ID)
	return guard.Complete(ctx, f.outcome, "")
}

type poolFixture struct {
	pool      *Pool
	client    *db.Client
	claimer   *fakeClaimer
	finisher  *fakeFinisher
	activity  *fakeActivity
	processor *fakeItemProcessor
	runnable  *fakeRunnableLister
	claimable *fakeClaimableLister
}

func newPoolFixture(t *testing.T) *poolFixture {
	t.Helper()

	cfg := config.DBConfig{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()),
	}
	client, err := db.New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	if err := client.DB().Exec(outboxEventsDDL).Error; err != nil {
		t.Fatalf("create schema: %v", err)
	}

	fx := &poolFixture{
		client:    client,
		claimer:   &fakeClaimer{win: true},
		finisher:  &fakeFinisher{},
		activity:  &fakeActivity{},
		processor: &fakeItemProcessor{outcome: enums.ItemStatusImported},
		runnable:  &fakeRunnableLister{},
		claimable: &fakeClaimableLister{},
	}

	pool, err := NewPool(
		client,
		fx.finisher,
		fx.runnable,
		fx.claimer,
		fx.claimable,
		fx.processor,
		map[enums.ImportOrigin]Fetcher{enums.ImportOriginLocal: &fakeFetcher{}},
		fx.activity,
		nil,
		outbox.NewService(outbox.NewRepository(client.DB()), nil),
		config.ImportConfig{
			WorkerCount:       2,
			PollInterval:      10 * time.Millisecond,
			LockTimeout:       time.Minute,
			HeartbeatInterval: time.Minute,
			MaxAttempts:       3,
		},
		nil,
	)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	fx.pool = pool
	return fx
}

func enqueuedSession() models.ImportSession {
	return models.ImportSession{
		ID:     uuid.New(),
		Origin: enums.ImportOriginLocal,
		Status: enums.SessionStatusEnqueued,
	}
}

func TestWorkSession_claimsAndProcessesItems(t *testing.T) {
	fx := newPoolFixture(t)
	session := enqueuedSession()
	fx.claimable.items = []models.SelectionItem{
		{ID: uuid.New(), SessionID: session.ID, Status: enums.ItemStatusEnqueued},
		{ID: uuid.New(), SessionID: session.ID, Status: enums.ItemStatusEnqueued},
	}
	fx.finisher.counts = statemachine.ItemStateCounts{Imported: 2}

	claimed, err := fx.pool.workSession(context.Background(), &session, "worker-0")
	if err != nil {
		t.Fatalf("workSession: %v", err)
	}
	if !claimed {
		t.Fatal("expected at least one claim")
	}
	if len(fx.processor.processed) != 2 {
		t.Fatalf("processed %d items, want 2", len(fx.processor.processed))
	}

	// enqueued -> importing, then importing -> imported once everything is
	// terminal.
	if len(fx.finisher.transitions) != 2 ||
		fx.finisher.transitions[0] != enums.SessionStatusImporting ||
		fx.finisher.transitions[1] != enums.SessionStatusImported {
		t.Fatalf("transitions = %v", fx.finisher.transitions)
	}
	if fx.activity.registered != 1 || fx.activity.deregistered != 1 {
		t.Fatalf("activity register/deregister = %d/%d, want 1/1", fx.activity.registered, fx.activity.deregistered)
	}

	var events []models.OutboxEvent
	if err := fx.client.DB().Find(&events).Error; err != nil {
		t.Fatalf("load events: %v", err)
	}
	if len(events) != 1 || events[0].EventType != enums.EventSessionImported {
		t.Fatalf("events = %+v, want one session.imported", events)
	}
}

func TestWorkSession_lostClaimsSkipProcessing(t *testing.T) {
	fx := newPoolFixture(t)
	fx.claimer.win = false
	session := enqueuedSession()
	fx.claimable.items = []models.SelectionItem{
		{ID: uuid.New(), SessionID: session.ID, Status: enums.ItemStatusEnqueued},
	}
	fx.finisher.counts = statemachine.ItemStateCounts{Running: 1}

	claimed, err := fx.pool.workSession(context.Background(), &session, "worker-0")
	if err != nil {
		t.Fatalf("workSession: %v", err)
	}
	if claimed {
		t.Fatal("no claim should be reported")
	}
	if len(fx.processor.processed) != 0 {
		t.Fatalf("processed %d items, want 0", len(fx.processor.processed))
	}
}

func TestWorkSession_incompleteSessionStaysImporting(t *testing.T) {
	fx := newPoolFixture(t)
	session := enqueuedSession()
	fx.claimable.items = []models.SelectionItem{
		{ID: uuid.New(), SessionID: session.ID, Status: enums.ItemStatusEnqueued},
	}
	// One item still queued elsewhere; the session must not complete.
	fx.finisher.counts = statemachine.ItemStateCounts{Imported: 1, Enqueued: 1}

	if _, err := fx.pool.workSession(context.Background(), &session, "worker-0"); err != nil {
		t.Fatalf("workSession: %v", err)
	}
	if len(fx.finisher.transitions) != 1 || fx.finisher.transitions[0] != enums.SessionStatusImporting {
		t.Fatalf("transitions = %v, want only importing", fx.finisher.transitions)
	}
	if fx.activity.deregistered != 0 {
		t.Fatal("activity marker must stay while work remains")
	}
}

func TestWorkSession_allFailedCompletesAsFailed(t *testing.T) {
	fx := newPoolFixture(t)
	fx.processor.outcome = enums.ItemStatusFailed
	session := enqueuedSession()
	fx.claimable.items = []models.SelectionItem{
		{ID: uuid.New(), SessionID: session.ID, Status: enums.ItemStatusEnqueued},
	}
	fx.finisher.counts = statemachine.ItemStateCounts{Failed: 1}

	if _, err := fx.pool.workSession(context.Background(), &session, "worker-0"); err != nil {
		t.Fatalf("workSession: %v", err)
	}
	last := fx.finisher.transitions[len(fx.finisher.transitions)-1]
	if last != enums.SessionStatusFailed {
		t.Fatalf("final transition = %s, want failed", last)
	}

	// No summary event for a failed session.
	var count int64
	if err := fx.client.DB().Model(&models.OutboxEvent{}).Count(&count).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 0 {
		t.Fatalf("events = %d, want 0", count)
	}
}

func TestWorkSession_unknownOriginIsRejected(t *testing.T) {
	fx := newPoolFixture(t)
	session := enqueuedSession()
	session.Origin = enums.ImportOriginRemote

	if _, err := fx.pool.workSession(context.Background(), &session, "worker-0"); err == nil {
		t.Fatal("expected missing fetcher error")
	}
}

func TestPoolRun_stopsOnContextCancel(t *testing.T) {
	fx := newPoolFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		fx.pool.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop after cancel")
	}
}
