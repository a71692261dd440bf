package items

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/photark/photark-backend/internal/audit"
	"github.com/photark/photark-backend/internal/statemachine"
	"github.com/photark/photark-backend/pkg/config"
	"github.com/photark/photark-backend/pkg/db"
	"github.com/photark/photark-backend/pkg/db/models"
	"github.com/photark/photark-backend/pkg/enums"
)

const auditEntriesDDL = `
CREATE TABLE audit_log_entries (
	id TEXT,
	timestamp DATETIME NOT NULL,
	level TEXT NOT NULL,
	category TEXT NOT NULL,
	session_id TEXT,
	item_id TEXT,
	message TEXT NOT NULL,
	details TEXT,
	error_type TEXT,
	error_message TEXT,
	recommended_actions TEXT,
	duration_ms INTEGER,
	from_state TEXT,
	to_state TEXT
)`

type fakeToucher struct {
	sessions []uuid.UUID
}

func (f *fakeToucher) TouchProgress(_ context.Context, _ *gorm.DB, sessionID uuid.UUID, _ time.Time) error {
	f.sessions = append(f.sessions, sessionID)
	return nil
}

func newTestService(t *testing.T) (*Service, *db.Client, *fakeToucher) {
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

	for _, ddl := range []string{selectionItemsDDL, auditEntriesDDL} {
		if err := client.DB().Exec(ddl).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}

	repository := NewRepository(client.DB())
	recorder := audit.NewRecorder(audit.NewRepository(client.DB()), config.AuditConfig{
		ArrayThreshold: 20,
		ArrayEdgeCount: 5,
		MaxDetailBytes: 8192,
		MaxActions:     50,
	}, nil)
	toucher := &fakeToucher{}

	svc, err := NewService(client, repository, recorder, toucher, nil, config.ImportConfig{
		LockTimeout:       2 * time.Minute,
		HeartbeatInterval: 30 * time.Second,
		MaxAttempts:       3,
	}, nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, client, toucher
}

func seedServiceItem(t *testing.T, client *db.Client, status enums.ItemStatus) *models.SelectionItem {
	t.Helper()
	item := &models.SelectionItem{
		ID:        uuid.New(),
		SessionID: uuid.New(),
		Status:    status,
	}
	if err := client.DB().Create(item).Error; err != nil {
		t.Fatalf("seed item: %v", err)
	}
	return item
}

func auditRows(t *testing.T, client *db.Client, itemID uuid.UUID) []models.AuditLogEntry {
	t.Helper()
	var rows []models.AuditLogEntry
	if err := client.DB().Where("item_id = ?", itemID).Order("timestamp ASC").Find(&rows).Error; err != nil {
		t.Fatalf("load audit rows: %v", err)
	}
	return rows
}

func TestServiceClaim_recordsAuditEntry(t *testing.T) {
	svc, client, _ := newTestService(t)
	item := seedServiceItem(t, client, enums.ItemStatusEnqueued)

	won, err := svc.Claim(context.Background(), item, "worker-a")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if !won {
		t.Fatal("expected claim to win")
	}

	rows := auditRows(t, client, item.ID)
	if len(rows) != 1 {
		t.Fatalf("audit rows = %d, want 1", len(rows))
	}
	if rows[0].Category != enums.AuditCategoryClaim {
		t.Fatalf("category = %s", rows[0].Category)
	}
	if rows[0].FromState == nil || *rows[0].FromState != "enqueued" || rows[0].ToState == nil || *rows[0].ToState != "running" {
		t.Fatal("claim entry must carry the claimed edge")
	}
}

func TestServiceTransition_commitsStateAuditAndProgress(t *testing.T) {
	svc, client, toucher := newTestService(t)
	item := seedServiceItem(t, client, enums.ItemStatusEnqueued)

	if won, _ := svc.Claim(context.Background(), item, "worker-a"); !won {
		t.Fatal("setup claim failed")
	}
	if err := svc.Transition(context.Background(), item.ID, enums.ItemStatusImported, ""); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	var got models.SelectionItem
	if err := client.DB().Where("id = ?", item.ID).First(&got).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Status != enums.ItemStatusImported || got.LockOwner != nil {
		t.Fatalf("item = %s owner=%v", got.Status, got.LockOwner)
	}

	rows := auditRows(t, client, item.ID)
	if len(rows) != 2 {
		t.Fatalf("audit rows = %d, want claim + transition", len(rows))
	}
	last := rows[len(rows)-1]
	if last.Category != enums.AuditCategoryTransition || last.ToState == nil || *last.ToState != "imported" {
		t.Fatalf("transition entry = %+v", last)
	}

	if len(toucher.sessions) != 1 || toucher.sessions[0] != item.SessionID {
		t.Fatal("transition must bump the owning session's progress")
	}
}

func TestServiceTransition_invalidEdgeLeavesRowUntouched(t *testing.T) {
	svc, client, _ := newTestService(t)
	item := seedServiceItem(t, client, enums.ItemStatusImported)

	err := svc.Transition(context.Background(), item.ID, enums.ItemStatusRunning, "")
	if err == nil {
		t.Fatal("expected transition error")
	}
	var transitionErr *statemachine.TransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("error type = %T", err)
	}

	var got models.SelectionItem
	if err := client.DB().Where("id = ?", item.ID).First(&got).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Status != enums.ItemStatusImported {
		t.Fatal("rejected edge must not mutate state")
	}
	if rows := auditRows(t, client, item.ID); len(rows) != 0 {
		t.Fatal("rejected edge must not write audit entries")
	}
}

func TestServiceGuard_failsAbandonedItem(t *testing.T) {
	svc, client, _ := newTestService(t)
	item := seedServiceItem(t, client, enums.ItemStatusEnqueued)

	if won, _ := svc.Claim(context.Background(), item, "worker-a"); !won {
		t.Fatal("setup claim failed")
	}

	func() {
		guard := svc.Guard(item.ID)
		defer guard.Ensure(context.Background())
		// Scope exits without Complete: crash/early-return path.
	}()

	var got models.SelectionItem
	if err := client.DB().Where("id = ?", item.ID).First(&got).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Status != enums.ItemStatusFailed {
		t.Fatalf("status = %s, want failed", got.Status)
	}
	if got.ErrorMessage == nil || *got.ErrorMessage == "" {
		t.Fatal("abandoned item must record a failure reason")
	}
}

func TestServiceGuard_completeWinsOverEnsure(t *testing.T) {
	svc, client, _ := newTestService(t)
	item := seedServiceItem(t, client, enums.ItemStatusEnqueued)

	if won, _ := svc.Claim(context.Background(), item, "worker-a"); !won {
		t.Fatal("setup claim failed")
	}

	func() {
		guard := svc.Guard(item.ID)
		defer guard.Ensure(context.Background())
		if err := guard.Complete(context.Background(), enums.ItemStatusDuplicate, "matched catalog entry"); err != nil {
			t.Fatalf("Complete: %v", err)
		}
	}()

	var got models.SelectionItem
	if err := client.DB().Where("id = ?", item.ID).First(&got).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Status != enums.ItemStatusDuplicate {
		t.Fatalf("status = %s, want duplicate", got.Status)
	}
}

func TestServiceHeartbeat_reportsReclaim(t *testing.T) {
	svc, client, _ := newTestService(t)
	item := seedServiceItem(t, client, enums.ItemStatusEnqueued)

	if won, _ := svc.Claim(context.Background(), item, "worker-a"); !won {
		t.Fatal("setup claim failed")
	}

	alive, err := svc.Heartbeat(context.Background(), item.ID, "worker-a")
	if err != nil || !alive {
		t.Fatalf("owner heartbeat: alive=%v err=%v", alive, err)
	}

	alive, err = svc.Heartbeat(context.Background(), item.ID, "worker-b")
	if err != nil {
		t.Fatalf("stranger heartbeat: %v", err)
	}
	if alive {
		t.Fatal("non-owner heartbeat must no-op")
	}
}
