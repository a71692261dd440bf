package importer

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/photark/photark-backend/internal/dedup"
	"github.com/photark/photark-backend/internal/signature"
	"github.com/photark/photark-backend/internal/statemachine"
	"github.com/photark/photark-backend/pkg/config"
	"github.com/photark/photark-backend/pkg/db"
	"github.com/photark/photark-backend/pkg/db/models"
	"github.com/photark/photark-backend/pkg/enums"
	apperrors "github.com/photark/photark-backend/pkg/errors"
	"github.com/photark/photark-backend/pkg/outbox"
)

const mediaRecordsDDL = `
CREATE TABLE media_records (
	id TEXT,
	content_hash TEXT NOT NULL,
	perceptual_hash INTEGER,
	byte_size INTEGER NOT NULL,
	width INTEGER NOT NULL DEFAULT 0,
	height INTEGER NOT NULL DEFAULT 0,
	duration_ms INTEGER,
	capture_time DATETIME,
	storage_path TEXT NOT NULL,
	created_at DATETIME
)`

const outboxEventsDDL = `
CREATE TABLE outbox_events (
	id TEXT,
	event_type TEXT NOT NULL,
	aggregate_type TEXT NOT NULL,
	aggregate_id TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at DATETIME,
	published_at DATETIME,
	attempt_count INTEGER NOT NULL DEFAULT 0,
	last_error TEXT
)`

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

type fakeFetcher struct {
	data []byte
	meta signature.FileMeta
	err  error
}

func (f *fakeFetcher) Fetch(context.Context, *models.SelectionItem) ([]byte, signature.FileMeta, error) {
	return f.data, f.meta, f.err
}

type fakeStorage struct {
	files map[string][]byte
	err   error
}

func (f *fakeStorage) Store(_ context.Context, relPath string, data []byte) error {
	if f.err != nil {
		return f.err
	}
	if f.files == nil {
		f.files = map[string][]byte{}
	}
	f.files[relPath] = data
	return nil
}

// recordingGuard captures which terminal transition the processor resolved.
type recordingGuard struct {
	guard  *statemachine.Guard
	status enums.ItemStatus
	reason string
}

func newRecordingGuard() *recordingGuard {
	r := &recordingGuard{}
	r.guard = statemachine.NewGuard(func(_ context.Context, status enums.ItemStatus, reason string) error {
		r.status = status
		r.reason = reason
		return nil
	})
	return r
}

type processorFixture struct {
	client    *db.Client
	processor *Processor
	storage   *fakeStorage
	media     *MediaRepository
}

func newProcessorFixture(t *testing.T) *processorFixture {
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

	for _, ddl := range []string{mediaRecordsDDL, outboxEventsDDL, auditEntriesDDL} {
		if err := client.DB().Exec(ddl).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}

	media := NewMediaRepository(client.DB())
	storage := &fakeStorage{}
	recorder := newTestRecorder(client)

	processor, err := NewProcessor(
		client,
		media,
		dedup.NewEngine(dedup.Config{CaptureTolerance: 10 * time.Second}),
		storage,
		outbox.NewService(outbox.NewRepository(client.DB()), nil),
		recorder,
		nil,
		config.ImportConfig{MaxAttempts: 3, LockTimeout: time.Minute},
		nil,
	)
	if err != nil {
		t.Fatalf("NewProcessor: %v", err)
	}
	return &processorFixture{client: client, processor: processor, storage: storage, media: media}
}

func testSessionAndItem(origin enums.ImportOrigin) (*models.ImportSession, *models.SelectionItem) {
	session := &models.ImportSession{
		ID:     uuid.New(),
		Origin: origin,
		Status: enums.SessionStatusImporting,
	}
	path := "2024/vacation/beach.jpg"
	item := &models.SelectionItem{
		ID:        uuid.New(),
		SessionID: session.ID,
		Status:    enums.ItemStatusRunning,
		LocalPath: &path,
	}
	return session, item
}

func TestProcess_importsNewMedia(t *testing.T) {
	fx := newProcessorFixture(t)
	session, item := testSessionAndItem(enums.ImportOriginLocal)
	fetcher := &fakeFetcher{
		data: []byte("raw media bytes"),
		meta: signature.FileMeta{MimeType: "application/octet-stream"},
	}
	rg := newRecordingGuard()

	if err := fx.processor.Process(context.Background(), session, item, fetcher, rg.guard); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if rg.status != enums.ItemStatusImported {
		t.Fatalf("guard resolved %s, want imported", rg.status)
	}
	if len(fx.storage.files) != 1 {
		t.Fatalf("stored %d files, want 1", len(fx.storage.files))
	}

	var records []models.MediaRecord
	if err := fx.client.DB().Find(&records).Error; err != nil {
		t.Fatalf("load records: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("catalog has %d records, want 1", len(records))
	}
	if records[0].ByteSize != int64(len(fetcher.data)) {
		t.Fatalf("byte size = %d, want %d", records[0].ByteSize, len(fetcher.data))
	}
	if !strings.HasSuffix(records[0].StoragePath, ".jpg") {
		t.Fatalf("storage path %q should keep the source extension", records[0].StoragePath)
	}

	var events []models.OutboxEvent
	if err := fx.client.DB().Find(&events).Error; err != nil {
		t.Fatalf("load events: %v", err)
	}
	if len(events) != 1 || events[0].EventType != enums.EventItemImported {
		t.Fatalf("events = %+v, want one item.imported", events)
	}
}

func TestProcess_detectsDuplicate(t *testing.T) {
	fx := newProcessorFixture(t)
	session, item := testSessionAndItem(enums.ImportOriginLocal)
	data := []byte("the very same bytes")
	fetcher := &fakeFetcher{data: data, meta: signature.FileMeta{MimeType: "application/octet-stream"}}

	sig, err := signature.Compute(data, signature.FileMeta{})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	existing := &models.MediaRecord{
		ID:          uuid.New(),
		ContentHash: sig.ContentHash,
		ByteSize:    sig.ByteSize,
		StoragePath: "2023/01/01/existing.jpg",
	}
	if err := fx.client.DB().Create(existing).Error; err != nil {
		t.Fatalf("seed record: %v", err)
	}

	rg := newRecordingGuard()
	if err := fx.processor.Process(context.Background(), session, item, fetcher, rg.guard); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if rg.status != enums.ItemStatusDuplicate {
		t.Fatalf("guard resolved %s, want duplicate", rg.status)
	}
	if rg.reason != "byte_identical" {
		t.Fatalf("reason = %q, want byte_identical", rg.reason)
	}
	if len(fx.storage.files) != 0 {
		t.Fatal("duplicates must not be written to storage")
	}

	var events []models.OutboxEvent
	if err := fx.client.DB().Find(&events).Error; err != nil {
		t.Fatalf("load events: %v", err)
	}
	if len(events) != 1 || events[0].EventType != enums.EventItemDuplicate {
		t.Fatalf("events = %+v, want one item.duplicate", events)
	}

	var auditCount int64
	if err := fx.client.DB().Model(&models.AuditLogEntry{}).Where("category = ?", enums.AuditCategoryDedup).Count(&auditCount).Error; err != nil {
		t.Fatalf("count audit rows: %v", err)
	}
	if auditCount != 1 {
		t.Fatalf("dedup audit rows = %d, want 1", auditCount)
	}
}

func TestProcess_retryableFailureRequeues(t *testing.T) {
	fx := newProcessorFixture(t)
	session, item := testSessionAndItem(enums.ImportOriginRemote)
	item.AttemptCount = 0
	fetcher := &fakeFetcher{err: apperrors.New(apperrors.CategoryConnectivity, "picker unreachable")}

	rg := newRecordingGuard()
	if err := fx.processor.Process(context.Background(), session, item, fetcher, rg.guard); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if rg.status != enums.ItemStatusEnqueued {
		t.Fatalf("guard resolved %s, want enqueued", rg.status)
	}

	// Requeued items are not terminal yet, so nothing goes on the outbox.
	var eventCount int64
	if err := fx.client.DB().Model(&models.OutboxEvent{}).Count(&eventCount).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if eventCount != 0 {
		t.Fatalf("outbox rows = %d, want 0", eventCount)
	}
}

func TestProcess_retryBudgetExhaustedFails(t *testing.T) {
	fx := newProcessorFixture(t)
	session, item := testSessionAndItem(enums.ImportOriginRemote)
	item.AttemptCount = 2
	fetcher := &fakeFetcher{err: apperrors.New(apperrors.CategoryConnectivity, "picker unreachable")}

	rg := newRecordingGuard()
	if err := fx.processor.Process(context.Background(), session, item, fetcher, rg.guard); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if rg.status != enums.ItemStatusFailed {
		t.Fatalf("guard resolved %s, want failed", rg.status)
	}
}

func TestProcess_nonRetryableFailureFailsImmediately(t *testing.T) {
	fx := newProcessorFixture(t)
	session, item := testSessionAndItem(enums.ImportOriginRemote)
	fetcher := &fakeFetcher{err: apperrors.New(apperrors.CategoryNotFound, "item gone")}

	rg := newRecordingGuard()
	if err := fx.processor.Process(context.Background(), session, item, fetcher, rg.guard); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if rg.status != enums.ItemStatusFailed {
		t.Fatalf("guard resolved %s, want failed", rg.status)
	}

	var rows []models.AuditLogEntry
	if err := fx.client.DB().Where("item_id = ?", item.ID).Find(&rows).Error; err != nil {
		t.Fatalf("load audit rows: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("audit rows = %d, want 1", len(rows))
	}
	if rows[0].RecommendedActions == nil {
		t.Fatal("failure entry should carry troubleshooting actions")
	}

	var events []models.OutboxEvent
	if err := fx.client.DB().Find(&events).Error; err != nil {
		t.Fatalf("load events: %v", err)
	}
	if len(events) != 1 || events[0].EventType != enums.EventItemFailed {
		t.Fatalf("events = %+v, want one item.failed", events)
	}
	if events[0].AggregateID != item.ID {
		t.Fatalf("aggregate id = %s, want %s", events[0].AggregateID, item.ID)
	}
}

func TestProcess_expiredFetchToken(t *testing.T) {
	fx := newProcessorFixture(t)
	session, item := testSessionAndItem(enums.ImportOriginRemote)
	expired := time.Now().Add(-time.Minute)
	item.FetchTokenExpiresAt = &expired

	rg := newRecordingGuard()
	fetcher := &fakeFetcher{data: []byte("never fetched")}
	if err := fx.processor.Process(context.Background(), session, item, fetcher, rg.guard); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if rg.status != enums.ItemStatusExpired {
		t.Fatalf("guard resolved %s, want expired", rg.status)
	}
}

func TestProcess_storageFailureFails(t *testing.T) {
	fx := newProcessorFixture(t)
	session, item := testSessionAndItem(enums.ImportOriginLocal)
	fx.storage.err = apperrors.New(apperrors.CategoryPermission, "library not writable")
	fetcher := &fakeFetcher{data: []byte("bytes"), meta: signature.FileMeta{}}

	rg := newRecordingGuard()
	if err := fx.processor.Process(context.Background(), session, item, fetcher, rg.guard); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if rg.status != enums.ItemStatusFailed {
		t.Fatalf("guard resolved %s, want failed", rg.status)
	}
}

func TestCommitImport_secondFailureEscalates(t *testing.T) {
	fx := newProcessorFixture(t)
	session, item := testSessionAndItem(enums.ImportOriginLocal)

	// Breaking the outbox table fails the transaction on both attempts; the
	// second failure must surface as an internal error, never be dropped.
	if err := fx.client.DB().Exec("DROP TABLE outbox_events").Error; err != nil {
		t.Fatalf("drop table: %v", err)
	}

	sig, err := signature.Compute([]byte("bytes"), signature.FileMeta{})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	err = fx.processor.commitImport(context.Background(), session, item, sig, "2024/01/01/a.jpg")
	if err == nil {
		t.Fatal("expected commit escalation")
	}
	if apperrors.CategoryOf(err) != apperrors.CategoryInternal {
		t.Fatalf("category = %s, want internal", apperrors.CategoryOf(err))
	}
	if !strings.Contains(err.Error(), "twice") {
		t.Fatalf("error %q should mention the exhausted retry", err)
	}

	// The transaction rolled back cleanly both times.
	var count int64
	if err := fx.client.DB().Model(&models.MediaRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("count records: %v", err)
	}
	if count != 0 {
		t.Fatalf("catalog has %d records after failed commit, want 0", count)
	}
}

func TestProcess_emptyPayloadIsNotRetried(t *testing.T) {
	fx := newProcessorFixture(t)
	session, item := testSessionAndItem(enums.ImportOriginLocal)
	fetcher := &fakeFetcher{data: nil}

	rg := newRecordingGuard()
	if err := fx.processor.Process(context.Background(), session, item, fetcher, rg.guard); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if rg.status != enums.ItemStatusFailed {
		t.Fatalf("guard resolved %s, want failed", rg.status)
	}
}
