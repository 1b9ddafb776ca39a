package events

import (
	"context"
	"fmt"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func setupOutboxTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:outbox_%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	err = db.Exec(`CREATE TABLE retention_events (
		id BIGINT PRIMARY KEY,
		event_type TEXT NOT NULL,
		payload TEXT NOT NULL,
		dedupe_key TEXT UNIQUE,
		published BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`).Error
	if err != nil {
		t.Fatalf("create table: %v", err)
	}
	return db
}

func newOutboxFixture(t *testing.T) (*gorm.DB, *Outbox) {
	t.Helper()
	db := setupOutboxTestDB(t)
	node, err := snowflake.NewNode(8)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	return db, NewOutbox(db, node)
}

func countOutbox(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var count int64
	if err := db.Table("retention_events").Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return count
}

func TestPublishStoresEvent(t *testing.T) {
	db, outbox := newOutboxFixture(t)

	err := outbox.Publish(context.Background(), Event{
		Type:    EventFlowStarted,
		Payload: map[string]any{"user_id": "1"},
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if count := countOutbox(t, db); count != 1 {
		t.Fatalf("expected 1 event, got %d", count)
	}
}

func TestPublishDedupeKeyCollisionIsSilent(t *testing.T) {
	db, outbox := newOutboxFixture(t)

	for i := 0; i < 3; i++ {
		err := outbox.Publish(context.Background(), Event{
			Type:      EventDecisionRecorded,
			DedupeKey: "decision:42",
			Payload:   map[string]any{"attempt": i},
		})
		if err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	if count := countOutbox(t, db); count != 1 {
		t.Fatalf("expected a single deduplicated event, got %d", count)
	}
}

func TestPublishWithoutDedupeKeyAlwaysInserts(t *testing.T) {
	db, outbox := newOutboxFixture(t)

	for i := 0; i < 3; i++ {
		err := outbox.Publish(context.Background(), Event{
			Type:    EventFlowStarted,
			Payload: map[string]any{"attempt": i},
		})
		if err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	if count := countOutbox(t, db); count != 3 {
		t.Fatalf("expected 3 events, got %d", count)
	}
}

func TestPublishRejectsMissingType(t *testing.T) {
	_, outbox := newOutboxFixture(t)

	if err := outbox.Publish(context.Background(), Event{Type: "  "}); err == nil {
		t.Fatalf("expected missing event type error")
	}
}

func TestPublishTxRequiresTransaction(t *testing.T) {
	_, outbox := newOutboxFixture(t)

	if err := outbox.PublishTx(context.Background(), nil, Event{Type: EventFlowStarted}); err == nil {
		t.Fatalf("expected missing transaction error")
	}
}
