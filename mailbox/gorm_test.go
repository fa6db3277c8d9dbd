package mailbox

import (
	"context"
	"testing"
	"time"

	"penelope-batcher/models"

	"github.com/jinzhu/gorm"
	_ "github.com/jinzhu/gorm/dialects/sqlite"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// one connection, otherwise every pooled connection sees its own :memory: database
	db.DB().SetMaxOpenConns(1)
	if err := db.AutoMigrate(&models.MailboxEvent{}).Error; err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestGormBackendAppendDrain(t *testing.T) {
	ctx := context.Background()
	mb := New(NewGormBackend(openTestDB(t)))

	first := event("5511999", "oi")
	second := event("5511999", "tudo bem?")
	other := event("5521888", "outra conversa")
	for _, ev := range []models.Event{first, second, other} {
		if err := mb.Append(ctx, ev.Key, ev); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	if n, err := mb.Count(ctx, "5511999"); err != nil || n != 2 {
		t.Fatalf("Count = %d, %v", n, err)
	}

	got, err := mb.Drain(ctx, "5511999")
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(got) != 2 || got[0].ID != first.ID || got[1].ID != second.ID {
		t.Fatalf("unexpected drain result %+v", got)
	}
	if string(got[0].Payload) != string(first.Payload) {
		t.Errorf("payload changed: %s", got[0].Payload)
	}

	if ok, _ := mb.Exists(ctx, "5511999"); ok {
		t.Error("drained key still exists")
	}
	if ok, _ := mb.Exists(ctx, "5521888"); !ok {
		t.Error("other key lost by drain")
	}

	empty, err := mb.Drain(ctx, "5511999")
	if err != nil || len(empty) != 0 {
		t.Errorf("second drain = %v, %v", empty, err)
	}
}

func TestGormBackendDrainOrdersBySequence(t *testing.T) {
	ctx := context.Background()
	mb := New(NewGormBackend(openTestDB(t)))

	first := event("5511999", "um")
	second := event("5511999", "dois")
	third := event("5511999", "tres")
	for _, ev := range []models.Event{second, third, first} {
		if err := mb.Append(ctx, ev.Key, ev); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := mb.Drain(ctx, "5511999")
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(got) != 3 || got[0].ID != first.ID || got[1].ID != second.ID || got[2].ID != third.ID {
		t.Errorf("drain order = %v", ids(got))
	}
	if got[0].Seq >= got[1].Seq || got[1].Seq >= got[2].Seq {
		t.Errorf("sequence not stored: %d %d %d", got[0].Seq, got[1].Seq, got[2].Seq)
	}
	if n, _ := mb.Count(ctx, "5511999"); n != 0 {
		t.Errorf("Count after drain = %d", n)
	}
}

func TestGormBackendExpiry(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	mb := New(NewGormBackend(openTestDB(t)), WithTTL(10*time.Second), WithClock(clock.Now))

	_ = mb.Append(ctx, "k", event("k", "1"))
	clock.Advance(8 * time.Second)
	_ = mb.Append(ctx, "k", event("k", "2"))
	clock.Advance(8 * time.Second)

	if n, _ := mb.Count(ctx, "k"); n != 2 {
		t.Fatalf("refreshed key Count = %d, want 2", n)
	}

	clock.Advance(5 * time.Second)
	n, err := mb.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 2 {
		t.Errorf("Sweep removed %d rows, want 2", n)
	}
}

func TestGormBackendFixedTTL(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	mb := New(NewGormBackend(openTestDB(t)), WithTTL(10*time.Second), WithFixedTTL(), WithClock(clock.Now))

	_ = mb.Append(ctx, "k", event("k", "1"))
	clock.Advance(8 * time.Second)
	_ = mb.Append(ctx, "k", event("k", "2"))
	clock.Advance(3 * time.Second)

	if n, _ := mb.Count(ctx, "k"); n != 0 {
		t.Errorf("Count past fixed expiry = %d, want 0", n)
	}
}
