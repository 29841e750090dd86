package sqlstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ikimina/circles/internal/models"
	"github.com/ikimina/circles/internal/storage"
)

func TestSQLiteStore(t *testing.T) {
	// Create temp directory for test database
	tempDir, err := os.MkdirTemp("", "circles-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	dbPath := filepath.Join(tempDir, "test.db")
	store, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	ctx := context.Background()

	t.Run("Insert generates ID and timestamp", func(t *testing.T) {
		rec, err := store.Insert(ctx, "groups", storage.Record{
			"name":       "Twese Hamwe",
			"location":   "Huye",
			"category":   "youth",
			"size":       12,
			"created_by": "u1",
		})
		if err != nil {
			t.Fatalf("Insert failed: %v", err)
		}

		if rec.String("id") == "" {
			t.Error("Expected id to be generated")
		}
		if ts, _ := rec["created_at"].(int64); ts == 0 {
			t.Errorf("Expected created_at to be set, got %v", rec["created_at"])
		}
		if rec["member_count"] != int64(0) {
			t.Errorf("Expected member_count default 0, got %v (%T)", rec["member_count"], rec["member_count"])
		}
		if rec["size"] != int64(12) {
			t.Errorf("Expected size 12, got %v", rec["size"])
		}
	})

	t.Run("Insert keeps caller timestamp", func(t *testing.T) {
		rec, err := store.Insert(ctx, "group_messages", storage.Record{
			"group_id": "g", "user_id": "u", "message": "hi", "created_at": int64(42),
		})
		if err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		if rec["created_at"] != int64(42) {
			t.Errorf("Expected created_at 42, got %v", rec["created_at"])
		}
	})

	t.Run("Find filters and orders", func(t *testing.T) {
		for i, body := range []string{"third", "first", "second"} {
			ts := map[string]int64{"first": 100, "second": 200, "third": 300}[body]
			if _, err := store.Insert(ctx, "group_messages", storage.Record{
				"group_id": "order", "user_id": "u", "message": body, "created_at": ts,
			}); err != nil {
				t.Fatalf("Insert %d failed: %v", i, err)
			}
		}

		recs, err := store.Find(ctx, storage.Query{
			Collection: "group_messages",
			Filters:    []storage.Filter{storage.Eq("group_id", "order")},
			OrderBy:    "created_at",
		})
		if err != nil {
			t.Fatalf("Find failed: %v", err)
		}
		want := []string{"first", "second", "third"}
		if len(recs) != len(want) {
			t.Fatalf("Expected %d records, got %d", len(want), len(recs))
		}
		for i, rec := range recs {
			if rec.String("message") != want[i] {
				t.Errorf("Record %d: expected %q, got %q", i, want[i], rec.String("message"))
			}
		}

		recs, err = store.Find(ctx, storage.Query{
			Collection: "group_messages",
			Filters:    []storage.Filter{storage.Eq("group_id", "order")},
			OrderBy:    "created_at",
			Descending: true,
			Limit:      1,
		})
		if err != nil {
			t.Fatalf("Find failed: %v", err)
		}
		if len(recs) != 1 || recs[0].String("message") != "third" {
			t.Errorf("Expected newest record only, got %v", recs)
		}
	})

	t.Run("Find with IN filter", func(t *testing.T) {
		for _, id := range []string{"p1", "p2", "p3"} {
			if _, err := store.Insert(ctx, "profiles", storage.Record{"user_id": id, "name": "Name " + id}); err != nil {
				t.Fatalf("Insert failed: %v", err)
			}
		}

		recs, err := store.Find(ctx, storage.Query{
			Collection: "profiles",
			Filters:    []storage.Filter{storage.In("user_id", []string{"p1", "p3", "missing"})},
		})
		if err != nil {
			t.Fatalf("Find failed: %v", err)
		}
		if len(recs) != 2 {
			t.Errorf("Expected 2 profiles, got %d", len(recs))
		}

		recs, err = store.Find(ctx, storage.Query{
			Collection: "profiles",
			Filters:    []storage.Filter{storage.In("user_id", nil)},
		})
		if err != nil {
			t.Fatalf("Find with empty IN failed: %v", err)
		}
		if len(recs) != 0 {
			t.Errorf("Expected no profiles for empty IN, got %d", len(recs))
		}
	})

	t.Run("Money and flags round trip", func(t *testing.T) {
		rec, err := store.Insert(ctx, "transactions", storage.Record{
			"group_id": "money", "user_id": "u", "type": "saving", "amount": "1500.50",
		})
		if err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		if rec.String("status") != "pending" {
			t.Errorf("Expected default status pending, got %q", rec.String("status"))
		}
		if rec.String("amount") != "1500.5" && rec.String("amount") != "1500.50" {
			t.Errorf("Expected amount 1500.5, got %v (%T)", rec["amount"], rec["amount"])
		}

		faq, err := store.Insert(ctx, "faqs", storage.Record{"question": "Q", "answer": "A"})
		if err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		if faq["active"] != true {
			t.Errorf("Expected active default true, got %v (%T)", faq["active"], faq["active"])
		}
	})

	t.Run("Update patches fields", func(t *testing.T) {
		rec, err := store.Insert(ctx, "group_join_requests", storage.Record{"group_id": "g", "user_id": "u"})
		if err != nil {
			t.Fatalf("Insert failed: %v", err)
		}

		updated, err := store.Update(ctx, "group_join_requests", rec.String("id"), storage.Record{"status": "approved"})
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if updated.String("status") != "approved" {
			t.Errorf("Expected approved, got %q", updated.String("status"))
		}
		if updated.String("user_id") != "u" {
			t.Errorf("Update must keep other fields, got user_id %q", updated.String("user_id"))
		}
	})

	t.Run("Update missing record", func(t *testing.T) {
		_, err := store.Update(ctx, "group_join_requests", "nope", storage.Record{"status": "approved"})
		if !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Unique constraint is a conflict", func(t *testing.T) {
		if _, err := store.Insert(ctx, "group_members", storage.Record{"group_id": "uq", "user_id": "u"}); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		_, err := store.Insert(ctx, "group_members", storage.Record{"group_id": "uq", "user_id": "u"})
		if !errors.Is(err, storage.ErrConflict) {
			t.Errorf("Expected ErrConflict, got %v", err)
		}
	})

	t.Run("Delete returns removed rows", func(t *testing.T) {
		rec, err := store.Insert(ctx, "discussion_messages", storage.Record{"group_id": "del", "user_id": "alice", "message": "bye"})
		if err != nil {
			t.Fatalf("Insert failed: %v", err)
		}

		removed, err := store.Delete(ctx, "discussion_messages", []storage.Filter{
			storage.Eq("id", rec.String("id")),
			storage.Eq("user_id", "bob"),
		})
		if err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if len(removed) != 0 {
			t.Errorf("Expected no rows for wrong author, got %d", len(removed))
		}

		removed, err = store.Delete(ctx, "discussion_messages", []storage.Filter{
			storage.Eq("id", rec.String("id")),
			storage.Eq("user_id", "alice"),
		})
		if err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if len(removed) != 1 || removed[0].String("group_id") != "del" {
			t.Errorf("Expected the removed row, got %v", removed)
		}

		if _, err := store.Delete(ctx, "discussion_messages", nil); !errors.Is(err, storage.ErrInvalidValue) {
			t.Errorf("Expected unfiltered delete to be refused, got %v", err)
		}
	})

	t.Run("Adjust is atomic", func(t *testing.T) {
		g, err := store.Insert(ctx, "groups", storage.Record{"name": "Counter", "member_count": 5})
		if err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
		id := g.String("id")

		done := make(chan error, 10)
		for i := 0; i < 10; i++ {
			go func() {
				_, err := store.Adjust(ctx, "groups", id, "member_count", 1)
				done <- err
			}()
		}
		for i := 0; i < 10; i++ {
			if err := <-done; err != nil {
				t.Fatalf("Adjust failed: %v", err)
			}
		}

		rec, err := store.Adjust(ctx, "groups", id, "member_count", -3)
		if err != nil {
			t.Fatalf("Adjust failed: %v", err)
		}
		if rec["member_count"] != int64(12) {
			t.Errorf("Expected member_count 12, got %v", rec["member_count"])
		}

		if _, err := store.Adjust(ctx, "groups", id, "name", 1); !errors.Is(err, storage.ErrUnknownField) {
			t.Errorf("Expected non-integer field to be refused, got %v", err)
		}
		if _, err := store.Adjust(ctx, "groups", "nope", "member_count", 1); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Schema is enforced", func(t *testing.T) {
		if _, err := store.Find(ctx, storage.Query{Collection: "bills"}); !errors.Is(err, storage.ErrUnknownCollection) {
			t.Errorf("Expected ErrUnknownCollection, got %v", err)
		}
		if _, err := store.Insert(ctx, "groups", storage.Record{"name": "x", "drop table": 1}); !errors.Is(err, storage.ErrUnknownField) {
			t.Errorf("Expected ErrUnknownField, got %v", err)
		}
		if _, err := store.Find(ctx, storage.Query{Collection: "groups", OrderBy: "name; --"}); !errors.Is(err, storage.ErrUnknownField) {
			t.Errorf("Expected ErrUnknownField for order, got %v", err)
		}
		if _, err := store.Insert(ctx, "groups", storage.Record{"size": "twelve"}); !errors.Is(err, storage.ErrInvalidValue) {
			t.Errorf("Expected ErrInvalidValue, got %v", err)
		}
	})

	t.Run("TopicOf", func(t *testing.T) {
		rec := storage.Record{"id": "m1", "group_id": "g1", "user_id": "u1"}
		if got := store.TopicOf("group_messages", rec); got != "g1" {
			t.Errorf("Expected group topic, got %q", got)
		}
		if got := store.TopicOf("groups", rec); got != "m1" {
			t.Errorf("Expected group's own id, got %q", got)
		}
		if got := store.TopicOf("faqs", rec); got != "" {
			t.Errorf("Expected no topic for content, got %q", got)
		}
	})

	t.Run("Users", func(t *testing.T) {
		user := models.NewUser("amina@example.com", "Amina", "hash")
		if err := store.CreateUser(ctx, user); err != nil {
			t.Fatalf("CreateUser failed: %v", err)
		}

		got, err := store.GetUserByEmail(ctx, "amina@example.com")
		if err != nil {
			t.Fatalf("GetUserByEmail failed: %v", err)
		}
		if got == nil || got.ID != user.ID {
			t.Fatalf("Expected user %s, got %+v", user.ID, got)
		}

		got, err = store.GetUserByID(ctx, "missing")
		if err != nil {
			t.Fatalf("GetUserByID failed: %v", err)
		}
		if got != nil {
			t.Errorf("Expected nil for unknown user, got %+v", got)
		}

		dup := models.NewUser("amina@example.com", "Other", "hash")
		if err := store.CreateUser(ctx, dup); !errors.Is(err, storage.ErrConflict) {
			t.Errorf("Expected ErrConflict for duplicate email, got %v", err)
		}
	})
}

func TestRebind(t *testing.T) {
	pg := &Store{dialect: DialectPostgres}
	if got := pg.rebind("a = ? AND b IN (?, ?)"); got != "a = $1 AND b IN ($2, $3)" {
		t.Errorf("postgres rebind: got %q", got)
	}
	lite := &Store{dialect: DialectSQLite}
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Errorf("sqlite rebind: got %q", got)
	}
}
