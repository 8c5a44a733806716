package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/umutdz/dca/pkg/domain"
)

// The memory and Redis implementations must behave identically for
// every operation, so both run the same suite.

func newMemoryPDFRepo(t *testing.T) Repository[domain.PDFMetadata, string] {
	t.Helper()
	return NewMemoryRepository(PDFEntity())
}

func newRedisPDFRepo(t *testing.T) Repository[domain.PDFMetadata, string] {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisRepository(client, PDFEntity())
}

func TestRepositoryContract(t *testing.T) {
	impls := map[string]func(t *testing.T) Repository[domain.PDFMetadata, string]{
		"memory": newMemoryPDFRepo,
		"redis":  newRedisPDFRepo,
	}
	for name, newRepo := range impls {
		t.Run(name, func(t *testing.T) {
			t.Run("create and get", func(t *testing.T) { testCreateGet(t, newRepo(t)) })
			t.Run("duplicate id", func(t *testing.T) { testDuplicateID(t, newRepo(t)) })
			t.Run("get multi", func(t *testing.T) { testGetMulti(t, newRepo(t)) })
			t.Run("update", func(t *testing.T) { testUpdate(t, newRepo(t)) })
			t.Run("update keeps id", func(t *testing.T) { testUpdateKeepsID(t, newRepo(t)) })
			t.Run("delete", func(t *testing.T) { testDelete(t, newRepo(t)) })
			t.Run("exists and filter one", func(t *testing.T) { testExistsFilterOne(t, newRepo(t)) })
		})
	}
}

func mustCreate(t *testing.T, r Repository[domain.PDFMetadata, string], meta domain.PDFMetadata) domain.PDFMetadata {
	t.Helper()
	created, err := r.Create(context.Background(), meta)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return created
}

func testCreateGet(t *testing.T, r Repository[domain.PDFMetadata, string]) {
	ctx := context.Background()
	created := mustCreate(t, r, domain.PDFMetadata{UserID: 7, Filename: "report.pdf", Title: "report", FileID: "blob-1"})
	if created.ID == "" {
		t.Fatalf("expected assigned id")
	}

	got, ok, err := r.Get(ctx, created.ID)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.Filename != "report.pdf" || got.UserID != 7 || got.Parsed {
		t.Fatalf("unexpected record: %+v", got)
	}

	_, ok, err = r.Get(ctx, "missing")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if ok {
		t.Fatalf("expected absence, not error, for unknown id")
	}
}

func testDuplicateID(t *testing.T, r Repository[domain.PDFMetadata, string]) {
	ctx := context.Background()
	created := mustCreate(t, r, domain.PDFMetadata{UserID: 1, Filename: "a.pdf"})
	_, err := r.Create(ctx, domain.PDFMetadata{ID: created.ID, UserID: 1, Filename: "b.pdf"})
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
}

func testGetMulti(t *testing.T, r Repository[domain.PDFMetadata, string]) {
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		mustCreate(t, r, domain.PDFMetadata{UserID: 1, Filename: "mine.pdf"})
	}
	mustCreate(t, r, domain.PDFMetadata{UserID: 2, Filename: "theirs.pdf"})

	mine, err := r.GetMulti(ctx, 0, 0, Filters{"user_id": int64(1)})
	if err != nil {
		t.Fatalf("get multi: %v", err)
	}
	if len(mine) != 3 {
		t.Fatalf("expected 3 records, got %d", len(mine))
	}

	page, err := r.GetMulti(ctx, 1, 1, Filters{"user_id": int64(1)})
	if err != nil {
		t.Fatalf("get multi page: %v", err)
	}
	if len(page) != 1 {
		t.Fatalf("expected 1 record after skip/limit, got %d", len(page))
	}

	// Unknown filter keys are ignored rather than failing the query.
	all, err := r.GetMulti(ctx, 0, 0, Filters{"no_such_field": "x"})
	if err != nil {
		t.Fatalf("get multi unknown filter: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected unknown filter to be ignored, got %d records", len(all))
	}
}

func testUpdate(t *testing.T, r Repository[domain.PDFMetadata, string]) {
	ctx := context.Background()
	created := mustCreate(t, r, domain.PDFMetadata{UserID: 5, Filename: "doc.pdf", Title: "doc", FileID: "blob-9"})

	updated, ok, err := r.Update(ctx, created.ID, Fields{"text_content": "hello", "parsed": true})
	if err != nil || !ok {
		t.Fatalf("update: ok=%v err=%v", ok, err)
	}
	if updated.TextContent != "hello" || !updated.Parsed {
		t.Fatalf("update not applied: %+v", updated)
	}
	if updated.Filename != "doc.pdf" || updated.FileID != "blob-9" || updated.UserID != 5 {
		t.Fatalf("untouched fields changed: %+v", updated)
	}

	_, ok, err = r.Update(ctx, "missing", Fields{"parsed": true})
	if err != nil {
		t.Fatalf("update missing: %v", err)
	}
	if ok {
		t.Fatalf("expected absence for unknown id")
	}
}

func testUpdateKeepsID(t *testing.T, r Repository[domain.PDFMetadata, string]) {
	ctx := context.Background()
	created := mustCreate(t, r, domain.PDFMetadata{UserID: 5, Filename: "doc.pdf"})

	updated, ok, err := r.Update(ctx, created.ID, Fields{"id": "hijacked", "parsed": true})
	if err != nil || !ok {
		t.Fatalf("update: ok=%v err=%v", ok, err)
	}
	if updated.ID != created.ID {
		t.Fatalf("id rewritten by update: %q", updated.ID)
	}
	if !updated.Parsed {
		t.Fatalf("other fields not applied: %+v", updated)
	}

	got, ok, err := r.Get(ctx, created.ID)
	if err != nil || !ok {
		t.Fatalf("get after update: ok=%v err=%v", ok, err)
	}
	if got.ID != created.ID || !got.Parsed {
		t.Fatalf("stored record desynced from its key: %+v", got)
	}
	if _, found, _ := r.Get(ctx, "hijacked"); found {
		t.Fatalf("record reachable under the update-supplied id")
	}
}

func testDelete(t *testing.T, r Repository[domain.PDFMetadata, string]) {
	ctx := context.Background()
	created := mustCreate(t, r, domain.PDFMetadata{UserID: 3, Filename: "gone.pdf"})

	ok, err := r.Delete(ctx, created.ID)
	if err != nil || !ok {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}
	if _, found, _ := r.Get(ctx, created.ID); found {
		t.Fatalf("record survived delete")
	}
	ok, err = r.Delete(ctx, created.ID)
	if err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if ok {
		t.Fatalf("expected false for repeated delete")
	}
}

func testExistsFilterOne(t *testing.T, r Repository[domain.PDFMetadata, string]) {
	ctx := context.Background()
	mustCreate(t, r, domain.PDFMetadata{UserID: 9, Filename: "x.pdf", FileID: "blob-x"})

	ok, err := r.Exists(ctx, Filters{"user_id": int64(9)})
	if err != nil || !ok {
		t.Fatalf("exists: ok=%v err=%v", ok, err)
	}
	ok, err = r.Exists(ctx, Filters{"user_id": int64(404)})
	if err != nil {
		t.Fatalf("exists absent: %v", err)
	}
	if ok {
		t.Fatalf("expected no match")
	}

	got, ok, err := r.FilterOne(ctx, Filters{"file_id": "blob-x"})
	if err != nil || !ok {
		t.Fatalf("filter one: ok=%v err=%v", ok, err)
	}
	if got.Filename != "x.pdf" {
		t.Fatalf("unexpected record: %+v", got)
	}
	_, ok, err = r.FilterOne(ctx, Filters{"file_id": "nope"})
	if err != nil {
		t.Fatalf("filter one absent: %v", err)
	}
	if ok {
		t.Fatalf("expected absence")
	}
}

func TestMemoryUniqueFields(t *testing.T) {
	ctx := context.Background()
	users := NewMemoryRepository(UsersEntity())

	_, err := users.Create(ctx, domain.User{Email: "a@example.com", Password: "hash"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err = users.Create(ctx, domain.User{Email: "a@example.com", Password: "other"})
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey for duplicate email, got %v", err)
	}
}
