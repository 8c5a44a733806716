package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/umutdz/dca/pkg/cache"
	"github.com/umutdz/dca/pkg/domain"
	"github.com/umutdz/dca/pkg/repo"
)

type fakeGenerator struct {
	calls int
	fail  bool
}

func (g *fakeGenerator) GenerateText(_ context.Context, _ string, userPrompt string) (string, error) {
	g.calls++
	if g.fail {
		return "", errors.New("model unavailable")
	}
	return fmt.Sprintf("answer %d to %q", g.calls, lastLine(userPrompt)), nil
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return lines[len(lines)-1]
}

func newChatService(t *testing.T) (*ChatService, *PDFService, *fakeGenerator, *repo.ChatHistoryRepository) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	pdfs := newPDFService()
	history := repo.NewChatHistoryRepository(repo.NewMemoryRepository(repo.ChatEntity()))
	generator := &fakeGenerator{}
	responseCache := cache.New(client, "chat", time.Minute)
	return NewChatService(pdfs, history, generator, responseCache, "gemini-2.0-flash"), pdfs, generator, history
}

func selectDocument(t *testing.T, pdfs *PDFService, userID int64, content string) domain.PDFMetadata {
	t.Helper()
	meta := upload(t, pdfs, userID, "doc.pdf", content)
	selected, err := pdfs.Select(context.Background(), userID, meta.ID)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	return selected
}

func TestAskAnswersAndRecordsHistory(t *testing.T) {
	ctx := context.Background()
	chat, pdfs, _, history := newChatService(t)
	user := domain.User{ID: 1, Email: "a@example.com", IsActive: true}
	selectDocument(t, pdfs, user.ID, "the sky is blue")

	answer, err := chat.Ask(ctx, user, "what color is the sky?", "")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if answer.Answer == "" || answer.SessionID == "" || answer.Cached {
		t.Fatalf("unexpected answer: %+v", answer)
	}

	records, err := history.ListByUser(ctx, user.ID, 0, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 history record, got %d", len(records))
	}
	rec := records[0]
	if rec.Question != "what color is the sky?" || rec.Answer != answer.Answer {
		t.Fatalf("history mismatch: %+v", rec)
	}
	if rec.Meta["model"] != "gemini-2.0-flash" || rec.Meta["cached"] != "false" {
		t.Fatalf("unexpected meta: %+v", rec.Meta)
	}
}

func TestAskServesRepeatFromCache(t *testing.T) {
	ctx := context.Background()
	chat, pdfs, generator, _ := newChatService(t)
	user := domain.User{ID: 1, IsActive: true}
	selectDocument(t, pdfs, user.ID, "document body")

	first, err := chat.Ask(ctx, user, "same question", "")
	if err != nil {
		t.Fatalf("first ask: %v", err)
	}
	second, err := chat.Ask(ctx, user, "same question", "")
	if err != nil {
		t.Fatalf("second ask: %v", err)
	}
	if !second.Cached || second.Answer != first.Answer {
		t.Fatalf("expected cached repeat: %+v", second)
	}
	if generator.calls != 1 {
		t.Fatalf("model called %d times, want 1", generator.calls)
	}
}

func TestAskWithoutSelection(t *testing.T) {
	chat, _, _, _ := newChatService(t)
	user := domain.User{ID: 1, IsActive: true}

	_, err := chat.Ask(context.Background(), user, "anything", "")
	if !errors.Is(err, domain.ErrPDFNotFound) {
		t.Fatalf("expected ErrPDFNotFound, got %v", err)
	}
}

func TestAskEmptyQuestion(t *testing.T) {
	chat, pdfs, _, _ := newChatService(t)
	user := domain.User{ID: 1, IsActive: true}
	selectDocument(t, pdfs, user.ID, "body")

	if _, err := chat.Ask(context.Background(), user, "", ""); !errors.Is(err, domain.ErrMissingField) {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}
}

func TestAskModelFailure(t *testing.T) {
	ctx := context.Background()
	chat, pdfs, generator, history := newChatService(t)
	user := domain.User{ID: 1, IsActive: true}
	selectDocument(t, pdfs, user.ID, "body")
	generator.fail = true

	if _, err := chat.Ask(ctx, user, "q", ""); !errors.Is(err, domain.ErrExternalAPI) {
		t.Fatalf("expected ErrExternalAPI, got %v", err)
	}
	records, err := history.ListByUser(ctx, user.ID, 0, 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("failed calls must not be recorded, got %d", len(records))
	}
}

func TestAskKeepsSessionID(t *testing.T) {
	ctx := context.Background()
	chat, pdfs, _, _ := newChatService(t)
	user := domain.User{ID: 1, IsActive: true}
	selectDocument(t, pdfs, user.ID, "body")

	answer, err := chat.Ask(ctx, user, "q", "session-7")
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if answer.SessionID != "session-7" {
		t.Fatalf("session id not preserved: %+v", answer)
	}
}
