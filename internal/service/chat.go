package service

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/umutdz/dca/pkg/cache"
	"github.com/umutdz/dca/pkg/domain"
	"github.com/umutdz/dca/pkg/llm"
	"github.com/umutdz/dca/pkg/repo"
)

const chatSystemPrompt = "You are a helpful assistant. Answer the question using only the provided document content. " +
	"If the answer is not in the document, say so."

// ChatAnswer is one answered question.
type ChatAnswer struct {
	Answer    string `json:"answer"`
	SessionID string `json:"session_id"`
	Cached    bool   `json:"cached"`
}

// ChatService answers questions about the user's selected document.
type ChatService struct {
	pdfs      *PDFService
	history   *repo.ChatHistoryRepository
	generator llm.TextGenerator
	cache     *cache.ResponseCache
	model     string
}

func NewChatService(pdfs *PDFService, history *repo.ChatHistoryRepository, generator llm.TextGenerator, responseCache *cache.ResponseCache, model string) *ChatService {
	return &ChatService{
		pdfs:      pdfs,
		history:   history,
		generator: generator,
		cache:     responseCache,
		model:     model,
	}
}

// Ask answers a question against the user's selected document. Identical
// questions about the same document are served from the response cache.
func (s *ChatService) Ask(ctx context.Context, user domain.User, question, sessionID string) (ChatAnswer, error) {
	if question == "" {
		return ChatAnswer{}, domain.ErrMissingField.WithDescription("question is required")
	}
	meta, ok, err := s.pdfs.Selected(ctx, user.ID)
	if err != nil {
		return ChatAnswer{}, err
	}
	if !ok {
		return ChatAnswer{}, domain.ErrPDFNotFound.WithDescription("no document selected")
	}
	if !meta.Parsed || meta.TextContent == "" {
		return ChatAnswer{}, domain.ErrPDFParseFailed.WithDescription("selected document has no extracted text")
	}

	payload := meta.ID + "\x1f" + question
	answer, cached, err := s.cache.GetOrCompute(ctx, payload, func(ctx context.Context) (string, error) {
		prompt := fmt.Sprintf("Document:\n%s\n\nQuestion: %s", meta.TextContent, question)
		return s.generator.GenerateText(ctx, chatSystemPrompt, prompt)
	})
	if err != nil {
		return ChatAnswer{}, domain.ErrExternalAPI.WithDescription(err.Error())
	}

	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	_, err = s.history.Append(ctx, domain.ChatRecord{
		UserID:    user.ID,
		Question:  question,
		Answer:    answer,
		SessionID: sessionID,
		Meta: map[string]string{
			"model":  s.model,
			"pdf_id": meta.ID,
			"cached": strconv.FormatBool(cached),
		},
	})
	if err != nil {
		return ChatAnswer{}, domain.ErrDatabase.WithDescription(err.Error())
	}
	return ChatAnswer{Answer: answer, SessionID: sessionID, Cached: cached}, nil
}

// History returns the user's past exchanges.
func (s *ChatService) History(ctx context.Context, userID int64, skip, limit int) ([]domain.ChatRecord, error) {
	records, err := s.history.ListByUser(ctx, userID, skip, limit)
	if err != nil {
		return nil, domain.ErrDatabase.WithDescription(err.Error())
	}
	return records, nil
}
