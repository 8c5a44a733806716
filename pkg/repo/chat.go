package repo

import (
	"context"
	"sync/atomic"
	"time"

	"gorm.io/gorm"

	"github.com/umutdz/dca/pkg/domain"
)

// ChatHistoryRepository is the typed access layer for chat exchanges.
// History is append-only.
type ChatHistoryRepository struct {
	repo Repository[domain.ChatRecord, int64]
}

// NewChatHistoryRepository wraps any chat record repository implementation.
func NewChatHistoryRepository(repo Repository[domain.ChatRecord, int64]) *ChatHistoryRepository {
	return &ChatHistoryRepository{repo: repo}
}

// NewPostgresChatHistoryRepository builds the production history repository
// on the relational store.
func NewPostgresChatHistoryRepository(db *gorm.DB) *ChatHistoryRepository {
	inner := NewGormRepository[ChatHistoryModel, int64](db)
	return NewChatHistoryRepository(NewMappedRepository(inner, chatFromModel, chatToModel))
}

// ChatEntity describes chat records for the in-memory implementation.
func ChatEntity() Entity[domain.ChatRecord, int64] {
	var seq atomic.Int64
	return Entity[domain.ChatRecord, int64]{
		Name:  "chat_history",
		ID:    func(rec domain.ChatRecord) int64 { return rec.ID },
		SetID: func(rec domain.ChatRecord, id int64) domain.ChatRecord { rec.ID = id; return rec },
		NewID: func() int64 { return seq.Add(1) },
	}
}

// Append stores one exchange, stamping the creation time.
func (r *ChatHistoryRepository) Append(ctx context.Context, rec domain.ChatRecord) (domain.ChatRecord, error) {
	rec.CreatedAt = time.Now().UTC()
	return r.repo.Create(ctx, rec)
}

// ListByUser returns the user's exchanges in insertion order.
func (r *ChatHistoryRepository) ListByUser(ctx context.Context, userID int64, skip, limit int) ([]domain.ChatRecord, error) {
	return r.repo.GetMulti(ctx, skip, limit, Filters{"user_id": userID})
}
