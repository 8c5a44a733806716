package repo

import (
	"context"
	"sync/atomic"
	"time"

	"gorm.io/gorm"

	"github.com/umutdz/dca/pkg/domain"
)

// UserRepository is the typed access layer for user records.
type UserRepository struct {
	repo Repository[domain.User, int64]
}

// NewUserRepository wraps any user repository implementation.
func NewUserRepository(repo Repository[domain.User, int64]) *UserRepository {
	return &UserRepository{repo: repo}
}

// NewPostgresUserRepository builds the production user repository on the
// relational store.
func NewPostgresUserRepository(db *gorm.DB) *UserRepository {
	inner := NewGormRepository[UserModel, int64](db)
	return NewUserRepository(NewMappedRepository(inner, userFromModel, userToModel))
}

// UsersEntity describes user records for the document and in-memory
// implementations. IDs are assigned from a per-entity counter.
func UsersEntity() Entity[domain.User, int64] {
	var seq atomic.Int64
	return Entity[domain.User, int64]{
		Name:   "users",
		ID:     func(u domain.User) int64 { return u.ID },
		SetID:  func(u domain.User, id int64) domain.User { u.ID = id; return u },
		NewID:  func() int64 { return seq.Add(1) },
		Unique: []string{"email"},
	}
}

// Create stores a new user, stamping creation and update times.
func (r *UserRepository) Create(ctx context.Context, user domain.User) (domain.User, error) {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	return r.repo.Create(ctx, user)
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (domain.User, bool, error) {
	return r.repo.Get(ctx, id)
}

func (r *UserRepository) GetByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	return r.repo.FilterOne(ctx, Filters{"email": email})
}

func (r *UserRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	return r.repo.Exists(ctx, Filters{"email": email})
}

// UpdatePassword replaces the stored hash for the user.
func (r *UserRepository) UpdatePassword(ctx context.Context, id int64, hash string) (bool, error) {
	_, ok, err := r.repo.Update(ctx, id, Fields{
		"password":   hash,
		"updated_at": time.Now().UTC(),
	})
	return ok, err
}
