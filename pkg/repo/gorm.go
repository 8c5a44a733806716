package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// migrateLockID keys the Postgres advisory lock held during auto-migration
// so multiple instances can start concurrently.
const migrateLockID int64 = 0x6463615f6d696772 // "dca_migr"

// OpenPostgres opens the database and runs auto-migrations for the
// relational models under an advisory lock.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:         gormLog,
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &ChatHistoryModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return db, nil
}

func withMigrationLock(db *gorm.DB, fn func(tx *gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("unwrap sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// GormRepository implements Repository on a relational table. Filter and
// field keys are the snake_case column names produced by GORM's naming
// strategy, which match the models' JSON tags.
type GormRepository[T any, ID comparable] struct {
	db     *gorm.DB
	fields map[string]struct{}
}

// NewGormRepository builds a relational repository for the model type T.
func NewGormRepository[T any, ID comparable](db *gorm.DB) *GormRepository[T, ID] {
	return &GormRepository[T, ID]{
		db:     db,
		fields: entityFields[T](),
	}
}

func (r *GormRepository[T, ID]) Create(ctx context.Context, record T) (T, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(&record).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		var zero T
		return zero, ErrDuplicateKey
	}
	if err != nil {
		var zero T
		return zero, err
	}
	return record, nil
}

func (r *GormRepository[T, ID]) Get(ctx context.Context, id ID) (T, bool, error) {
	var record T
	err := r.db.WithContext(ctx).First(&record, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		var zero T
		return zero, false, nil
	}
	if err != nil {
		var zero T
		return zero, false, err
	}
	return record, true, nil
}

func (r *GormRepository[T, ID]) GetMulti(ctx context.Context, skip, limit int, filters Filters) ([]T, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	records := make([]T, 0)
	q := r.db.WithContext(ctx).Order("id ASC").Offset(skip).Limit(limit)
	if conds := sanitize(r.fields, filters); len(conds) > 0 {
		q = q.Where(map[string]any(conds))
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *GormRepository[T, ID]) Update(ctx context.Context, id ID, fields Fields) (T, bool, error) {
	var updated T
	found := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var record T
		err := tx.First(&record, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		conds := sanitize(r.fields, fields)
		// Primary keys are immutable through Update.
		delete(conds, "id")
		if len(conds) > 0 {
			if err := tx.Model(&record).Updates(map[string]any(conds)).Error; err != nil {
				return err
			}
		}
		if err := tx.First(&updated, "id = ?", id).Error; err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		var zero T
		return zero, false, err
	}
	return updated, found, nil
}

func (r *GormRepository[T, ID]) Delete(ctx context.Context, id ID) (bool, error) {
	var record T
	res := r.db.WithContext(ctx).Delete(&record, "id = ?", id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *GormRepository[T, ID]) Exists(ctx context.Context, filters Filters) (bool, error) {
	var record T
	var count int64
	q := r.db.WithContext(ctx).Model(&record)
	if conds := sanitize(r.fields, filters); len(conds) > 0 {
		q = q.Where(map[string]any(conds))
	}
	if err := q.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *GormRepository[T, ID]) FilterOne(ctx context.Context, filters Filters) (T, bool, error) {
	var zero T
	records, err := r.GetMulti(ctx, 0, 1, filters)
	if err != nil {
		return zero, false, err
	}
	if len(records) == 0 {
		return zero, false, nil
	}
	return records[0], true, nil
}
