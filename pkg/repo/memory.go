package repo

import (
	"context"
	"sync"
)

// MemoryRepository keeps records in-process. It backs the shared contract
// tests and the service tests; production wiring uses the Postgres and Redis
// implementations.
type MemoryRepository[T any, ID comparable] struct {
	entity Entity[T, ID]
	fields map[string]struct{}

	mu      sync.RWMutex
	records map[ID]T
	order   []ID
}

// NewMemoryRepository initializes an empty in-memory repository.
func NewMemoryRepository[T any, ID comparable](entity Entity[T, ID]) *MemoryRepository[T, ID] {
	return &MemoryRepository[T, ID]{
		entity:  entity,
		fields:  entityFields[T](),
		records: make(map[ID]T),
	}
}

func (m *MemoryRepository[T, ID]) Create(_ context.Context, record T) (T, error) {
	var zero T
	record = m.entity.assignID(record)
	id := m.entity.ID(record)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.records[id]; exists {
		return zero, ErrDuplicateKey
	}
	doc := toDocument(record)
	for _, field := range m.entity.Unique {
		for _, existingID := range m.order {
			existing := toDocument(m.records[existingID])
			if equalValues(existing[field], doc[field]) {
				return zero, ErrDuplicateKey
			}
		}
	}
	m.records[id] = record
	m.order = append(m.order, id)
	return record, nil
}

func (m *MemoryRepository[T, ID]) Get(_ context.Context, id ID) (T, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.records[id]
	return record, ok, nil
}

func (m *MemoryRepository[T, ID]) GetMulti(_ context.Context, skip, limit int, filters Filters) ([]T, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	conds := sanitize(m.fields, filters)

	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]T, 0)
	matched := 0
	for _, id := range m.order {
		record, ok := m.records[id]
		if !ok || !matchDocument(toDocument(record), conds) {
			continue
		}
		matched++
		if matched <= skip {
			continue
		}
		res = append(res, record)
		if len(res) == limit {
			break
		}
	}
	return res, nil
}

func (m *MemoryRepository[T, ID]) Update(_ context.Context, id ID, fields Fields) (T, bool, error) {
	var zero T
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.records[id]
	if !ok {
		return zero, false, nil
	}
	updated, err := applyFields(record, sanitize(m.fields, fields))
	if err != nil {
		return zero, false, err
	}
	// The stored key stays authoritative; a field update cannot move a record.
	updated = m.entity.SetID(updated, id)
	m.records[id] = updated
	return updated, true, nil
}

func (m *MemoryRepository[T, ID]) Delete(_ context.Context, id ID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return false, nil
	}
	delete(m.records, id)
	filtered := m.order[:0]
	for _, item := range m.order {
		if item != id {
			filtered = append(filtered, item)
		}
	}
	m.order = filtered
	return true, nil
}

func (m *MemoryRepository[T, ID]) Exists(ctx context.Context, filters Filters) (bool, error) {
	records, err := m.GetMulti(ctx, 0, 1, filters)
	if err != nil {
		return false, err
	}
	return len(records) > 0, nil
}

func (m *MemoryRepository[T, ID]) FilterOne(ctx context.Context, filters Filters) (T, bool, error) {
	var zero T
	records, err := m.GetMulti(ctx, 0, 1, filters)
	if err != nil {
		return zero, false, err
	}
	if len(records) == 0 {
		return zero, false, nil
	}
	return records[0], true, nil
}
