package repo

import "context"

// MappedRepository adapts a repository of storage models M into a
// repository of domain values T. Filter and field names pass through
// unchanged; models and domain types share the same snake_case vocabulary.
type MappedRepository[M any, T any, ID comparable] struct {
	inner    Repository[M, ID]
	toDomain func(M) T
	toModel  func(T) M
}

// NewMappedRepository wires a model-level repository behind the two
// conversion functions.
func NewMappedRepository[M any, T any, ID comparable](
	inner Repository[M, ID],
	toDomain func(M) T,
	toModel func(T) M,
) *MappedRepository[M, T, ID] {
	return &MappedRepository[M, T, ID]{inner: inner, toDomain: toDomain, toModel: toModel}
}

func (r *MappedRepository[M, T, ID]) Create(ctx context.Context, record T) (T, error) {
	created, err := r.inner.Create(ctx, r.toModel(record))
	if err != nil {
		var zero T
		return zero, err
	}
	return r.toDomain(created), nil
}

func (r *MappedRepository[M, T, ID]) Get(ctx context.Context, id ID) (T, bool, error) {
	model, ok, err := r.inner.Get(ctx, id)
	if err != nil || !ok {
		var zero T
		return zero, ok, err
	}
	return r.toDomain(model), true, nil
}

func (r *MappedRepository[M, T, ID]) GetMulti(ctx context.Context, skip, limit int, filters Filters) ([]T, error) {
	models, err := r.inner.GetMulti(ctx, skip, limit, filters)
	if err != nil {
		return nil, err
	}
	res := make([]T, 0, len(models))
	for _, m := range models {
		res = append(res, r.toDomain(m))
	}
	return res, nil
}

func (r *MappedRepository[M, T, ID]) Update(ctx context.Context, id ID, fields Fields) (T, bool, error) {
	model, ok, err := r.inner.Update(ctx, id, fields)
	if err != nil || !ok {
		var zero T
		return zero, ok, err
	}
	return r.toDomain(model), true, nil
}

func (r *MappedRepository[M, T, ID]) Delete(ctx context.Context, id ID) (bool, error) {
	return r.inner.Delete(ctx, id)
}

func (r *MappedRepository[M, T, ID]) Exists(ctx context.Context, filters Filters) (bool, error) {
	return r.inner.Exists(ctx, filters)
}

func (r *MappedRepository[M, T, ID]) FilterOne(ctx context.Context, filters Filters) (T, bool, error) {
	model, ok, err := r.inner.FilterOne(ctx, filters)
	if err != nil || !ok {
		var zero T
		return zero, ok, err
	}
	return r.toDomain(model), true, nil
}
