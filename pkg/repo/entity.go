package repo

import "reflect"

// Entity describes how the document and memory implementations identify
// records of a type: the collection name, id accessors, and an optional id
// generator applied when a record arrives with the zero id. Unique lists
// fields enforced as unique by implementations without native constraints.
type Entity[T any, ID comparable] struct {
	Name   string
	ID     func(T) ID
	SetID  func(T, ID) T
	NewID  func() ID
	Unique []string
}

func (e Entity[T, ID]) assignID(record T) T {
	var zero ID
	if e.NewID == nil || e.ID(record) != zero {
		return record
	}
	return e.SetID(record, e.NewID())
}

func entityFields[T any]() map[string]struct{} {
	var zero T
	return fieldNames(reflect.TypeOf(zero))
}
