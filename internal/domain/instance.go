package domain

import (
	"reflect"
	"time"

	"github.com/google/uuid"
)

// Instance is a single persisted entity of a declaratively modeled type.
// The fixed columns (id, created, updated) live on the struct; every declared
// field lives in Fields under its model field name. Eagerly loaded relations
// are stored in Fields as *Instance or []*Instance.
type Instance struct {
	ID      uuid.UUID
	Created time.Time
	Updated time.Time
	Fields  map[string]any
}

// NewInstance creates an instance with a fresh id and created == updated == now.
func NewInstance(now time.Time) *Instance {
	return &Instance{
		ID:      uuid.New(),
		Created: now,
		Updated: now,
		Fields:  map[string]any{},
	}
}

// Get returns the value of a declared field.
func (i *Instance) Get(field string) (any, bool) {
	v, ok := i.Fields[field]
	return v, ok
}

// Set writes a declared field value and reports whether the stored value
// actually changed.
func (i *Instance) Set(field string, value any) bool {
	if i.Fields == nil {
		i.Fields = map[string]any{}
	}
	old, ok := i.Fields[field]
	if ok && valuesEqual(old, value) {
		return false
	}
	i.Fields[field] = value
	return true
}

// IsEmpty reports whether a field is absent, nil, or an empty string.
// Used to decide whether an id-sequence slot still needs assignment.
func (i *Instance) IsEmpty(field string) bool {
	v, ok := i.Fields[field]
	if !ok || v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

// valuesEqual compares scalar field values. UUIDs compare equal to their
// canonical string form so join fields match regardless of how they were
// scanned. Uncomparable values (slices, maps) never compare equal.
func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if s := uuidString(a); s != "" {
		return s == uuidString(b)
	}
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}

// uuidString normalizes a value that may hold a uuid.
func uuidString(v any) string {
	switch t := v.(type) {
	case uuid.UUID:
		return t.String()
	case string:
		if u, err := uuid.Parse(t); err == nil {
			return u.String()
		}
	case [16]byte:
		return uuid.UUID(t).String()
	}
	return ""
}

// SameID reports whether a field value identifies the given uuid.
func SameID(v any, id uuid.UUID) bool {
	return uuidString(v) == id.String()
}
