package core

import (
	"database/sql/driver"
	"fmt"

	"github.com/segmentio/ksuid"
)

// ID is an opaque, sortable, globally unique identifier for persisted entities.
type ID string

// NewID generates a fresh ID.
func NewID() ID {
	return ID(ksuid.New().String())
}

// MustNewID generates a fresh ID, panicking if the underlying generator fails.
// ksuid.New() never errors; this exists to mirror call sites that expect a
// panicking constructor alongside the fallible ParseID.
func MustNewID() ID {
	return NewID()
}

// ParseID validates and wraps an externally supplied identifier string.
func ParseID(s string) (ID, error) {
	if s == "" {
		return "", fmt.Errorf("core: empty id")
	}
	if _, err := ksuid.Parse(s); err != nil {
		return "", fmt.Errorf("core: invalid id %q: %w", s, err)
	}
	return ID(s), nil
}

// String implements fmt.Stringer.
func (id ID) String() string {
	return string(id)
}

// IsZero reports whether the ID is unset.
func (id ID) IsZero() bool {
	return id == ""
}

// Value implements driver.Valuer for direct use as a pgx query argument.
func (id ID) Value() (driver.Value, error) {
	if id.IsZero() {
		return nil, nil
	}
	return string(id), nil
}

// Scan implements sql.Scanner.
func (id *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*id = ""
		return nil
	case string:
		*id = ID(v)
		return nil
	case []byte:
		*id = ID(v)
		return nil
	default:
		return fmt.Errorf("core: cannot scan %T into ID", src)
	}
}
