package store

import (
	"database/sql/driver"
	"fmt"

	"github.com/google/uuid"
)

// UUID wraps google/uuid for transparent BLOB storage in SQLite.
// Implements sql.Scanner and driver.Valuer: 16-byte BLOB instead of 36-byte
// TEXT keeps primary key indexes small.
type UUID struct {
	uuid.UUID
}

// NewUUID generates a UUIDv7. V7 IDs are timestamp-ordered, so B-tree
// inserts stay sequential.
func NewUUID() UUID {
	return UUID{UUID: uuid.Must(uuid.NewV7())}
}

// ParseUUID parses a textual UUID.
func ParseUUID(s string) (UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return UUID{}, err
	}
	return UUID{UUID: id}, nil
}

func (u UUID) IsZero() bool { return u.UUID == uuid.Nil }

func (u UUID) Bytes() []byte { return u.UUID[:] }

// Value stores the UUID as a 16-byte BLOB, NULL when zero.
func (u UUID) Value() (driver.Value, error) {
	if u.IsZero() {
		return nil, nil
	}
	return u.Bytes(), nil
}

// Scan accepts 16-byte BLOBs and 36-byte text forms.
func (u *UUID) Scan(src any) error {
	if src == nil {
		u.UUID = uuid.Nil
		return nil
	}
	switch v := src.(type) {
	case []byte:
		switch len(v) {
		case 16:
			id, err := uuid.FromBytes(v)
			if err != nil {
				return fmt.Errorf("invalid UUID bytes: %w", err)
			}
			u.UUID = id
			return nil
		case 36:
			id, err := uuid.Parse(string(v))
			if err != nil {
				return fmt.Errorf("invalid UUID string: %w", err)
			}
			u.UUID = id
			return nil
		}
		return fmt.Errorf("invalid UUID bytes length: %d", len(v))
	case string:
		id, err := uuid.Parse(v)
		if err != nil {
			return fmt.Errorf("invalid UUID string: %w", err)
		}
		u.UUID = id
		return nil
	}
	return fmt.Errorf("unsupported UUID source type: %T", src)
}
