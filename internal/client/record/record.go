// Package record defines the typed entity layer over the document store:
// the Meta block every record embeds (identity, revision, soft-delete and
// versioning fields plus dirty tracking) and the Collection facade binding a
// record type to one Store.
package record

import (
	"bytes"
	"time"
)

// Meta carries the store-managed fields of a record. Embed it in concrete
// record structs:
//
//	type Tenant struct {
//	    record.Meta
//	    Name string `json:"name"`
//	}
//
// ID is immutable once assigned. Rev is the opaque optimistic-concurrency
// token replaced on every successful save. Version is informational and
// increments per save starting at 0. DeletedAt marks a soft delete.
type Meta struct {
	ID        string     `json:"id,omitempty"`
	Rev       string     `json:"rev,omitempty"`
	Type      string     `json:"type,omitempty"`
	Version   int64      `json:"version"`
	CreatedAt time.Time  `json:"createdAt,omitzero"`
	UpdatedAt time.Time  `json:"updatedAt,omitzero"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`

	// clean is the serialized snapshot of the record at its last load or
	// save; it drives dirty tracking and is never persisted.
	clean []byte
}

// Metadata returns the embedded metadata block; it makes any embedding
// struct satisfy Entity. The accessor is not named Meta because the promoted
// field of an embedding struct would shadow a method of that name.
func (m *Meta) Metadata() *Meta { return m }

// IsDeleted reports whether the record carries a soft-delete marker.
func (m *Meta) IsDeleted() bool { return m.DeletedAt != nil }

// isDirty compares the current serialization against the clean snapshot. A
// never-saved record is always dirty.
func (m *Meta) isDirty(current []byte) bool {
	if m.Rev == "" {
		return true
	}
	return !bytes.Equal(m.clean, current)
}

func (m *Meta) markClean(snapshot []byte) {
	m.clean = snapshot
}

// Entity is the contract a record type fulfills. Validate is invoked before
// every save; implementations report failures as common.ValidationErrors
// naming each invalid field.
type Entity interface {
	Metadata() *Meta
	Validate() error
}
