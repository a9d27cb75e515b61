// Package document defines the raw document model shared by the client store,
// the local replica and the remote endpoint: a schemaless JSON document with
// reserved identity/revision/soft-delete fields, plus the query shape used
// for selector-based lookups.
package document

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Reserved field names. Any field ending in the "At" suffix is treated as
// temporal and is (de)serialized between RFC3339 strings and time.Time.
const (
	FieldID        = "id"
	FieldRev       = "rev"
	FieldType      = "type"
	FieldVersion   = "version"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
	FieldDeletedAt = "deletedAt"

	timeSuffix = "At"
)

// Document is one schemaless document. Values are JSON-compatible, except
// that temporal fields may hold time.Time after normalization.
type Document map[string]any

// NewID returns a fresh globally unique document id.
func NewID() string { return uuid.NewString() }

// NewRev returns an opaque revision token for the given version. The version
// prefix is informational only; tokens must be compared as opaque strings.
func NewRev(version int64) string {
	return strconv.FormatInt(version, 10) + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// ID returns the document id, or "" if unset.
func (d Document) ID() string {
	s, _ := d[FieldID].(string)
	return s
}

// Rev returns the revision token, or "" if the document was never written.
func (d Document) Rev() string {
	s, _ := d[FieldRev].(string)
	return s
}

// Type returns the type discriminator, or "".
func (d Document) Type() string {
	s, _ := d[FieldType].(string)
	return s
}

// Version returns the write counter, tolerating the numeric types JSON
// decoding may produce.
func (d Document) Version() int64 {
	switch v := d[FieldVersion].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// Deleted reports whether the document carries a soft-delete marker.
func (d Document) Deleted() bool {
	v, ok := d[FieldDeletedAt]
	return ok && v != nil
}

// Clone returns a copy of the document. Nested maps and slices are copied one
// level deep, which is sufficient for selector values and metadata fields.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		switch t := v.(type) {
		case map[string]any:
			m := make(map[string]any, len(t))
			for mk, mv := range t {
				m[mk] = mv
			}
			out[k] = m
		case []any:
			s := make([]any, len(t))
			copy(s, t)
			out[k] = s
		default:
			out[k] = v
		}
	}
	return out
}

// NormalizeTimes converts every "*At" field holding an RFC3339 string into a
// time.Time, in place, and returns the document. Unparseable values are left
// untouched.
func (d Document) NormalizeTimes() Document {
	for k, v := range d {
		if !strings.HasSuffix(k, timeSuffix) {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			d[k] = t
		}
	}
	return d
}

// StripNils removes nil-valued fields in place and returns the document. The
// underlying stores do not tolerate undefined values.
func (d Document) StripNils() Document {
	for k, v := range d {
		if v == nil {
			delete(d, k)
		}
	}
	return d
}
