// Package id defines the TypeID identifiers of Wallet records.
//
// Transactions, grants and prices share one ID type. The prefix names the
// record kind ("txn", "grant", "price"); the suffix is a UUIDv7, so IDs of
// the same kind sort by creation time.
package id

import (
	"database/sql/driver"
	"errors"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the record kind encoded in an ID.
type Prefix string

const (
	PrefixTransaction Prefix = "txn"
	PrefixGrant       Prefix = "grant"
	PrefixPrice       Prefix = "price"
)

// ErrPrefixMismatch is returned when a parsed ID belongs to another kind.
var ErrPrefixMismatch = errors.New("id: prefix mismatch")

// ID wraps a TypeID. The zero value is Nil and renders as "".
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero-value ID.
var Nil ID

// Kind-specific names keep signatures self-describing.
type (
	TransactionID = ID
	GrantID       = ID
	PriceID       = ID
)

// New generates an ID with the given prefix. It panics on a malformed
// prefix, which only happens with a programming error.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}
	return ID{inner: tid, valid: true}
}

func NewTransactionID() TransactionID { return New(PrefixTransaction) }
func NewGrantID() GrantID             { return New(PrefixGrant) }
func NewPriceID() PriceID             { return New(PrefixPrice) }

// Parse parses any TypeID string, such as "txn_01h2xcejqtf2nbrexx3vqjhp41".
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, errors.New("id: parse: empty string")
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses s and checks that it carries the expected prefix.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if got := parsed.Prefix(); got != expected {
		return Nil, fmt.Errorf("%w: want %q, got %q", ErrPrefixMismatch, expected, got)
	}
	return parsed, nil
}

func ParseTransactionID(s string) (TransactionID, error) {
	return ParseWithPrefix(s, PrefixTransaction)
}

func ParseGrantID(s string) (GrantID, error) { return ParseWithPrefix(s, PrefixGrant) }

func ParsePriceID(s string) (PriceID, error) { return ParseWithPrefix(s, PrefixPrice) }

// String returns "prefix_suffix", or "" for Nil.
func (i ID) String() string {
	if !i.valid {
		return ""
	}
	return i.inner.String()
}

// Prefix returns the record kind of the ID.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}
	return Prefix(i.inner.Prefix())
}

// IsNil reports whether i is the zero value.
func (i ID) IsNil() bool { return !i.valid }

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	return []byte(i.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input yields Nil.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Value implements driver.Valuer. Nil is stored as NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // NULL
	}
	return i.inner.String(), nil
}

// Scan implements sql.Scanner for TEXT columns.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}
