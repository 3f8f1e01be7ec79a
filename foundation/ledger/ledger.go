// Package ledger defines the data shared by every implementation of the
// carving ledger: the entries stored under 32 byte ids and the create and
// delete events the ledger emits for them.
package ledger

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ErrNotFound is returned when the ledger holds no entry for an id.
var ErrNotFound = errors.New("carving not found")

// ErrRejected is returned when the ledger refuses a write, most commonly
// because the id is already used.
var ErrRejected = errors.New("ledger rejected the write")

// PropertiesLength is the width of the properties field in bytes.
const PropertiesLength = 31

// =============================================================================

// ID identifies a carving on the ledger.
type ID = common.Hash

// ToID parses a 64 character hex string, with or without the 0x prefix,
// into an ID.
func ToID(s string) (ID, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != 2*common.HashLength {
		return ID{}, errors.New("invalid carving id length")
	}

	b, err := hex.DecodeString(s)
	if err != nil {
		return ID{}, fmt.Errorf("carving id is not valid hex: %w", err)
	}

	return common.BytesToHash(b), nil
}

// =============================================================================

// Properties encodes the display flags of a carving.
type Properties [PropertiesLength]byte

// ToProperties converts arbitrary bytes into Properties. Short input is
// left-padded with zeros, long input keeps its last 31 bytes.
func ToProperties(b []byte) Properties {
	var p Properties
	if len(b) > PropertiesLength {
		b = b[len(b)-PropertiesLength:]
	}
	copy(p[PropertiesLength-len(b):], b)
	return p
}

// ParseProperties decodes a hex string into Properties. An empty string
// yields the zero value.
func ParseProperties(s string) (Properties, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return Properties{}, nil
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}

	b, err := hex.DecodeString(s)
	if err != nil {
		return Properties{}, fmt.Errorf("properties are not valid hex: %w", err)
	}

	return ToProperties(b), nil
}

// Hex returns the 0x prefixed hex form of the properties.
func (p Properties) Hex() string {
	return hexutil.Encode(p[:])
}

// =============================================================================

// Entry is a carving as stored on the ledger.
type Entry struct {
	ID         ID
	To         string
	From       string
	Message    string
	Properties Properties
}

// EventKind is the kind of event recorded in the ledger log.
type EventKind int

// Set of event kinds the ledger emits.
const (
	Created EventKind = iota + 1
	Deleted
)

// String implements the fmt.Stringer interface.
func (k EventKind) String() string {
	switch k {
	case Created:
		return "created"
	case Deleted:
		return "deleted"
	}
	return "unknown"
}

// Event is a single create or delete record from the ledger log. Content
// fields are only populated for Created events.
type Event struct {
	Kind        EventKind
	Entry       Entry
	TxRef       string
	BlockNumber uint64
	LogIndex    uint
}
