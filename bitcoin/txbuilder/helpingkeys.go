// Copyright (C) 2024 Creditor Corp. Group.
// See LICENSE for copying information.

package txbuilder

import (
	"errors"
)

// ErrUnknownSchemaTag defines that schema tag is unknown.
var ErrUnknownSchemaTag = errors.New("unknown schema tag")

// SchemaTag defines type for additional data in PSBT Unknowns field
// to distinguish input schemas and their indexes.
type SchemaTag byte

const (
	// P2WPKHTag defines key for segwit v0 key hash inputs.
	P2WPKHTag SchemaTag = 0x10
	// P2WSHTag defines key for segwit v0 script hash (multisig) inputs.
	P2WSHTag SchemaTag = 0x11
	// P2TRKeyPathTag defines key for taproot key path inputs.
	P2TRKeyPathTag SchemaTag = 0x12
	// P2TRScriptPathTag defines key for taproot script path inputs.
	P2TRScriptPathTag SchemaTag = 0x13
)

// SchemaTagFromBytes parses bytes array into SchemaTag if any.
func SchemaTagFromBytes(b []byte) (SchemaTag, error) {
	if len(b) != 1 {
		return 0, ErrUnknownSchemaTag
	}

	switch tag := SchemaTag(b[0]); tag {
	case P2WPKHTag, P2WSHTag, P2TRKeyPathTag, P2TRScriptPathTag:
		return tag, nil
	}

	return 0, ErrUnknownSchemaTag
}

// Byte returns SchemaTag as byte.
func (t SchemaTag) Byte() byte {
	return byte(t)
}

// Bytes returns SchemaTag as bytes array.
func (t SchemaTag) Bytes() []byte {
	return []byte{byte(t)}
}

// String returns schema name.
func (t SchemaTag) String() string {
	switch t {
	case P2WPKHTag:
		return P2WPKH
	case P2WSHTag:
		return P2WSH
	case P2TRKeyPathTag:
		return "P2TR-key"
	case P2TRScriptPathTag:
		return "P2TR-script"
	}

	return "unknown"
}
