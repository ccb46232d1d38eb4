package codec

import (
	"errors"
	"fmt"
)

// WriteMode selects how a value write is acknowledged by the peripheral.
type WriteMode string

const (
	// WriteRequest is an acknowledged ATT write request.
	WriteRequest WriteMode = "request"
	// WriteCommand is an unacknowledged ATT write command.
	WriteCommand WriteMode = "command"
)

// Option keys understood by ReadValue/WriteValue.
const (
	OptionOffset = "offset"
	OptionType   = "type"

	// PropertyValue is the property carrying a characteristic value in change notifications.
	PropertyValue = "Value"
)

// Expected signatures.
const (
	SigReadArgs   = "(a{sv})"
	SigWriteArgs  = "(aya{sv})"
	SigByteReply  = "(ay)"
	SigEmptyReply = "()"
	SigProperties = "a{sv}"
	SigByteArray  = "ay"
)

// Payloads named in MismatchError.What by DecodeChangeNotification.
const (
	WhatChangedProperties = "changed properties"
	WhatChangedValue      = "changed Value"
)

// MismatchError reports a payload whose signature differs from the one a decoder requires.
type MismatchError struct {
	What     string
	Expected string
	Actual   string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s: expected signature %q, got %q", e.What, e.Expected, e.Actual)
}

// IsMismatch reports whether err is or wraps a *MismatchError.
func IsMismatch(err error) bool {
	var m *MismatchError
	return errors.As(err, &m)
}

// EncodeReadArgs builds the ReadValue argument tuple: a single options dictionary.
func EncodeReadArgs(offset uint16) Tuple {
	return Tuple{NewDict(Pair{OptionOffset, Uint16(offset)})}
}

// EncodeWriteArgs builds the WriteValue argument tuple: the bytes and an options
// dictionary with offset 0 and the write type.
func EncodeWriteArgs(data []byte, mode WriteMode) Tuple {
	b := make(Bytes, len(data))
	copy(b, data)
	return Tuple{
		b,
		NewDict(
			Pair{OptionOffset, Uint16(0)},
			Pair{OptionType, String(mode)},
		),
	}
}

// DecodeWriteArgs is the inverse of EncodeWriteArgs.
func DecodeWriteArgs(t Tuple) ([]byte, WriteMode, error) {
	if sig := t.Signature(); sig != SigWriteArgs {
		return nil, "", &MismatchError{What: "write arguments", Expected: SigWriteArgs, Actual: sig}
	}
	data, okData := t[0].(Bytes)
	opts, okOpts := t[1].(*Dict)
	if !okData || !okOpts {
		return nil, "", &MismatchError{What: "write arguments", Expected: SigWriteArgs, Actual: "opaque"}
	}

	mode := WriteRequest
	if v, ok := opts.Get(OptionType); ok {
		s, ok := v.(String)
		if !ok {
			return nil, "", &MismatchError{What: "write type option", Expected: "s", Actual: v.Signature()}
		}
		mode = WriteMode(s)
	}

	out := make([]byte, len(data))
	copy(out, data)
	return out, mode, nil
}

// DecodeByteArrayReply extracts the bytes from a "(ay)" reply. The returned
// slice is never nil; on mismatch it is empty.
func DecodeByteArrayReply(t Tuple) ([]byte, error) {
	if sig := t.Signature(); sig != SigByteReply {
		return []byte{}, &MismatchError{What: "byte array reply", Expected: SigByteReply, Actual: sig}
	}
	b, ok := t[0].(Bytes)
	if !ok {
		return []byte{}, &MismatchError{What: "byte array reply", Expected: SigByteReply, Actual: "opaque"}
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// DecodeEmptyReply checks that a reply carries no fields.
func DecodeEmptyReply(t Tuple) error {
	if sig := t.Signature(); sig != SigEmptyReply {
		return &MismatchError{What: "empty reply", Expected: SigEmptyReply, Actual: sig}
	}
	return nil
}

// DecodeChangeNotification looks for a new characteristic value in a changed-properties
// dictionary. ok is false, with a nil error, when the change does not touch Value.
func DecodeChangeNotification(v Value) (data []byte, ok bool, err error) {
	changed, isDict := v.(*Dict)
	if !isDict || changed == nil {
		return nil, false, &MismatchError{What: WhatChangedProperties, Expected: SigProperties, Actual: signatureOrNil(v)}
	}

	raw, present := changed.Get(PropertyValue)
	if !present {
		return nil, false, nil
	}

	b, isBytes := raw.(Bytes)
	if !isBytes {
		return nil, false, &MismatchError{What: WhatChangedValue, Expected: SigByteArray, Actual: signatureOrNil(raw)}
	}

	out := make([]byte, len(b))
	copy(out, b)
	return out, true, nil
}

func signatureOrNil(v Value) string {
	if v == nil {
		return "?"
	}
	return v.Signature()
}
