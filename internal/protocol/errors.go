package protocol

import "errors"

// Sentinel errors for packet decoding, encoding and session state.
var (
	// ErrLengthMismatch indicates the size field disagrees with the bytes received.
	ErrLengthMismatch = errors.New("packet length mismatch")

	// ErrNullTerminatorMissing indicates the payload terminator or pad byte is absent.
	ErrNullTerminatorMissing = errors.New("missing null terminator")

	// ErrInvalidPacketType indicates a type field outside the defined set,
	// or a packet type that is not allowed in the current state.
	ErrInvalidPacketType = errors.New("invalid packet type")

	// ErrPacketTooLong indicates an encoded packet would exceed MaxPacketSize.
	ErrPacketTooLong = errors.New("packet too long")

	// ErrNullInPayload indicates a payload containing 0x00, which would be
	// read back as the terminator.
	ErrNullInPayload = errors.New("payload contains a null byte")

	// ErrNotAuthenticated indicates a command on a session that has not authenticated.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrEmptyPacketPayload indicates an ExecCommand packet without a command.
	ErrEmptyPacketPayload = errors.New("empty packet payload")
)
