// Package protocol implements the wire format shared by the chat server,
// the chat client, and the discovery beacons. TCP and UDP use the same
// single-byte opcodes on the same port; all integers are little-endian and
// all strings travel as UTF-16LE without a BOM.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"strings"

	"golang.org/x/text/encoding/unicode"
)

// DefaultPort is the well-known TCP and UDP port for the protocol.
const DefaultPort = 43993

// Opcodes. The first byte of every TCP frame and UDP datagram.
const (
	OpServerInfoRequest byte = 1 // UDP, client → broadcast, no payload
	OpServerInfo        byte = 2 // UDP, server → broadcast, 16-byte payload
	OpSay               byte = 3 // TCP, client → server
	OpSetName           byte = 4 // TCP, client → server
	OpSayDispatch       byte = 5 // TCP, server → client
)

// Wire-protocol limits.
const (
	// MaxNameBytes is the maximum UTF-16LE encoded length of a display
	// name; the length prefix is a single octet.
	MaxNameBytes = 255
	// MaxMessageBytes is the maximum UTF-16LE encoded length of a chat
	// message; the length prefix is a 16-bit unsigned.
	MaxMessageBytes = 65535
	// BeaconSize is the exact size of a SERVER_INFO datagram:
	// opcode ‖ age:u32 ‖ uid:u64 ‖ crc32:u32.
	BeaconSize = 17
)

// ErrInvalidArgument is wrapped by every validation failure: empty after
// trimming, or encoded length over the protocol limit.
var ErrInvalidArgument = errors.New("invalid argument")

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// EncodeString converts s to UTF-16LE wire bytes.
func EncodeString(s string) ([]byte, error) {
	b, err := utf16le.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil, fmt.Errorf("encode utf-16le: %w", err)
	}
	return b, nil
}

// DecodeString converts UTF-16LE wire bytes back to a string.
func DecodeString(b []byte) (string, error) {
	out, err := utf16le.NewDecoder().Bytes(b)
	if err != nil {
		return "", fmt.Errorf("decode utf-16le: %w", err)
	}
	return string(out), nil
}

// ValidateName trims s and returns the trimmed name together with its
// UTF-16LE encoding. Empty names and names over MaxNameBytes are rejected.
func ValidateName(s string) (string, []byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil, fmt.Errorf("%w: name is empty", ErrInvalidArgument)
	}
	b, err := EncodeString(s)
	if err != nil {
		return "", nil, err
	}
	if len(b) > MaxNameBytes {
		return "", nil, fmt.Errorf("%w: name exceeds %d encoded bytes", ErrInvalidArgument, MaxNameBytes)
	}
	return s, b, nil
}

// ValidateMessage trims s and returns the trimmed message together with its
// UTF-16LE encoding. Empty messages and messages over MaxMessageBytes are
// rejected.
func ValidateMessage(s string) (string, []byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil, fmt.Errorf("%w: message is empty", ErrInvalidArgument)
	}
	b, err := EncodeString(s)
	if err != nil {
		return "", nil, err
	}
	if len(b) > MaxMessageBytes {
		return "", nil, fmt.Errorf("%w: message exceeds %d encoded bytes", ErrInvalidArgument, MaxMessageBytes)
	}
	return s, b, nil
}

// Beacon is the payload of a SERVER_INFO datagram: how long the advertising
// server has been alive, and its random identity.
type Beacon struct {
	Age uint32 // whole seconds since server creation
	UID uint64 // random, fixed for the server's lifetime
}

// EncodeBeacon renders b as a 17-byte SERVER_INFO datagram. The CRC-32
// (IEEE polynomial) covers the 12 bytes of age ‖ uid.
func EncodeBeacon(b Beacon) []byte {
	buf := make([]byte, BeaconSize)
	buf[0] = OpServerInfo
	binary.LittleEndian.PutUint32(buf[1:5], b.Age)
	binary.LittleEndian.PutUint64(buf[5:13], b.UID)
	binary.LittleEndian.PutUint32(buf[13:17], crc32.ChecksumIEEE(buf[1:13]))
	return buf
}

// DecodeBeacon parses a SERVER_INFO datagram. Wrong length, wrong opcode,
// or a CRC mismatch reports ok=false; such datagrams are dropped silently
// by every consumer.
func DecodeBeacon(buf []byte) (b Beacon, ok bool) {
	if len(buf) != BeaconSize || buf[0] != OpServerInfo {
		return Beacon{}, false
	}
	if crc32.ChecksumIEEE(buf[1:13]) != binary.LittleEndian.Uint32(buf[13:17]) {
		return Beacon{}, false
	}
	b.Age = binary.LittleEndian.Uint32(buf[1:5])
	b.UID = binary.LittleEndian.Uint64(buf[5:13])
	return b, true
}

// AppendSay appends a SAY frame carrying the already-encoded message bytes.
func AppendSay(dst, msg []byte) []byte {
	dst = append(dst, OpSay)
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(msg)))
	return append(dst, msg...)
}

// AppendSetName appends a SET_NAME frame carrying the already-encoded name
// bytes.
func AppendSetName(dst, name []byte) []byte {
	dst = append(dst, OpSetName, byte(len(name)))
	return append(dst, name...)
}

// AppendDispatch encodes name and msg exactly once and appends a
// SAY_DISPATCH frame. Oversized inputs are rejected so a malformed sender
// name can never corrupt the stream framing.
func AppendDispatch(dst []byte, name, msg string) ([]byte, error) {
	nb, err := EncodeString(name)
	if err != nil {
		return nil, err
	}
	if len(nb) > MaxNameBytes {
		return nil, fmt.Errorf("%w: name exceeds %d encoded bytes", ErrInvalidArgument, MaxNameBytes)
	}
	mb, err := EncodeString(msg)
	if err != nil {
		return nil, err
	}
	if len(mb) > MaxMessageBytes {
		return nil, fmt.Errorf("%w: message exceeds %d encoded bytes", ErrInvalidArgument, MaxMessageBytes)
	}
	dst = append(dst, OpSayDispatch, byte(len(nb)))
	dst = append(dst, nb...)
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(mb)))
	return append(dst, mb...), nil
}

// ReadDispatch reads the payload of a SAY_DISPATCH frame. The opcode byte
// has already been consumed by the caller; partial reads are retried until
// the full payload is in hand.
func ReadDispatch(r io.Reader) (name, msg string, err error) {
	var nameLen [1]byte
	if _, err := io.ReadFull(r, nameLen[:]); err != nil {
		return "", "", err
	}
	nb := make([]byte, nameLen[0])
	if _, err := io.ReadFull(r, nb); err != nil {
		return "", "", err
	}
	var msgLen [2]byte
	if _, err := io.ReadFull(r, msgLen[:]); err != nil {
		return "", "", err
	}
	mb := make([]byte, binary.LittleEndian.Uint16(msgLen[:]))
	if _, err := io.ReadFull(r, mb); err != nil {
		return "", "", err
	}
	if name, err = DecodeString(nb); err != nil {
		return "", "", err
	}
	if msg, err = DecodeString(mb); err != nil {
		return "", "", err
	}
	return name, msg, nil
}

// ReadSay reads the payload of a SAY frame and returns the decoded,
// trimmed message text. The opcode byte has already been consumed.
func ReadSay(r io.Reader) (string, error) {
	var msgLen [2]byte
	if _, err := io.ReadFull(r, msgLen[:]); err != nil {
		return "", err
	}
	mb := make([]byte, binary.LittleEndian.Uint16(msgLen[:]))
	if _, err := io.ReadFull(r, mb); err != nil {
		return "", err
	}
	msg, err := DecodeString(mb)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(msg), nil
}

// ReadSetName reads the payload of a SET_NAME frame and returns the
// decoded, trimmed name. The opcode byte has already been consumed.
func ReadSetName(r io.Reader) (string, error) {
	var nameLen [1]byte
	if _, err := io.ReadFull(r, nameLen[:]); err != nil {
		return "", err
	}
	nb := make([]byte, nameLen[0])
	if _, err := io.ReadFull(r, nb); err != nil {
		return "", err
	}
	name, err := DecodeString(nb)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(name), nil
}
