package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// recordFormatVersion is the first byte of every stored record. The owner id
// must stay at bytes 2..(2+len) because the Lua scripts read it from there.
const recordFormatVersion = 1

var errCorruptRecord = errors.New("corrupt session record")

// Encode serializes r into the compact binary layout:
//
//	version(1) | len(user)(1) user | len(email)(2) email | epoch(8) | issued(8) | expires(8)
func Encode(r *Record) ([]byte, error) {
	if r == nil {
		return nil, errors.New("nil record")
	}
	if r.UserID == "" || len(r.UserID) > math.MaxUint8 {
		return nil, errors.New("userID must be 1..255 bytes")
	}
	if len(r.Email) > math.MaxUint16 {
		return nil, errors.New("email too long")
	}

	var buf bytes.Buffer
	buf.Grow(1 + 1 + len(r.UserID) + 2 + len(r.Email) + 24)

	buf.WriteByte(recordFormatVersion)
	buf.WriteByte(byte(len(r.UserID)))
	buf.WriteString(r.UserID)

	var word [8]byte
	binary.BigEndian.PutUint16(word[:2], uint16(len(r.Email)))
	buf.Write(word[:2])
	buf.WriteString(r.Email)

	binary.BigEndian.PutUint64(word[:], r.Epoch)
	buf.Write(word[:])
	binary.BigEndian.PutUint64(word[:], uint64(r.IssuedAt))
	buf.Write(word[:])
	binary.BigEndian.PutUint64(word[:], uint64(r.ExpiresAt))
	buf.Write(word[:])

	return buf.Bytes(), nil
}

// Decode parses data produced by Encode. Trailing bytes are rejected.
func Decode(data []byte) (*Record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, errCorruptRecord
	}
	if version != recordFormatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", errCorruptRecord, version)
	}

	userLen, err := reader.ReadByte()
	if err != nil || userLen == 0 {
		return nil, errCorruptRecord
	}
	userID := make([]byte, userLen)
	if _, err := io.ReadFull(reader, userID); err != nil {
		return nil, errCorruptRecord
	}

	var emailLen uint16
	if err := binary.Read(reader, binary.BigEndian, &emailLen); err != nil {
		return nil, errCorruptRecord
	}
	email := make([]byte, emailLen)
	if _, err := io.ReadFull(reader, email); err != nil {
		return nil, errCorruptRecord
	}

	r := &Record{UserID: string(userID), Email: string(email)}
	for _, dst := range []any{&r.Epoch, &r.IssuedAt, &r.ExpiresAt} {
		if err := binary.Read(reader, binary.BigEndian, dst); err != nil {
			return nil, errCorruptRecord
		}
	}
	if reader.Len() != 0 {
		return nil, errCorruptRecord
	}

	return r, nil
}
