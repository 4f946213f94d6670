package store

import (
	"encoding/binary"
	"time"

	"github.com/paulschiretz/pgl-dedup/pkg/fileattr"
)

// HeaderSize is the length of the identity header hashed in front of the
// file content. The header is never written to the store file.
const HeaderSize = 20

// ticksAtUnixEpoch is 1970-01-01 in 100ns ticks since 0001-01-01.
const ticksAtUnixEpoch = 621355968000000000

const ticksPerSecond = 10_000_000

// Header is the identity of a file besides its content. Hard links share
// length, modification time and attributes, so files that differ here must
// end up in different store entries even if their bytes match.
type Header struct {
	Length     int64
	ModTime    time.Time
	Attributes fileattr.Attributes
}

// Put encodes h little-endian into b[:HeaderSize]:
// length int64, modification time as UTC ticks int64, attributes int32.
func (h Header) Put(b []byte) {
	_ = b[HeaderSize-1]
	binary.LittleEndian.PutUint64(b[0:8], uint64(h.Length))
	binary.LittleEndian.PutUint64(b[8:16], uint64(Ticks(h.ModTime)))
	binary.LittleEndian.PutUint32(b[16:20], uint32(h.Attributes))
}

// ParseHeader decodes a header written by Put.
func ParseHeader(b []byte) Header {
	_ = b[HeaderSize-1]
	return Header{
		Length:     int64(binary.LittleEndian.Uint64(b[0:8])),
		ModTime:    TimeFromTicks(int64(binary.LittleEndian.Uint64(b[8:16]))),
		Attributes: fileattr.Attributes(binary.LittleEndian.Uint32(b[16:20])),
	}
}

// Ticks converts t to 100ns intervals since 0001-01-01 UTC. It stays exact
// for every time a file system can report, unlike UnixNano.
func Ticks(t time.Time) int64 {
	return t.Unix()*ticksPerSecond + int64(t.Nanosecond()/100) + ticksAtUnixEpoch
}

func TimeFromTicks(ticks int64) time.Time {
	ticks -= ticksAtUnixEpoch
	sec, rem := ticks/ticksPerSecond, ticks%ticksPerSecond
	if rem < 0 {
		sec--
		rem += ticksPerSecond
	}
	return time.Unix(sec, rem*100).UTC()
}

// SameIdentity compares two headers at tick resolution.
func (h Header) SameIdentity(o Header) bool {
	return h.Length == o.Length &&
		Ticks(h.ModTime) == Ticks(o.ModTime) &&
		h.Attributes == o.Attributes
}
