// Package wire defines the binary payload format for relation snapshots
// (RecordRef rows). Snapshots are framed with a magic and version so stale
// or foreign bytes in a ref-flag row are detected instead of misread.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	version    byte = 1
	kindSingle byte = 1
	kindList   byte = 2
)

var (
	ErrCorrupt = errors.New("clientdb: corrupt ref snapshot")
	magic4     = [...]byte{'C', 'D', 'B', 'R'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// EncodeRef serializes a relation snapshot.
//
// Layout: magic(4) | ver(1) | kind(1) | n(u32 be) | (idLen(u16 be) | id)*n
//
// A single-arity snapshot has n of 0 (confirmed-absent relation) or 1.
func EncodeRef(single bool, ids []string) []byte {
	total := 4 + 1 + 1 + 4
	for _, id := range ids {
		total += 2 + len(id)
	}

	var buf bytes.Buffer
	buf.Grow(total)

	buf.Write(magic4[:])
	buf.WriteByte(version)
	if single {
		if len(ids) > 1 {
			panic("clientdb: single ref snapshot with multiple ids")
		}
		buf.WriteByte(kindSingle)
	} else {
		buf.WriteByte(kindList)
	}

	var u4 [4]byte
	var u2 [2]byte

	binary.BigEndian.PutUint32(u4[:], uint32(len(ids)))
	buf.Write(u4[:])

	for _, id := range ids {
		if l := len(id); l == 0 || l > 0xFFFF {
			panic("clientdb: invalid id length in ref snapshot")
		}
		binary.BigEndian.PutUint16(u2[:], uint16(len(id)))
		buf.Write(u2[:])
		buf.WriteString(id)
	}

	return buf.Bytes()
}

// DecodeRef parses a relation snapshot. Ids come back in stored order.
func DecodeRef(b []byte) (single bool, ids []string, err error) {
	const hdr = 4 + 1 + 1 + 4
	if len(b) < hdr || !hasMagic(b) || b[4] != version {
		return false, nil, ErrCorrupt
	}
	switch b[5] {
	case kindSingle:
		single = true
	case kindList:
		single = false
	default:
		return false, nil, ErrCorrupt
	}

	off := 6
	n := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if n < 0 || (single && n > 1) {
		return false, nil, ErrCorrupt
	}

	ids = make([]string, 0, n)
	for i := 0; i < n; i++ {
		if off+2 > len(b) {
			return false, nil, ErrCorrupt
		}
		l := int(binary.BigEndian.Uint16(b[off : off+2]))
		off += 2
		if l <= 0 || l > len(b)-off {
			return false, nil, ErrCorrupt
		}
		ids = append(ids, string(b[off:off+l]))
		off += l
	}
	if off != len(b) {
		return false, nil, ErrCorrupt
	}
	return single, ids, nil
}
