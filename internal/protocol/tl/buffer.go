package tl

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
)

const (
	// VectorConstructor prefixes every boxed vector.
	VectorConstructor uint32 = 0x1cb5c415

	longBytesMarker = 0xfe
	maxShortBytes   = 253
)

var (
	ErrShortBuffer        = errors.New("tl: short buffer")
	ErrBadVector          = errors.New("tl: bad vector constructor")
	ErrUnknownConstructor = errors.New("tl: unknown constructor")
)

// Int128 is a TL int128, used for handshake nonces.
type Int128 [16]byte

func (v Int128) String() string { return "0x" + hex.EncodeToString(v[:]) }

// Encoder appends little-endian TL primitives.
type Encoder struct {
	buf []byte
}

func NewEncoder(capacity int) *Encoder {
	return &Encoder{buf: make([]byte, 0, capacity)}
}

func (e *Encoder) Bytes() []byte { return e.buf }

func (e *Encoder) PutUint32(v uint32) {
	e.buf = binary.LittleEndian.AppendUint32(e.buf, v)
}

func (e *Encoder) PutInt64(v int64) {
	e.buf = binary.LittleEndian.AppendUint64(e.buf, uint64(v))
}

func (e *Encoder) PutInt128(v Int128) {
	e.buf = append(e.buf, v[:]...)
}

// PutBytes writes a TL bytes/string value padded to a 4-byte boundary.
func (e *Encoder) PutBytes(b []byte) {
	n := len(b)
	header := 1
	if n <= maxShortBytes {
		e.buf = append(e.buf, byte(n))
	} else {
		header = 4
		e.buf = append(e.buf, longBytesMarker, byte(n), byte(n>>8), byte(n>>16))
	}
	e.buf = append(e.buf, b...)
	e.buf = append(e.buf, make([]byte, padLen(header+n))...)
}

func padLen(n int) int { return (4 - n%4) % 4 }

func (e *Encoder) PutVectorInt64(vs []int64) {
	e.PutUint32(VectorConstructor)
	e.PutUint32(uint32(len(vs)))
	for _, v := range vs {
		e.PutInt64(v)
	}
}

// Decoder reads TL primitives from a byte slice.
type Decoder struct {
	buf []byte
	off int
}

func NewDecoder(b []byte) *Decoder {
	return &Decoder{buf: b}
}

func (d *Decoder) Remaining() int { return len(d.buf) - d.off }

func (d *Decoder) take(n int) ([]byte, error) {
	if n < 0 || d.Remaining() < n {
		return nil, fmt.Errorf("%w: need %d at offset %d, have %d", ErrShortBuffer, n, d.off, d.Remaining())
	}
	b := d.buf[d.off : d.off+n]
	d.off += n
	return b, nil
}

func (d *Decoder) Uint32() (uint32, error) {
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (d *Decoder) Int64() (int64, error) {
	b, err := d.take(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b)), nil
}

func (d *Decoder) Int128() (Int128, error) {
	var v Int128
	b, err := d.take(len(v))
	if err != nil {
		return v, err
	}
	copy(v[:], b)
	return v, nil
}

func (d *Decoder) Bytes() ([]byte, error) {
	first, err := d.take(1)
	if err != nil {
		return nil, err
	}
	n, header := int(first[0]), 1
	if first[0] == longBytesMarker {
		ext, err := d.take(3)
		if err != nil {
			return nil, err
		}
		n = int(ext[0]) | int(ext[1])<<8 | int(ext[2])<<16
		header = 4
	}
	raw, err := d.take(n)
	if err != nil {
		return nil, err
	}
	if pad := padLen(header + n); pad > 0 {
		if _, err := d.take(pad); err != nil {
			return nil, err
		}
	}
	out := make([]byte, n)
	copy(out, raw)
	return out, nil
}

func (d *Decoder) VectorInt64() ([]int64, error) {
	id, err := d.Uint32()
	if err != nil {
		return nil, err
	}
	if id != VectorConstructor {
		return nil, fmt.Errorf("%w: %#08x", ErrBadVector, id)
	}
	count, err := d.Uint32()
	if err != nil {
		return nil, err
	}
	if int(count) > d.Remaining()/8 {
		return nil, fmt.Errorf("%w: vector of %d longs", ErrShortBuffer, count)
	}
	out := make([]int64, count)
	for i := range out {
		if out[i], err = d.Int64(); err != nil {
			return nil, err
		}
	}
	return out, nil
}
