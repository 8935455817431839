package board

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// GetState serializes the full board state as an int32 stream. The
// layout is: side to move, both ko points, capture counts, history
// lengths, the two histories as (x, y) pairs, then the cells row-major.
func (b *Board) GetState() []int32 {
	n := 9 + 2*len(b.histories[0]) + 2*len(b.histories[1]) + len(b.cells)
	state := make([]int32, 0, n)

	state = append(state, int32(b.next))
	for i := 0; i < 2; i++ {
		state = append(state, int32(b.kos[i].X), int32(b.kos[i].Y))
	}
	state = append(state, int32(b.captured[0]), int32(b.captured[1]))
	state = append(state, int32(len(b.histories[0])), int32(len(b.histories[1])))
	for i := 0; i < 2; i++ {
		for _, p := range b.histories[i] {
			state = append(state, int32(p.X), int32(p.Y))
		}
	}
	for _, c := range b.cells {
		state = append(state, int32(c))
	}
	return state
}

// LoadState restores a board from a GetState stream.
func (b *Board) LoadState(state []int32) error {
	if len(state) < 9 {
		return errors.Errorf("board state too short: %d values", len(state))
	}
	h0 := int(state[7])
	h1 := int(state[8])
	want := 9 + 2*h0 + 2*h1 + b.width*b.height
	if len(state) != want {
		return errors.Errorf("board state has %d values, want %d", len(state), want)
	}

	b.next = Color(state[0])
	b.kos[0] = Position{int(state[1]), int(state[2])}
	b.kos[1] = Position{int(state[3]), int(state[4])}
	b.captured[0] = int(state[5])
	b.captured[1] = int(state[6])

	off := 9
	for i, n := range []int{h0, h1} {
		b.histories[i] = b.histories[i][:0]
		for j := 0; j < n; j++ {
			b.histories[i] = append(b.histories[i],
				Position{int(state[off]), int(state[off+1])})
			off += 2
		}
	}
	for i := range b.cells {
		b.cells[i] = Color(state[off+i])
	}
	return nil
}

// MarshalBinary encodes the board as a big-endian byte string:
// width(1) height(1) followed by the GetState int32 stream.
func (b *Board) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(b.width))
	buf.WriteByte(byte(b.height))
	if err := binary.Write(&buf, binary.BigEndian, b.GetState()); err != nil {
		return nil, errors.WithStack(err)
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary restores a board from a MarshalBinary byte string.
// The board takes the encoded dimensions.
func (b *Board) UnmarshalBinary(data []byte) error {
	if len(data) < 2 || (len(data)-2)%4 != 0 {
		return errors.Errorf("malformed board snapshot: %d bytes", len(data))
	}
	width := int(data[0])
	height := int(data[1])
	state := make([]int32, (len(data)-2)/4)
	if err := binary.Read(bytes.NewReader(data[2:]), binary.BigEndian, state); err != nil {
		return errors.WithStack(err)
	}
	*b = *New(width, height)
	return b.LoadState(state)
}

// GetPatterns returns a compact fingerprint of the stone arrangement:
// cells packed two bits apiece, sixteen per value. Identical whole-board
// positions always produce identical patterns, which is what superko
// detection and tree transpositions key on.
func (b *Board) GetPatterns() []int32 {
	patterns := make([]int32, 0, (len(b.cells)+15)/16)
	var acc int32
	shift := uint(0)
	for _, c := range b.cells {
		var v int32
		switch c {
		case Black:
			v = 1
		case White:
			v = 2
		}
		acc |= v << shift
		shift += 2
		if shift == 32 {
			patterns = append(patterns, acc)
			acc, shift = 0, 0
		}
	}
	if shift != 0 {
		patterns = append(patterns, acc)
	}
	return patterns
}

// Fingerprint returns the stone pattern as a comparable string key.
func (b *Board) Fingerprint() string {
	patterns := b.GetPatterns()
	buf := make([]byte, 0, 4*len(patterns))
	for _, v := range patterns {
		buf = append(buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
	}
	return string(buf)
}

// Equal reports whether the two boards have identical serialized state.
func (b *Board) Equal(other *Board) bool {
	if other == nil || b.width != other.width || b.height != other.height {
		return false
	}
	s1, s2 := b.GetState(), other.GetState()
	if len(s1) != len(s2) {
		return false
	}
	for i := range s1 {
		if s1[i] != s2[i] {
			return false
		}
	}
	return true
}

// Hash folds the serialized state with XOR.
func (b *Board) Hash() uint32 {
	var h uint32
	for _, v := range b.GetState() {
		h ^= uint32(v)
	}
	return h
}
