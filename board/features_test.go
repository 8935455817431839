package board

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInputsShapeAndPadding(t *testing.T) {
	b := New(9, 9)
	play(t, b, 4, 4, Black)

	inputs := b.GetInputs(White, 7.5, RuleChinese, false)
	require.Len(t, inputs, InputSize)

	beginX, beginY := PadOffsets(9, 9)
	assert.Equal(t, 5, beginX)
	assert.Equal(t, 5, beginY)

	planeLen := ModelSize * ModelSize
	at := func(plane, x, y int) float32 {
		return inputs[plane*planeLen+(y+beginY)*ModelSize+(x+beginX)]
	}

	// White to move: the black stone is an opponent stone.
	assert.Equal(t, float32(0), at(0, 4, 4))
	assert.Equal(t, float32(1), at(1, 4, 4))
	assert.Equal(t, float32(1), at(2, 0, 0))

	// Padding cells stay zero on the mask plane.
	assert.Equal(t, float32(0), inputs[30*planeLen])
	assert.Equal(t, float32(1), at(30, 0, 0))
}

func TestInputsTurnParityAndInfos(t *testing.T) {
	b := New(9, 9)
	planeLen := ModelSize * ModelSize

	forBlack := b.GetInputs(Black, 7.5, RuleJapanese, true)
	assert.Equal(t, float32(1), forBlack[32*planeLen])
	infos := forBlack[33*planeLen:]
	assert.InDelta(t, 0.5, infos[0], 1e-6) // komi / 15
	assert.Equal(t, float32(1), infos[1])  // black to move
	assert.Equal(t, float32(1), infos[4])  // japanese
	assert.Equal(t, float32(0), infos[5])
	assert.Equal(t, float32(1), infos[6]) // superko

	forWhite := b.GetInputs(White, 7.5, RuleChinese, false)
	assert.Equal(t, float32(0), forWhite[32*planeLen])
	assert.Equal(t, float32(0), forWhite[33*planeLen+1])
	assert.Equal(t, float32(0), forWhite[33*planeLen+6])
}

func TestInputsRecentMoves(t *testing.T) {
	b := New(9, 9)
	play(t, b, 2, 2, Black)
	play(t, b, 6, 6, White)
	play(t, b, 3, 3, Black)

	inputs := b.GetInputs(White, 7.5, RuleChinese, false)
	beginX, beginY := PadOffsets(9, 9)
	planeLen := ModelSize * ModelSize
	at := func(plane, x, y int) float32 {
		return inputs[plane*planeLen+(y+beginY)*ModelSize+(x+beginX)]
	}

	// Most recent move first.
	assert.Equal(t, float32(1), at(11, 3, 3))
	assert.Equal(t, float32(1), at(12, 6, 6))
	assert.Equal(t, float32(1), at(13, 2, 2))
	assert.Equal(t, float32(0), at(14, 2, 2))
}

func TestInputsLibertyPlanes(t *testing.T) {
	b := New(9, 9)
	// A lone black stone in the corner has two liberties.
	play(t, b, 0, 0, Black)

	inputs := b.GetInputs(Black, 7.5, RuleChinese, false)
	beginX, beginY := PadOffsets(9, 9)
	planeLen := ModelSize * ModelSize
	at := func(plane, x, y int) float32 {
		return inputs[plane*planeLen+(y+beginY)*ModelSize+(x+beginX)]
	}

	assert.Equal(t, float32(0), at(3, 0, 0)) // not one liberty
	assert.Equal(t, float32(1), at(4, 0, 0)) // two liberties
	assert.Equal(t, float32(1), at(24, 0, 0))
}
