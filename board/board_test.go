package board

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// play is a test helper that fails on illegal moves.
func play(t *testing.T, b *Board, x, y int, c Color) int {
	t.Helper()
	captured := b.Play(Position{x, y}, c)
	require.GreaterOrEqual(t, captured, 0, "move (%d,%d) %s", x, y, c)
	return captured
}

func TestPlayAlternatesAndRecords(t *testing.T) {
	b := New(9, 9)
	assert.Equal(t, Black, b.Next())

	play(t, b, 2, 2, Black)
	assert.Equal(t, White, b.Next())
	assert.Equal(t, Black, b.At(Position{2, 2}))
	assert.Equal(t, []Position{{2, 2}}, b.GetHistories(Black))

	play(t, b, 6, 6, White)
	assert.Equal(t, Black, b.Next())
	assert.Equal(t, []Position{{6, 6}}, b.GetHistories(White))
}

func TestPlayRejectsOccupied(t *testing.T) {
	b := New(9, 9)
	play(t, b, 4, 4, Black)
	assert.Negative(t, b.Play(Position{4, 4}, White))
	assert.Negative(t, b.Play(Position{4, 4}, Black))
	assert.Equal(t, Black, b.At(Position{4, 4}))
}

func TestSingleStoneCapture(t *testing.T) {
	b := New(9, 9)
	// Surround the white stone at (4,4).
	play(t, b, 4, 4, White)
	play(t, b, 3, 4, Black)
	play(t, b, 5, 4, Black)
	play(t, b, 4, 3, Black)

	captured := play(t, b, 4, 5, Black)
	assert.Equal(t, 1, captured)
	assert.Equal(t, Empty, b.At(Position{4, 4}))
	assert.Equal(t, 1, b.Captured(White))
	assert.Equal(t, 0, b.Captured(Black))
}

func TestChainCapture(t *testing.T) {
	b := New(5, 5)
	// Two-stone white chain on the edge.
	play(t, b, 0, 0, White)
	play(t, b, 1, 0, White)
	play(t, b, 0, 1, Black)
	play(t, b, 1, 1, Black)

	captured := play(t, b, 2, 0, Black)
	assert.Equal(t, 2, captured)
	assert.Equal(t, Empty, b.At(Position{0, 0}))
	assert.Equal(t, Empty, b.At(Position{1, 0}))
}

func TestSuicideRejected(t *testing.T) {
	b := New(5, 5)
	play(t, b, 0, 1, Black)
	play(t, b, 1, 0, Black)

	assert.Negative(t, b.Play(Position{0, 0}, White))
	assert.Equal(t, Empty, b.At(Position{0, 0}))
}

// buildKo sets up the classic ko shape and has black take the white
// stone at (2,2), leaving white forbidden to retake at (2,2).
func buildKo(t *testing.T) *Board {
	t.Helper()
	b := New(9, 9)
	play(t, b, 1, 2, Black)
	play(t, b, 2, 1, Black)
	play(t, b, 2, 3, Black)
	play(t, b, 2, 2, White)
	play(t, b, 3, 1, White)
	play(t, b, 3, 3, White)
	play(t, b, 4, 2, White)

	captured := play(t, b, 3, 2, Black)
	require.Equal(t, 1, captured)
	return b
}

func TestKoForbidsImmediateRetake(t *testing.T) {
	b := buildKo(t)

	assert.Equal(t, Position{2, 2}, b.GetKo(White))
	assert.False(t, b.IsEnabled(Position{2, 2}, White, false))
	assert.Negative(t, b.Play(Position{2, 2}, White))

	// After a white move elsewhere the ko is lifted.
	play(t, b, 8, 8, White)
	play(t, b, 0, 8, Black)
	assert.True(t, b.IsEnabled(Position{2, 2}, White, false))
}

func TestEyeFillOnlyUnderSekiCheck(t *testing.T) {
	b := New(5, 5)
	// A black eye at (1,1).
	for _, p := range []Position{{0, 1}, {1, 0}, {2, 1}, {1, 2}, {0, 0}, {2, 0}, {0, 2}, {2, 2}} {
		play(t, b, p.X, p.Y, Black)
	}

	assert.True(t, b.IsEnabled(Position{1, 1}, Black, false))
	assert.False(t, b.IsEnabled(Position{1, 1}, Black, true))
	// The opponent throwing in is a different matter entirely.
	assert.False(t, b.IsEnabled(Position{1, 1}, White, false)) // suicide
}

func TestGetEnabledsMatchesIsEnabled(t *testing.T) {
	b := New(5, 5)
	play(t, b, 2, 2, Black)
	play(t, b, 1, 1, White)

	mask := b.GetEnableds(Black, false)
	for y := 0; y < 5; y++ {
		for x := 0; x < 5; x++ {
			p := Position{x, y}
			assert.Equal(t, b.IsEnabled(p, Black, false), mask[y*5+x], "at %v", p)
		}
	}
}

func TestGetColorsOrientation(t *testing.T) {
	b := New(5, 5)
	play(t, b, 0, 0, Black)
	play(t, b, 4, 4, White)

	fromBlack := b.GetColors(Black)
	assert.Equal(t, Black, fromBlack[0])
	assert.Equal(t, White, fromBlack[24])

	fromWhite := b.GetColors(White)
	assert.Equal(t, White, fromWhite[0])
	assert.Equal(t, Black, fromWhite[24])
}

func TestPassKeepsBoardAndFlipsTurn(t *testing.T) {
	b := New(9, 9)
	captured := b.Play(Pass, Black)
	assert.Zero(t, captured)
	assert.Equal(t, White, b.Next())
	assert.Equal(t, []Position{Pass}, b.GetHistories(Black))
}

func TestFingerprintIgnoresHistory(t *testing.T) {
	// The same stone arrangement reached by different move orders must
	// produce the same fingerprint.
	b1 := New(9, 9)
	play(t, b1, 2, 2, Black)
	play(t, b1, 6, 6, White)
	play(t, b1, 3, 3, Black)

	b2 := New(9, 9)
	play(t, b2, 3, 3, Black)
	play(t, b2, 6, 6, White)
	play(t, b2, 2, 2, Black)

	assert.Equal(t, b1.Fingerprint(), b2.Fingerprint())
	assert.NotEqual(t, New(9, 9).Fingerprint(), b1.Fingerprint())
}

func TestStateRoundTrip(t *testing.T) {
	b := buildKo(t)

	restored := New(9, 9)
	require.NoError(t, restored.LoadState(b.GetState()))
	assert.True(t, b.Equal(restored))
	assert.Equal(t, b.GetKo(White), restored.GetKo(White))
	assert.Equal(t, b.Next(), restored.Next())
	assert.Equal(t, b.Hash(), restored.Hash())
}

func TestBinaryRoundTrip(t *testing.T) {
	b := buildKo(t)

	data, err := b.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, byte(9), data[0])
	assert.Equal(t, byte(9), data[1])

	restored := &Board{}
	require.NoError(t, restored.UnmarshalBinary(data))
	assert.True(t, b.Equal(restored))
}

func TestCloneIsIndependent(t *testing.T) {
	b := New(9, 9)
	play(t, b, 4, 4, Black)

	c := b.Clone()
	play(t, c, 5, 5, White)

	assert.Equal(t, Empty, b.At(Position{5, 5}))
	assert.Equal(t, White, c.At(Position{5, 5}))
}
