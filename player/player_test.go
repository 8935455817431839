package player

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/tengen/board"
	"github.com/tengen/dualnet"
	"github.com/tengen/mcts"
	"github.com/tengen/processor"
)

// stubModel produces deterministic outputs; fill can shape each row.
type stubModel struct {
	fill func(row []float32)
}

func (m *stubModel) Infer(x *tensor.Dense) (*tensor.Dense, error) {
	n := x.Shape()[0]
	out := make([]float32, n*dualnet.OutputSize)
	for i := 0; i < n; i++ {
		row := out[i*dualnet.OutputSize : (i+1)*dualnet.OutputSize]
		// Scalar head at 0.5 reads as an even position.
		row[dualnet.ScalarOffset] = 0.5
		if m.fill != nil {
			m.fill(row)
		}
	}
	return tensor.New(tensor.WithShape(n, dualnet.OutputSize), tensor.WithBacking(out)), nil
}

func (m *stubModel) Close() error { return nil }

func newPlayer(t *testing.T, conf Config, model processor.Model) *Player {
	t.Helper()
	if model == nil {
		model = &stubModel{}
	}
	proc, err := processor.New([]processor.Model{model},
		processor.Config{Accelerators: []int{-1}, BatchSize: 16})
	require.NoError(t, err)
	t.Cleanup(func() { _ = proc.Close() })

	if conf.Width == 0 {
		conf = Config{Threads: 2, Width: 5, Height: 5, Komi: 7.5, Rule: board.RuleChinese}
	}
	return New(proc, conf)
}

func TestPlayInsertsPassForOtherSide(t *testing.T) {
	p := newPlayer(t, Config{}, nil)

	// White moves first: a black pass is inserted.
	_, err := p.Play(board.Position{X: 2, Y: 2}, board.White)
	require.NoError(t, err)

	assert.Equal(t, board.Black, p.GetColor())
	assert.Equal(t, 1, p.Turn())
	b, w := p.Moves()
	assert.Equal(t, 0, b)
	assert.Equal(t, 1, w)
	assert.Equal(t, []board.Position{board.Pass}, p.GetBoard().GetHistories(board.Black))
}

func TestPlayRejectsIllegal(t *testing.T) {
	p := newPlayer(t, Config{}, nil)

	_, err := p.Play(board.Position{X: 2, Y: 2}, board.Black)
	require.NoError(t, err)
	_, err = p.Play(board.Position{X: 2, Y: 2}, board.White)
	assert.Error(t, err)
	assert.Equal(t, 1, p.Turn())
}

func TestPlayRecordsCaptures(t *testing.T) {
	p := newPlayer(t, Config{}, nil)

	moves := []struct {
		pos board.Position
		c   board.Color
	}{
		{board.Position{X: 1, Y: 1}, board.White},
		{board.Position{X: 0, Y: 1}, board.Black},
		{board.Position{X: 2, Y: 1}, board.Black},
		{board.Position{X: 1, Y: 0}, board.Black},
		{board.Position{X: 1, Y: 2}, board.Black},
	}
	for _, m := range moves {
		_, err := p.Play(m.pos, m.c)
		require.NoError(t, err)
	}

	assert.Equal(t, 1, p.GetCaptured(board.White))
	assert.Equal(t, 0, p.GetCaptured(board.Black))
	assert.Equal(t, board.Empty, p.GetBoard().At(board.Position{X: 1, Y: 1}))
}

func TestSuperkoDetection(t *testing.T) {
	p := newPlayer(t, Config{Threads: 1, Width: 5, Height: 5, Komi: 7.5, Rule: board.RuleChinese, Superko: true}, nil)

	_, err := p.Play(board.Position{X: 2, Y: 2}, board.Black)
	require.NoError(t, err)

	// Register the position that white playing (3,3) would produce as
	// already seen, as a triple-ko style repetition would.
	probe := p.GetBoard()
	require.GreaterOrEqual(t, probe.Play(board.Position{X: 3, Y: 3}, board.White), 0)
	p.histories[probe.Fingerprint()] = struct{}{}

	assert.True(t, p.IsSuperkoMove(board.Position{X: 3, Y: 3}, board.White))
	assert.False(t, p.IsSuperkoMove(board.Position{X: 1, Y: 1}, board.White))
	assert.False(t, p.IsSuperkoMove(board.Pass, board.White))
}

func TestSetHandicap(t *testing.T) {
	p := newPlayer(t, Config{Threads: 1, Width: 19, Height: 19, Komi: 0.5, Rule: board.RuleChinese}, nil)

	require.NoError(t, p.SetHandicap(4))
	b := p.GetBoard()
	for _, pos := range board.GetHandicapPositions(19, 19, 4) {
		assert.Equal(t, board.Black, b.At(pos))
	}
	black, _ := p.Moves()
	assert.Equal(t, 4, black)
	assert.Equal(t, board.White, p.GetColor())

	assert.Error(t, p.SetHandicap(1))
}

func TestEvaluateReturnsSortedCandidates(t *testing.T) {
	p := newPlayer(t, Config{}, nil)

	candidates, err := p.Evaluate(EvaluateParams{
		Visits:    30,
		Timelimit: 10 * time.Second,
		Criterion: mcts.CriterionLCB,
	})
	require.NoError(t, err)
	require.NotEmpty(t, candidates)

	for i, c := range candidates {
		assert.Equal(t, board.Black, c.Color)
		assert.GreaterOrEqual(t, c.WinChance, float32(0))
		assert.LessOrEqual(t, c.WinChance, float32(1))
		assert.LessOrEqual(t, c.WinChanceLCB, c.WinChance)
		if i > 0 {
			assert.GreaterOrEqual(t, candidates[i-1].WinChanceLCB, c.WinChanceLCB)
		}
	}
}

func TestEvaluateFiltersSuperko(t *testing.T) {
	p := newPlayer(t, Config{Threads: 1, Width: 5, Height: 5, Komi: 7.5, Rule: board.RuleChinese, Superko: true}, nil)

	// Mark every single-stone opening as already seen; evaluation must
	// not offer any of them.
	empty := p.GetBoard()
	for y := 0; y < 5; y++ {
		for x := 0; x < 5; x++ {
			probe := empty.Clone()
			if probe.Play(board.Position{X: x, Y: y}, board.Black) >= 0 {
				p.histories[probe.Fingerprint()] = struct{}{}
			}
		}
	}

	candidates, err := p.Evaluate(EvaluateParams{Visits: 20, Timelimit: 10 * time.Second})
	require.NoError(t, err)
	require.NotEmpty(t, candidates)
	for _, c := range candidates {
		assert.True(t, c.Pos.IsPass(), "superko move %v escaped the filter", c.Pos)
	}
}

func TestStopEvaluationDuringPonder(t *testing.T) {
	p := newPlayer(t, Config{}, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = p.Evaluate(EvaluateParams{Visits: 10, Timelimit: 100 * time.Millisecond, Ponder: true})
	}()
	<-done

	// The ponder session is still live; stopping must quiesce it.
	p.StopEvaluation()

	// A fresh evaluation starts cleanly afterwards.
	_, err := p.Evaluate(EvaluateParams{Visits: 5, Timelimit: 5 * time.Second})
	assert.NoError(t, err)
}

func TestGetPassAndRandom(t *testing.T) {
	p := newPlayer(t, Config{}, nil)

	pass, err := p.GetPass()
	require.NoError(t, err)
	assert.True(t, pass.Pos.IsPass())

	c, err := p.GetRandom(0, true)
	require.NoError(t, err)
	assert.Equal(t, board.Black, c.Color)

	// With edge moves disallowed on a tiny board the sampler retries
	// and may settle anywhere, but never crashes.
	_, err = p.GetRandom(1, false)
	assert.NoError(t, err)
}

func TestGetTerritoriesUsesModel(t *testing.T) {
	model := &stubModel{fill: func(row []float32) {
		// The model calls everything black territory.
		cells := board.ModelSize * board.ModelSize
		for i := 0; i < cells; i++ {
			row[dualnet.TerritoryOffset+2*cells+i] = 1
		}
	}}
	p := newPlayer(t, Config{}, model)

	_, owners, err := p.GetTerritories(nil, board.Empty, false)
	require.NoError(t, err)
	for _, o := range owners {
		assert.Equal(t, board.Black, o)
	}

	raw, _, err := p.GetTerritories(nil, board.Empty, true)
	require.NoError(t, err)
	assert.Len(t, raw[0], 25)
	assert.Equal(t, float32(1), raw[2][12])
}

func TestGetTerritoriesFlipsForWhite(t *testing.T) {
	model := &stubModel{fill: func(row []float32) {
		// All mover-side territory.
		cells := board.ModelSize * board.ModelSize
		for i := 0; i < cells; i++ {
			row[dualnet.TerritoryOffset+2*cells+i] = 1
		}
	}}
	p := newPlayer(t, Config{}, model)

	// Both colors have stones, so no empty region is settled by the
	// board itself. Black moved last; now white is the mover, so "mover
	// territory" must come back as white in black's frame.
	_, err := p.Play(board.Position{X: 2, Y: 2}, board.Black)
	require.NoError(t, err)
	_, err = p.Play(board.Position{X: 2, Y: 3}, board.White)
	require.NoError(t, err)
	_, err = p.Play(board.Position{X: 2, Y: 1}, board.Black)
	require.NoError(t, err)

	_, owners, err := p.GetTerritories(nil, board.Empty, false)
	require.NoError(t, err)
	assert.Equal(t, board.White, owners[0])
}

func TestGetValues(t *testing.T) {
	model := &stubModel{fill: func(row []float32) {
		cells := board.ModelSize * board.ModelSize
		for i := 0; i < cells; i++ {
			row[dualnet.CellValueOffset+i] = 1
		}
	}}
	p := newPlayer(t, Config{}, model)

	values, err := p.GetValues()
	require.NoError(t, err)
	require.Len(t, values, 25)
	for _, v := range values {
		assert.InDelta(t, 1.0, v, 1e-6)
	}
}

func TestFinalScoreSplitBoard(t *testing.T) {
	model := &stubModel{fill: func(row []float32) {
		// The model abstains: everything reads empty.
		cells := board.ModelSize * board.ModelSize
		for i := 0; i < cells; i++ {
			row[dualnet.TerritoryOffset+cells+i] = 1
		}
	}}
	p := newPlayer(t, Config{Threads: 1, Width: 5, Height: 5, Komi: 7.5, Rule: board.RuleChinese}, model)

	for y := 0; y < 5; y++ {
		_, err := p.Play(board.Position{X: 1, Y: y}, board.Black)
		require.NoError(t, err)
		_, err = p.Play(board.Position{X: 3, Y: y}, board.White)
		require.NoError(t, err)
	}

	// Determined territory overrides the abstaining model: both edge
	// columns count, the center column is dame. 10 black points cancel
	// 10 white points, leaving the komi.
	score, err := p.GetFinalScore()
	require.NoError(t, err)
	assert.InDelta(t, -7.5, score, 0.11)
}

func TestClearResetsState(t *testing.T) {
	p := newPlayer(t, Config{}, nil)

	_, err := p.Play(board.Position{X: 2, Y: 2}, board.Black)
	require.NoError(t, err)
	p.Clear()

	assert.Equal(t, 0, p.Turn())
	assert.Equal(t, board.Black, p.GetColor())
	assert.Equal(t, board.Empty, p.GetBoard().At(board.Position{X: 2, Y: 2}))
	assert.Empty(t, p.histories)
}

func TestCleanupPositionFindsDeadStones(t *testing.T) {
	p := newPlayer(t, Config{Threads: 1, Width: 5, Height: 5, Komi: 7.5, Rule: board.RuleComputer}, nil)

	// A lone white stone inside black's walled-off area reads as dead
	// once the surrounding region is black territory.
	layout := []struct {
		pos board.Position
		c   board.Color
	}{
		{board.Position{X: 2, Y: 0}, board.Black},
		{board.Position{X: 2, Y: 1}, board.Black},
		{board.Position{X: 2, Y: 2}, board.Black},
		{board.Position{X: 2, Y: 3}, board.Black},
		{board.Position{X: 2, Y: 4}, board.Black},
		{board.Position{X: 0, Y: 1}, board.White},
	}
	for _, m := range layout {
		_, err := p.Play(m.pos, m.c)
		require.NoError(t, err)
	}

	pos := p.GetCleanupPosition(board.Black)
	if !pos.IsPass() {
		assert.True(t, pos.Valid(5, 5))
	}
}
