package player

import (
	"gorgonia.org/tensor"

	"github.com/tengen/board"
	"github.com/tengen/dualnet"
	"github.com/tengen/mcts"
)

// passPriorFloor keeps the pass edge selectable even when the model
// leaves no probability mass outside the board.
const passPriorFloor = 1e-3

// netEvaluator adapts the processor into the searcher's leaf evaluator:
// it builds the feature row for a position, executes it, and folds the
// padded 19x19 policy grid back onto the live board. Probability mass
// the model leaves on padding cells becomes the pass prior.
type netEvaluator struct {
	p *Player
}

func (e netEvaluator) Evaluate(b *board.Board, color board.Color) (mcts.Prediction, error) {
	row, err := e.p.execute(b, color)
	if err != nil {
		return mcts.Prediction{}, err
	}

	w, h := b.Width(), b.Height()
	beginX, beginY := board.PadOffsets(w, h)

	policy := make([]float32, w*h+1)
	var onBoard float32
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := row[dualnet.PolicyOffset+(y+beginY)*board.ModelSize+(x+beginX)]
			policy[y*w+x] = v
			onBoard += v
		}
	}
	pass := 1 - onBoard
	if pass < passPriorFloor {
		pass = passPriorFloor
	}
	policy[w*h] = pass

	// The scalar head is the mover's win probability; re-orient into
	// black's frame.
	value := (2*row[dualnet.ScalarOffset] - 1) * float32(color)

	return mcts.Prediction{Policy: policy, Value: value}, nil
}

// execute runs one feature row through the processor and returns the
// raw output row.
func (p *Player) execute(b *board.Board, color board.Color) ([]float32, error) {
	inputs := b.GetInputs(color, p.komi, p.conf.Rule, p.conf.Superko)
	x := tensor.New(tensor.WithShape(1, board.InputSize), tensor.WithBacking(inputs))
	y, err := p.proc.Execute(x)
	if err != nil {
		return nil, err
	}
	return y.Data().([]float32), nil
}
