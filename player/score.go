package player

import (
	"github.com/tengen/board"
	"github.com/tengen/dualnet"
)

// Territories is the per-cell ownership distribution, indexed
// [white, empty, black] like the model's territory head, each plane
// row-major over the live board.
type Territories [3][]float32

// GetTerritories predicts the final ownership of every cell, in
// black's frame. With a position given, the prediction is for the
// hypothetical board after that move. Cells whose territory the board
// already determines override the model. The raw form returns the
// three-class distribution; otherwise the argmax owner map.
func (p *Player) GetTerritories(pos *board.Position, color board.Color, raw bool) (Territories, []board.Color, error) {
	b := p.board.Clone()
	if color == board.Empty {
		color = b.Next()
	}
	if pos != nil {
		b.Play(*pos, color)
		color = color.Opposite()
	}

	row, err := p.execute(b, color)
	if err != nil {
		return Territories{}, nil, err
	}

	w, h := b.Width(), b.Height()
	beginX, beginY := board.PadOffsets(w, h)
	cells := board.ModelSize * board.ModelSize

	var t Territories
	for class := 0; class < 3; class++ {
		t[class] = make([]float32, w*h)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				t[class][y*w+x] = row[dualnet.TerritoryOffset+class*cells+(y+beginY)*board.ModelSize+(x+beginX)]
			}
		}
	}

	// The model answers in the mover's frame; flip classes for white.
	if color != board.Black {
		t[0], t[2] = t[2], t[0]
	}

	// Territory the board has already determined overrides the model.
	determined := b.GetTerritories(board.Black)
	for i := range determined {
		switch determined[i] {
		case board.White:
			t[0][i], t[1][i], t[2][i] = 1, 0, 0
		case board.Black:
			t[0][i], t[1][i], t[2][i] = 0, 0, 1
		}
	}

	if raw {
		return t, nil, nil
	}

	owners := make([]board.Color, w*h)
	for i := range owners {
		owners[i] = argmaxClass(t[0][i], t[1][i], t[2][i])
	}
	return t, owners, nil
}

// argmaxClass maps a [white, empty, black] distribution onto its owner.
func argmaxClass(white, empty, black float32) board.Color {
	switch {
	case black >= empty && black >= white:
		return board.Black
	case white >= empty && white > black:
		return board.White
	default:
		return board.Empty
	}
}

// GetValues returns the model's per-cell value map in black's frame,
// each value in [-1, 1].
func (p *Player) GetValues() ([]float32, error) {
	row, err := p.execute(p.board, board.Black)
	if err != nil {
		return nil, err
	}

	w, h := p.conf.Width, p.conf.Height
	beginX, beginY := board.PadOffsets(w, h)
	values := make([]float32, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			values[y*w+x] = row[dualnet.CellValueOffset+(y+beginY)*board.ModelSize+(x+beginX)]*2 - 1
		}
	}
	return values, nil
}

// GetFinalScore computes the score in black's favor: predicted
// ownership with seki stones kept, surrounded regions filled under the
// Chinese rule, komi subtracted, and the move-count difference
// subtracted under the Japanese rule.
func (p *Player) GetFinalScore() (float64, error) {
	colors := p.board.GetColors(board.Black)
	_, territories, err := p.GetTerritories(nil, board.Empty, false)
	if err != nil {
		return 0, err
	}

	// Seki: a cell the predictor left ambiguous keeps its own stone.
	for i := range territories {
		if territories[i] == board.Empty {
			territories[i] = colors[i]
		}
	}

	if p.conf.Rule == board.RuleChinese {
		fillSurroundedAreas(territories, p.conf.Width, p.conf.Height)
	}

	var sum int
	for _, c := range territories {
		sum += int(c)
	}
	result := float64(sum) - p.komi

	if p.conf.Rule == board.RuleJapanese {
		result -= float64(p.moves[0] - p.moves[1])
	}
	return result, nil
}

// fillSurroundedAreas flood-fills every remaining empty region that is
// bordered by a single color; mixed borders stay empty as dame.
func fillSurroundedAreas(territories []board.Color, w, h int) {
	checked := make([]bool, len(territories))

	for start := range territories {
		if checked[start] || territories[start] != board.Empty {
			continue
		}

		stack := []int{start}
		checked[start] = true
		region := []int{start}
		owner := board.Empty
		single := true

		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y := i%w, i/w

			for _, n := range [4][2]int{{x - 1, y}, {x + 1, y}, {x, y - 1}, {x, y + 1}} {
				nx, ny := n[0], n[1]
				if nx < 0 || nx >= w || ny < 0 || ny >= h {
					continue
				}
				j := ny*w + nx
				if territories[j] == board.Empty {
					if !checked[j] {
						checked[j] = true
						region = append(region, j)
						stack = append(stack, j)
					}
				} else if owner == board.Empty {
					owner = territories[j]
				} else if owner != territories[j] {
					single = false
				}
			}
		}

		if single && owner != board.Empty {
			for _, i := range region {
				territories[i] = owner
			}
		}
	}
}
