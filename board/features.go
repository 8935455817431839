package board

// Model geometry. Feature tensors are always padded to ModelSize x
// ModelSize with the actual board centered, so one model serves every
// board size up to 19.
const (
	ModelSize   = 19
	NumFeatures = 32 // board feature planes, plus one turn-parity plane
	NumInfos    = 7  // game-level scalars

	InputSize = (NumFeatures + 1) * ModelSize * ModelSize + NumInfos
)

// PadOffsets returns the top-left offset of a width x height board
// centered inside the ModelSize grid.
func PadOffsets(width, height int) (beginX, beginY int) {
	return (ModelSize - width) / 2, (ModelSize - height) / 2
}

// GetInputs builds the model input vector for the side to move: 32
// feature planes plus the turn-parity plane, each ModelSize x ModelSize
// row-major, followed by the game scalars. Planes are mover-oriented:
// "own" means the color about to play.
//
// Planes: 0 own stones, 1 opponent stones, 2 empty; 3-6 own chains with
// 1/2/3/4+ liberties, 7-10 the same for the opponent; 11-18 the last
// eight moves, most recent first; 19 the mover's ko point; 20 legal for
// the mover, 21 legal for the opponent; 22 own laddered chains, 23
// opponent laddered chains; 24-27 own chain sizes 1/2/3/4+; 28 own
// determined territory, 29 opponent territory; 30 the on-board mask;
// 31 all ones on board; 32 filled when the mover is black.
func (b *Board) GetInputs(colorToMove Color, komi float64, rule Rule, superko bool) []float32 {
	inputs := make([]float32, InputSize)
	beginX, beginY := PadOffsets(b.width, b.height)

	planeLen := ModelSize * ModelSize
	set := func(plane int, p Position, v float32) {
		inputs[plane*planeLen+(p.Y+beginY)*ModelSize+(p.X+beginX)] = v
	}

	opp := colorToMove.Opposite()

	// Stones, emptiness, liberties and chain sizes.
	sizes := make([]int, len(b.cells))
	libs := make([]int, len(b.cells))
	ladder := make([]bool, len(b.cells))
	b.scanChains(sizes, libs, ladder)

	for y := 0; y < b.height; y++ {
		for x := 0; x < b.width; x++ {
			p := Position{x, y}
			i := b.index(p)
			switch b.cells[i] {
			case colorToMove:
				set(0, p, 1)
				set(3+clampIndex(libs[i]), p, 1)
				set(24+clampIndex(sizes[i]), p, 1)
				if ladder[i] {
					set(22, p, 1)
				}
			case opp:
				set(1, p, 1)
				set(7+clampIndex(libs[i]), p, 1)
				if ladder[i] {
					set(23, p, 1)
				}
			default:
				set(2, p, 1)
			}
			set(30, p, 1)
			set(31, p, 1)
		}
	}

	// Recent moves, both colors merged by ply.
	recent := b.RecentMoves(8)
	for i, p := range recent {
		if !p.IsPass() {
			set(11+i, p, 1)
		}
	}

	if ko := b.kos[colorToMove.index()]; !ko.IsPass() {
		set(19, ko, 1)
	}

	for _, pl := range [2]struct {
		plane int
		color Color
	}{{20, colorToMove}, {21, opp}} {
		for y := 0; y < b.height; y++ {
			for x := 0; x < b.width; x++ {
				p := Position{x, y}
				if b.IsEnabled(p, pl.color, true) {
					set(pl.plane, p, 1)
				}
			}
		}
	}

	territories := b.GetTerritories(Black)
	for y := 0; y < b.height; y++ {
		for x := 0; x < b.width; x++ {
			p := Position{x, y}
			switch territories[b.index(p)] {
			case colorToMove:
				set(28, p, 1)
			case opp:
				set(29, p, 1)
			}
		}
	}

	if colorToMove == Black {
		for i := 32 * planeLen; i < 33*planeLen; i++ {
			inputs[i] = 1
		}
	}

	// Game scalars.
	infos := inputs[33*planeLen:]
	infos[0] = float32(komi) / 15
	if colorToMove == Black {
		infos[1] = 1
	}
	infos[2] = float32(b.width) / ModelSize
	infos[3] = float32(b.height) / ModelSize
	if rule == RuleJapanese {
		infos[4] = 1
	}
	if rule == RuleComputer {
		infos[5] = 1
	}
	if superko {
		infos[6] = 1
	}

	return inputs
}

// clampIndex buckets a chain statistic into the planes 0..3 (1, 2, 3,
// four or more).
func clampIndex(n int) int {
	if n > 4 {
		n = 4
	}
	if n < 1 {
		n = 1
	}
	return n - 1
}

// scanChains fills per-cell chain size, liberty count and ladder flags
// in one pass over the chains.
func (b *Board) scanChains(sizes, libs []int, ladder []bool) {
	seen := make([]bool, len(b.cells))
	for y := 0; y < b.height; y++ {
		for x := 0; x < b.width; x++ {
			p := Position{x, y}
			i := b.index(p)
			if seen[i] || b.cells[i] == Empty {
				continue
			}
			stones, n := b.group(p)
			caught := n == 1 && b.IsShicho(p)
			for _, s := range stones {
				j := b.index(s)
				seen[j] = true
				sizes[j] = len(stones)
				libs[j] = n
				ladder[j] = caught
			}
		}
	}
}

// RecentMoves merges the two per-color histories into play order and
// returns up to n of the latest moves, most recent first.
func (b *Board) RecentMoves(n int) []Position {
	black := b.histories[0]
	white := b.histories[1]
	merged := make([]Position, 0, len(black)+len(white))
	for i := 0; i < len(black) || i < len(white); i++ {
		if i < len(black) {
			merged = append(merged, black[i])
		}
		if i < len(white) {
			merged = append(merged, white[i])
		}
	}
	if len(merged) > n {
		merged = merged[len(merged)-n:]
	}
	// Reverse so the most recent move comes first.
	for i, j := 0, len(merged)-1; i < j; i, j = i+1, j-1 {
		merged[i], merged[j] = merged[j], merged[i]
	}
	return merged
}
