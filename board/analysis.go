package board

// GetTerritories classifies every empty region that is bordered by
// stones of a single color as that color's determined territory.
// Contested regions and stone cells read Empty. The result is row-major
// and oriented for the given color.
func (b *Board) GetTerritories(orient Color) []Color {
	out := make([]Color, len(b.cells))
	seen := make([]bool, len(b.cells))

	var nbuf [4]Position
	for y := 0; y < b.height; y++ {
		for x := 0; x < b.width; x++ {
			start := Position{x, y}
			si := b.index(start)
			if seen[si] || b.cells[si] != Empty {
				continue
			}

			// Flood-fill the empty region, collecting bordering colors.
			region := []Position{start}
			stack := []Position{start}
			seen[si] = true
			owner := Empty
			single := true

			for len(stack) > 0 {
				p := stack[len(stack)-1]
				stack = stack[:len(stack)-1]

				for _, n := range b.neighbors(p, nbuf[:0]) {
					i := b.index(n)
					switch c := b.cells[i]; c {
					case Empty:
						if !seen[i] {
							seen[i] = true
							region = append(region, n)
							stack = append(stack, n)
						}
					default:
						if owner == Empty {
							owner = c
						} else if owner != c {
							single = false
						}
					}
				}
			}

			if single && owner != Empty {
				for _, p := range region {
					out[b.index(p)] = owner * orient
				}
			}
		}
	}
	return out
}

// GetOwners returns the signed owner of every cell: stones count as
// their own color, determined territory as its owner, dame as zero.
// Under the Japanese rule the stone/territory split is the same; the
// move-count adjustment happens at scoring time.
func (b *Board) GetOwners(orient Color, rule Rule) []Color {
	_ = rule
	out := b.GetTerritories(orient)
	for i, c := range b.cells {
		if c != Empty {
			out[i] = c * orient
		}
	}
	return out
}

// GetRenSize returns the size of the chain at p, or 0 for an empty cell.
func (b *Board) GetRenSize(p Position) int {
	if b.At(p) == Empty {
		return 0
	}
	stones, _ := b.group(p)
	return len(stones)
}

// GetRenSpace returns the number of liberties of the chain at p, or 0
// for an empty cell.
func (b *Board) GetRenSpace(p Position) int {
	if b.At(p) == Empty {
		return 0
	}
	_, libs := b.group(p)
	return libs
}

// IsShicho reports whether the chain at p is caught in a ladder: it is
// in atari and every escape attempt ends recaptured. The read runs on
// board copies and never mutates b.
func (b *Board) IsShicho(p Position) bool {
	if b.At(p) == Empty {
		return false
	}
	_, libs := b.group(p)
	if libs != 1 {
		return false
	}
	return b.Clone().runShicho(p, b.width*b.height)
}

// runShicho plays out the ladder on a scratch board. The chain at p has
// exactly one liberty; the defender extends, then the attacker atari's
// from each side.
func (b *Board) runShicho(p Position, depth int) bool {
	if depth <= 0 {
		return false
	}

	color := b.At(p)
	stones, _ := b.group(p)
	escape, n := b.libertiesOf(stones)
	if n != 1 {
		return n == 0
	}

	if b.place(escape, color) < 0 {
		return true // cannot even extend
	}

	newStones, newLibs := b.group(escape)
	switch {
	case newLibs == 0:
		return true
	case newLibs >= 3:
		return false
	case newLibs == 1:
		return true // attacker captures on the next move
	}

	// Two liberties: the attacker tries each as the next atari.
	libs := make([]Position, 0, 2)
	seen := make([]bool, len(b.cells))
	var nbuf [4]Position
	for _, s := range newStones {
		for _, q := range b.neighbors(s, nbuf[:0]) {
			i := b.index(q)
			if b.cells[i] == Empty && !seen[i] {
				seen[i] = true
				libs = append(libs, q)
			}
		}
	}

	for _, atari := range libs {
		probe := b.Clone()
		if probe.place(atari, color.Opposite()) < 0 {
			continue
		}
		if _, l := probe.group(escape); l != 1 {
			continue
		}
		if probe.runShicho(escape, depth-1) {
			return true
		}
	}
	return false
}

// libertiesOf returns one liberty of the chain and the liberty count.
func (b *Board) libertiesOf(stones []Position) (Position, int) {
	seen := make([]bool, len(b.cells))
	first := Pass
	count := 0
	var nbuf [4]Position
	for _, s := range stones {
		for _, q := range b.neighbors(s, nbuf[:0]) {
			i := b.index(q)
			if b.cells[i] == Empty && !seen[i] {
				seen[i] = true
				if count == 0 {
					first = q
				}
				count++
			}
		}
	}
	return first, count
}
