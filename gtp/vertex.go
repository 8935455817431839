package gtp

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tengen/board"
)

var vertexRe = regexp.MustCompile(`^[a-tA-T]\d+$`)

// ParseVertex converts a GTP vertex into a position. "pass" maps to the
// pass sentinel and "resign" to nil. Parsing is case-insensitive;
// column letters skip I and rows count from the bottom.
func ParseVertex(s string, width, height int) (*board.Position, error) {
	switch strings.ToLower(s) {
	case "pass":
		p := board.Pass
		return &p, nil
	case "resign":
		return nil, nil
	}

	if !vertexRe.MatchString(s) {
		return nil, Errorf("%s is not vertex", s)
	}

	x := int(strings.ToUpper(s)[0] - 'A')
	if x == 8 {
		return nil, Errorf("%s is not vertex", s)
	}
	if x > 8 {
		x--
	}
	row, err := strconv.Atoi(s[1:])
	if err != nil {
		return nil, Errorf("%s is not vertex", s)
	}
	y := height - row

	p := board.Position{X: x, Y: y}
	if !p.Valid(width, height) {
		return nil, Errorf("%s is not vertex", s)
	}
	return &p, nil
}

// FormatVertex renders a position: nil is "resign", an explicit pass
// is lowercased "pass", any other off-board position renders as
// "PASS", and board points use the skip-I column letters.
func FormatVertex(p *board.Position, width, height int) string {
	if p == nil {
		return "resign"
	}
	if p.IsPass() {
		return "pass"
	}
	if !p.Valid(width, height) {
		return "PASS"
	}

	x := p.X
	if x >= 8 {
		x++
	}
	return string(rune('A'+x)) + strconv.Itoa(height-p.Y)
}

// ParseColor reads a GTP color argument: anything starting with b or w.
// Empty means unrecognized.
func ParseColor(s string) board.Color {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return board.Empty
	}
	switch s[0] {
	case 'b':
		return board.Black
	case 'w':
		return board.White
	}
	return board.Empty
}

// colorFromArgs scans the arguments for the first color token.
func colorFromArgs(args []string) board.Color {
	for _, arg := range args {
		if c := ParseColor(arg); c != board.Empty {
			return c
		}
	}
	return board.Empty
}

// FormatColor renders a color for protocol output.
func FormatColor(c board.Color) string {
	if c == board.White {
		return "white"
	}
	return "black"
}
