package gtp

import (
	"fmt"
	"strings"

	"github.com/tengen/board"
)

// boardString renders the position the classic GTP way: column letters
// on top and bottom, row numbers on both sides, X/O stones, star-point
// marks, and the capture counts appended to the last two rows.
func (e *Engine) boardString() string {
	var b *board.Board
	capturedBlack, capturedWhite := 0, 0
	if p := e.getPlayer(); p != nil {
		b = p.GetBoard()
		capturedBlack = p.GetCaptured(board.Black)
		capturedWhite = p.GetCaptured(board.White)
	} else {
		b = board.New(e.size, e.size)
	}

	colors := b.GetColors(board.Black)

	// Vertex names along the diagonal give both the column letters and
	// the row numbers.
	chars := make([]string, e.size)
	for i := range chars {
		pos := board.Position{X: i, Y: i}
		chars[i] = FormatVertex(&pos, e.size, e.size)
	}

	mark := func(x, y int, c board.Color) string {
		switch {
		case c == board.Black:
			return "X"
		case c == board.White:
			return "O"
		case (x-3)%6 == 0 && (y-3)%6 == 0:
			return "+"
		default:
			return "."
		}
	}

	cols := make([]string, e.size)
	for x := 0; x < e.size; x++ {
		cols[x] = chars[x][:1]
	}
	texts := []string{"   " + strings.Join(cols, " ")}

	for y := 0; y < e.size; y++ {
		row := chars[y][1:]
		cells := make([]string, e.size)
		for x := 0; x < e.size; x++ {
			cells[x] = mark(x, y, colors[y*e.size+x])
		}
		texts = append(texts, fmt.Sprintf("%2s %s %-2s", row, strings.Join(cells, " "), row))
	}

	texts[len(texts)-2] += fmt.Sprintf("    WHITE (O) has captured %d stones", capturedBlack)
	texts[len(texts)-1] += fmt.Sprintf("    BLACK (X) has captured %d stones", capturedWhite)

	texts = append(texts, "   "+strings.Join(cols, " "))
	return strings.Join(texts, "\n")
}
