// Package sgf reads and writes SGF game records: the root property set
// and the main-line move list, which is all the engine needs to replay
// a game.
package sgf

import (
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/tengen/board"
)

// DefaultSize is assumed when a record carries no SZ property.
const DefaultSize = 19

// Move is one node of the main line.
type Move struct {
	Pos     board.Position
	Color   board.Color
	Comment string
}

// Properties is the root node's property map. Keys are case-insensitive
// and stored lowercased.
type Properties map[string]string

// Get returns the property value, or def when absent.
func (p Properties) Get(key, def string) string {
	if v, ok := p[strings.ToLower(key)]; ok {
		return v
	}
	return def
}

// Set stores a property under the lowercased key.
func (p Properties) Set(key, value string) {
	p[strings.ToLower(key)] = value
}

// Record is a parsed SGF game.
type Record struct {
	Properties Properties
	Moves      []Move
}

// New returns an empty record.
func New() *Record {
	return &Record{Properties: Properties{}}
}

// Load reads and parses an SGF file.
func Load(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading sgf %s", path)
	}
	return Parse(string(data))
}

// Size returns the board size from the SZ property.
func (r *Record) Size() int {
	n, err := strconv.Atoi(r.Properties.Get("sz", strconv.Itoa(DefaultSize)))
	if err != nil || n <= 0 {
		return DefaultSize
	}
	return n
}

// Komi returns the KM property, or def when absent or malformed.
func (r *Record) Komi(def float64) float64 {
	v, err := strconv.ParseFloat(r.Properties.Get("km", ""), 64)
	if err != nil {
		return def
	}
	return v
}

// Handicap returns the HA property, or zero.
func (r *Record) Handicap() int {
	n, _ := strconv.Atoi(r.Properties.Get("ha", "0"))
	return n
}

// Parse scans SGF text. The scanner is permissive: it keeps the first
// game tree's node sequence, treats the first node as the property
// bag, and turns any B/W node into a move. Escapes inside property
// values are honored.
func Parse(text string) (*Record, error) {
	type node map[string]string
	var nodes []node

	i := 0
	for i < len(text) && text[i] != '(' {
		i++
	}
	if i == len(text) {
		return nil, errors.New("no game tree in sgf data")
	}
	i++

	state := 1 // 1: between properties, 2: inside a value
	name := strings.Builder{}
	value := strings.Builder{}
	escape := false

	for ; i < len(text) && state > 0; i++ {
		c := text[i]
		switch {
		case state == 1 && c == ')':
			state = 0
		case state == 1 && c == ';':
			nodes = append(nodes, node{})
			name.Reset()
			value.Reset()
		case state == 1 && c == '[':
			state = 2
		case state == 1 && !isSpace(c):
			name.WriteByte(c)
		case state == 2 && !escape && c == ']':
			if len(nodes) > 0 {
				nodes[len(nodes)-1][strings.ToLower(name.String())] = value.String()
			}
			name.Reset()
			value.Reset()
			state = 1
		case state == 2 && !escape && c == '\\':
			escape = true
		case state == 2:
			value.WriteByte(c)
			escape = false
		}
	}

	if len(nodes) == 0 {
		return nil, errors.New("empty sgf game tree")
	}

	r := New()
	for k, v := range nodes[0] {
		r.Properties[k] = v
	}
	if _, ok := r.Properties["sz"]; !ok {
		r.Properties["sz"] = strconv.Itoa(DefaultSize)
	}
	size := r.Size()

	for _, n := range nodes[1:] {
		var color board.Color
		var coord string
		if v, ok := n["b"]; ok {
			color, coord = board.Black, v
		} else if v, ok := n["w"]; ok {
			color, coord = board.White, v
		} else {
			continue
		}

		pos := board.Pass
		if len(coord) == 2 {
			pos = board.Position{X: int(coord[0]) - 'a', Y: int(coord[1]) - 'a'}
		}
		if !pos.Valid(size, size) {
			pos = board.Pass
		}

		r.Moves = append(r.Moves, Move{Pos: pos, Color: color, Comment: n["c"]})
	}

	return r, nil
}

// Dumps serializes the record. GM, FF and SZ are always emitted and
// properties are written sorted for stable output.
func (r *Record) Dumps() string {
	props := Properties{}
	for k, v := range r.Properties {
		props[k] = v
	}
	props.Set("gm", "1")
	props.Set("ff", "4")
	props.Set("sz", strconv.Itoa(r.Size()))

	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString("(;")
	for _, k := range keys {
		sb.WriteString(strings.ToUpper(k))
		sb.WriteByte('[')
		sb.WriteString(escapeValue(props[k]))
		sb.WriteByte(']')
	}

	size := r.Size()
	for _, m := range r.Moves {
		if m.Color == board.Black {
			sb.WriteString(";B[")
		} else {
			sb.WriteString(";W[")
		}
		if m.Pos.Valid(size, size) {
			sb.WriteByte(byte('a' + m.Pos.X))
			sb.WriteByte(byte('a' + m.Pos.Y))
		}
		sb.WriteByte(']')
		if m.Comment != "" {
			sb.WriteString("C[")
			sb.WriteString(escapeValue(m.Comment))
			sb.WriteByte(']')
		}
	}
	sb.WriteByte(')')
	return sb.String()
}

// Dump writes the record to a file.
func (r *Record) Dump(path string) error {
	return errors.Wrapf(os.WriteFile(path, []byte(r.Dumps()), 0o644), "writing sgf %s", path)
}

// CreateBoard replays the record onto a fresh board: handicap stones
// first, then the move list.
func (r *Record) CreateBoard() (*board.Board, error) {
	size := r.Size()
	b := board.New(size, size)

	for _, p := range board.GetHandicapPositions(size, size, r.Handicap()) {
		if b.Play(p, board.Black) < 0 {
			return nil, errors.Errorf("illegal handicap stone at (%d,%d)", p.X, p.Y)
		}
	}
	for i, m := range r.Moves {
		if b.Play(m.Pos, m.Color) < 0 {
			return nil, errors.Errorf("illegal move %d at (%d,%d)", i, m.Pos.X, m.Pos.Y)
		}
	}
	return b, nil
}

func escapeValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return strings.ReplaceAll(v, `]`, `\]`)
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
