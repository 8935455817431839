// Package player binds one game to the search machinery: a board, the
// inference processor, and a searcher pool over a shared tree. The GTP
// layer serializes all calls; searchers only ever read the live board
// through their own copies.
package player

import (
	"time"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/tengen/board"
	"github.com/tengen/mcts"
	"github.com/tengen/processor"
)

// Config configures a player.
type Config struct {
	Threads      int
	Width        int
	Height       int
	Komi         float64
	Rule         board.Rule
	Superko      bool
	EvalLeafOnly bool
	Search       mcts.Config
}

// Player holds the state of one game.
type Player struct {
	proc *processor.Processor
	conf Config
	komi float64

	board    *board.Board
	tree     *mcts.Tree
	searcher *mcts.Searcher

	turn      int
	moves     [2]int // moves played by black, white
	captureds [2]int // stones of black, white that were captured
	histories map[string]struct{}
}

// New creates a player on an empty board. With a deterministic
// processor the searcher pool shrinks to one worker so results are
// reproducible.
func New(proc *processor.Processor, conf Config) *Player {
	threads := conf.Threads
	if threads < 1 {
		threads = 1
	}
	if proc.Config().Deterministic {
		threads = 1
	}

	p := &Player{
		proc:      proc,
		conf:      conf,
		komi:      conf.Komi,
		board:     board.New(conf.Width, conf.Height),
		tree:      mcts.NewTree(conf.Search),
		histories: make(map[string]struct{}),
	}
	p.tree.Reset(p.board, p.board.Next())
	p.searcher = mcts.NewSearcher(p.tree, netEvaluator{p: p}, threads, conf.EvalLeafOnly)
	return p
}

// Clear resets the game to an empty board, keeping the configuration.
func (p *Player) Clear() {
	p.board = board.New(p.conf.Width, p.conf.Height)
	p.tree.Reset(p.board, p.board.Next())
	p.turn = 0
	p.moves = [2]int{}
	p.captureds = [2]int{}
	p.histories = make(map[string]struct{})
}

// GetColor returns the side to move.
func (p *Player) GetColor() board.Color { return p.board.Next() }

// GetBoard returns a copy of the current board.
func (p *Player) GetBoard() *board.Board { return p.board.Clone() }

// Turn returns the number of moves played through this player.
func (p *Player) Turn() int { return p.turn }

// Komi returns the current komi.
func (p *Player) Komi() float64 { return p.komi }

// SetKomi rebinds the komi mid-game; searches pick it up on their next
// evaluation.
func (p *Player) SetKomi(komi float64) { p.komi = komi }

// GetCaptured returns how many stones of the color have been captured.
func (p *Player) GetCaptured(c board.Color) int {
	switch c {
	case board.Black:
		return p.captureds[0]
	case board.White:
		return p.captureds[1]
	}
	return 0
}

// Moves returns the move counts for black and white.
func (p *Player) Moves() (black, white int) { return p.moves[0], p.moves[1] }

// IsValidPosition reports whether pos is on the board.
func (p *Player) IsValidPosition(pos board.Position) bool {
	return pos.Valid(p.conf.Width, p.conf.Height)
}

// IsSuperkoMove reports whether playing pos with color would recreate a
// whole-board position this game has already seen.
func (p *Player) IsSuperkoMove(pos board.Position, color board.Color) bool {
	if !p.IsValidPosition(pos) {
		return false
	}
	probe := p.board.Clone()
	if probe.Play(pos, color) < 0 {
		return false
	}
	_, seen := p.histories[probe.Fingerprint()]
	return seen
}

// SetHandicap places the canonical handicap stones, recording each as a
// black move. The tree is discarded: the root jumped.
func (p *Player) SetHandicap(n int) error {
	positions := board.GetHandicapPositions(p.conf.Width, p.conf.Height, n)
	if len(positions) == 0 {
		return errors.Errorf("invalid handicap %d", n)
	}
	for _, pos := range positions {
		if p.board.Next() != board.Black {
			p.board.Play(board.Pass, p.board.Next())
		}
		if p.board.Play(pos, board.Black) < 0 {
			return errors.Errorf("handicap stone (%d,%d) is not placeable", pos.X, pos.Y)
		}
		p.moves[0]++
	}
	p.tree.Reset(p.board, p.board.Next())
	return nil
}

// Play places a stone (or a pass) for the color, inserting a pass for
// the other side first when it is not that color's turn. Empty means
// "whoever is to move". The tree reroots to the matching child when the
// search has one, else it is rebuilt at the new position.
func (p *Player) Play(pos board.Position, color board.Color) (int, error) {
	if color == board.Empty {
		color = p.board.Next()
	}
	if p.board.Next() != color {
		p.board.Play(board.Pass, p.board.Next())
		p.advanceTree(board.Pass)
	}

	captured := p.board.Play(pos, color)
	if captured < 0 {
		return captured, errors.Errorf("illegal move (%d,%d) %v", pos.X, pos.Y, color)
	}
	p.advanceTree(pos)
	p.turn++

	if p.IsValidPosition(pos) {
		if color == board.Black {
			p.moves[0]++
		} else {
			p.moves[1]++
		}
	}
	if color == board.Black {
		p.captureds[1] += captured
	} else {
		p.captureds[0] += captured
	}

	p.histories[p.board.Fingerprint()] = struct{}{}
	return captured, nil
}

// advanceTree moves the tree root along a real move, preserving the
// subtree when possible.
func (p *Player) advanceTree(pos board.Position) {
	if !p.tree.Advance(pos) {
		p.tree.Reset(p.board, p.board.Next())
	}
}

// GetPass returns the pass candidate after a minimal evaluation.
func (p *Player) GetPass() (mcts.Candidate, error) {
	if err := p.searcher.Start(mcts.Session{Temperature: 1}); err != nil {
		return mcts.Candidate{}, err
	}
	if err := p.searcher.Wait(1, 0, 120*time.Second, true); err != nil {
		return mcts.Candidate{}, err
	}
	return p.searcher.PassCandidate()
}

// GetRandom samples a move from the policy softmax at the given
// temperature, retrying a handful of times to avoid superko repeats
// and, when disallowed, first-line moves. Falls back to pass.
func (p *Player) GetRandom(temperature float32, allowOutermost bool) (mcts.Candidate, error) {
	if err := p.searcher.Start(mcts.Session{Temperature: 1}); err != nil {
		return mcts.Candidate{}, err
	}
	if err := p.searcher.Wait(1, 0, 120*time.Second, true); err != nil {
		return mcts.Candidate{}, err
	}

	var candidate mcts.Candidate
	var err error
	for i := 0; i < 10; i++ {
		candidate, err = p.searcher.RandomCandidate(temperature)
		if err != nil {
			return mcts.Candidate{}, err
		}
		klog.V(2).Info(candidate)

		if !p.IsValidPosition(candidate.Pos) {
			return candidate, nil
		}
		if p.conf.Superko && p.IsSuperkoMove(candidate.Pos, candidate.Color) {
			continue
		}
		if !allowOutermost &&
			(candidate.Pos.X == 0 || candidate.Pos.X == p.conf.Width-1 ||
				candidate.Pos.Y == 0 || candidate.Pos.Y == p.conf.Height-1) {
			continue
		}
		return candidate, nil
	}
	return p.searcher.PassCandidate()
}

// EvaluateParams is the full evaluation descriptor.
type EvaluateParams struct {
	Visits    int32
	Playouts  int32
	Timelimit time.Duration
	Equally   bool
	UseUCB1   bool
	Width     int
	// Temperature reshapes root priors; zero means 1.
	Temperature float32
	Noise       float32
	Criterion   mcts.Criterion
	Ponder      bool
}

// Evaluate runs a search session and returns the candidate moves,
// best first. Superko repeats are filtered; under the Computer rule a
// pass candidate is replaced by a dead-stone cleanup move. An
// inference failure aborts the session but still returns whatever the
// tree holds, falling back to pass.
func (p *Player) Evaluate(params EvaluateParams) ([]mcts.Candidate, error) {
	temperature := params.Temperature
	if temperature == 0 {
		temperature = 1
	}

	desc := mcts.Session{
		Equally:     params.Equally,
		UseUCB1:     params.UseUCB1,
		Width:       params.Width,
		Temperature: temperature,
		Noise:       params.Noise,
	}
	if err := p.searcher.Start(desc); err != nil {
		return nil, err
	}

	waitErr := p.searcher.Wait(params.Visits, params.Playouts, params.Timelimit, !params.Ponder)
	if waitErr != nil {
		klog.Errorf("evaluation aborted: %v", waitErr)
		p.searcher.Stop()
	}

	candidates := p.tree.Candidates(params.Criterion)

	if p.conf.Superko {
		kept := candidates[:0]
		for _, c := range candidates {
			if !p.IsSuperkoMove(c.Pos, c.Color) {
				kept = append(kept, c)
			}
		}
		candidates = kept
	}

	if len(candidates) == 0 {
		if params.Ponder {
			p.searcher.Stop()
		}
		if pass, err := p.searcher.PassCandidate(); err == nil {
			candidates = append(candidates, pass)
		} else {
			fallback := mcts.Candidate{Pos: board.Pass, Color: p.board.Next()}
			candidates = append(candidates, fallback)
		}
	}

	if p.conf.Rule == board.RuleComputer {
		for i := range candidates {
			if !p.IsValidPosition(candidates[i].Pos) {
				candidates[i].Pos = p.GetCleanupPosition(candidates[i].Color)
			}
		}
	}

	if klog.V(2).Enabled() {
		for _, c := range candidates {
			klog.V(2).Info(c)
		}
	}
	return candidates, nil
}

// StopEvaluation cancels a pondering session and waits for the workers
// to quiesce.
func (p *Player) StopEvaluation() {
	_ = p.searcher.Stop()
}

// Ponder starts a free-running search on the current position. It is
// stopped by the next StopEvaluation (the GTP reader issues one when
// any command arrives).
func (p *Player) Ponder() {
	if err := p.searcher.Start(mcts.Session{Temperature: 1}); err != nil {
		klog.V(1).Infof("ponder not started: %v", err)
	}
}

// DumpTree renders the searched part of the tree as a graphviz
// digraph, up to maxDepth plies below the root.
func (p *Player) DumpTree(maxDepth int) (string, error) {
	return p.tree.DOT(maxDepth)
}

// GetCleanupPosition returns a move that starts removing opponent
// stones that are dead in the mover's territory; Pass when there is
// nothing left to clean.
func (p *Player) GetCleanupPosition(color board.Color) board.Position {
	b := p.board
	w, h := b.Width(), b.Height()
	colors := b.GetColors(color)
	_, owners, err := p.GetTerritories(nil, board.Empty, false)
	if err != nil {
		return board.Pass
	}
	enableds := b.GetEnableds(color, false)

	// Owners are in black's frame; orient them to the mover like colors.
	dead := make([]bool, w*h)
	for i := range dead {
		dead[i] = owners[i]*color == board.Black && colors[i] == board.White
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if !enableds[y*w+x] {
				continue
			}
			for _, n := range [4][2]int{{x - 1, y}, {x + 1, y}, {x, y - 1}, {x, y + 1}} {
				nx, ny := n[0], n[1]
				if nx >= 0 && nx < w && ny >= 0 && ny < h && dead[ny*w+nx] {
					return board.Position{X: x, Y: y}
				}
			}
		}
	}
	return board.Pass
}
