// Package mcts implements the search tree and the worker fleet of the
// engine: an arena of nodes keyed by (board fingerprint, side to move),
// PUCB/UCB1 edge selection under virtual loss, and a pool of searcher
// goroutines feeding leaves to the inference processor.
package mcts

import (
	"sync"

	"github.com/tengen/board"
)

// Config holds the tree-level search constants.
type Config struct {
	// CPuct scales the prior term of PUCB selection.
	CPuct float32
	// CUcb scales the exploration term of UCB1 selection.
	CUcb float32
	// MaxNodes caps the arena; the search winds down when it fills.
	MaxNodes int
	// MaxDepth caps a single selection path. Zero means twice the
	// board area.
	MaxDepth int
	// PVDepth caps principal-variation extraction.
	PVDepth int
}

// DefaultConfig returns the standing search constants.
func DefaultConfig() Config {
	return Config{
		CPuct:    1.2,
		CUcb:     1.4,
		MaxNodes: 400000,
		PVDepth:  16,
	}
}

func (c Config) withDefaults() Config {
	if c.CPuct == 0 {
		c.CPuct = 1.2
	}
	if c.CUcb == 0 {
		c.CUcb = 1.4
	}
	if c.MaxNodes == 0 {
		c.MaxNodes = 400000
	}
	if c.PVDepth == 0 {
		c.PVDepth = 16
	}
	return c
}

// nodeKey identifies a position for transposition sharing.
type nodeKey struct {
	fingerprint string
	color       board.Color
}

// Tree is the arena of nodes. Structural changes (allocation, root
// moves) take the tree lock; per-node statistics take only the node's
// own lock.
type Tree struct {
	mu sync.RWMutex

	conf  Config
	nodes []*Node
	byKey map[nodeKey]naughty
	root  naughty
}

// NewTree returns an empty tree.
func NewTree(conf Config) *Tree {
	return &Tree{
		conf:  conf.withDefaults(),
		byKey: make(map[nodeKey]naughty),
		root:  nilNode,
	}
}

// Config returns the tree constants.
func (t *Tree) Config() Config { return t.conf }

// Len returns the number of allocated nodes.
func (t *Tree) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes)
}

// nodeFromNaughty resolves an arena id.
func (t *Tree) nodeFromNaughty(id naughty) *Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.nodes[int(id)]
}

// Root returns the root node, or nil before Reset.
func (t *Tree) Root() *Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.root.isValid() {
		return nil
	}
	return t.nodes[int(t.root)]
}

// getOrCreate returns the node for the position, allocating it when the
// (fingerprint, color) pair is new. Transposed move orders land on the
// same node.
func (t *Tree) getOrCreate(b *board.Board, color board.Color) naughty {
	key := nodeKey{fingerprint: b.Fingerprint(), color: color}

	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.byKey[key]; ok {
		return id
	}

	id := naughty(len(t.nodes))
	t.nodes = append(t.nodes, &Node{
		id:    id,
		board: b.Clone(),
		color: color,
	})
	t.byKey[key] = id
	return id
}

// full reports whether the arena hit its node budget.
func (t *Tree) full() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.nodes) >= t.conf.MaxNodes
}

// Reset discards every node and roots the tree at the given position.
func (t *Tree) Reset(b *board.Board, color board.Color) {
	t.mu.Lock()
	t.nodes = t.nodes[:0]
	t.byKey = make(map[nodeKey]naughty)
	t.root = nilNode
	t.mu.Unlock()

	t.root = t.getOrCreate(b, color)
}

// Advance reroots the tree to the child reached by playing pos from the
// current root, keeping that subtree's statistics. It reports whether
// the expanded root had a child linked for pos; when it did not, the
// caller should Reset.
func (t *Tree) Advance(pos board.Position) bool {
	root := t.Root()
	if root == nil || root.Status() != Expanded {
		return false
	}

	i := root.findEdge(pos)
	if i < 0 {
		return false
	}
	child := root.edgeStats(i).child
	if !child.isValid() {
		return false
	}

	// The old root becomes an interior node: undo the session-local
	// prior reshaping and width cap it carried.
	root.resetSessionPriors()

	t.mu.Lock()
	t.root = child
	t.mu.Unlock()
	return true
}

// childOf resolves the target node of an edge, creating and linking it
// on first traversal. The resulting child may already be expanded when
// another move order reached the same position.
func (t *Tree) childOf(n *Node, edge int) naughty {
	n.lock.Lock()
	child := n.edges[edge].child
	pos := n.edges[edge].pos
	n.lock.Unlock()
	if child.isValid() {
		return child
	}

	nb := n.board.Clone()
	if nb.Play(pos, n.color) < 0 {
		return nilNode
	}
	child = t.getOrCreate(nb, n.color.Opposite())

	n.lock.Lock()
	if !n.edges[edge].child.isValid() {
		n.edges[edge].child = child
	} else {
		child = n.edges[edge].child
	}
	n.lock.Unlock()
	return child
}

// expand attaches edges for every legal move plus pass, with priors
// taken from the prediction, and stores the leaf value. The caller must
// have won beginExpansion. Boards that just saw two passes become
// Terminal instead and get no edges.
func (t *Tree) expand(n *Node, pred Prediction) {
	n.lock.Lock()
	n.value = pred.Value

	if gameEnded(n.board) {
		n.lock.Unlock()
		n.setStatus(Terminal)
		return
	}

	w, h := n.board.Width(), n.board.Height()
	mask := n.board.GetEnableds(n.color, true)

	var legalSum float32
	count := 0
	for i, ok := range mask {
		if ok {
			legalSum += pred.Policy[i]
			count++
		}
	}
	passPrior := pred.Policy[w*h]
	legalSum += passPrior

	n.edges = make([]Edge, 0, count+1)
	add := func(pos board.Position, prior float32) {
		if legalSum > 1e-12 {
			prior /= legalSum
		} else {
			prior = 1 / float32(count+1)
		}
		n.edges = append(n.edges, Edge{
			pos:         pos,
			prior:       prior,
			searchPrior: prior,
			eligible:    true,
			child:       nilNode,
		})
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if mask[y*w+x] {
				add(board.Position{X: x, Y: y}, pred.Policy[y*w+x])
			}
		}
	}
	add(board.Pass, passPrior)

	n.lock.Unlock()
	n.setStatus(Expanded)
}

// gameEnded reports whether the last two moves were both passes.
func gameEnded(b *board.Board) bool {
	recent := b.RecentMoves(2)
	return len(recent) == 2 && recent[0].IsPass() && recent[1].IsPass()
}
