package mcts

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/chewxy/math32"

	"github.com/tengen/board"
)

// Status is the expansion state of a node.
type Status uint32

const (
	Unexpanded Status = iota
	Pending
	Expanded
	Terminal
)

func (s Status) String() string {
	switch s {
	case Unexpanded:
		return "Unexpanded"
	case Pending:
		return "Pending"
	case Expanded:
		return "Expanded"
	case Terminal:
		return "Terminal"
	}
	return "UNKNOWN STATUS"
}

// Edge is one candidate move out of a node. Statistics are stored in
// black's frame and re-oriented by readers; they are guarded by the
// owning node's lock.
type Edge struct {
	pos   board.Position
	prior float32

	// searchPrior is the session-local prior: the base prior reshaped
	// by temperature and noise at the root. eligible is cleared for
	// root edges outside the session's width cap.
	searchPrior float32
	eligible    bool

	child       naughty
	visits      int32
	playouts    int32
	valueSum    float32
	virtualLoss int32
}

// Pos returns the edge's move.
func (e *Edge) Pos() board.Position { return e.pos }

// q returns the mover-oriented mean value of the edge, with virtual
// loss applied as pessimistic pending visits. Caller holds the node
// lock.
func (e *Edge) q(mover board.Color) float32 {
	n := e.visits + e.virtualLoss
	if n == 0 {
		return 0
	}
	return (e.valueSum*float32(mover) - float32(e.virtualLoss)) / float32(n)
}

// Node is one position in the tree: a board snapshot, the side to move,
// and the aggregated search statistics. Nodes live in the tree arena
// and are addressed by naughties.
type Node struct {
	lock sync.Mutex

	id    naughty
	board *board.Board
	color board.Color // side to move

	status uint32 // atomic Status; Unexpanded->Pending is a CAS

	value       float32 // network value in black's frame
	valueSum    float32
	visits      int32
	playouts    int32
	virtualLoss int32

	edges []Edge
}

// Format prints the node for debug logs.
func (n *Node) Format(s fmt.State, c rune) {
	n.lock.Lock()
	defer n.lock.Unlock()
	fmt.Fprintf(s, "{NodeID: %v, Color: %v, Visits: %d, Playouts: %d, Value: %.3f, Status: %v, Edges: %d}",
		n.id, n.color, n.visits, n.playouts, n.value, n.Status(), len(n.edges))
}

// Status returns the node's expansion state.
func (n *Node) Status() Status {
	return Status(atomic.LoadUint32(&n.status))
}

// beginExpansion claims the node for expansion. Exactly one caller
// wins; the rest observe Pending and back off.
func (n *Node) beginExpansion() bool {
	return atomic.CompareAndSwapUint32(&n.status, uint32(Unexpanded), uint32(Pending))
}

func (n *Node) setStatus(s Status) {
	atomic.StoreUint32(&n.status, uint32(s))
}

// Visits returns the node's visit count.
func (n *Node) Visits() int32 {
	n.lock.Lock()
	defer n.lock.Unlock()
	return n.visits
}

// Value returns the node's stored network value in black's frame.
func (n *Node) Value() float32 {
	n.lock.Lock()
	defer n.lock.Unlock()
	return n.value
}

// addVirtualLoss marks an in-flight path through the node and its
// chosen edge.
func (n *Node) addVirtualLoss(edge int) {
	n.lock.Lock()
	n.virtualLoss++
	if edge >= 0 {
		n.edges[edge].virtualLoss++
	}
	n.lock.Unlock()
}

// revertVirtualLoss removes an in-flight mark without recording a
// visit; used when an iteration is abandoned.
func (n *Node) revertVirtualLoss(edge int) {
	n.lock.Lock()
	n.virtualLoss--
	if edge >= 0 {
		n.edges[edge].virtualLoss--
	}
	n.lock.Unlock()
}

// update folds a black-frame value into the node and edge statistics,
// reversing the virtual loss taken during selection.
func (n *Node) update(edge int, value float32, playout bool) {
	n.lock.Lock()
	n.visits++
	n.valueSum += value
	n.virtualLoss--
	if playout {
		n.playouts++
	}
	if edge >= 0 {
		e := &n.edges[edge]
		e.visits++
		e.valueSum += value
		e.virtualLoss--
		if playout {
			e.playouts++
		}
	}
	n.lock.Unlock()
}

// selectEdge picks the edge to follow for this iteration and applies
// virtual loss to it. Returns the edge index, or -1 when the node has
// no eligible edges.
func (n *Node) selectEdge(sel selector) int {
	n.lock.Lock()
	defer n.lock.Unlock()

	best := -1
	bestScore := math32.Inf(-1)
	for i := range n.edges {
		e := &n.edges[i]
		if !e.eligible {
			continue
		}
		score := sel(n, e)
		if score > bestScore {
			bestScore = score
			best = i
		}
	}
	if best >= 0 {
		n.virtualLoss++
		n.edges[best].virtualLoss++
	}
	return best
}

// resetSessionPriors restores the raw priors and full eligibility,
// dropping any root-session reshaping.
func (n *Node) resetSessionPriors() {
	n.lock.Lock()
	for i := range n.edges {
		n.edges[i].searchPrior = n.edges[i].prior
		n.edges[i].eligible = true
	}
	n.lock.Unlock()
}

// findEdge returns the index of the edge playing pos, or -1.
func (n *Node) findEdge(pos board.Position) int {
	n.lock.Lock()
	defer n.lock.Unlock()
	for i := range n.edges {
		if n.edges[i].pos == pos {
			return i
		}
	}
	return -1
}

// edgeStats copies an edge's statistics out under the lock.
func (n *Node) edgeStats(i int) Edge {
	n.lock.Lock()
	defer n.lock.Unlock()
	return n.edges[i]
}

// numEdges returns the edge count.
func (n *Node) numEdges() int {
	n.lock.Lock()
	defer n.lock.Unlock()
	return len(n.edges)
}
