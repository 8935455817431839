package mcts

import (
	"fmt"
	"sort"

	"github.com/chewxy/math32"

	"github.com/tengen/board"
)

// Criterion orders extracted candidates.
type Criterion int

const (
	// CriterionLCB orders by the lower confidence bound on win chance.
	CriterionLCB Criterion = iota
	// CriterionVisits orders by visit count.
	CriterionVisits
)

// Candidate is a public search result for one root move.
type Candidate struct {
	Pos      board.Position
	Color    board.Color
	Visits   int32
	Playouts int32
	Prior    float32
	// Value is the mean search value in black's frame.
	Value float32
	// Variations is the predicted principal variation, starting with
	// Pos itself.
	Variations []board.Position

	WinChance    float32
	WinChanceLCB float32
}

// finish derives the win-chance fields from value, color and visits.
func (c *Candidate) finish() {
	c.WinChance = c.Value*float32(c.Color)*0.5 + 0.5
	c.WinChanceLCB = c.WinChance - 1.96*0.25/math32.Sqrt(float32(c.Visits)+1)
}

func (c Candidate) String() string {
	return fmt.Sprintf(
		"Candidate(pos=(%d,%d), color=%v, visits=%d, playouts=%d, prior=%.2f, value=%.2f, win=%.2f, lcb=%.2f)",
		c.Pos.X, c.Pos.Y, c.Color, c.Visits, c.Playouts, c.Prior, c.Value, c.WinChance, c.WinChanceLCB)
}

// candidateFromEdge builds a candidate for a root edge. Unvisited edges
// inherit the node's own value estimate.
func candidateFromEdge(n *Node, e Edge) Candidate {
	c := Candidate{
		Pos:      e.pos,
		Color:    n.color,
		Visits:   e.visits,
		Playouts: e.playouts,
		Prior:    e.prior,
		Value:    n.value,
	}
	if e.visits > 0 {
		c.Value = e.valueSum / float32(e.visits)
	}
	c.finish()
	return c
}

// less orders candidates under the criterion, best first.
func (crit Criterion) less(a, b *Candidate) bool {
	if crit == CriterionVisits {
		return a.Visits > b.Visits
	}
	return a.WinChanceLCB > b.WinChanceLCB
}

// Candidates extracts the searched root moves ordered by the criterion,
// each with its principal variation.
func (t *Tree) Candidates(crit Criterion) []Candidate {
	root := t.Root()
	if root == nil || root.Status() != Expanded {
		return nil
	}

	root.lock.Lock()
	edges := append([]Edge(nil), root.edges...)
	root.lock.Unlock()

	var out []Candidate
	for i, e := range edges {
		if e.visits == 0 {
			continue
		}
		c := candidateFromEdge(root, e)
		c.Variations = t.principalVariation(root, i, crit)
		out = append(out, c)
	}

	sort.SliceStable(out, func(i, j int) bool { return crit.less(&out[i], &out[j]) })
	return out
}

// principalVariation descends from the edge's child picking the best
// visited edge by the same criterion at every step.
func (t *Tree) principalVariation(n *Node, edge int, crit Criterion) []board.Position {
	var pv []board.Position
	e := n.edgeStats(edge)
	pv = append(pv, e.pos)

	id := e.child
	for len(pv) < t.conf.PVDepth && id.isValid() {
		node := t.nodeFromNaughty(id)
		if node.Status() != Expanded {
			break
		}

		node.lock.Lock()
		best := -1
		var bestCand Candidate
		for i := range node.edges {
			if node.edges[i].visits == 0 {
				continue
			}
			c := candidateFromEdge(node, node.edges[i])
			if best < 0 || crit.less(&c, &bestCand) {
				best = i
				bestCand = c
			}
		}
		if best < 0 {
			node.lock.Unlock()
			break
		}
		pv = append(pv, node.edges[best].pos)
		id = node.edges[best].child
		node.lock.Unlock()
	}
	return pv
}

// RandomCandidate samples a root move from the softmax of the priors at
// the given temperature. Zero temperature picks the best prior.
func (s *Searcher) RandomCandidate(temperature float32) (Candidate, error) {
	root := s.tree.Root()
	if root == nil || root.Status() != Expanded {
		return Candidate{}, errEmptyRoot
	}

	root.lock.Lock()
	edges := append([]Edge(nil), root.edges...)
	root.lock.Unlock()
	if len(edges) == 0 {
		return Candidate{}, errEmptyRoot
	}

	pick := 0
	if temperature <= 0 {
		for i := range edges {
			if edges[i].prior > edges[pick].prior {
				pick = i
			}
		}
	} else {
		weights := make([]float32, len(edges))
		var sum float32
		for i := range edges {
			weights[i] = math32.Pow(edges[i].prior, 1/temperature)
			sum += weights[i]
		}
		s.rngMu.Lock()
		r := float32(s.rng.Float64()) * sum
		s.rngMu.Unlock()
		for i := range weights {
			r -= weights[i]
			if r <= 0 {
				pick = i
				break
			}
			pick = i
		}
	}

	return candidateFromEdge(root, edges[pick]), nil
}

// PassCandidate returns the pass move's candidate at the root.
func (s *Searcher) PassCandidate() (Candidate, error) {
	root := s.tree.Root()
	if root == nil || root.Status() != Expanded {
		return Candidate{}, errEmptyRoot
	}
	i := root.findEdge(board.Pass)
	if i < 0 {
		return Candidate{}, errEmptyRoot
	}
	return candidateFromEdge(root, root.edgeStats(i)), nil
}
