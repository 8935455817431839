package mcts

import (
	"sort"

	"github.com/chewxy/math32"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// selector scores an edge for selection. Higher is better for the
// mover at the node. Called with the node lock held.
type selector func(n *Node, e *Edge) float32

// pucb is the default policy: Q + cPuct * P * sqrt(N) / (1 + n), with
// virtual loss folded into Q as pending losing visits.
func pucb(cPuct float32) selector {
	return func(n *Node, e *Edge) float32 {
		numerator := math32.Sqrt(float32(n.visits))
		return e.q(n.color) + cPuct*e.searchPrior*numerator/(1+float32(e.visits+e.virtualLoss))
	}
}

// ucb1 ignores the priors: Q + cUcb * sqrt(ln N / (1 + n)).
func ucb1(cUcb float32) selector {
	return func(n *Node, e *Edge) float32 {
		if n.visits == 0 {
			return -float32(e.visits + e.virtualLoss)
		}
		logN := math32.Log(float32(n.visits))
		return e.q(n.color) + cUcb*math32.Sqrt(logN/(1+float32(e.visits+e.virtualLoss)))
	}
}

// equally round-robins over the edges: always take the least-traversed
// one. Used for dataset generation.
func equally() selector {
	return func(n *Node, e *Edge) float32 {
		return -float32(e.visits + e.virtualLoss)
	}
}

// selectorFor maps a session descriptor onto its edge-scoring policy.
func selectorFor(desc Session, conf Config) selector {
	switch {
	case desc.Equally:
		return equally()
	case desc.UseUCB1:
		return ucb1(conf.CUcb)
	default:
		return pucb(conf.CPuct)
	}
}

// applyRootSession reshapes the root's search priors for a session:
// temperature flattening, Gumbel noise, and the width cap on eligible
// edges. Non-root nodes always search on the raw priors.
func applyRootSession(root *Node, desc Session, rng *rand.Rand) {
	root.lock.Lock()
	defer root.lock.Unlock()

	var gumbel distuv.Gumbel
	if desc.Noise > 0 {
		gumbel = distuv.Gumbel{Mu: 0, Beta: 1, Src: rng}
	}

	var sum float32
	for i := range root.edges {
		e := &root.edges[i]
		p := e.prior
		if desc.Temperature > 0 && desc.Temperature != 1 {
			p = math32.Pow(p, 1/desc.Temperature)
		}
		if desc.Noise > 0 {
			p += desc.Noise * float32(gumbel.Rand())
			if p < 0 {
				p = 0
			}
		}
		e.searchPrior = p
		e.eligible = true
		sum += p
	}
	if sum > 1e-12 {
		for i := range root.edges {
			root.edges[i].searchPrior /= sum
		}
	}

	if desc.Width > 0 && desc.Width < len(root.edges) {
		order := make([]int, len(root.edges))
		for i := range order {
			order[i] = i
		}
		sort.Slice(order, func(a, b int) bool {
			return root.edges[order[a]].searchPrior > root.edges[order[b]].searchPrior
		})
		for _, i := range order[desc.Width:] {
			root.edges[i].eligible = false
		}
	}
}
