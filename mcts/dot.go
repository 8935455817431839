package mcts

import (
	"fmt"

	"github.com/awalterschulze/gographviz"
	"github.com/pkg/errors"
)

var errEmptyRoot = errors.New("root has not been evaluated")

// DOT renders the searched part of the tree as a graphviz digraph, for
// offline inspection of a session. Only visited edges are emitted.
func (t *Tree) DOT(maxDepth int) (string, error) {
	root := t.Root()
	if root == nil {
		return "", errEmptyRoot
	}

	graph := gographviz.NewGraph()
	if err := graph.SetName("search"); err != nil {
		return "", errors.WithStack(err)
	}
	if err := graph.SetDir(true); err != nil {
		return "", errors.WithStack(err)
	}

	seen := map[naughty]bool{}
	var walk func(id naughty, depth int) error
	walk = func(id naughty, depth int) error {
		if seen[id] || depth > maxDepth {
			return nil
		}
		seen[id] = true

		n := t.nodeFromNaughty(id)
		n.lock.Lock()
		label := fmt.Sprintf(`"n%d\n%s v=%d q=%.2f"`, id, n.color, n.visits, meanValue(n))
		edges := append([]Edge(nil), n.edges...)
		n.lock.Unlock()

		name := fmt.Sprintf("n%d", id)
		if err := graph.AddNode("search", name, map[string]string{"label": label}); err != nil {
			return errors.WithStack(err)
		}

		for _, e := range edges {
			if e.visits == 0 || !e.child.isValid() {
				continue
			}
			if err := walk(e.child, depth+1); err != nil {
				return err
			}
			attrs := map[string]string{
				"label": fmt.Sprintf(`"(%d,%d) n=%d"`, e.pos.X, e.pos.Y, e.visits),
			}
			child := fmt.Sprintf("n%d", e.child)
			if err := graph.AddEdge(name, child, true, attrs); err != nil {
				return errors.WithStack(err)
			}
		}
		return nil
	}

	t.mu.RLock()
	rootID := t.root
	t.mu.RUnlock()
	if err := walk(rootID, 0); err != nil {
		return "", err
	}
	return graph.String(), nil
}

func meanValue(n *Node) float32 {
	if n.visits == 0 {
		return n.value
	}
	return n.valueSum / float32(n.visits)
}
