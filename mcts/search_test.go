package mcts

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tengen/board"
)

// uniformEval returns a flat policy and a fixed black-frame value.
type uniformEval struct {
	value float32
	calls atomic.Int64
	fail  atomic.Bool
}

func (e *uniformEval) Evaluate(b *board.Board, color board.Color) (Prediction, error) {
	e.calls.Add(1)
	if e.fail.Load() {
		return Prediction{}, errors.New("injected evaluator failure")
	}
	n := b.Width()*b.Height() + 1
	policy := make([]float32, n)
	for i := range policy {
		policy[i] = 1 / float32(n)
	}
	return Prediction{Policy: policy, Value: e.value}, nil
}

func newSearcher(t *testing.T, threads int) (*Searcher, *uniformEval) {
	t.Helper()
	tree := NewTree(Config{MaxNodes: 10000, PVDepth: 8})
	b := board.New(5, 5)
	tree.Reset(b, board.Black)

	eval := &uniformEval{value: 0.2}
	s := NewSearcher(tree, eval, threads, false)
	return s, eval
}

// checkInvariants walks every allocated node verifying the visit and
// virtual-loss invariants that must hold at rest.
func checkInvariants(t *testing.T, tree *Tree) {
	t.Helper()
	tree.mu.RLock()
	nodes := append([]*Node(nil), tree.nodes...)
	tree.mu.RUnlock()

	for _, n := range nodes {
		n.lock.Lock()
		assert.Zero(t, n.virtualLoss, "node %d virtual loss at rest", n.id)
		if Status(n.status) == Expanded && n.visits > 0 {
			var edgeVisits int32
			for i := range n.edges {
				assert.Zero(t, n.edges[i].virtualLoss, "node %d edge %d virtual loss", n.id, i)
				edgeVisits += n.edges[i].visits
			}
			assert.Equal(t, n.visits-1, edgeVisits, "node %d visit bookkeeping", n.id)
		}
		n.lock.Unlock()
	}
}

func TestSearchReachesVisitTarget(t *testing.T) {
	s, _ := newSearcher(t, 4)

	require.NoError(t, s.Start(Session{Temperature: 1}))
	require.NoError(t, s.Wait(50, 0, 10*time.Second, true))

	root := s.Tree().Root()
	assert.GreaterOrEqual(t, root.Visits(), int32(50))
	checkInvariants(t, s.Tree())
}

func TestSearchPlayoutTarget(t *testing.T) {
	s, _ := newSearcher(t, 2)

	require.NoError(t, s.Start(Session{Temperature: 1}))
	require.NoError(t, s.Wait(0, 30, 10*time.Second, true))
	assert.GreaterOrEqual(t, s.Tree().Root().Visits(), int32(30))
	checkInvariants(t, s.Tree())
}

func TestStopQuiescesWorkers(t *testing.T) {
	s, _ := newSearcher(t, 4)

	require.NoError(t, s.Start(Session{Temperature: 1}))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Stop())

	assert.False(t, s.Active())
	checkInvariants(t, s.Tree())
}

func TestSecondStartRequiresHalt(t *testing.T) {
	s, _ := newSearcher(t, 1)

	require.NoError(t, s.Start(Session{Temperature: 1}))
	assert.Error(t, s.Start(Session{Temperature: 1}))

	require.NoError(t, s.Stop())
	assert.NoError(t, s.Start(Session{Temperature: 1}))
	require.NoError(t, s.Stop())
}

func TestEvaluatorFailureAbortsSession(t *testing.T) {
	s, eval := newSearcher(t, 2)

	require.NoError(t, s.Start(Session{Temperature: 1}))
	eval.fail.Store(true)
	err := s.Wait(10000, 0, 5*time.Second, true)
	assert.Error(t, err)
	checkInvariants(t, s.Tree())
}

func TestTimelimitTerminates(t *testing.T) {
	s, _ := newSearcher(t, 1)

	require.NoError(t, s.Start(Session{Temperature: 1}))
	start := time.Now()
	// Unreachable visit target: only the clock can end the wait.
	require.NoError(t, s.Wait(1<<19, 0, 150*time.Millisecond, true))
	assert.Less(t, time.Since(start), 5*time.Second)
	checkInvariants(t, s.Tree())
}

func TestWidthLimitsRootEdges(t *testing.T) {
	s, _ := newSearcher(t, 2)

	require.NoError(t, s.Start(Session{Temperature: 1, Width: 3}))
	require.NoError(t, s.Wait(60, 0, 10*time.Second, true))

	root := s.Tree().Root()
	root.lock.Lock()
	visited := 0
	for i := range root.edges {
		if root.edges[i].visits > 0 {
			visited++
		}
		if !root.edges[i].eligible {
			assert.Zero(t, root.edges[i].visits, "ineligible edge was searched")
		}
	}
	root.lock.Unlock()
	assert.LessOrEqual(t, visited, 3)
}

func TestEquallySpreadsVisits(t *testing.T) {
	s, _ := newSearcher(t, 1)

	require.NoError(t, s.Start(Session{Equally: true, Temperature: 1}))
	require.NoError(t, s.Wait(53, 0, 10*time.Second, true))

	root := s.Tree().Root()
	root.lock.Lock()
	minV, maxV := int32(1<<30), int32(0)
	for i := range root.edges {
		v := root.edges[i].visits
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}
	root.lock.Unlock()
	assert.LessOrEqual(t, maxV-minV, int32(1), "round-robin must keep edge visits level")
}

func TestEvalLeafOnly(t *testing.T) {
	tree := NewTree(Config{})
	tree.Reset(board.New(5, 5), board.Black)
	eval := &uniformEval{value: 0.4}
	s := NewSearcher(tree, eval, 4, true)

	require.NoError(t, s.Start(Session{Temperature: 1}))
	require.NoError(t, s.Wait(1, 0, time.Second, true))

	// Only the root evaluation ran.
	assert.Equal(t, int64(1), eval.calls.Load())
	assert.Equal(t, int32(1), tree.Root().Visits())
}

func TestCandidatesAfterSearch(t *testing.T) {
	s, _ := newSearcher(t, 2)

	require.NoError(t, s.Start(Session{Temperature: 1}))
	require.NoError(t, s.Wait(80, 0, 10*time.Second, true))

	for _, crit := range []Criterion{CriterionLCB, CriterionVisits} {
		cands := s.Tree().Candidates(crit)
		require.NotEmpty(t, cands)
		for i, c := range cands {
			assert.Equal(t, board.Black, c.Color)
			assert.GreaterOrEqual(t, c.WinChance, float32(0))
			assert.LessOrEqual(t, c.WinChance, float32(1))
			assert.LessOrEqual(t, c.WinChanceLCB, c.WinChance)
			if i > 0 {
				assert.False(t, crit.less(&cands[i], &cands[i-1]), "candidates out of order")
			}
		}
		// The best candidate's PV starts with its own move.
		assert.Equal(t, cands[0].Pos, cands[0].Variations[0])
	}
}

func TestRandomCandidateGreedy(t *testing.T) {
	s, _ := newSearcher(t, 1)
	require.NoError(t, s.Start(Session{Temperature: 1}))
	require.NoError(t, s.Wait(1, 0, time.Second, true))

	c, err := s.RandomCandidate(0)
	require.NoError(t, err)
	// Uniform priors: greedy pick is the first edge, and it is legal.
	assert.True(t, c.Pos.Valid(5, 5) || c.Pos.IsPass())
}

func TestPassCandidate(t *testing.T) {
	s, _ := newSearcher(t, 1)
	require.NoError(t, s.Start(Session{Temperature: 1}))
	require.NoError(t, s.Wait(1, 0, time.Second, true))

	c, err := s.PassCandidate()
	require.NoError(t, err)
	assert.True(t, c.Pos.IsPass())
}
