package mcts

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/tengen/board"
)

// hardVisitCap bounds pondering: even with no target set, a session
// winds down once the root has this many visits.
const hardVisitCap = 1 << 20

// Prediction is a leaf evaluation: per-cell move priors with the pass
// prior appended, and the position value in black's frame.
type Prediction struct {
	Policy []float32
	Value  float32
}

// Evaluator produces leaf evaluations. The searcher pool calls it
// concurrently; implementations batch through the processor.
type Evaluator interface {
	Evaluate(b *board.Board, color board.Color) (Prediction, error)
}

// Session describes one evaluation session.
type Session struct {
	Equally     bool
	UseUCB1     bool
	Width       int
	Temperature float32
	Noise       float32
}

// run is the state of an active session.
type run struct {
	sel    selector
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	visitTarget   int32
	playoutTarget int32
	targetMu      sync.Mutex

	playouts int32
	countMu  sync.Mutex

	target     chan struct{}
	targetOnce sync.Once

	errMu sync.Mutex
	err   error
}

func (r *run) setTargets(visits, playouts int32) {
	r.targetMu.Lock()
	r.visitTarget = visits
	r.playoutTarget = playouts
	r.targetMu.Unlock()
}

func (r *run) targets() (int32, int32) {
	r.targetMu.Lock()
	defer r.targetMu.Unlock()
	return r.visitTarget, r.playoutTarget
}

func (r *run) addPlayout() int32 {
	r.countMu.Lock()
	defer r.countMu.Unlock()
	r.playouts++
	return r.playouts
}

func (r *run) playoutCount() int32 {
	r.countMu.Lock()
	defer r.countMu.Unlock()
	return r.playouts
}

func (r *run) signal() {
	r.targetOnce.Do(func() { close(r.target) })
}

func (r *run) fail(err error) {
	r.errMu.Lock()
	if r.err == nil {
		r.err = err
	}
	r.errMu.Unlock()
	r.cancel()
	r.signal()
}

func (r *run) failure() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.err
}

// Searcher owns the worker fleet for one player: it binds a tree to an
// evaluator and runs evaluation sessions over it.
type Searcher struct {
	tree    *Tree
	eval    Evaluator
	threads int

	// evalLeafOnly collapses a session to the root evaluation: no
	// descent, no backpropagation of playouts.
	evalLeafOnly bool

	rngMu sync.Mutex
	rng   *rand.Rand

	mu  sync.Mutex
	cur *run
}

// NewSearcher builds a searcher pool of the given size over the tree.
func NewSearcher(tree *Tree, eval Evaluator, threads int, evalLeafOnly bool) *Searcher {
	if threads < 1 {
		threads = 1
	}
	return &Searcher{
		tree:         tree,
		eval:         eval,
		threads:      threads,
		evalLeafOnly: evalLeafOnly,
		rng:          rand.New(rand.NewSource(rand.Uint64())),
	}
}

// Tree returns the searcher's tree.
func (s *Searcher) Tree() *Tree { return s.tree }

// Active reports whether an evaluation session is running.
func (s *Searcher) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur != nil
}

// Start begins an evaluation session from the current root. The
// previous session must have been halted first.
func (s *Searcher) Start(desc Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != nil {
		return errors.New("evaluation session already active")
	}

	root := s.tree.Root()
	if root == nil {
		return errors.New("tree has no root")
	}

	// The root is expanded synchronously so the session transforms have
	// priors to work on.
	if root.Status() == Unexpanded && root.beginExpansion() {
		pred, err := s.eval.Evaluate(root.board, root.color)
		if err != nil {
			root.setStatus(Unexpanded)
			return errors.Wrap(err, "evaluating root")
		}
		s.tree.expand(root, pred)
		root.addVirtualLoss(-1)
		root.update(-1, pred.Value, true)
	}

	s.rngMu.Lock()
	applyRootSession(root, desc, s.rng)
	s.rngMu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)
	r := &run{
		sel:    selectorFor(desc, s.tree.conf),
		ctx:    gctx,
		cancel: cancel,
		group:  group,
		target: make(chan struct{}),
	}
	s.cur = r

	if s.evalLeafOnly {
		// Single-ply evaluation: the root expansion above is the whole
		// session.
		r.signal()
		return nil
	}

	for i := 0; i < s.threads; i++ {
		group.Go(func() error {
			s.work(r)
			return nil
		})
	}
	klog.V(2).Infof("search session started: %d workers, %+v", s.threads, desc)
	return nil
}

// Wait installs the termination targets and blocks until one of them is
// met, the time limit elapses, or the session dies. With halt set the
// session is cancelled and joined before returning; workers release
// their virtual loss on the way out, so the tree statistics stay
// consistent.
func (s *Searcher) Wait(visits, playouts int32, timelimit time.Duration, halt bool) error {
	s.mu.Lock()
	r := s.cur
	s.mu.Unlock()
	if r == nil {
		return nil
	}

	r.setTargets(visits, playouts)
	if s.met(r) {
		r.signal()
	}

	timer := time.NewTimer(timelimit)
	defer timer.Stop()
	select {
	case <-r.target:
	case <-timer.C:
	case <-r.ctx.Done():
	}

	if halt {
		r.cancel()
		_ = r.group.Wait()
		s.mu.Lock()
		if s.cur == r {
			s.cur = nil
		}
		s.mu.Unlock()
		klog.V(2).Infof("search session halted: root visits=%d playouts=%d nodes=%d",
			s.rootVisits(), r.playoutCount(), s.tree.Len())
	}
	return r.failure()
}

// Stop cancels the active session and waits for the workers to quiesce.
func (s *Searcher) Stop() error {
	return s.Wait(0, 0, 0, true)
}

// Playouts returns the active session's playout count.
func (s *Searcher) Playouts() int32 {
	s.mu.Lock()
	r := s.cur
	s.mu.Unlock()
	if r == nil {
		return 0
	}
	return r.playoutCount()
}

func (s *Searcher) rootVisits() int32 {
	root := s.tree.Root()
	if root == nil {
		return 0
	}
	return root.Visits()
}

// met evaluates the termination predicates against the targets.
func (s *Searcher) met(r *run) bool {
	visits := s.rootVisits()
	vt, pt := r.targets()
	if vt > 0 && visits >= vt {
		return true
	}
	if pt > 0 && r.playoutCount() >= pt {
		return true
	}
	return visits >= hardVisitCap
}

// work is one searcher: select to a leaf, evaluate, expand, backprop,
// check the termination predicates, repeat.
func (s *Searcher) work(r *run) {
	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		if s.tree.full() {
			r.signal()
			return
		}

		s.iterate(r)

		if s.met(r) {
			r.signal()
			if s.rootVisits() >= hardVisitCap {
				return
			}
		}
	}
}

// step is one selection decision on the path from root to leaf.
type step struct {
	node *Node
	edge int
}

// iterate runs a single simulation.
func (s *Searcher) iterate(r *run) {
	maxDepth := s.tree.conf.MaxDepth
	root := s.tree.Root()
	if root == nil {
		return
	}
	if maxDepth == 0 {
		maxDepth = 2 * root.board.Width() * root.board.Height()
	}

	var path []step
	revert := func() {
		for i := len(path) - 1; i >= 0; i-- {
			path[i].node.revertVirtualLoss(path[i].edge)
		}
	}

	node := root
	for {
		switch node.Status() {
		case Unexpanded:
			if !node.beginExpansion() {
				// Another worker claimed the leaf between our status
				// read and the CAS; abandon the iteration.
				revert()
				runtime.Gosched()
				return
			}
			node.addVirtualLoss(-1)
			pred, err := s.eval.Evaluate(node.board, node.color)
			if err != nil {
				node.revertVirtualLoss(-1)
				node.setStatus(Unexpanded)
				revert()
				r.fail(errors.Wrap(err, "leaf evaluation"))
				return
			}
			s.tree.expand(node, pred)
			s.backprop(path, node, pred.Value, true)
			r.addPlayout()
			return

		case Pending:
			// Someone else is expanding this leaf right now. Back off
			// rather than double-expand.
			revert()
			time.Sleep(20 * time.Microsecond)
			return

		case Terminal:
			node.addVirtualLoss(-1)
			s.backprop(path, node, node.Value(), false)
			return

		case Expanded:
			if len(path) >= maxDepth {
				node.addVirtualLoss(-1)
				s.backprop(path, node, node.Value(), false)
				return
			}
			edge := node.selectEdge(r.sel)
			if edge < 0 {
				revert()
				return
			}
			path = append(path, step{node: node, edge: edge})
			child := s.tree.childOf(node, edge)
			if !child.isValid() {
				revert()
				return
			}
			node = s.tree.nodeFromNaughty(child)
		}
	}
}

// backprop walks the path from the leaf to the root folding the value
// into every node and edge, reversing the virtual loss taken on the way
// down.
func (s *Searcher) backprop(path []step, leaf *Node, value float32, playout bool) {
	leaf.update(-1, value, playout)
	for i := len(path) - 1; i >= 0; i-- {
		path[i].node.update(path[i].edge, value, playout)
	}
}
