// Package dualnet holds the policy/value/territory network: a gorgonia
// graph over the board feature vector with a per-cell policy head, an
// auxiliary head, a three-class territory head, a cell-value head and
// the game-level scalar head.
package dualnet

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/chewxy/math32"
	"github.com/pkg/errors"
	gorgonia "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/tengen/board"
)

// layer is one dense layer's weights.
type layer struct {
	w *tensor.Dense // (in, out)
	b *tensor.Dense // (1, out)
}

// Dual is the network. Infer is guarded by a mutex; one Dual serves one
// processor dispatcher, so contention stays off the hot path.
type Dual struct {
	conf Config

	shared []layer
	heads  map[string]layer

	mu  sync.Mutex
	g   *gorgonia.ExprGraph
	x   *gorgonia.Node
	out *gorgonia.Node
	vm  gorgonia.VM
	xT  *tensor.Dense
}

// New creates an uninitialized network for the configuration.
func New(conf Config) *Dual {
	return &Dual{conf: conf, heads: map[string]layer{}}
}

// Config returns the network configuration.
func (d *Dual) Config() Config { return d.conf }

// Init populates the weights with a scaled random initialization and
// compiles the graph. Used for fresh networks; Load replaces it when a
// checkpoint exists.
func (d *Dual) Init() error {
	if !d.conf.IsValid() {
		return errors.Errorf("invalid network config: %+v", d.conf)
	}

	rng := rand.New(rand.NewSource(1))
	in := board.InputSize
	d.shared = d.shared[:0]
	for i := 0; i < d.conf.Layers; i++ {
		d.shared = append(d.shared, randomLayer(rng, in, d.conf.Hidden))
		in = d.conf.Hidden
	}

	cells := board.ModelSize * board.ModelSize
	d.heads["policy"] = randomLayer(rng, in, cells)
	d.heads["aux"] = randomLayer(rng, in, cells)
	d.heads["territory"] = randomLayer(rng, in, 3*cells)
	d.heads["cellvalue"] = randomLayer(rng, in, cells)
	d.heads["scalars"] = randomLayer(rng, in, Values)

	return d.compile()
}

func randomLayer(rng *rand.Rand, in, out int) layer {
	wBacking := make([]float32, in*out)
	scale := math32.Sqrt(2 / float32(in))
	for i := range wBacking {
		wBacking[i] = float32(rng.NormFloat64()) * scale
	}
	return layer{
		w: tensor.New(tensor.WithShape(in, out), tensor.WithBacking(wBacking)),
		b: tensor.New(tensor.WithShape(1, out), tensor.WithBacking(make([]float32, out))),
	}
}

// compile builds the forward graph at the configured batch size and the
// tape machine that runs it.
func (d *Dual) compile() error {
	batch := d.conf.BatchSize
	g := gorgonia.NewGraph()

	x := gorgonia.NewMatrix(g, tensor.Float32,
		gorgonia.WithShape(batch, board.InputSize), gorgonia.WithName("inputs"))

	dense := func(h *gorgonia.Node, l layer, name string) (*gorgonia.Node, error) {
		w := gorgonia.NewMatrix(g, tensor.Float32,
			gorgonia.WithShape(l.w.Shape()...), gorgonia.WithName(name+".w"), gorgonia.WithValue(l.w))
		b := gorgonia.NewMatrix(g, tensor.Float32,
			gorgonia.WithShape(l.b.Shape()...), gorgonia.WithName(name+".b"), gorgonia.WithValue(l.b))
		mul, err := gorgonia.Mul(h, w)
		if err != nil {
			return nil, errors.Wrapf(err, "%s matmul", name)
		}
		sum, err := gorgonia.BroadcastAdd(mul, b, nil, []byte{0})
		if err != nil {
			return nil, errors.Wrapf(err, "%s bias", name)
		}
		return sum, nil
	}

	h := x
	for i, l := range d.shared {
		sum, err := dense(h, l, fmt.Sprintf("shared%d", i))
		if err != nil {
			return err
		}
		h, _ = gorgonia.Rectify(sum)
	}

	cells := board.ModelSize * board.ModelSize

	policyLogits, err := dense(h, d.heads["policy"], "policy")
	if err != nil {
		return err
	}
	policy, err := gorgonia.SoftMax(policyLogits, 1)
	if err != nil {
		return errors.Wrap(err, "policy softmax")
	}

	auxLogits, err := dense(h, d.heads["aux"], "aux")
	if err != nil {
		return err
	}
	aux, err := gorgonia.Sigmoid(auxLogits)
	if err != nil {
		return errors.Wrap(err, "aux sigmoid")
	}

	terrLogits, err := dense(h, d.heads["territory"], "territory")
	if err != nil {
		return err
	}
	terr3, err := gorgonia.Reshape(terrLogits, tensor.Shape{batch, 3, cells})
	if err != nil {
		return errors.Wrap(err, "territory reshape")
	}
	terrProb, err := gorgonia.SoftMax(terr3, 1)
	if err != nil {
		return errors.Wrap(err, "territory softmax")
	}
	territory, err := gorgonia.Reshape(terrProb, tensor.Shape{batch, 3 * cells})
	if err != nil {
		return errors.Wrap(err, "territory flatten")
	}

	cellLogits, err := dense(h, d.heads["cellvalue"], "cellvalue")
	if err != nil {
		return err
	}
	cellValue, err := gorgonia.Sigmoid(cellLogits)
	if err != nil {
		return errors.Wrap(err, "cellvalue sigmoid")
	}

	scalarLogits, err := dense(h, d.heads["scalars"], "scalars")
	if err != nil {
		return err
	}
	scalars, err := gorgonia.Sigmoid(scalarLogits)
	if err != nil {
		return errors.Wrap(err, "scalars sigmoid")
	}

	out, err := gorgonia.Concat(1, policy, aux, territory, cellValue, scalars)
	if err != nil {
		return errors.Wrap(err, "concat heads")
	}

	d.g = g
	d.x = x
	d.out = out
	d.vm = gorgonia.NewTapeMachine(g)
	d.xT = tensor.New(tensor.WithShape(batch, board.InputSize),
		tensor.WithBacking(make([]float32, batch*board.InputSize)))
	return nil
}

// Infer runs the network on up to BatchSize rows of shape
// (n, InputSize) and returns (n, OutputSize). Smaller batches are
// zero-padded internally.
func (d *Dual) Infer(x *tensor.Dense) (*tensor.Dense, error) {
	if d.vm == nil {
		return nil, errors.New("network is not initialized")
	}

	shape := x.Shape()
	if len(shape) != 2 || shape[1] != board.InputSize {
		return nil, errors.Errorf("bad input shape %v, want (n, %d)", shape, board.InputSize)
	}
	n := shape[0]
	if n > d.conf.BatchSize {
		return nil, errors.Errorf("batch of %d exceeds model batch size %d", n, d.conf.BatchSize)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	backing := d.xT.Data().([]float32)
	for i := range backing {
		backing[i] = 0
	}
	copy(backing, x.Data().([]float32))

	if err := gorgonia.Let(d.x, d.xT); err != nil {
		return nil, errors.Wrap(err, "binding inputs")
	}
	if err := d.vm.RunAll(); err != nil {
		return nil, errors.Wrap(err, "running inference graph")
	}
	defer d.vm.Reset()

	outT, ok := d.out.Value().(*tensor.Dense)
	if !ok {
		return nil, errors.New("inference graph produced no output")
	}
	outData := outT.Data().([]float32)

	result := make([]float32, n*OutputSize)
	copy(result, outData[:n*OutputSize])
	return tensor.New(tensor.WithShape(n, OutputSize), tensor.WithBacking(result)), nil
}

// Close releases the tape machine.
func (d *Dual) Close() error {
	if d.vm != nil {
		return d.vm.Close()
	}
	return nil
}
