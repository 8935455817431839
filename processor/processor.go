// Package processor is the batching front-end to the inference model.
// Many searchers call Execute with single feature rows; the processor
// groups them into batches of up to BatchSize, runs one dispatcher per
// configured accelerator, and routes each result back to its caller.
package processor

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gorgonia.org/tensor"
	"k8s.io/klog/v2"

	"github.com/tengen/board"
	"github.com/tengen/dualnet"
)

// Model is the inference backend: a batch of feature rows in, a batch
// of prediction rows out. One Model instance serves one accelerator.
type Model interface {
	Infer(x *tensor.Dense) (*tensor.Dense, error)
	Close() error
}

// InferenceError wraps a model failure so callers can tell it apart
// from other errors.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string { return "inference failed: " + e.Err.Error() }
func (e *InferenceError) Unwrap() error { return e.Err }

// IsInferenceError reports whether err originated in the model.
func IsInferenceError(err error) bool {
	var ie *InferenceError
	return errors.As(err, &ie)
}

// Config configures the processor.
type Config struct {
	// Accelerators lists the device ids to dispatch on; -1 means CPU.
	Accelerators []int
	// BatchSize is the largest batch handed to a model.
	BatchSize int
	// FP16 requests half-precision kernels. Forced off when any
	// accelerator is the CPU.
	FP16 bool
	// Deterministic makes batches form in request-sequence order so
	// results are reproducible.
	Deterministic bool
}

type request struct {
	seq    uint64
	inputs []float32
	reply  chan reply
}

type reply struct {
	outputs []float32
	err     error
}

// Processor accepts inference requests and serves them in batches.
type Processor struct {
	conf   Config
	models []Model

	queue  chan *request
	cancel context.CancelFunc
	ctx    context.Context
	group  *errgroup.Group

	seq    atomic.Uint64
	closed atomic.Bool
	once   sync.Once
}

// New starts one dispatcher per accelerator. models must hold one Model
// per accelerator id in conf.Accelerators.
func New(models []Model, conf Config) (*Processor, error) {
	if len(models) == 0 || len(models) != len(conf.Accelerators) {
		return nil, errors.Errorf("need one model per accelerator: %d models, %d accelerators",
			len(models), len(conf.Accelerators))
	}
	if conf.BatchSize < 1 {
		return nil, errors.Errorf("batch size must be positive, got %d", conf.BatchSize)
	}

	for _, id := range conf.Accelerators {
		if id == -1 && conf.FP16 {
			klog.Warning("fp16 disabled: CPU accelerator in use")
			conf.FP16 = false
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)

	p := &Processor{
		conf:   conf,
		models: models,
		queue:  make(chan *request, conf.BatchSize*len(models)),
		cancel: cancel,
		ctx:    gctx,
		group:  group,
	}

	for i, m := range models {
		i, m := i, m
		group.Go(func() error {
			p.dispatch(gctx, m, conf.Accelerators[i])
			return nil
		})
	}

	klog.V(1).Infof("processor started: accelerators=%v batch=%d fp16=%v deterministic=%v",
		conf.Accelerators, conf.BatchSize, conf.FP16, conf.Deterministic)
	return p, nil
}

// Config returns the effective configuration.
func (p *Processor) Config() Config { return p.conf }

// Execute runs inference for a single feature row of shape
// (1, InputSize) and returns its (1, OutputSize) prediction row. Safe
// for concurrent use; under load the call suspends until its batch has
// been served.
func (p *Processor) Execute(x *tensor.Dense) (*tensor.Dense, error) {
	shape := x.Shape()
	if len(shape) != 2 || shape[0] != 1 || shape[1] != board.InputSize {
		return nil, errors.Errorf("bad input shape %v, want (1, %d)", shape, board.InputSize)
	}
	if p.closed.Load() {
		return nil, errors.New("processor is closed")
	}

	req := &request{
		seq:    p.seq.Add(1),
		inputs: x.Data().([]float32),
		reply:  make(chan reply, 1),
	}

	select {
	case p.queue <- req:
	case <-p.ctx.Done():
		return nil, errors.New("processor is shutting down")
	}

	select {
	case r := <-req.reply:
		if r.err != nil {
			return nil, r.err
		}
		return tensor.New(tensor.WithShape(1, dualnet.OutputSize),
			tensor.WithBacking(r.outputs)), nil
	case <-p.ctx.Done():
		return nil, errors.New("processor is shutting down")
	}
}

// dispatch drains the queue into batches and runs them on the model.
// A lone request is dispatched immediately: latency beats batch
// amortization when the queue is empty.
func (p *Processor) dispatch(ctx context.Context, m Model, accel int) {
	for {
		var first *request
		select {
		case <-ctx.Done():
			return
		case first = <-p.queue:
		}

		batch := append(make([]*request, 0, p.conf.BatchSize), first)
	fill:
		for len(batch) < p.conf.BatchSize {
			select {
			case req := <-p.queue:
				batch = append(batch, req)
			default:
				break fill
			}
		}

		if p.conf.Deterministic {
			sort.Slice(batch, func(i, j int) bool { return batch[i].seq < batch[j].seq })
		}

		klog.V(3).Infof("accelerator %d: dispatching batch of %d", accel, len(batch))
		p.run(m, batch)
	}
}

// run executes one batch and scatters results to the requesters.
func (p *Processor) run(m Model, batch []*request) {
	backing := make([]float32, len(batch)*board.InputSize)
	for i, req := range batch {
		copy(backing[i*board.InputSize:], req.inputs)
	}
	x := tensor.New(tensor.WithShape(len(batch), board.InputSize), tensor.WithBacking(backing))

	y, err := m.Infer(x)
	if err != nil {
		klog.Errorf("model inference failed on batch of %d: %v", len(batch), err)
		ie := &InferenceError{Err: err}
		for _, req := range batch {
			req.reply <- reply{err: ie}
		}
		return
	}

	out := y.Data().([]float32)
	for i, req := range batch {
		row := make([]float32, dualnet.OutputSize)
		copy(row, out[i*dualnet.OutputSize:(i+1)*dualnet.OutputSize])
		req.reply <- reply{outputs: row}
	}
}

// Close stops the dispatchers and closes the models. Requests that are
// still waiting receive a shutdown error.
func (p *Processor) Close() error {
	var errs error
	p.once.Do(func() {
		p.closed.Store(true)
		p.cancel()
		if err := p.group.Wait(); err != nil {
			errs = multierror.Append(errs, err)
		}
		for _, m := range p.models {
			if err := m.Close(); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
	})
	return errs
}
