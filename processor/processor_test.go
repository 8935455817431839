package processor

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/tengen/board"
	"github.com/tengen/dualnet"
)

// echoModel tags every output row with the first value of its input row
// so tests can verify request/response routing, and counts invocations.
type echoModel struct {
	calls  atomic.Int64
	rows   atomic.Int64
	failOn float32 // inputs starting with this value make the batch fail
}

func (m *echoModel) Infer(x *tensor.Dense) (*tensor.Dense, error) {
	m.calls.Add(1)
	n := x.Shape()[0]
	m.rows.Add(int64(n))

	// A short, accelerator-like latency so concurrent requests pile up
	// in the queue and batching is observable.
	time.Sleep(200 * time.Microsecond)

	in := x.Data().([]float32)
	out := make([]float32, n*dualnet.OutputSize)
	for i := 0; i < n; i++ {
		tag := in[i*board.InputSize]
		if m.failOn != 0 && tag == m.failOn {
			return nil, errors.New("injected model failure")
		}
		out[i*dualnet.OutputSize] = tag
	}
	return tensor.New(tensor.WithShape(n, dualnet.OutputSize), tensor.WithBacking(out)), nil
}

func (m *echoModel) Close() error { return nil }

func inputRow(tag float32) *tensor.Dense {
	backing := make([]float32, board.InputSize)
	backing[0] = tag
	return tensor.New(tensor.WithShape(1, board.InputSize), tensor.WithBacking(backing))
}

func newProcessor(t *testing.T, m Model, conf Config) *Processor {
	t.Helper()
	p, err := New([]Model{m}, conf)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestExecuteRoutesResults(t *testing.T) {
	m := &echoModel{}
	p := newProcessor(t, m, Config{Accelerators: []int{-1}, BatchSize: 8})

	const workers = 16
	const perWorker = 25

	var wg sync.WaitGroup
	failures := make(chan string, workers*perWorker)
	for w := 0; w < workers; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				tag := float32(w*1000 + i + 1)
				y, err := p.Execute(inputRow(tag))
				if err != nil {
					failures <- err.Error()
					return
				}
				if got := y.Data().([]float32)[0]; got != tag {
					failures <- "misrouted result"
					return
				}
			}
		}()
	}
	wg.Wait()
	close(failures)
	for f := range failures {
		t.Fatal(f)
	}

	assert.Equal(t, int64(workers*perWorker), m.rows.Load())
	// Batching must have amortized calls below one per request.
	assert.Less(t, m.calls.Load(), int64(workers*perWorker))
}

func TestExecuteSingleRequestDispatchesAlone(t *testing.T) {
	m := &echoModel{}
	p := newProcessor(t, m, Config{Accelerators: []int{-1}, BatchSize: 64})

	y, err := p.Execute(inputRow(42))
	require.NoError(t, err)
	assert.Equal(t, float32(42), y.Data().([]float32)[0])
	assert.Equal(t, tensor.Shape{1, dualnet.OutputSize}, y.Shape())
	assert.Equal(t, int64(1), m.calls.Load())
}

func TestExecuteBadShape(t *testing.T) {
	p := newProcessor(t, &echoModel{}, Config{Accelerators: []int{-1}, BatchSize: 4})

	bad := tensor.New(tensor.WithShape(2, board.InputSize),
		tensor.WithBacking(make([]float32, 2*board.InputSize)))
	_, err := p.Execute(bad)
	assert.Error(t, err)
}

func TestModelFailureSurfacesAsInferenceError(t *testing.T) {
	m := &echoModel{failOn: 7}
	p := newProcessor(t, m, Config{Accelerators: []int{-1}, BatchSize: 4})

	_, err := p.Execute(inputRow(7))
	require.Error(t, err)
	assert.True(t, IsInferenceError(err))

	// The processor keeps serving after a failed batch.
	y, err := p.Execute(inputRow(9))
	require.NoError(t, err)
	assert.Equal(t, float32(9), y.Data().([]float32)[0])
}

func TestFP16DisabledOnCPU(t *testing.T) {
	p := newProcessor(t, &echoModel{},
		Config{Accelerators: []int{-1}, BatchSize: 4, FP16: true})
	assert.False(t, p.Config().FP16)
}

func TestExecuteAfterClose(t *testing.T) {
	p, err := New([]Model{&echoModel{}}, Config{Accelerators: []int{-1}, BatchSize: 4})
	require.NoError(t, err)
	require.NoError(t, p.Close())

	_, err = p.Execute(inputRow(1))
	assert.Error(t, err)
}

func TestNewValidatesArguments(t *testing.T) {
	_, err := New(nil, Config{Accelerators: []int{-1}, BatchSize: 4})
	assert.Error(t, err)

	_, err = New([]Model{&echoModel{}}, Config{Accelerators: []int{-1, 0}, BatchSize: 4})
	assert.Error(t, err)

	_, err = New([]Model{&echoModel{}}, Config{Accelerators: []int{-1}})
	assert.Error(t, err)
}
