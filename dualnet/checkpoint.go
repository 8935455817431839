package dualnet

import (
	"encoding/gob"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

const (
	metaFile  = "meta.json"
	modelFile = "checkpoint.model"
)

// metaData is the sidecar configuration stored next to the weights.
type metaData struct {
	Conf Config `json:"nn_conf"`
}

// layerData is the gob form of one dense layer.
type layerData struct {
	In, Out int
	W, B    []float32
}

// checkpointData is the gob form of the whole network.
type checkpointData struct {
	Shared []layerData
	Heads  map[string]layerData
}

func toData(l layer) layerData {
	shape := l.w.Shape()
	return layerData{
		In:  shape[0],
		Out: shape[1],
		W:   append([]float32(nil), l.w.Data().([]float32)...),
		B:   append([]float32(nil), l.b.Data().([]float32)...),
	}
}

func fromData(d layerData) (layer, error) {
	if len(d.W) != d.In*d.Out || len(d.B) != d.Out {
		return layer{}, errors.Errorf("corrupt layer: %dx%d with %d weights, %d biases",
			d.In, d.Out, len(d.W), len(d.B))
	}
	return layer{
		w: tensor.New(tensor.WithShape(d.In, d.Out), tensor.WithBacking(d.W)),
		b: tensor.New(tensor.WithShape(1, d.Out), tensor.WithBacking(d.B)),
	}, nil
}

// Save writes the configuration and weights into dir.
func (d *Dual) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "creating checkpoint dir")
	}

	meta, err := json.MarshalIndent(metaData{Conf: d.conf}, "", "\t")
	if err != nil {
		return errors.WithStack(err)
	}
	if err := os.WriteFile(filepath.Join(dir, metaFile), meta, 0o644); err != nil {
		return errors.Wrap(err, "writing model meta")
	}

	f, err := os.OpenFile(filepath.Join(dir, modelFile), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrap(err, "creating model file")
	}
	defer f.Close()

	data := checkpointData{Heads: map[string]layerData{}}
	for _, l := range d.shared {
		data.Shared = append(data.Shared, toData(l))
	}
	for name, l := range d.heads {
		data.Heads[name] = toData(l)
	}
	return errors.Wrap(gob.NewEncoder(f).Encode(data), "encoding model weights")
}

// Load reads a checkpoint directory, rebuilds the network and compiles
// the inference graph. The batch size may be overridden to match the
// processor configuration; pass 0 to keep the stored one.
func Load(dir string, batchSize int) (*Dual, error) {
	meta, err := os.ReadFile(filepath.Join(dir, metaFile))
	if err != nil {
		return nil, errors.Wrapf(err, "reading model meta in %s", dir)
	}
	var md metaData
	if err := json.Unmarshal(meta, &md); err != nil {
		return nil, errors.Wrap(err, "parsing model meta")
	}
	if batchSize > 0 {
		md.Conf.BatchSize = batchSize
	}
	if !md.Conf.IsValid() {
		return nil, errors.Errorf("invalid model config in %s: %+v", dir, md.Conf)
	}

	f, err := os.Open(filepath.Join(dir, modelFile))
	if err != nil {
		return nil, errors.Wrapf(err, "opening model weights in %s", dir)
	}
	defer f.Close()

	var data checkpointData
	if err := gob.NewDecoder(f).Decode(&data); err != nil {
		return nil, errors.Wrap(err, "decoding model weights")
	}

	d := New(md.Conf)
	for _, ld := range data.Shared {
		l, err := fromData(ld)
		if err != nil {
			return nil, err
		}
		d.shared = append(d.shared, l)
	}
	for name, ld := range data.Heads {
		l, err := fromData(ld)
		if err != nil {
			return nil, err
		}
		d.heads[name] = l
	}
	for _, name := range []string{"policy", "aux", "territory", "cellvalue", "scalars"} {
		if _, ok := d.heads[name]; !ok {
			return nil, errors.Errorf("checkpoint is missing the %s head", name)
		}
	}

	if err := d.compile(); err != nil {
		return nil, err
	}
	return d, nil
}
