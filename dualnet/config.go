package dualnet

import "github.com/tengen/board"

// Output geometry. The model emits six per-cell prediction planes
// followed by three game-level scalars.
const (
	Predictions = 6
	Values      = 3

	OutputSize = Predictions*board.ModelSize*board.ModelSize + Values
)

// Offsets of the output sections within a row, in cells.
const (
	PolicyOffset    = 0
	AuxOffset       = board.ModelSize * board.ModelSize
	TerritoryOffset = 2 * board.ModelSize * board.ModelSize
	CellValueOffset = 5 * board.ModelSize * board.ModelSize
	ScalarOffset    = 6 * board.ModelSize * board.ModelSize
)

// Config configures the network.
type Config struct {
	Hidden    int  `json:"hidden"`     // width of the shared hidden layers
	Layers    int  `json:"layers"`     // number of shared hidden layers
	BatchSize int  `json:"batch_size"` // maximum inference batch
	FwdOnly   bool `json:"fwd_only"`   // inference-only graph
}

// DefaultConfig returns a network sized for play.
func DefaultConfig() Config {
	return Config{
		Hidden:    1024,
		Layers:    4,
		BatchSize: 256,
		FwdOnly:   true,
	}
}

// IsValid reports whether the configuration can build a graph.
func (c Config) IsValid() bool {
	return c.Hidden >= 1 &&
		c.Layers >= 1 &&
		c.BatchSize >= 1
}
