// Command tengen runs the engine in GTP mode over stdin/stdout.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"k8s.io/klog/v2"

	"github.com/tengen/board"
	"github.com/tengen/dualnet"
	"github.com/tengen/gtp"
	"github.com/tengen/processor"
	"github.com/tengen/sgf"
)

const (
	clientName    = "Tengen"
	clientVersion = "1.0"
)

var (
	modelPath = flag.String("model", "", "path to the model checkpoint directory")
	initModel = flag.Bool("init-model", false, "write a freshly initialized checkpoint to -model and exit")

	visits      = flag.Int("visits", 50, "number of visits")
	search      = flag.String("search", "pucb", "calculation method of search: pucb or ucb1")
	rule        = flag.String("rule", "ch", "rule: ch, jp or com")
	boardsize   = flag.Int("boardsize", 19, "board size")
	komi        = flag.Float64("komi", 7.5, "komi")
	superko     = flag.Bool("superko", false, "use the superko rule")
	timelimit   = flag.Float64("timelimit", 10, "thinking time limit (sec)")
	ponder      = flag.Bool("ponder", false, "keep searching during the opponent's time")
	resign      = flag.Float64("resign", 0.02, "resign threshold")
	minScore    = flag.Float64("min-score", 0.0, "minimum score difference at resign")
	minTurn     = flag.Int("min-turn", 100, "minimum number of turns before resigning")
	initialTurn = flag.Int("initial-turn", 0, "number of turns to move randomly")
	name        = flag.String("client-name", clientName, "client name")
	version     = flag.String("client-version", clientVersion, "client version")
	threads     = flag.Int("threads", 16, "number of searcher threads")
	display     = flag.String("display", "", "command to display the board")
	snapshots   = flag.String("snapshot-dir", "", "directory for per-move board snapshots")
	sgfFile     = flag.String("sgf", "", "SGF file to load")
	batchSize   = flag.Int("batch-size", 2048, "inference batch size")
	gpus        = flag.String("gpus", "", "comma-separated accelerator ids, -1 for CPU (default: CPU)")
	fp16        = flag.Bool("fp16", false, "use FP16")
	determin    = flag.Bool("deterministic", false, "make search results reproducible")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	if *modelPath == "" {
		fatalf("a model checkpoint is required: -model <dir>")
	}

	if *initModel {
		d := dualnet.New(dualnet.DefaultConfig())
		if err := d.Init(); err != nil {
			fatalf("initializing model: %v", err)
		}
		if err := d.Save(*modelPath); err != nil {
			fatalf("writing checkpoint: %v", err)
		}
		fmt.Printf("wrote fresh checkpoint to %s\n", *modelPath)
		return
	}

	gameRule, err := parseRule(*rule)
	if err != nil {
		fatalf("%v", err)
	}
	accelerators, err := parseAccelerators(*gpus)
	if err != nil {
		fatalf("%v", err)
	}

	models := make([]processor.Model, 0, len(accelerators))
	for range accelerators {
		m, err := dualnet.Load(*modelPath, *batchSize)
		if err != nil {
			fatalf("loading model %s: %v", *modelPath, err)
		}
		models = append(models, m)
	}

	proc, err := processor.New(models, processor.Config{
		Accelerators:  accelerators,
		BatchSize:     *batchSize,
		FP16:          *fp16,
		Deterministic: *determin,
	})
	if err != nil {
		fatalf("starting processor: %v", err)
	}
	defer func() {
		if err := proc.Close(); err != nil {
			klog.Errorf("closing processor: %v", err)
		}
	}()

	engine := gtp.New(proc, gtp.Config{
		Threads:         *threads,
		Visits:          int32(*visits),
		UseUCB1:         *search == "ucb1",
		Rule:            gameRule,
		BoardSize:       *boardsize,
		Komi:            *komi,
		Superko:         *superko,
		Timelimit:       time.Duration(*timelimit * float64(time.Second)),
		Ponder:          *ponder,
		ResignThreshold: *resign,
		ResignScore:     *minScore,
		ResignTurn:      *minTurn,
		InitialTurn:     *initialTurn,
		ClientName:      *name,
		ClientVersion:   *version,
		DisplayCommand:  *display,
		SnapshotDir:     *snapshots,
	}, os.Stdin, os.Stdout)

	if *sgfFile != "" {
		record, err := sgf.Load(*sgfFile)
		if err != nil {
			fatalf("loading %s: %v", *sgfFile, err)
		}
		if err := engine.Load(record); err != nil {
			fatalf("replaying %s: %v", *sgfFile, err)
		}
	}

	if err := engine.Run(); err != nil {
		fatalf("engine: %v", err)
	}
}

func parseRule(s string) (board.Rule, error) {
	switch s {
	case "ch":
		return board.RuleChinese, nil
	case "jp":
		return board.RuleJapanese, nil
	case "com":
		return board.RuleComputer, nil
	}
	return 0, fmt.Errorf("invalid rule: %s", s)
}

// parseAccelerators reads the -gpus list. An empty list means CPU.
func parseAccelerators(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return []int{-1}, nil
	}
	var ids []int
	for _, part := range strings.Split(s, ",") {
		id, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid accelerator id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	klog.Flush()
	os.Exit(1)
}
