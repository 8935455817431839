// Command selfplay plays the engine against itself with round-robin
// (equally) search and writes the games as SGF records, the raw
// material for training datasets.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"k8s.io/klog/v2"

	"github.com/tengen/board"
	"github.com/tengen/dualnet"
	"github.com/tengen/mcts"
	"github.com/tengen/player"
	"github.com/tengen/processor"
	"github.com/tengen/sgf"
)

var (
	modelPath = flag.String("model", "", "path to the model checkpoint directory")
	outDir    = flag.String("out", "games", "directory for the generated SGF files")
	games     = flag.Int("games", 10, "number of games to play")
	size      = flag.Int("boardsize", 9, "board size")
	komi      = flag.Float64("komi", 7.5, "komi")
	visits    = flag.Int("visits", 32, "visits per move")
	threads   = flag.Int("threads", 8, "searcher threads")
	batchSize = flag.Int("batch-size", 256, "inference batch size")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	defer klog.Flush()

	if *modelPath == "" {
		fmt.Fprintln(os.Stderr, "a model checkpoint is required: -model <dir>")
		os.Exit(1)
	}
	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "creating %s: %v\n", *outDir, err)
		os.Exit(1)
	}

	model, err := dualnet.Load(*modelPath, *batchSize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading model: %v\n", err)
		os.Exit(1)
	}
	proc, err := processor.New([]processor.Model{model},
		processor.Config{Accelerators: []int{-1}, BatchSize: *batchSize})
	if err != nil {
		fmt.Fprintf(os.Stderr, "starting processor: %v\n", err)
		os.Exit(1)
	}
	defer proc.Close()

	for g := 0; g < *games; g++ {
		record, score, err := playGame(proc)
		if err != nil {
			klog.Errorf("game %d failed: %v", g, err)
			continue
		}

		path := filepath.Join(*outDir, fmt.Sprintf("game_%04d.sgf", g))
		if err := record.Dump(path); err != nil {
			klog.Errorf("writing %s: %v", path, err)
			continue
		}
		klog.Infof("game %d: %s (%d moves)", g, result(score), len(record.Moves))
	}
}

// playGame runs one engine-vs-engine game to two consecutive passes and
// returns its record and final score.
func playGame(proc *processor.Processor) (*sgf.Record, float64, error) {
	p := player.New(proc, player.Config{
		Threads: *threads,
		Width:   *size,
		Height:  *size,
		Komi:    *komi,
		Rule:    board.RuleChinese,
		Superko: true,
	})

	record := sgf.New()
	record.Properties.Set("sz", fmt.Sprint(*size))
	record.Properties.Set("km", fmt.Sprint(*komi))
	record.Properties.Set("pb", "tengen")
	record.Properties.Set("pw", "tengen")

	passes := 0
	maxMoves := 2 * *size * *size
	for move := 0; move < maxMoves && passes < 2; move++ {
		color := p.GetColor()
		candidates, err := p.Evaluate(player.EvaluateParams{
			Visits:    int32(*visits),
			Timelimit: 60 * time.Second,
			Equally:   true,
			Criterion: mcts.CriterionVisits,
		})
		if err != nil {
			return nil, 0, err
		}

		pos := candidates[0].Pos
		if _, err := p.Play(pos, color); err != nil {
			// An unplayable candidate ends the game as a pass.
			pos = board.Pass
			if _, err := p.Play(pos, color); err != nil {
				return nil, 0, err
			}
		}
		record.Moves = append(record.Moves, sgf.Move{Pos: pos, Color: color})

		if pos.IsPass() {
			passes++
		} else {
			passes = 0
		}
	}

	score, err := p.GetFinalScore()
	if err != nil {
		return nil, 0, err
	}
	record.Properties.Set("re", result(score))
	return record, score, nil
}

func result(score float64) string {
	if score >= 0 {
		return fmt.Sprintf("B+%.1f", score)
	}
	return fmt.Sprintf("W+%.1f", -score)
}
