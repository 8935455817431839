package gtp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tengen/board"
	"github.com/tengen/mcts"
	"github.com/tengen/player"
)

// analyzeFunc renders a candidate list in one of the analysis dialects.
// score is the predicted point lead in black's frame.
type analyzeFunc func(candidates []mcts.Candidate, territories player.Territories, score float64, width, height int) string

// lzCandidate renders one candidate in the LeelaZero dialect: rates as
// integers in 0..10000.
func lzCandidate(order int, c mcts.Candidate, width, height int) string {
	var sb strings.Builder
	pos := c.Pos
	fmt.Fprintf(&sb, "info move %s visits %d winrate %d lcb %d prior %d order %d",
		FormatVertex(&pos, width, height), c.Visits,
		int(c.WinChance*10000), int(c.WinChanceLCB*10000), int(c.Prior*10000), order)
	writePV(&sb, c.Variations, width, height)
	return sb.String()
}

func writePV(sb *strings.Builder, pv []board.Position, width, height int) {
	if len(pv) == 0 {
		return
	}
	sb.WriteString(" pv")
	for _, p := range pv {
		p := p
		sb.WriteByte(' ')
		sb.WriteString(FormatVertex(&p, width, height))
	}
}

func lzCandidates(candidates []mcts.Candidate, _ player.Territories, _ float64, width, height int) string {
	parts := make([]string, len(candidates))
	for i, c := range candidates {
		parts[i] = lzCandidate(i, c, width, height)
	}
	return strings.Join(parts, " ")
}

// kataCandidate is the KataGo dialect: rates as 4-decimal floats.
func kataCandidate(order int, c mcts.Candidate, width, height int) string {
	var sb strings.Builder
	pos := c.Pos
	fmt.Fprintf(&sb, "info move %s visits %d winrate %.4f lcb %.4f prior %.4f order %d",
		FormatVertex(&pos, width, height), c.Visits, c.WinChance, c.WinChanceLCB, c.Prior, order)
	writePV(&sb, c.Variations, width, height)
	return sb.String()
}

// ownershipValue folds a [white, empty, black] cell distribution into a
// signed ownership in [-1, 1], oriented for the analyzed mover.
func ownershipValue(t player.Territories, cell int, mover board.Color) float64 {
	v := max32(t[2][cell]-t[1][cell]) - max32(t[0][cell]-t[1][cell])
	if mover != board.Black {
		v = -v
	}
	return float64(v)
}

func max32(v float32) float32 {
	if v < 0 {
		return 0
	}
	return v
}

func kataCandidates(candidates []mcts.Candidate, territories player.Territories, score float64, width, height int) string {
	parts := make([]string, 0, len(candidates)+2)
	for i, c := range candidates {
		parts = append(parts, kataCandidate(i, c, width, height))
	}

	mover := candidates[0].Color
	var visits int32
	for _, c := range candidates {
		visits += c.Visits
	}
	lead := score
	if mover != board.Black {
		lead = -lead
	}
	parts = append(parts, fmt.Sprintf("rootInfo winrate %.4f visits %d scoreLead %.1f",
		candidates[0].WinChance, visits, lead))

	owner := make([]string, 0, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			owner = append(owner, fmt.Sprintf("%.2f", ownershipValue(territories, y*width+x, mover)))
		}
	}
	parts = append(parts, "ownership "+strings.Join(owner, " "))

	return strings.Join(parts, " ")
}

// cgosOwnershipAlphabet quantizes ownership in [-1, 1] into 63 buckets.
const cgosOwnershipAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+"

type cgosMove struct {
	Move    string  `json:"move"`
	Winrate float64 `json:"winrate"`
	Prior   float64 `json:"prior"`
	PV      string  `json:"pv"`
	Visits  int32   `json:"visits"`
}

type cgosRoot struct {
	Winrate   float64    `json:"winrate"`
	Score     float64    `json:"score"`
	Visits    int32      `json:"visits"`
	Moves     []cgosMove `json:"moves"`
	Ownership string     `json:"ownership"`
}

func cgosCandidates(candidates []mcts.Candidate, territories player.Territories, score float64, width, height int) string {
	mover := candidates[0].Color

	root := cgosRoot{
		Winrate: float64(candidates[0].WinChance),
		Score:   score,
	}
	if mover != board.Black {
		root.Score = -root.Score
	}

	for _, c := range candidates {
		root.Visits += c.Visits
		var pv []string
		for _, p := range c.Variations {
			p := p
			pv = append(pv, FormatVertex(&p, width, height))
		}
		pos := c.Pos
		root.Moves = append(root.Moves, cgosMove{
			Move:    FormatVertex(&pos, width, height),
			Winrate: float64(c.WinChance),
			Prior:   float64(c.Prior),
			PV:      strings.Join(pv, " "),
			Visits:  c.Visits,
		})
	}

	var owner strings.Builder
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := ownershipValue(territories, y*width+x, mover)
			bucket := (v + 1) / 2
			if bucket < 0 {
				bucket = 0
			}
			if bucket > 1 {
				bucket = 1
			}
			owner.WriteByte(cgosOwnershipAlphabet[int(bucket*62+0.5)])
		}
	}
	root.Ownership = owner.String()

	data, err := json.Marshal(root)
	if err != nil {
		return "{}"
	}
	return string(data)
}
