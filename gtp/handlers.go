package gtp

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"k8s.io/klog/v2"

	"github.com/tengen/board"
	"github.com/tengen/mcts"
	"github.com/tengen/player"
)

var (
	intRe   = regexp.MustCompile(`^\d+$`)
	floatRe = regexp.MustCompile(`^\d+(\.\d+)?$`)
)

func (e *Engine) cmdProtocolVersion([]string) (string, bool, error) {
	return "2", false, nil
}

func (e *Engine) cmdName([]string) (string, bool, error) {
	return e.conf.ClientName, false, nil
}

func (e *Engine) cmdVersion([]string) (string, bool, error) {
	return e.conf.ClientVersion, false, nil
}

func (e *Engine) cmdKnownCommand(args []string) (string, bool, error) {
	if len(args) < 1 {
		return "", false, errSyntax
	}
	name := strings.ToLower(args[0])
	if _, ok := e.commands[name]; ok || name == "quit" {
		return "true", false, nil
	}
	return "false", false, nil
}

func (e *Engine) cmdListCommands([]string) (string, bool, error) {
	return strings.Join(e.sortedCommands(), "\n"), false, nil
}

func (e *Engine) cmdBoardsize(args []string) (string, bool, error) {
	if len(args) < 1 || !intRe.MatchString(args[0]) {
		return "", false, errSyntax
	}
	n, _ := strconv.Atoi(args[0])
	if n > board.ModelSize {
		return "", false, Errorf("boardsize is too large")
	}
	if n != e.size && e.getPlayer() != nil {
		return "", false, Errorf("can not change boardsize after the game starts")
	}
	e.size = n
	return "", false, nil
}

func (e *Engine) cmdClearBoard([]string) (string, bool, error) {
	if p := e.getPlayer(); p != nil {
		p.StopEvaluation()
	}
	e.dropPlayer()
	e.moves = nil
	return "", false, nil
}

func (e *Engine) cmdKomi(args []string) (string, bool, error) {
	if len(args) < 1 || !floatRe.MatchString(args[0]) {
		return "", false, errSyntax
	}
	komi, _ := strconv.ParseFloat(args[0], 64)
	e.komi = komi
	if p := e.getPlayer(); p != nil {
		p.SetKomi(komi)
	}
	return "", false, nil
}

func (e *Engine) cmdFixedHandicap(args []string) (string, bool, error) {
	if len(args) < 1 || !intRe.MatchString(args[0]) {
		return "", false, errSyntax
	}
	n, _ := strconv.Atoi(args[0])
	if n < 2 || n > 9 {
		return "", false, Errorf("invalid number of stones")
	}
	if len(e.moves) > 0 {
		return "", false, Errorf("board is not empty")
	}

	p := e.ensurePlayer()
	if err := p.SetHandicap(n); err != nil {
		return "", false, Errorf("invalid handicap")
	}

	vertices := make([]string, 0, n)
	for _, pos := range board.GetHandicapPositions(e.size, e.size, n) {
		pos := pos
		vertices = append(vertices, FormatVertex(&pos, e.size, e.size))
	}
	return strings.Join(vertices, " "), false, nil
}

func (e *Engine) cmdPlay(args []string) (string, bool, error) {
	if len(args) < 2 {
		return "", false, errSyntax
	}
	color := ParseColor(args[0])
	if color == board.Empty {
		return "", false, errSyntax
	}
	pos, err := ParseVertex(args[1], e.size, e.size)
	if err != nil {
		return "", false, err
	}
	if pos == nil {
		return "", false, errSyntax
	}

	p := e.ensurePlayer()
	p.StopEvaluation()

	if pos.Valid(e.size, e.size) && !p.GetBoard().IsEnabled(*pos, color, false) {
		return "", false, errIllegalMove
	}
	if _, err := p.Play(*pos, color); err != nil {
		return "", false, errIllegalMove
	}
	e.recordMove(*pos, color)

	if klog.V(2).Enabled() {
		klog.V(2).Infof("played: color=%s pos=(%d,%d)\n%s",
			FormatColor(color), pos.X, pos.Y, p.GetBoard())
	}
	return "", false, nil
}

// recordMove appends to the move log and mirrors the move to the
// display and snapshot outputs.
func (e *Engine) recordMove(pos board.Position, color board.Color) {
	e.moves = append(e.moves, moveRecord{pos: pos, color: color})
	if e.display != nil {
		if err := e.display.Play(pos, color); err != nil {
			klog.Errorf("display: %v", err)
		}
	}
	if p := e.getPlayer(); p != nil {
		snapshot(e.conf.SnapshotDir, len(e.moves), p.GetBoard())
	}
}

func (e *Engine) cmdUndo([]string) (string, bool, error) {
	p := e.getPlayer()
	if p == nil {
		return "", false, errNotStarted
	}
	if len(e.moves) == 0 {
		return "", false, Errorf("cannot undo")
	}

	p.StopEvaluation()
	e.moves = e.moves[:len(e.moves)-1]
	p.Clear()
	for _, m := range e.moves {
		if _, err := p.Play(m.pos, m.color); err != nil {
			return "", false, Errorf("cannot undo")
		}
	}
	return "", false, nil
}

// randomMove plays from the raw policy; used for the opening turns.
func (e *Engine) randomMove(color board.Color) (mcts.Candidate, error) {
	p := e.ensurePlayer()
	if p.GetColor() != color {
		if _, err := p.Play(board.Pass, board.Empty); err != nil {
			return mcts.Candidate{}, err
		}
	}
	klog.V(1).Infof("random: color=%s", FormatColor(color))
	return p.GetRandom(0, true)
}

// evaluate runs a search for the color. Zero visits and a negative
// timelimit mean "use the configured defaults".
func (e *Engine) evaluate(color board.Color, visits int32, timelimit time.Duration) ([]mcts.Candidate, error) {
	p := e.ensurePlayer()
	if p.GetColor() != color {
		if _, err := p.Play(board.Pass, board.Empty); err != nil {
			return nil, err
		}
	}

	if visits == 0 {
		visits = e.conf.Visits
	}
	if timelimit < 0 {
		timelimit = e.timelimitFor(color)
	}

	klog.V(1).Infof("evaluate: color=%s visits=%d timelimit=%.1fs",
		FormatColor(color), visits, timelimit.Seconds())

	return p.Evaluate(player.EvaluateParams{
		Visits:    visits,
		UseUCB1:   e.conf.UseUCB1,
		Timelimit: timelimit,
		Criterion: mcts.CriterionLCB,
	})
}

// getMove decides the move actually made from the best candidate: the
// Japanese auto-pass first, then the resignation ladder. A nil position
// means resign.
func (e *Engine) getMove(candidate mcts.Candidate) (*board.Position, float64, player.Territories, error) {
	p := e.getPlayer()
	if p == nil {
		return nil, 0, player.Territories{}, errNotStarted
	}

	b := p.GetBoard()
	pos := candidate.Pos
	territories, _, err := p.GetTerritories(&pos, candidate.Color, true)
	if err != nil {
		return nil, 0, player.Territories{}, err
	}
	score := e.scoreOf(territories, b)

	if e.conf.Rule == board.RuleJapanese {
		if done, passScore, passT := e.japaneseAutoPass(p, b, candidate, score, territories); done {
			pass := board.Pass
			return &pass, passScore, passT, nil
		}
	}

	if p.Turn() < e.conf.ResignTurn {
		return &pos, score, territories, nil
	}
	if score < e.conf.ResignScore && -score < e.conf.ResignScore {
		return &pos, score, territories, nil
	}
	if float64(candidate.WinChance) < e.conf.ResignThreshold {
		return nil, score, territories, nil
	}
	return &pos, score, territories, nil
}

// scoreOf turns a predicted ownership distribution into a point lead in
// black's frame: black cells minus white cells, ambiguous cells kept by
// their stones, komi subtracted.
func (e *Engine) scoreOf(t player.Territories, b *board.Board) float64 {
	colors := b.GetColors(board.Black)
	var score float64
	for i := range colors {
		score += float64(t[2][i]) - float64(t[0][i])
		score += float64(colors[i]) * float64(t[1][i])
	}
	return score - e.komi
}

// japaneseAutoPass passes instead of playing on when every boundary is
// settled and playing gains less than 0.8 points over passing. Once a
// pass appears in the game the boundary check is skipped.
func (e *Engine) japaneseAutoPass(p *player.Player, b *board.Board, candidate mcts.Candidate, score float64, territories player.Territories) (bool, float64, player.Territories) {
	passSeen := false
	for _, m := range e.moves {
		if m.pos.IsPass() {
			passSeen = true
			break
		}
	}

	if !passSeen && !boundariesFixed(territories, b, e.size) {
		return false, 0, player.Territories{}
	}

	pass := board.Pass
	passT, _, err := p.GetTerritories(&pass, candidate.Color, true)
	if err != nil {
		return false, 0, player.Territories{}
	}
	passScore := e.scoreOf(passT, b)

	diff := score - passScore
	if candidate.Color != board.Black {
		diff = -diff
	}
	if diff < 0.8 {
		return true, passScore, passT
	}
	return false, 0, player.Territories{}
}

// boundariesFixed checks that every empty cell agrees with its
// 4-neighborhood on the predicted owner.
func boundariesFixed(t player.Territories, b *board.Board, size int) bool {
	owners := make([]board.Color, size*size)
	for i := range owners {
		owners[i] = argmaxOwner(t[0][i], t[1][i], t[2][i])
	}
	colors := b.GetColors(board.Black)

	for x := 0; x < size; x++ {
		for y := 0; y < size; y++ {
			if colors[y*size+x] != board.Empty {
				continue
			}
			for _, d := range [4][2]int{{-1, 0}, {1, 0}, {0, -1}, {0, 1}} {
				nx, ny := x+d[0], y+d[1]
				if nx < 0 || nx >= size || ny < 0 || ny >= size {
					continue
				}
				if owners[y*size+x] != owners[ny*size+nx] {
					return false
				}
			}
		}
	}
	return true
}

func argmaxOwner(white, empty, black float32) board.Color {
	switch {
	case black >= empty && black >= white:
		return board.Black
	case white >= empty && white > black:
		return board.White
	default:
		return board.Empty
	}
}

// genmove computes, optionally plays, and reports a move for the color.
func (e *Engine) genmove(args []string, play bool) (string, bool, error) {
	p := e.ensurePlayer()

	color := colorFromArgs(args)
	if color == board.Empty {
		color = p.GetColor()
	}

	var candidate mcts.Candidate
	var err error
	if len(e.moves) < e.conf.InitialTurn {
		candidate, err = e.randomMove(color)
	} else {
		var candidates []mcts.Candidate
		candidates, err = e.evaluate(color, 0, -1)
		if err == nil {
			candidate = candidates[0]
		}
	}
	if err != nil {
		return "", false, err
	}

	pos, score, _, err := e.getMove(candidate)
	if err != nil {
		return "", false, err
	}

	if pos == nil || !play {
		if pos == nil {
			p.StopEvaluation()
		}
		return FormatVertex(pos, e.size, e.size), false, nil
	}

	p.StopEvaluation()
	if _, err := p.Play(*pos, color); err != nil {
		return "", false, errIllegalMove
	}
	e.recordMove(*pos, color)

	if klog.V(2).Enabled() {
		klog.V(2).Infof("played: color=%s pos=(%d,%d) score=%.1f\n%s",
			FormatColor(color), pos.X, pos.Y, score, p.GetBoard())
	}
	if e.conf.Ponder {
		p.Ponder()
	}
	return FormatVertex(pos, e.size, e.size), false, nil
}

func (e *Engine) cmdGenmove(args []string) (string, bool, error) {
	return e.genmove(args, true)
}

func (e *Engine) cmdRegGenmove(args []string) (string, bool, error) {
	return e.genmove(args, false)
}

// genmoveAnalyze is the shared engine of the *-analyze and
// *-genmove_analyze commands. Without play it streams one analysis line
// per round until the reader interrupts.
func (e *Engine) genmoveAnalyze(args []string, format analyzeFunc, play bool) (string, bool, error) {
	p := e.ensurePlayer()

	color := p.GetColor()
	interval := time.Second
	for _, arg := range args {
		if c := ParseColor(arg); c != board.Empty {
			color = c
		} else if intRe.MatchString(arg) {
			centisec, _ := strconv.Atoi(arg)
			interval = time.Duration(centisec) * 10 * time.Millisecond
		}
	}

	var candidates []mcts.Candidate
	var err error
	if play {
		if len(e.moves) < e.conf.InitialTurn {
			var c mcts.Candidate
			c, err = e.randomMove(color)
			candidates = []mcts.Candidate{c}
		} else {
			candidates, err = e.evaluate(color, 0, -1)
		}
	} else {
		candidates, err = e.evaluate(color, 100000, interval)
	}
	if err != nil {
		return "", false, err
	}

	pos, score, territories, err := e.getMove(candidates[0])
	if err != nil {
		return "", false, err
	}

	if pos != nil && pos.IsPass() {
		if final, err := p.GetFinalScore(); err == nil {
			score = final
		}
	}

	line := format(candidates, territories, score, e.size, e.size)

	if !play {
		return "\n" + line, true, nil
	}

	if pos != nil {
		p.StopEvaluation()
		if _, err := p.Play(*pos, color); err != nil {
			return "", false, errIllegalMove
		}
		e.recordMove(*pos, color)
	}
	return "\n" + line + "\nplay " + FormatVertex(pos, e.size, e.size), false, nil
}

func (e *Engine) cmdLzGenmoveAnalyze(args []string) (string, bool, error) {
	return e.genmoveAnalyze(args, lzCandidates, true)
}

func (e *Engine) cmdLzAnalyze(args []string) (string, bool, error) {
	return e.genmoveAnalyze(args, lzCandidates, false)
}

func (e *Engine) cmdKataGenmoveAnalyze(args []string) (string, bool, error) {
	return e.genmoveAnalyze(args, kataCandidates, true)
}

func (e *Engine) cmdKataAnalyze(args []string) (string, bool, error) {
	return e.genmoveAnalyze(args, kataCandidates, false)
}

func (e *Engine) cmdCgosGenmoveAnalyze(args []string) (string, bool, error) {
	return e.genmoveAnalyze(args, cgosCandidates, true)
}

func (e *Engine) cmdCgosAnalyze(args []string) (string, bool, error) {
	return e.genmoveAnalyze(args, cgosCandidates, false)
}

func (e *Engine) cmdTimeSettings(args []string) (string, bool, error) {
	if len(args) < 3 {
		return "", false, errSyntax
	}
	main, err := strconv.Atoi(args[0])
	if err != nil {
		return "", false, errSyntax
	}
	e.remainTimes[0] = float64(main)
	e.remainTimes[1] = float64(main)
	return "", false, nil
}

func (e *Engine) cmdTimeLeft(args []string) (string, bool, error) {
	if len(args) < 3 {
		return "", false, errSyntax
	}
	color := ParseColor(args[0])
	remain, err := strconv.Atoi(args[1])
	if err != nil {
		return "", false, errSyntax
	}
	if color == board.Black {
		e.remainTimes[0] = float64(remain)
	} else {
		e.remainTimes[1] = float64(remain)
	}
	return "", false, nil
}

func (e *Engine) cmdFinalStatusList(args []string) (string, bool, error) {
	if len(args) < 1 {
		return "", false, errSyntax
	}
	p := e.getPlayer()
	if p == nil {
		return "", false, errNotStarted
	}

	_, territory, err := p.GetTerritories(nil, board.Empty, false)
	if err != nil {
		return "", false, err
	}
	colors := p.GetBoard().GetColors(board.Black)

	match := func(i int) bool { return false }
	switch args[0] {
	case "alive":
		match = func(i int) bool { return int(territory[i])*int(colors[i]) == 1 }
	case "dead":
		match = func(i int) bool { return int(territory[i])*int(colors[i]) == -1 }
	case "seki":
		match = func(i int) bool { return territory[i] == board.Empty && colors[i] != board.Empty }
	default:
		return "", false, errInvalidStatus
	}

	var vertices []string
	for x := 0; x < e.size; x++ {
		for y := 0; y < e.size; y++ {
			if match(y*e.size + x) {
				pos := board.Position{X: x, Y: y}
				vertices = append(vertices, FormatVertex(&pos, e.size, e.size))
			}
		}
	}

	var lines []string
	for i := 0; i < len(vertices); i += 20 {
		end := i + 20
		if end > len(vertices) {
			end = len(vertices)
		}
		lines = append(lines, strings.Join(vertices[i:end], " "))
	}
	return strings.Join(lines, "\n"), false, nil
}

func (e *Engine) cmdFinalScore([]string) (string, bool, error) {
	p := e.getPlayer()
	if p == nil {
		return "", false, errNotStarted
	}
	score, err := p.GetFinalScore()
	if err != nil {
		return "", false, err
	}
	if score >= 0 {
		return fmt.Sprintf("B+%.1f", score), false, nil
	}
	return fmt.Sprintf("W+%.1f", -score), false, nil
}

func (e *Engine) cmdShowboard([]string) (string, bool, error) {
	return "\n" + e.boardString(), false, nil
}

func (e *Engine) cmdGoguiAnalyzeCommands([]string) (string, bool, error) {
	commands := []string{
		"bwboard/Analyze Territories/gogui-analyze_territory",
		"cboard/Analyze Values/gogui-analyze_values",
		"string/Analyze Value/gogui-analyze_value",
		"string/Dump Search Tree/gogui-analyze_tree",
		"string/Name/name",
		"string/Version/version",
		"string/Protocol Version/protocol_version",
		"varc/Reg GenMove/reg_genmove %c",
		"string/Final Score/final_score",
	}
	sort.Strings(commands)
	return strings.Join(commands, "\n"), false, nil
}

func (e *Engine) cmdGoguiAnalyzeTerritory([]string) (string, bool, error) {
	p := e.getPlayer()
	if p == nil {
		return "", false, errNotStarted
	}
	_, owners, err := p.GetTerritories(nil, board.Empty, false)
	if err != nil {
		return "", false, err
	}

	lines := make([]string, 0, e.size)
	for y := 0; y < e.size; y++ {
		marks := make([]string, 0, e.size)
		for x := 0; x < e.size; x++ {
			switch owners[y*e.size+x] {
			case board.Black:
				marks = append(marks, "B")
			case board.White:
				marks = append(marks, "W")
			default:
				marks = append(marks, "N")
			}
		}
		lines = append(lines, strings.Join(marks, " "))
	}
	return "\n" + strings.Join(lines, "\n"), false, nil
}

func (e *Engine) cmdGoguiAnalyzeValues([]string) (string, bool, error) {
	p := e.getPlayer()
	if p == nil {
		return "", false, errNotStarted
	}
	values, err := p.GetValues()
	if err != nil {
		return "", false, err
	}

	lines := []string{""}
	for y := 0; y < e.size; y++ {
		cells := make([]string, 0, e.size)
		for x := 0; x < e.size; x++ {
			v := values[y*e.size+x]
			r := int(maxf(v) * 255)
			b := int(maxf(-v) * 255)
			cells = append(cells, fmt.Sprintf("#%02x00%02x", r, b))
		}
		lines = append(lines, strings.Join(cells, " "))
	}
	return strings.Join(lines, "\n"), false, nil
}

func maxf(v float32) float32 {
	if v < 0 {
		return 0
	}
	return v
}

func (e *Engine) cmdGoguiAnalyzeTree(args []string) (string, bool, error) {
	p := e.getPlayer()
	if p == nil {
		return "", false, errNotStarted
	}

	depth := 4
	if len(args) > 0 && intRe.MatchString(args[0]) {
		depth, _ = strconv.Atoi(args[0])
	}

	dot, err := p.DumpTree(depth)
	if err != nil {
		return "", false, Errorf("no search tree")
	}
	return "\n" + dot, false, nil
}

func (e *Engine) cmdGoguiAnalyzeValue([]string) (string, bool, error) {
	p := e.getPlayer()
	if p == nil {
		return "", false, errNotStarted
	}
	pass, err := p.GetPass()
	if err != nil {
		return "", false, err
	}
	return fmt.Sprintf("%.4f", pass.Value), false, nil
}
