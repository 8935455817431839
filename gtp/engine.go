// Package gtp implements the Go Text Protocol server: a line-oriented
// command loop over a reader/writer pair. Each command runs on a worker
// goroutine so the reader stays responsive; a newly arriving command
// cancels and joins any in-flight one, which is what lets streaming
// analysis be interrupted.
package gtp

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-multierror"
	"k8s.io/klog/v2"

	"github.com/tengen/board"
	"github.com/tengen/mcts"
	"github.com/tengen/player"
	"github.com/tengen/processor"
	"github.com/tengen/sgf"
)

// Config configures the engine.
type Config struct {
	Threads int
	Visits  int32
	UseUCB1 bool
	Rule    board.Rule

	BoardSize int
	Komi      float64
	Superko   bool

	Timelimit time.Duration
	Ponder    bool

	ResignThreshold float64
	ResignScore     float64
	ResignTurn      int

	// InitialTurn moves are played from the raw policy instead of
	// searching.
	InitialTurn int

	ClientName    string
	ClientVersion string

	DisplayCommand string
	SnapshotDir    string

	Search mcts.Config
}

type moveRecord struct {
	pos   board.Position
	color board.Color
}

// handler executes one command: it returns the response body, whether
// the command wants to keep streaming, and a protocol error.
type handler func(args []string) (string, bool, error)

// Engine is the GTP server.
type Engine struct {
	proc *processor.Processor
	conf Config

	mu     sync.Mutex // guards player for the reader-side interrupt
	player *player.Player

	moves       []moveRecord
	size        int
	komi        float64
	remainTimes [2]float64 // seconds; negative means untimed

	reader  io.Reader
	writer  io.Writer
	writeMu sync.Mutex

	display *Display

	terminated atomic.Bool
	workerDone chan struct{}

	commands map[string]handler
}

// New builds an engine over the reader/writer pair.
func New(proc *processor.Processor, conf Config, r io.Reader, w io.Writer) *Engine {
	if conf.BoardSize == 0 {
		conf.BoardSize = board.ModelSize
	}
	e := &Engine{
		proc:        proc,
		conf:        conf,
		size:        conf.BoardSize,
		komi:        conf.Komi,
		remainTimes: [2]float64{-1, -1},
		reader:      r,
		writer:      w,
	}
	e.register()
	return e
}

// register wires the command table. Handler names are the wire names.
func (e *Engine) register() {
	e.commands = map[string]handler{
		"protocol_version":       e.cmdProtocolVersion,
		"name":                   e.cmdName,
		"version":                e.cmdVersion,
		"known_command":          e.cmdKnownCommand,
		"list_commands":          e.cmdListCommands,
		"boardsize":              e.cmdBoardsize,
		"clear_board":            e.cmdClearBoard,
		"komi":                   e.cmdKomi,
		"fixed_handicap":         e.cmdFixedHandicap,
		"play":                   e.cmdPlay,
		"undo":                   e.cmdUndo,
		"genmove":                e.cmdGenmove,
		"reg_genmove":            e.cmdRegGenmove,
		"lz-analyze":             e.cmdLzAnalyze,
		"lz-genmove_analyze":     e.cmdLzGenmoveAnalyze,
		"kata-analyze":           e.cmdKataAnalyze,
		"kata-genmove_analyze":   e.cmdKataGenmoveAnalyze,
		"cgos-analyze":           e.cmdCgosAnalyze,
		"cgos-genmove_analyze":   e.cmdCgosGenmoveAnalyze,
		"time_settings":          e.cmdTimeSettings,
		"time_left":              e.cmdTimeLeft,
		"final_status_list":      e.cmdFinalStatusList,
		"final_score":            e.cmdFinalScore,
		"showboard":              e.cmdShowboard,
		"gogui-analyze_commands": e.cmdGoguiAnalyzeCommands,
		"gogui-analyze_territory": e.cmdGoguiAnalyzeTerritory,
		"gogui-analyze_values":   e.cmdGoguiAnalyzeValues,
		"gogui-analyze_value":    e.cmdGoguiAnalyzeValue,
		"gogui-analyze_tree":     e.cmdGoguiAnalyzeTree,
	}
}

var commandIDRe = regexp.MustCompile(`^(\d+)\s+(.*)$`)

// Run reads commands until EOF or quit. The reader handles exactly one
// in-flight command: a new line interrupts and joins the previous
// worker before dispatching.
func (e *Engine) Run() error {
	if e.conf.DisplayCommand != "" {
		d, err := NewDisplay(e.conf.DisplayCommand)
		if err != nil {
			klog.Errorf("display unavailable: %v", err)
		} else {
			e.display = d
		}
	}

	scanner := bufio.NewScanner(e.reader)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		command := strings.TrimSpace(scanner.Text())
		if command == "" {
			continue
		}

		e.interrupt()
		klog.V(1).Infof("GTP command: %s", command)

		number := ""
		if m := commandIDRe.FindStringSubmatch(command); m != nil {
			number = strings.TrimSpace(m[1])
			command = strings.TrimSpace(m[2])
		}

		if strings.HasPrefix(strings.ToLower(command), "quit") {
			e.write(fmt.Sprintf("=%s\n\n", number))
			break
		}

		e.terminated.Store(false)
		e.workerDone = make(chan struct{})
		go e.perform(number, command)
	}

	e.interrupt()

	var errs error
	if err := scanner.Err(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if e.display != nil {
		if err := e.display.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs
}

// interrupt cancels the in-flight command, breaks it out of any search
// wait, and joins its worker.
func (e *Engine) interrupt() {
	if e.workerDone == nil {
		return
	}
	e.terminated.Store(true)
	if p := e.getPlayer(); p != nil {
		p.StopEvaluation()
	}
	<-e.workerDone
	e.workerDone = nil
}

// perform executes one command on the worker goroutine, re-running
// streaming handlers until they finish or the reader interrupts.
func (e *Engine) perform(number string, command string) {
	defer close(e.workerDone)

	first := true
	for {
		message, cont, err := e.performCommand(command)

		header := ""
		if first {
			first = false
			mark := "="
			if err != nil {
				mark = "?"
			}
			header = fmt.Sprintf("%s%s ", mark, number)
		}
		if err != nil {
			message = firstLine(err.Error())
			cont = false
		}

		response := header + message
		klog.V(1).Infof("GTP response: %s", response)
		e.write(response)

		if !cont || e.terminated.Load() {
			e.write("\n\n")
			return
		}
	}
}

// performCommand parses and dispatches one command line.
func (e *Engine) performCommand(command string) (string, bool, error) {
	tokens := strings.Fields(command)
	if len(tokens) == 0 {
		return "", false, errSyntax
	}
	h, ok := e.commands[strings.ToLower(tokens[0])]
	if !ok {
		return "", false, errUnknown
	}
	return h(tokens[1:])
}

func (e *Engine) write(s string) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	_, _ = io.WriteString(e.writer, s)
	if f, ok := e.writer.(interface{ Flush() error }); ok {
		_ = f.Flush()
	}
}

// firstLine clips an error to the GTP single-line convention.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// getPlayer returns the current player, which may be nil before the
// first move-related command.
func (e *Engine) getPlayer() *player.Player {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.player
}

// ensurePlayer creates the player on first use.
func (e *Engine) ensurePlayer() *player.Player {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.player == nil {
		klog.V(1).Infof("create player: size=%d komi=%.1f rule=%v superko=%v",
			e.size, e.komi, e.conf.Rule, e.conf.Superko)
		e.player = player.New(e.proc, player.Config{
			Threads: e.conf.Threads,
			Width:   e.size,
			Height:  e.size,
			Komi:    e.komi,
			Rule:    e.conf.Rule,
			Superko: e.conf.Superko,
			Search:  e.conf.Search,
		})
	}
	return e.player
}

func (e *Engine) dropPlayer() {
	e.mu.Lock()
	e.player = nil
	e.mu.Unlock()
}

// timelimitFor budgets the thinking time for a color: untimed games use
// the configured limit, timed games scale down with the clock.
func (e *Engine) timelimitFor(color board.Color) time.Duration {
	remain := e.remainTimes[0]
	if color == board.White {
		remain = e.remainTimes[1]
	}
	if remain < 0 {
		return e.conf.Timelimit
	}
	budget := (remain - 20) * 0.02
	if limit := e.conf.Timelimit.Seconds(); budget > limit {
		budget = limit
	}
	if budget < 0 {
		budget = 0
	}
	return time.Duration(budget * float64(time.Second))
}

// Load replays an SGF record into the engine through its own command
// handlers, so the move log and player state match a played game.
func (e *Engine) Load(record *sgf.Record) error {
	size := record.Size()
	if _, _, err := e.cmdBoardsize([]string{strconv.Itoa(size)}); err != nil {
		return err
	}
	komi := record.Komi(e.komi)
	if _, _, err := e.cmdKomi([]string{strconv.FormatFloat(komi, 'f', -1, 64)}); err != nil {
		return err
	}
	for _, pos := range board.GetHandicapPositions(size, size, record.Handicap()) {
		p := pos
		vertex := FormatVertex(&p, size, size)
		if _, _, err := e.cmdPlay([]string{"black", vertex}); err != nil {
			return err
		}
	}
	for _, m := range record.Moves {
		p := m.Pos
		vertex := FormatVertex(&p, size, size)
		if _, _, err := e.cmdPlay([]string{FormatColor(m.Color), vertex}); err != nil {
			return err
		}
	}
	return nil
}

// sortedCommands lists the registry plus quit, sorted.
func (e *Engine) sortedCommands() []string {
	names := make([]string, 0, len(e.commands)+1)
	for name := range e.commands {
		names = append(names, name)
	}
	names = append(names, "quit")
	sort.Strings(names)
	return names
}
