package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"coderun/internal/cli/command"

	"github.com/chzyer/readline"
	"github.com/google/shlex"
)

const prompt = "coderun> "

// Session holds REPL state.
type Session struct {
	env         *command.Env
	commands    map[string]command.Command
	historyFile string
}

func New(env *command.Env, commands map[string]command.Command, historyFile string) *Session {
	return &Session{
		env:         env,
		commands:    commands,
		historyFile: historyFile,
	}
}

// Run reads lines until exit, EOF or ctx is done.
func (s *Session) Run(ctx context.Context) error {
	if s.historyFile != "" {
		_ = os.MkdirAll(filepath.Dir(s.historyFile), 0o755)
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     s.historyFile,
		AutoComplete:    s.completer(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("init readline failed: %w", err)
	}
	defer func() { _ = rl.Close() }()
	s.env.Out = rl.Stdout()

	for ctx.Err() == nil {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input failed: %w", err)
		}
		if s.Execute(ctx, line) {
			return nil
		}
	}
	return nil
}

// Execute runs one input line. It reports whether the session should end.
func (s *Session) Execute(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	tokens, err := shlex.Split(line)
	if err != nil {
		s.printLine("error: parse command failed: %v", err)
		return false
	}
	if len(tokens) == 0 {
		return false
	}
	switch tokens[0] {
	case "exit", "quit":
		s.printLine("bye")
		return true
	case "help":
		s.printHelp()
		return false
	case "set":
		s.handleSet(tokens[1:])
		return false
	}

	cmd, ok := s.commands[tokens[0]]
	if !ok {
		s.printLine("error: unknown command %q, type help", tokens[0])
		return false
	}
	args := tokens[1:]
	if err := cmd.CheckArgs(args); err != nil {
		s.printLine("error: %v", err)
		return false
	}
	if err := cmd.Run(ctx, s.env, args); err != nil {
		s.printLine("error: %v", err)
	}
	return false
}

func (s *Session) handleSet(parts []string) {
	if len(parts) < 2 {
		s.printLine("usage: set base|timeout|poll|wait|pretty <value>")
		return
	}
	switch parts[0] {
	case "base":
		s.env.Client.SetBaseURL(parts[1])
		s.printLine("base set to %s", s.env.Client.BaseURL())
	case "timeout", "poll", "wait":
		dur, err := time.ParseDuration(parts[1])
		if err != nil || dur <= 0 {
			s.printLine("invalid duration: %s", parts[1])
			return
		}
		switch parts[0] {
		case "timeout":
			s.env.Client.SetTimeout(dur)
		case "poll":
			s.env.PollInterval = dur
		case "wait":
			s.env.WaitTimeout = dur
		}
		s.printLine("%s set to %s", parts[0], dur)
	case "pretty":
		s.env.PrettyJSON = parts[1] == "on" || parts[1] == "true"
		s.printLine("pretty json %v", s.env.PrettyJSON)
	default:
		s.printLine("unknown set command")
	}
}

func (s *Session) names() []string {
	names := make([]string, 0, len(s.commands))
	for name := range s.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Session) completer() *readline.PrefixCompleter {
	items := []readline.PrefixCompleterInterface{
		readline.PcItem("help"),
		readline.PcItem("exit"),
		readline.PcItem("set",
			readline.PcItem("base"),
			readline.PcItem("timeout"),
			readline.PcItem("poll"),
			readline.PcItem("wait"),
			readline.PcItem("pretty"),
		),
	}
	for _, name := range s.names() {
		items = append(items, readline.PcItem(name))
	}
	return readline.NewPrefixCompleter(items...)
}

func (s *Session) printHelp() {
	s.printLine("commands:")
	for _, name := range s.names() {
		cmd := s.commands[name]
		s.printLine("  %-45s %s", cmd.Usage, cmd.Summary)
	}
	s.printLine("system: help | exit | set base|timeout|poll|wait|pretty <value>")
	s.printLine("examples:")
	s.printLine("  run python ./hello.py")
	s.printLine("  submit cpp ./main.cpp ./input.txt")
}

func (s *Session) printLine(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(s.env.Out, format+"\n", args...)
}
