package executor

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// commandTemplate is a parsed command line with placeholders.
type commandTemplate struct {
	raw  string
	args []string
}

// placeholders holds the per-task values substituted into a template.
type placeholders struct {
	Src string
	Dir string
	Bin string
}

func parseCommand(raw string) (commandTemplate, error) {
	args, err := shlex.Split(raw)
	if err != nil {
		return commandTemplate{}, fmt.Errorf("parse command %q: %w", raw, err)
	}
	if len(args) == 0 {
		return commandTemplate{}, fmt.Errorf("command %q is empty", raw)
	}
	return commandTemplate{raw: raw, args: args}, nil
}

// expand substitutes placeholders token by token, so paths with spaces stay one argument.
func (t commandTemplate) expand(p placeholders) []string {
	replacer := strings.NewReplacer("{src}", p.Src, "{dir}", p.Dir, "{bin}", p.Bin)
	out := make([]string, len(t.args))
	for i, arg := range t.args {
		out[i] = replacer.Replace(arg)
	}
	return out
}

func (t commandTemplate) String() string {
	return t.raw
}
