package command

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	httpclient "coderun/internal/cli/http"
	"coderun/internal/cli/state"
)

// Env is what a command runs against.
type Env struct {
	Client       *httpclient.Client
	State        *state.SessionState
	StatePath    string
	Out          io.Writer
	PollInterval time.Duration
	WaitTimeout  time.Duration
	PrettyJSON   bool
}

// Command defines one CLI command.
type Command struct {
	Name    string
	Usage   string
	Summary string
	MinArgs int
	MaxArgs int
	Run     func(ctx context.Context, env *Env, args []string) error
}

// CheckArgs validates the positional argument count.
func (c Command) CheckArgs(args []string) error {
	if len(args) < c.MinArgs || (c.MaxArgs >= 0 && len(args) > c.MaxArgs) {
		return fmt.Errorf("usage: %s", c.Usage)
	}
	return nil
}

func ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file failed: %w", err)
	}
	return string(data), nil
}

func (e *Env) printf(format string, args ...interface{}) {
	_, _ = fmt.Fprintf(e.Out, format+"\n", args...)
}

func (e *Env) printJSON(v interface{}) {
	var (
		data []byte
		err  error
	)
	if e.PrettyJSON {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		e.printf("%v", v)
		return
	}
	e.printf("%s", string(data))
}
