package repl

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"coderun/internal/cli/command"
	httpclient "coderun/internal/cli/http"
)

func newSession() (*Session, *bytes.Buffer) {
	out := &bytes.Buffer{}
	env := &command.Env{
		Client:       httpclient.New("http://127.0.0.1:1", time.Second),
		Out:          out,
		PollInterval: time.Second,
		WaitTimeout:  time.Minute,
	}
	return New(env, command.Registry(), ""), out
}

func TestExecuteSystemCommands(t *testing.T) {
	s, out := newSession()
	ctx := context.Background()

	if s.Execute(ctx, "help") {
		t.Fatalf("help must not end the session")
	}
	if !strings.Contains(out.String(), "run <language> <source-file>") {
		t.Fatalf("help does not list commands: %s", out.String())
	}
	if !s.Execute(ctx, "  exit ") {
		t.Fatalf("exit must end the session")
	}
}

func TestExecuteSet(t *testing.T) {
	s, out := newSession()
	ctx := context.Background()

	s.Execute(ctx, "set base http://api:8080/")
	s.Execute(ctx, "set poll 250ms")
	s.Execute(ctx, "set wait 5s")
	s.Execute(ctx, "set pretty on")
	s.Execute(ctx, "set timeout nonsense")

	if s.env.Client.BaseURL() != "http://api:8080" {
		t.Fatalf("base not updated: %s", s.env.Client.BaseURL())
	}
	if s.env.PollInterval != 250*time.Millisecond || s.env.WaitTimeout != 5*time.Second || !s.env.PrettyJSON {
		t.Fatalf("settings not applied: %+v", s.env)
	}
	if !strings.Contains(out.String(), "invalid duration") {
		t.Fatalf("expected invalid duration message: %s", out.String())
	}
}

func TestExecuteReportsErrors(t *testing.T) {
	s, out := newSession()
	ctx := context.Background()

	s.Execute(ctx, "frobnicate")
	s.Execute(ctx, "submit python")
	s.Execute(ctx, `submit python "unterminated`)
	s.Execute(ctx, "submit python /no/such/file.py")

	text := out.String()
	for _, want := range []string{"unknown command", "usage: submit", "parse command failed", "read file failed"} {
		if !strings.Contains(text, want) {
			t.Fatalf("missing %q in output:\n%s", want, text)
		}
	}
}
