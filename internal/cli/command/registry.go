package command

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"coderun/internal/cli/state"
	"coderun/internal/runner/model"
)

// Registry returns all CLI commands keyed by name.
func Registry() map[string]Command {
	commands := []Command{
		{
			Name:    "submit",
			Usage:   "submit <language> <source-file> [stdin-file]",
			Summary: "queue a source file and print its task id",
			MinArgs: 2,
			MaxArgs: 3,
			Run:     runSubmit,
		},
		{
			Name:    "poll",
			Usage:   "poll [task-id]",
			Summary: "show the current status of a task (defaults to the last submission)",
			MinArgs: 0,
			MaxArgs: 1,
			Run:     runPoll,
		},
		{
			Name:    "run",
			Usage:   "run <language> <source-file> [stdin-file]",
			Summary: "submit and wait for the result",
			MinArgs: 2,
			MaxArgs: 3,
			Run:     runRun,
		},
		{
			Name:    "languages",
			Usage:   "languages",
			Summary: "list supported languages",
			MaxArgs: 0,
			Run:     runLanguages,
		},
		{
			Name:    "recent",
			Usage:   "recent",
			Summary: "list tasks submitted from this machine",
			MaxArgs: 0,
			Run:     runRecent,
		},
	}
	out := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		out[cmd.Name] = cmd
	}
	return out
}

func submitFromArgs(ctx context.Context, env *Env, args []string) (string, error) {
	code, err := ReadFile(args[1])
	if err != nil {
		return "", err
	}
	input := ""
	if len(args) > 2 {
		if input, err = ReadFile(args[2]); err != nil {
			return "", err
		}
	}
	out, err := env.Client.Submit(ctx, args[0], code, input)
	if err != nil {
		return "", err
	}
	if env.State != nil {
		env.State.Remember(state.SubmittedTask{
			TaskID:      out.TaskID,
			Language:    args[0],
			Source:      filepath.Base(args[1]),
			SubmittedAt: time.Now(),
		})
		if env.StatePath != "" {
			if err := state.Save(env.StatePath, *env.State); err != nil {
				env.printf("warning: %v", err)
			}
		}
	}
	return out.TaskID, nil
}

func runSubmit(ctx context.Context, env *Env, args []string) error {
	taskID, err := submitFromArgs(ctx, env, args)
	if err != nil {
		return err
	}
	env.printf("queued %s", taskID)
	return nil
}

func runPoll(ctx context.Context, env *Env, args []string) error {
	taskID := ""
	if len(args) == 1 {
		taskID = args[0]
	} else if env.State != nil {
		if last, ok := env.State.Last(); ok {
			taskID = last.TaskID
		}
	}
	if taskID == "" {
		return fmt.Errorf("no task id given and nothing submitted yet")
	}
	view, err := env.Client.Poll(ctx, taskID)
	if err != nil {
		return err
	}
	env.printJSON(view)
	return nil
}

func runRun(ctx context.Context, env *Env, args []string) error {
	taskID, err := submitFromArgs(ctx, env, args)
	if err != nil {
		return err
	}
	env.printf("queued %s, waiting for result", taskID)
	view, err := WaitForResult(ctx, env, taskID)
	if err != nil {
		return err
	}
	env.printJSON(view)
	return nil
}

// WaitForResult polls until the task is done or the wait timeout elapses.
func WaitForResult(ctx context.Context, env *Env, taskID string) (model.TaskView, error) {
	ctx, cancel := context.WithTimeout(ctx, env.WaitTimeout)
	defer cancel()
	ticker := time.NewTicker(env.PollInterval)
	defer ticker.Stop()
	for {
		view, err := env.Client.Poll(ctx, taskID)
		if err != nil {
			return model.TaskView{}, err
		}
		if view.Done() {
			return view, nil
		}
		select {
		case <-ctx.Done():
			return view, fmt.Errorf("task %s still %s after %s", taskID, view.Status, env.WaitTimeout)
		case <-ticker.C:
		}
	}
}

func runLanguages(ctx context.Context, env *Env, args []string) error {
	langs, err := env.Client.Languages(ctx)
	if err != nil {
		return err
	}
	for _, lang := range langs {
		env.printf("%s", lang)
	}
	return nil
}

func runRecent(ctx context.Context, env *Env, args []string) error {
	if env.State == nil || len(env.State.Recent) == 0 {
		env.printf("no submissions yet")
		return nil
	}
	for _, task := range env.State.Recent {
		env.printf("%s  %-6s  %s  %s", task.SubmittedAt.Format(time.RFC3339), task.Language, task.TaskID, task.Source)
	}
	return nil
}
