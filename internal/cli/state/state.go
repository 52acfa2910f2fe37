package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const maxRecent = 20

// SubmittedTask is one task submitted from this CLI.
type SubmittedTask struct {
	TaskID      string    `json:"task_id"`
	Language    string    `json:"language"`
	Source      string    `json:"source"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// SessionState remembers recent submissions across CLI runs.
type SessionState struct {
	Recent []SubmittedTask `json:"recent"`
}

// Remember records a submission, newest first, keeping the most recent entries.
func (s *SessionState) Remember(task SubmittedTask) {
	s.Recent = append([]SubmittedTask{task}, s.Recent...)
	if len(s.Recent) > maxRecent {
		s.Recent = s.Recent[:maxRecent]
	}
}

// Last returns the newest submission.
func (s *SessionState) Last() (SubmittedTask, bool) {
	if len(s.Recent) == 0 {
		return SubmittedTask{}, false
	}
	return s.Recent[0], true
}

func Load(path string) (SessionState, error) {
	var st SessionState
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return st, fmt.Errorf("read session state failed: %w", err)
	}
	if len(data) == 0 {
		return st, nil
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("parse session state failed: %w", err)
	}
	return st, nil
}

func Save(path string, st SessionState) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create session state dir failed: %w", err)
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session state failed: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write session state failed: %w", err)
	}
	return nil
}

func Clear(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove session state failed: %w", err)
	}
	return nil
}
