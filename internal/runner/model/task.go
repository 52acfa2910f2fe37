// Package model defines the task and result records shared by the gateway, queue and workers.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Language identifies a supported source language.
type Language string

const (
	LanguagePython Language = "python"
	LanguageJava   Language = "java"
	LanguageC      Language = "c"
	LanguageCPP    Language = "cpp"
)

// SupportedLanguages lists every language a worker pool exists for, in display order.
var SupportedLanguages = []Language{LanguagePython, LanguageJava, LanguageC, LanguageCPP}

// ParseLanguage normalizes a language tag and reports whether it is supported.
func ParseLanguage(raw string) (Language, bool) {
	lang := Language(strings.ToLower(strings.TrimSpace(raw)))
	for _, supported := range SupportedLanguages {
		if lang == supported {
			return lang, true
		}
	}
	return lang, false
}

// QueueKey returns the Redis list holding pending tasks for the language.
func QueueKey(lang Language) string {
	return string(lang) + "_code_queue"
}

// ResultKey returns the Redis key holding the result of a task.
func ResultKey(taskID string) string {
	return "result:" + taskID
}

// Task is one unit of submitted source code. It is immutable once enqueued.
type Task struct {
	ID          string   `json:"task_id"`
	Language    Language `json:"language"`
	Code        string   `json:"code"`
	Stdin       string   `json:"input"`
	SubmittedAt int64    `json:"submitted_at,omitempty"`
}

// Encode serializes the task for the queue.
func (t Task) Encode() (string, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("marshal task failed: %w", err)
	}
	return string(data), nil
}

// DecodeTask parses a queue payload.
func DecodeTask(payload string) (Task, error) {
	var task Task
	if err := json.Unmarshal([]byte(payload), &task); err != nil {
		return Task{}, fmt.Errorf("unmarshal task failed: %w", err)
	}
	if task.ID == "" {
		return Task{}, fmt.Errorf("task payload has no id")
	}
	return task, nil
}
