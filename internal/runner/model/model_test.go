package model_test

import (
	"encoding/json"
	"testing"

	"coderun/internal/runner/model"
)

func TestParseLanguage(t *testing.T) {
	t.Parallel()
	cases := []struct {
		raw  string
		want model.Language
		ok   bool
	}{
		{raw: "python", want: model.LanguagePython, ok: true},
		{raw: " CPP ", want: model.LanguageCPP, ok: true},
		{raw: "java", want: model.LanguageJava, ok: true},
		{raw: "c", want: model.LanguageC, ok: true},
		{raw: "ruby", want: "ruby", ok: false},
		{raw: "", want: "", ok: false},
	}
	for _, tc := range cases {
		got, ok := model.ParseLanguage(tc.raw)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("ParseLanguage(%q) = %q,%v want %q,%v", tc.raw, got, ok, tc.want, tc.ok)
		}
	}
}

func TestKeys(t *testing.T) {
	t.Parallel()
	if got := model.QueueKey(model.LanguageCPP); got != "cpp_code_queue" {
		t.Fatalf("unexpected queue key: %s", got)
	}
	if got := model.ResultKey("abc"); got != "result:abc" {
		t.Fatalf("unexpected result key: %s", got)
	}
}

func TestTaskPayloadUsesQueueFieldNames(t *testing.T) {
	t.Parallel()
	payload, err := model.Task{ID: "t-1", Language: model.LanguagePython, Code: "print(1)", Stdin: "x"}.Encode()
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		t.Fatalf("payload is not json: %v", err)
	}
	for _, key := range []string{"task_id", "language", "code", "input"} {
		if _, ok := raw[key]; !ok {
			t.Fatalf("payload missing %q: %s", key, payload)
		}
	}

	task, err := model.DecodeTask(payload)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if task.ID != "t-1" || task.Stdin != "x" {
		t.Fatalf("unexpected task: %+v", task)
	}
}

func TestDecodeTaskRejectsGarbage(t *testing.T) {
	t.Parallel()
	if _, err := model.DecodeTask("not json"); err == nil {
		t.Fatalf("expected decode error")
	}
	if _, err := model.DecodeTask(`{"language":"c"}`); err == nil {
		t.Fatalf("expected error for missing id")
	}
}

func TestResultConstructors(t *testing.T) {
	t.Parallel()
	ce := model.CompileError("main.c:1: error")
	if ce.Status != model.StatusCompileError || ce.Stdout != "" {
		t.Fatalf("unexpected compile error result: %+v", ce)
	}
	to := model.Timeout(5000)
	if to.Status != model.StatusTimeout || to.Stderr != model.TimeoutMessage || to.Stdout != "" {
		t.Fatalf("unexpected timeout result: %+v", to)
	}
	ie := model.InternalError(nil)
	if ie.Status != model.StatusInternalError || ie.Stderr == "" {
		t.Fatalf("unexpected internal error result: %+v", ie)
	}
}

func TestTaskViewShapes(t *testing.T) {
	t.Parallel()
	pending, err := json.Marshal(model.PendingView("t-1"))
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(pending) != `{"task_id":"t-1","status":"pending"}` {
		t.Fatalf("unexpected pending view: %s", pending)
	}

	view := model.DoneView("t-1", model.Success("", "", 0, 12))
	if !view.Done() {
		t.Fatalf("expected done view")
	}
	data, err := json.Marshal(view)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var raw map[string]interface{}
	_ = json.Unmarshal(data, &raw)
	if _, ok := raw["stdout"]; !ok {
		t.Fatalf("done view must always carry stdout: %s", data)
	}
	if raw["status"] != "success" {
		t.Fatalf("unexpected status: %v", raw["status"])
	}
}
