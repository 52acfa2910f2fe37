package state

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	var st SessionState
	st.Remember(SubmittedTask{TaskID: "a", Language: "c", SubmittedAt: time.Unix(1, 0).UTC()})
	st.Remember(SubmittedTask{TaskID: "b", Language: "python", SubmittedAt: time.Unix(2, 0).UTC()})
	if err := Save(path, st); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	last, ok := loaded.Last()
	if !ok || last.TaskID != "b" || len(loaded.Recent) != 2 {
		t.Fatalf("unexpected state: %+v", loaded)
	}
	if err := Clear(path); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if cleared, _ := Load(path); len(cleared.Recent) != 0 {
		t.Fatalf("expected empty state after clear")
	}
}

func TestRememberKeepsMostRecent(t *testing.T) {
	var st SessionState
	for i := 0; i < maxRecent+5; i++ {
		st.Remember(SubmittedTask{TaskID: fmt.Sprint(i)})
	}
	if len(st.Recent) != maxRecent {
		t.Fatalf("expected %d entries, got %d", maxRecent, len(st.Recent))
	}
	if last, _ := st.Last(); last.TaskID != fmt.Sprint(maxRecent+4) {
		t.Fatalf("unexpected newest entry: %+v", last)
	}
}
