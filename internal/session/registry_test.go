package session

import "testing"

func TestBeginAttachGuardsDuplicate(t *testing.T) {
	r := NewRegistry()
	if !r.BeginAttach("T1") {
		t.Fatal("expected first BeginAttach to succeed")
	}
	if r.BeginAttach("T1") {
		t.Fatal("expected second BeginAttach on same target to fail")
	}
	state, _ := r.StateOf("T1")
	if state != Pending {
		t.Fatalf("expected Pending, got %v", state)
	}
}

func TestCompleteAttachTransitionsToAttached(t *testing.T) {
	r := NewRegistry()
	r.BeginAttach("T1")
	r.CompleteAttach("T1", "S1")

	state, sessionID := r.StateOf("T1")
	if state != Attached || sessionID != "S1" {
		t.Fatalf("expected Attached(S1), got %v(%s)", state, sessionID)
	}

	if got, _ := r.SessionFor("T1"); got != "S1" {
		t.Fatalf("SessionFor mismatch: %s", got)
	}
	if got, ok := r.TargetFor("S1"); !ok || got != "T1" {
		t.Fatalf("TargetFor mismatch: %s, %v", got, ok)
	}
}

func TestReleaseTargetRemovesEntry(t *testing.T) {
	r := NewRegistry()
	r.BeginAttach("T1")
	r.CompleteAttach("T1", "S1")

	sessionID, existed := r.ReleaseTarget("T1")
	if !existed || sessionID != "S1" {
		t.Fatalf("unexpected release result: %s, %v", sessionID, existed)
	}

	state, _ := r.StateOf("T1")
	if state != Absent {
		t.Fatalf("expected Absent after release, got %v", state)
	}

	if _, existed := r.ReleaseTarget("T1"); existed {
		t.Fatal("expected second release to report not existed")
	}
}

func TestAttachCycleAcrossCreateDestroy(t *testing.T) {
	r := NewRegistry()

	r.BeginAttach("T1")
	r.CompleteAttach("T1", "S1")
	r.ReleaseTarget("T1")

	// A target may cycle through pending/attached/absent again.
	if !r.BeginAttach("T1") {
		t.Fatal("expected BeginAttach to succeed again after release")
	}
	r.CompleteAttach("T1", "S2")
	if got, _ := r.SessionFor("T1"); got != "S2" {
		t.Fatalf("expected S2 on second cycle, got %s", got)
	}
}

func TestAtMostOneEntryPerTarget(t *testing.T) {
	r := NewRegistry()
	r.BeginAttach("T1")
	r.CompleteAttach("T1", "S1")
	r.CompleteAttach("T1", "S2") // re-attach without release overwrites, still one entry

	if r.Count() != 1 {
		t.Fatalf("expected exactly one entry, got %d", r.Count())
	}
	if got, _ := r.SessionFor("T1"); got != "S2" {
		t.Fatalf("expected latest sessionID S2, got %s", got)
	}
}
