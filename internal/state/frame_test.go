package state

import (
	"net/url"
	"testing"
	"time"
)

func TestGetOrCreateUrgentMintsUIDOnce(t *testing.T) {
	s := NewStore()
	f1, created1 := s.GetOrCreateUrgent("F1")
	if !created1 || f1.UID == "" {
		t.Fatalf("expected fresh urgent frame with UID, got %+v", f1)
	}
	f2, created2 := s.GetOrCreateUrgent("F1")
	if created2 {
		t.Fatal("expected second call to find existing record")
	}
	if f2.UID != f1.UID {
		t.Fatal("UID must not change across repeated urgent lookups")
	}
}

func TestReconcilePreservesUIDWithoutOpener(t *testing.T) {
	s := NewStore()
	urgent, _ := s.GetOrCreateUrgent("F1")
	preUID := urgent.UID

	u, _ := url.Parse("https://example.com")
	openerNewlyKnown, rec := s.Reconcile("F1", "Example", u, false, "", "L1")
	if openerNewlyKnown {
		t.Fatal("no opener supplied, should not report newly known")
	}
	if rec.UID != preUID {
		t.Fatalf("UID should be preserved across reconcile without opener: got %s want %s", rec.UID, preUID)
	}
	if rec.Urgent {
		t.Fatal("urgent flag must clear on reconcile")
	}
}

func TestReconcileRotatesUIDWhenOpenerNewlyKnown(t *testing.T) {
	s := NewStore()
	urgent, _ := s.GetOrCreateUrgent("F2")
	preUID := urgent.UID

	openerNewlyKnown, rec := s.Reconcile("F2", "Popup", nil, true, "opener-uid-1", "L2")
	if !openerNewlyKnown {
		t.Fatal("expected opener to be reported newly known")
	}
	if rec.UID == preUID {
		t.Fatal("UID must rotate when opener becomes known on reconcile")
	}
	if rec.OpenerFrameUID != "opener-uid-1" {
		t.Fatalf("opener not recorded: %s", rec.OpenerFrameUID)
	}
}

func TestUpdateTitleIfFirstFiresOnlyOnce(t *testing.T) {
	s := NewStore()
	f, _ := s.GetOrCreate("F1")
	preUID := f.UID

	fired1, rec1 := s.UpdateTitleIfFirst("F1", "Hello")
	if !fired1 {
		t.Fatal("expected first non-empty title to fire")
	}
	if rec1.UID == preUID {
		t.Fatal("UID must rotate on first title transition")
	}
	midUID := rec1.UID

	fired2, rec2 := s.UpdateTitleIfFirst("F1", "Hello Again")
	if fired2 {
		t.Fatal("second title update must not fire")
	}
	if rec2.UID != midUID {
		t.Fatal("UID must not rotate on subsequent title updates")
	}
	if rec2.Title != "Hello Again" {
		t.Fatalf("title not updated: %s", rec2.Title)
	}
}

func TestNavigateResetsPerDocumentStateAndRotatesUID(t *testing.T) {
	s := NewStore()
	f, _ := s.GetOrCreate("F1")
	f.ContactedDomains["example.com"] = struct{}{}
	s.AddScript("F1", "S1", "example.com", "hash1", nil)
	preUID := f.UID

	u, _ := url.Parse("https://next.example.com")
	poppedUID, rec, wasUnknown := s.Navigate("F1", "L2", u)
	if wasUnknown {
		t.Fatal("frame was already known")
	}
	if poppedUID != preUID {
		t.Fatalf("expected popped UID to equal pre-nav UID: got %s want %s", poppedUID, preUID)
	}
	if rec.UID == preUID {
		t.Fatal("navigate must mint a fresh UID")
	}
	if len(rec.ContactedDomains) != 0 || len(rec.Scripts) != 0 {
		t.Fatal("navigate must clear per-document state")
	}
}

func TestDestroyReturnsLastUID(t *testing.T) {
	s := NewStore()
	f, _ := s.GetOrCreate("F1")
	uid := f.UID

	gotUID, existed := s.Destroy("F1")
	if !existed || gotUID != uid {
		t.Fatalf("unexpected destroy result: %s, %v", gotUID, existed)
	}
	if _, existed := s.Destroy("F1"); existed {
		t.Fatal("second destroy should report not existed")
	}
}

func TestAddScriptCreatesUrgentFrameOnRace(t *testing.T) {
	s := NewStore()
	rec, frame := s.AddScript("F-race", "S1", "example.com", "hash1", nil)
	if rec.ScriptID != "S1" {
		t.Fatal("script record not created")
	}
	if !frame.Urgent {
		t.Fatal("a scriptParsed racing ahead of frameAttached must create an urgent frame")
	}
}

func TestPurgeStaleNetworkSessions(t *testing.T) {
	s := NewStore()
	f, _ := s.GetOrCreate("F1")
	now := time.Now()
	f.NetworkSessions["R1"] = &NetworkSession{RequestID: "R1", BornTime: now.Add(-2 * MaxLiveTime)}
	f.NetworkSessions["R2"] = &NetworkSession{RequestID: "R2", BornTime: now}

	s.PurgeStaleNetworkSessions("F1", now)

	if _, ok := f.NetworkSessions["R1"]; ok {
		t.Fatal("stale session R1 should have been purged")
	}
	if _, ok := f.NetworkSessions["R2"]; !ok {
		t.Fatal("fresh session R2 should survive")
	}
}

func TestSnapshotIsIndependentOfLiveRecord(t *testing.T) {
	s := NewStore()
	f, _ := s.GetOrCreate("F1")
	f.ContactedDomains["example.com"] = struct{}{}
	s.AddScript("F1", "S1", "example.com", "hash1", nil)

	snap := f.Snapshot()
	f.ContactedDomains["other.com"] = struct{}{}
	delete(f.Scripts, "S1")

	if len(snap.ContactedDomains) != 1 {
		t.Fatal("snapshot must not see later mutation of contacted domains")
	}
	if _, ok := snap.Scripts["S1"]; !ok {
		t.Fatal("snapshot must retain scripts removed afterward from the live record")
	}
}
