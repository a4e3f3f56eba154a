package app

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ptkim-ran/webrtc-signalling-server/internal/domain"
)

func TestRegistry_CapacityNeverExceeded(t *testing.T) {
	const capacity = 4
	reg := NewRegistry(capacity)

	for i := 0; i < capacity; i++ {
		peer := domain.PeerID(fmt.Sprintf("p%d", i))
		if _, err := reg.JoinOrCreate("r", peer, ""); err != nil {
			t.Fatalf("join %d: %v", i, err)
		}
	}

	_, err := reg.JoinOrCreate("r", "overflow", "")
	if !errors.Is(err, ErrRoomFull) {
		t.Fatalf("err=%v, want ErrRoomFull", err)
	}
	if got := len(reg.Members("r")); got != capacity {
		t.Fatalf("members=%d, want %d (rejected joiner must not be added)", got, capacity)
	}
}

func TestRegistry_InitiatorIsFirstAndPermanent(t *testing.T) {
	reg := NewRegistry(10)

	snapA, err := reg.JoinOrCreate("r", "a", "")
	if err != nil {
		t.Fatalf("join a: %v", err)
	}
	if !snapA.IsInitiator {
		t.Fatal("first joiner must be initiator")
	}

	snapB, err := reg.JoinOrCreate("r", "b", "")
	if err != nil {
		t.Fatalf("join b: %v", err)
	}
	if snapB.IsInitiator {
		t.Fatal("second joiner must not be initiator")
	}

	// Re-sync never reassigns the role.
	snap, ok := reg.Snapshot("r", "b")
	if !ok {
		t.Fatal("snapshot failed")
	}
	if snap.IsInitiator {
		t.Fatal("snapshot must not promote b")
	}
	snap, _ = reg.Snapshot("r", "a")
	if !snap.IsInitiator {
		t.Fatal("snapshot must keep a as initiator")
	}
}

func TestRegistry_ScenarioRoomOfTwo(t *testing.T) {
	reg := NewRegistry(2)

	snapA, err := reg.JoinOrCreate("r1", "A", "")
	if err != nil {
		t.Fatalf("A join: %v", err)
	}
	if !snapA.IsInitiator || len(snapA.Others) != 0 {
		t.Fatalf("A snapshot=%+v, want initiator with no others", snapA)
	}

	snapB, err := reg.JoinOrCreate("r1", "B", "")
	if err != nil {
		t.Fatalf("B join: %v", err)
	}
	if snapB.IsInitiator {
		t.Fatal("B must not be initiator")
	}
	if len(snapB.Others) != 1 || snapB.Others[0] != "A" {
		t.Fatalf("B others=%v, want [A]", snapB.Others)
	}
	if snapB.Total != 2 {
		t.Fatalf("B total=%d, want 2", snapB.Total)
	}

	if _, err := reg.JoinOrCreate("r1", "C", ""); !errors.Is(err, ErrRoomFull) {
		t.Fatalf("C err=%v, want ErrRoomFull", err)
	}
}

func TestRegistry_RejoinIsIdempotent(t *testing.T) {
	reg := NewRegistry(10)

	if _, err := reg.JoinOrCreate("r1", "A", ""); err != nil {
		t.Fatalf("first join: %v", err)
	}
	snap, err := reg.JoinOrCreate("r1", "A", "")
	if err != nil {
		t.Fatalf("re-join: %v", err)
	}
	if snap.Total != 1 {
		t.Fatalf("Total after re-join=%d, want 1", snap.Total)
	}
	if !snap.Rejoined {
		t.Fatal("re-join must be flagged")
	}
	if !snap.IsInitiator {
		t.Fatal("re-join must keep initiator status")
	}

	deps := reg.LeaveAll("A")
	if len(deps) != 1 || deps[0].Remaining != 0 {
		t.Fatalf("departures=%+v, want one with 0 remaining", deps)
	}
	if got := reg.Members("r1"); len(got) != 0 {
		t.Fatalf("members after disconnect=%v, want none", got)
	}
	if _, ok := reg.Snapshot("r1", "A"); ok {
		t.Fatal("empty room must be deleted after disconnect")
	}
}

func TestRegistry_RejoinInFullRoomSucceeds(t *testing.T) {
	reg := NewRegistry(2)
	reg.JoinOrCreate("r", "a", "cam-old")
	reg.JoinOrCreate("r", "b", "")

	snap, err := reg.JoinOrCreate("r", "a", "cam-new")
	if err != nil {
		t.Fatalf("re-join at capacity: %v", err)
	}
	if snap.Total != 2 {
		t.Fatalf("Total=%d, want 2", snap.Total)
	}
	if snap.Cams["a"] != "cam-new" {
		t.Fatalf("cams=%v, want a->cam-new", snap.Cams)
	}
}

func TestRegistry_LeaveDeletesEmptyRoom(t *testing.T) {
	reg := NewRegistry(10)
	reg.JoinOrCreate("r", "a", "")
	reg.JoinOrCreate("r", "b", "")

	if got := reg.Leave("r", "a"); got != 1 {
		t.Fatalf("remaining=%d, want 1", got)
	}
	if got := reg.Leave("r", "b"); got != 0 {
		t.Fatalf("remaining=%d, want 0", got)
	}
	if _, ok := reg.Snapshot("r", "b"); ok {
		t.Fatal("empty room must be deleted immediately")
	}

	// A fresh join recreates the room with a fresh initiator.
	snap, err := reg.JoinOrCreate("r", "c", "")
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if !snap.IsInitiator {
		t.Fatal("first member of recreated room must be initiator")
	}
}

func TestRegistry_LeaveIsIdempotent(t *testing.T) {
	reg := NewRegistry(10)
	reg.JoinOrCreate("r", "a", "")
	reg.JoinOrCreate("r", "b", "")

	if got := reg.Leave("r", "ghost"); got != 2 {
		t.Fatalf("remaining=%d, want 2 for absent member", got)
	}
	if got := reg.Leave("nope", "a"); got != 0 {
		t.Fatalf("remaining=%d, want 0 for absent room", got)
	}
}

func TestRegistry_LeaveAll(t *testing.T) {
	reg := NewRegistry(10)
	reg.JoinOrCreate("r1", "a", "")
	reg.JoinOrCreate("r1", "b", "")
	reg.JoinOrCreate("r2", "a", "")

	deps := reg.LeaveAll("a")
	if len(deps) != 2 {
		t.Fatalf("departures=%d, want 2", len(deps))
	}
	for _, dep := range deps {
		switch dep.Room {
		case "r1":
			if dep.Remaining != 1 {
				t.Fatalf("r1 remaining=%d, want 1", dep.Remaining)
			}
		case "r2":
			if dep.Remaining != 0 {
				t.Fatalf("r2 remaining=%d, want 0", dep.Remaining)
			}
		default:
			t.Fatalf("unexpected room %q", dep.Room)
		}
	}
}

func TestRegistry_CamIDTracking(t *testing.T) {
	reg := NewRegistry(10)
	reg.JoinOrCreate("r", "s1", "cam-1")
	snap, err := reg.JoinOrCreate("r", "mon", "")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if snap.Cams["s1"] != "cam-1" {
		t.Fatalf("cams=%v, want s1->cam-1", snap.Cams)
	}

	cam, ok := reg.CamOf("r", "s1")
	if !ok || cam != "cam-1" {
		t.Fatalf("CamOf=%q,%v, want cam-1,true", cam, ok)
	}
	if _, ok := reg.CamOf("r", "mon"); ok {
		t.Fatal("monitor announced no cam id")
	}
}
