package channels

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ptkim-ran/webrtc-signalling-server/internal/domain"
)

func TestAllocator_LowestIndexFirst(t *testing.T) {
	a := NewAllocator(3, nil)

	for want := 0; want < 3; want++ {
		got, err := a.Assign(domain.PeerID(fmt.Sprintf("p%d", want)), "")
		if err != nil {
			t.Fatalf("assign %d: %v", want, err)
		}
		if got != want {
			t.Fatalf("slot=%d, want %d", got, want)
		}
	}

	_, err := a.Assign("p3", "")
	if !errors.Is(err, ErrNoAvailableChannel) {
		t.Fatalf("err=%v, want ErrNoAvailableChannel", err)
	}
	if err := a.Verify(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
}

func TestAllocator_ReleaseThenAssignIsDeterministic(t *testing.T) {
	a := NewAllocator(3, nil)
	a.Assign("p0", "")
	a.Assign("p1", "")
	a.Assign("p2", "")

	if _, ok := a.Release("p1"); !ok {
		t.Fatal("release p1 failed")
	}
	got, err := a.Assign("p1", "")
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if got != 1 {
		t.Fatalf("slot=%d, want lowest free index 1", got)
	}
	if a.Active() != 3 {
		t.Fatalf("active=%d, want 3", a.Active())
	}
}

func TestAllocator_ReleaseIsNoOpForUnknownPeer(t *testing.T) {
	a := NewAllocator(2, nil)
	a.Assign("p0", "")
	if _, ok := a.Release("ghost"); ok {
		t.Fatal("release of unknown peer must be a no-op")
	}
	if a.Active() != 1 {
		t.Fatalf("active=%d, want 1", a.Active())
	}
}

func TestAllocator_RebindSurvivesReconnect(t *testing.T) {
	a := NewAllocator(9, nil)
	// cam-1 lands on slot 3 after three unrelated peers.
	a.Assign("x0", "")
	a.Assign("x1", "")
	a.Assign("x2", "")
	slot3, err := a.Assign("s1", "cam-1")
	if err != nil || slot3 != 3 {
		t.Fatalf("assign cam-1=%d,%v, want 3,nil", slot3, err)
	}

	active := a.Active()
	got, ok := a.Rebind("cam-1", "s2")
	if !ok || got != 3 {
		t.Fatalf("rebind=%d,%v, want 3,true", got, ok)
	}
	if a.Active() != active {
		t.Fatalf("active=%d, want unchanged %d", a.Active(), active)
	}

	peer, cam, ok := a.Occupant(3)
	if !ok || peer != "s2" || cam != "cam-1" {
		t.Fatalf("occupant=%q/%q, want s2/cam-1", peer, cam)
	}
	if _, ok := a.SlotOf("s1"); ok {
		t.Fatal("no slot may still reference the stale identity s1")
	}
	if err := a.Verify(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
}

func TestAllocator_RebindTwiceLeavesSingleBinding(t *testing.T) {
	a := NewAllocator(9, nil)
	a.Assign("s0", "cam-1")
	a.Rebind("cam-1", "t1")
	a.Rebind("cam-1", "t2")

	if a.Active() != 1 {
		t.Fatalf("active=%d, want 1", a.Active())
	}
	slot, ok := a.SlotOf("t2")
	if !ok {
		t.Fatal("t2 must occupy a slot")
	}
	peer, _, _ := a.Occupant(slot)
	if peer != "t2" {
		t.Fatalf("occupant=%q, want t2", peer)
	}
	if _, ok := a.SlotOf("t1"); ok {
		t.Fatal("residual t1 binding")
	}
}

func TestAllocator_VerifyFlagsDuplicatePeer(t *testing.T) {
	a := NewAllocator(3, nil)
	a.Assign("p0", "cam-0")
	a.Assign("p1", "cam-1")

	if err := a.Verify(); err != nil {
		t.Fatalf("invariants on valid table: %v", err)
	}

	// Force the corruption the verifier must catch: one transport identity
	// occupying two slots.
	a.mu.Lock()
	a.slots[1].peer = "p0"
	a.mu.Unlock()
	if err := a.Verify(); err == nil {
		t.Fatal("Verify()=nil, want duplicate-peer violation")
	}
}

func TestAllocator_AssignWithKnownCamRetargets(t *testing.T) {
	a := NewAllocator(9, nil)
	first, _ := a.Assign("s1", "cam-1")

	// A reconnecting camera that assigns again must not consume a second slot.
	second, err := a.Assign("s2", "cam-1")
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if second != first {
		t.Fatalf("slot=%d, want reuse of %d", second, first)
	}
	if a.Active() != 1 {
		t.Fatalf("active=%d, want 1", a.Active())
	}
}

func TestAllocator_ReleaseCam(t *testing.T) {
	a := NewAllocator(9, nil)
	a.Assign("s1", "cam-1")

	slot, ok := a.ReleaseCam("cam-1")
	if !ok || slot != 0 {
		t.Fatalf("ReleaseCam=%d,%v, want 0,true", slot, ok)
	}
	if a.Active() != 0 {
		t.Fatalf("active=%d, want 0", a.Active())
	}
	if _, ok := a.ReleaseCam("cam-1"); ok {
		t.Fatal("second release must be a no-op")
	}
}

type recordingDisplay struct {
	binds, clears []int
	unavailable   []domain.PeerID
}

func (d *recordingDisplay) Bind(slot int, _ domain.PeerID, _ domain.CamID) {
	d.binds = append(d.binds, slot)
}
func (d *recordingDisplay) Clear(slot int)                  { d.clears = append(d.clears, slot) }
func (d *recordingDisplay) Unavailable(p domain.PeerID)     { d.unavailable = append(d.unavailable, p) }

func TestAllocator_NotifiesDisplay(t *testing.T) {
	d := &recordingDisplay{}
	a := NewAllocator(2, d)

	a.Assign("p0", "cam-0")
	a.Rebind("cam-0", "p1")
	a.Release("p1")

	if len(d.binds) != 2 || d.binds[0] != 0 || d.binds[1] != 0 {
		t.Fatalf("binds=%v, want [0 0]", d.binds)
	}
	if len(d.clears) != 1 || d.clears[0] != 0 {
		t.Fatalf("clears=%v, want [0]", d.clears)
	}
}
