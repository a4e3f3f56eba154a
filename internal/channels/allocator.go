// Package channels binds logical camera identities to the fixed display
// slots of the monitoring grid. The binding survives transport reconnects:
// a camera that comes back under a new peer id but the same cam id keeps
// its slot.
package channels

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/ptkim-ran/webrtc-signalling-server/internal/domain"
)

const DefaultSlotCount = 9

// ErrNoAvailableChannel is a capacity error surfaced to the caller; nothing
// is torn down.
var ErrNoAvailableChannel = errors.New("no available channel")

type slot struct {
	occupied bool
	peer     domain.PeerID
	cam      domain.CamID
}

// Allocator owns the slot table and the camId<->slot map. Both are mutated
// together under one lock; consumers never see them out of sync.
type Allocator struct {
	mu      sync.Mutex
	slots   []slot
	byCam   map[domain.CamID]int
	active  int
	display Display
}

func NewAllocator(n int, display Display) *Allocator {
	if n <= 0 {
		n = DefaultSlotCount
	}
	if display == nil {
		display = NopDisplay{}
	}
	return &Allocator{
		slots:   make([]slot, n),
		byCam:   make(map[domain.CamID]int),
		display: display,
	}
}

// Assign binds peer to the lowest-index free slot. When cam is already
// mapped, the existing slot is retargeted instead of consuming a new one,
// keeping the cam map a bijection.
func (a *Allocator) Assign(peer domain.PeerID, cam domain.CamID) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if cam != "" {
		if i, ok := a.byCam[cam]; ok {
			a.rebindLocked(i, peer)
			return i, nil
		}
	}

	for i := range a.slots {
		if a.slots[i].occupied {
			continue
		}
		a.slots[i] = slot{occupied: true, peer: peer, cam: cam}
		if cam != "" {
			a.byCam[cam] = i
		}
		a.active++
		a.verifyLocked()
		a.display.Bind(i, peer, cam)
		log.Info().Str("module", "channels").Int("slot", i).Str("peer", string(peer)).Str("cam", string(cam)).Msg("slot assigned")
		return i, nil
	}
	return -1, ErrNoAvailableChannel
}

// Rebind retargets cam's slot to a new transport identity without consuming
// a new slot. Returns false when cam has no slot.
//
// Ordering contract: if the old occupant still has a live peer session, the
// caller tears it down before rebinding.
func (a *Allocator) Rebind(cam domain.CamID, peer domain.PeerID) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	i, ok := a.byCam[cam]
	if !ok {
		return -1, false
	}
	a.rebindLocked(i, peer)
	return i, true
}

// Release frees the slot occupied by peer and clears any cam mapping
// pointing at it. No-op when peer occupies nothing.
func (a *Allocator) Release(peer domain.PeerID) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.slots {
		if !a.slots[i].occupied || a.slots[i].peer != peer {
			continue
		}
		return a.releaseLocked(i), true
	}
	return -1, false
}

// ReleaseCam frees a slot by logical identity (the cleanup-cam path).
func (a *Allocator) ReleaseCam(cam domain.CamID) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	i, ok := a.byCam[cam]
	if !ok {
		return -1, false
	}
	return a.releaseLocked(i), true
}

func (a *Allocator) Active() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// SlotOf reports the slot currently occupied by peer.
func (a *Allocator) SlotOf(peer domain.PeerID) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range a.slots {
		if a.slots[i].occupied && a.slots[i].peer == peer {
			return i, true
		}
	}
	return -1, false
}

// Occupant reports the peer and cam bound to a slot.
func (a *Allocator) Occupant(i int) (domain.PeerID, domain.CamID, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if i < 0 || i >= len(a.slots) || !a.slots[i].occupied {
		return "", "", false
	}
	return a.slots[i].peer, a.slots[i].cam, true
}

// Verify checks the bijection invariants: no two cams share a slot, every
// cam entry points at an occupied slot whose cam field agrees.
func (a *Allocator) Verify() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.checkLocked()
}

func (a *Allocator) rebindLocked(i int, peer domain.PeerID) {
	old := a.slots[i].peer
	a.slots[i].peer = peer
	a.verifyLocked()
	a.display.Bind(i, peer, a.slots[i].cam)
	log.Info().Str("module", "channels").Int("slot", i).Str("old_peer", string(old)).Str("peer", string(peer)).Msg("slot rebound")
}

func (a *Allocator) releaseLocked(i int) int {
	if cam := a.slots[i].cam; cam != "" {
		delete(a.byCam, cam)
	}
	a.slots[i] = slot{}
	a.active--
	a.verifyLocked()
	a.display.Clear(i)
	log.Info().Str("module", "channels").Int("slot", i).Msg("slot released")
	return i
}

// verifyLocked runs after every mutation. A violation is a bug, logged and
// recoverable, never fatal.
func (a *Allocator) verifyLocked() {
	if err := a.checkLocked(); err != nil {
		log.Error().Err(err).Str("module", "channels").Msg("slot table invariant violated")
	}
}

func (a *Allocator) checkLocked() error {
	seen := make(map[int]domain.CamID, len(a.byCam))
	for cam, i := range a.byCam {
		if prev, dup := seen[i]; dup {
			return fmt.Errorf("cams %q and %q both map to slot %d", prev, cam, i)
		}
		seen[i] = cam
		if i < 0 || i >= len(a.slots) {
			return fmt.Errorf("cam %q maps to out-of-range slot %d", cam, i)
		}
		if !a.slots[i].occupied {
			return fmt.Errorf("cam %q maps to free slot %d", cam, i)
		}
		if a.slots[i].cam != cam {
			return fmt.Errorf("slot %d holds cam %q but map says %q", i, a.slots[i].cam, cam)
		}
	}
	occupied := 0
	byPeer := make(map[domain.PeerID]int)
	for i := range a.slots {
		if a.slots[i].occupied {
			occupied++
			if a.slots[i].cam != "" {
				if j, ok := a.byCam[a.slots[i].cam]; !ok || j != i {
					return fmt.Errorf("slot %d cam %q missing from map", i, a.slots[i].cam)
				}
			}
			if p := a.slots[i].peer; p != "" {
				if j, dup := byPeer[p]; dup {
					return fmt.Errorf("peer %q occupies slots %d and %d", p, j, i)
				}
				byPeer[p] = i
			}
		}
	}
	if occupied != a.active {
		return fmt.Errorf("active=%d but %d slots occupied", a.active, occupied)
	}
	return nil
}
