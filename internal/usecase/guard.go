package usecase

import "sync"

// CaptureOwner identifies which component currently holds the exclusive
// microphone capture stream.
type CaptureOwner string

const (
	OwnerNone        CaptureOwner = "none"
	OwnerMeter       CaptureOwner = "meter"
	OwnerRecognition CaptureOwner = "recognition"
)

// CaptureGuard enforces that at most one component holds the capture device.
// Acquiring for one use releases whatever handle the previous holder kept.
type CaptureGuard struct {
	mu      sync.Mutex
	owner   CaptureOwner
	release func()
}

func NewCaptureGuard() *CaptureGuard {
	return &CaptureGuard{owner: OwnerNone}
}

// Acquire hands ownership to owner. If another component held the device,
// its release func runs after the ownership switch, outside the guard lock.
func (g *CaptureGuard) Acquire(owner CaptureOwner, release func()) {
	g.mu.Lock()
	var prev func()
	if g.owner != owner {
		prev = g.release
	}
	g.owner = owner
	g.release = release
	g.mu.Unlock()

	if prev != nil {
		prev()
	}
}

// Release clears ownership if owner still holds it.
func (g *CaptureGuard) Release(owner CaptureOwner) {
	g.mu.Lock()
	if g.owner == owner {
		g.owner = OwnerNone
		g.release = nil
	}
	g.mu.Unlock()
}

// Owner returns the current holder.
func (g *CaptureGuard) Owner() CaptureOwner {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.owner
}
