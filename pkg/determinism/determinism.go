// Package determinism owns the pinned clock, seeded id generator, and the
// replay context threaded through the pipeline. In pinned mode every id and
// every timestamp the core observes is derived from the context, so a second
// run over the same inputs produces byte-identical rows and artifacts.
package determinism

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	mrand "math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Mode names recorded in evidence artifacts.
const (
	ModeLive   = "live"
	ModePinned = "pinned"
)

// ErrViolation is returned when code asks a pinned scope for live entropy or
// wall-clock time. Tests rely on this being a hard failure.
var ErrViolation = errors.New("determinism violation: live read inside pinned scope")

// Context pins a run: all ids derive from Seed, all clock reads return
// Timestamp, and RunID names the replay session.
type Context struct {
	Seed      int64     `json:"seed"`
	Timestamp time.Time `json:"timestamp_utc"`
	RunID     string    `json:"run_id"`
}

// Scope is the id/clock authority for one run. Construct with Live or
// Pinned; the zero value is not usable.
type Scope struct {
	mu     sync.Mutex
	pinned bool
	ctx    Context
	rng    *mrand.Rand
}

// Live returns a scope backed by wall time and fresh randomness.
func Live() *Scope {
	return &Scope{}
}

// Pinned returns a scope that replays deterministically under ctx. The id
// stream depends only on (seed, draw counter).
func Pinned(ctx Context) *Scope {
	return &Scope{
		pinned: true,
		ctx:    Context{Seed: ctx.Seed, Timestamp: ctx.Timestamp.UTC(), RunID: ctx.RunID},
		rng:    mrand.New(mrand.NewSource(ctx.Seed)),
	}
}

// Pinned reports whether the scope replays under a pinned context.
func (s *Scope) Pinned() bool { return s.pinned }

// Mode returns the mode string recorded in artifacts.
func (s *Scope) Mode() string {
	if s.pinned {
		return ModePinned
	}
	return ModeLive
}

// Context returns the pinned context and whether one is present.
func (s *Scope) Context() (Context, bool) {
	if !s.pinned {
		return Context{}, false
	}
	return s.ctx, true
}

// Now returns the pinned timestamp, or wall time UTC in live mode. This is
// the only clock the core may read.
func (s *Scope) Now() time.Time {
	if s.pinned {
		return s.ctx.Timestamp
	}
	return time.Now().UTC()
}

// WallTime returns wall-clock time in live mode and ErrViolation in pinned
// mode. It exists for callers that genuinely need the wall clock (the
// fetcher) so that accidental use inside the pinned core is detectable.
func (s *Scope) WallTime() (time.Time, error) {
	if s.pinned {
		return time.Time{}, ErrViolation
	}
	return time.Now().UTC(), nil
}

// NewAlertID allocates an alert id: ALERT-YYYYMMDD-<8 hex>.
func (s *Scope) NewAlertID() string { return s.newID("ALERT") }

// NewEventID allocates an event id: EVT-YYYYMMDD-<8 hex>.
func (s *Scope) NewEventID() string { return s.newID("EVT") }

// NewRawID allocates a raw-item id: RAW-YYYYMMDD-<8 hex>.
func (s *Scope) NewRawID() string { return s.newID("RAW") }

// NewRunID allocates a run-record id.
func (s *Scope) NewRunID() string {
	if s.pinned && s.ctx.RunID != "" {
		return s.ctx.RunID
	}
	return s.newID("RUN")
}

func (s *Scope) newID(prefix string) string {
	return fmt.Sprintf("%s-%s-%s", prefix, s.Now().Format("20060102"), s.hex8())
}

// hex8 returns 8 hex characters. Pinned: next draw from the seeded stream.
// Live: fresh randomness, uuid-backed with a crypto fallback.
func (s *Scope) hex8() string {
	if s.pinned {
		s.mu.Lock()
		n := s.rng.Uint32()
		s.mu.Unlock()
		return fmt.Sprintf("%08x", n)
	}
	u, err := uuid.NewRandom()
	if err == nil {
		return hex.EncodeToString(u[:4])
	}
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		// Last resort; still unique enough for a local single process.
		binary.BigEndian.PutUint32(b[:], uint32(time.Now().UnixNano()))
	}
	return hex.EncodeToString(b[:])
}
