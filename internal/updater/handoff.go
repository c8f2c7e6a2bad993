package updater

import (
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
	"sync"

	"github.com/autopeer-io/fwagent/internal/pkg/metrics"
)

// slotState is the state of the single handoff slot.
type slotState int

const (
	slotEmpty slotState = iota
	slotFull
	slotFailed
)

// session is the rendezvous between the asynchronous download producer and
// the engine's synchronous pull consumer for one install attempt. It owns
// all shared mutable state of the attempt: the slot, the fault latch, the
// byte accounting and the streaming hasher, all guarded by one mutex.
//
// The protocol is strict alternation with no buffering beyond depth 1:
// Push blocks while the slot is full, Pull blocks while it is empty, and
// both return immediately with the recorded fault once one is latched.
// slotFailed is terminal; it is never cleared for the lifetime of the
// session, which is exactly one attempt.
type session struct {
	target   Target
	expected Digest

	mu   sync.Mutex
	cond *sync.Cond

	state     slotState
	frame     []byte
	fault     error
	delivered uint64
	hasher    hash.Hash
}

// newSession validates the target and prepares the rendezvous state.
func newSession(target Target) (*session, error) {
	expected, err := target.PrimaryDigest()
	if err != nil {
		return nil, err
	}
	h, err := newHasher(expected.Alg)
	if err != nil {
		return nil, err
	}

	// An empty image never reaches the final-frame check in Push, so its
	// digest is settled here before anything starts.
	if target.Length == 0 {
		got := hex.EncodeToString(h.Sum(nil))
		if !strings.EqualFold(got, expected.Value) {
			return nil, fmt.Errorf("%w: expected %s %s, got %s",
				ErrIntegrity, expected.Alg, expected.Value, got)
		}
	}

	s := &session{
		target:   target,
		expected: expected,
		hasher:   h,
	}
	s.cond = sync.NewCond(&s.mu)
	return s, nil
}

// Push hands one frame to the consumer. It blocks while the previous frame
// has not been pulled. The frame is hashed and counted before the slot
// turns full, so an over-length frame is never observable by the consumer.
// The caller keeps ownership of p.
func (s *session) Push(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.state == slotFull && s.fault == nil {
		s.cond.Wait()
	}
	if s.fault != nil {
		return s.fault
	}

	n := uint64(len(p))
	if s.delivered+n > s.target.Length {
		return s.failLocked(fmt.Errorf("%w: %d bytes delivered, target declares %d",
			ErrLengthExceeded, s.delivered+n, s.target.Length))
	}

	s.hasher.Write(p)
	s.delivered += n
	s.frame = append(s.frame[:0], p...)

	if s.delivered == s.target.Length {
		got := hex.EncodeToString(s.hasher.Sum(nil))
		if !strings.EqualFold(got, s.expected.Value) {
			return s.failLocked(fmt.Errorf("%w: expected %s %s, got %s",
				ErrIntegrity, s.expected.Alg, s.expected.Value, got))
		}
	}

	s.state = slotFull
	s.cond.Broadcast()
	return nil
}

// Pull takes the current frame, returning a copy so the consumer never
// aliases producer-owned storage. It blocks while the slot is empty.
func (s *session) Pull() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.state != slotFull && s.fault == nil {
		s.cond.Wait()
	}
	if s.fault != nil {
		return nil, s.fault
	}

	out := make([]byte, len(s.frame))
	copy(out, s.frame)

	s.state = slotEmpty
	s.cond.Broadcast()

	metrics.TransferredBytes.Add(float64(len(out)))
	return out, nil
}

// Fail latches a terminal fault and wakes both sides. Only the first fault
// wins; the latched fault is returned either way.
func (s *session) Fail(err error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failLocked(err)
}

func (s *session) failLocked(err error) error {
	if s.fault == nil {
		s.fault = err
		s.state = slotFailed
		metrics.TransferFaults.WithLabelValues(faultKind(err)).Inc()
		s.cond.Broadcast()
	}
	return s.fault
}

// Fault returns the latched fault, if any.
func (s *session) Fault() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fault
}

// Delivered returns the cumulative bytes accepted from the producer.
func (s *session) Delivered() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delivered
}
