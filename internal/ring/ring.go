// Package ring implements the bounded command ring described in
// spec.md §4.B: a fixed-capacity slice of message slots with atomic
// head/tail indices and no locks, used to decouple sample submission
// from the writer thread's disk I/O. spec.md §5 describes the
// nominal shape as single-producer/single-consumer, but
// pkg/jls.ThreadedWriter fans multiple caller goroutines (e.g. a
// cmd/jlsd connection per RESP client) into submit(), so Push/TryPush
// are written to tolerate concurrent producers; Pop is still called
// from exactly one worker goroutine.
//
// Structurally this follows the atomic-index, lock-free design of
// ipfs-go-qringbuf: head/tail/per-slot sequence counters are advanced
// with CAS loops, never a mutex, and blocking uses a close-to-broadcast
// signal channel swapped in atomically on each state change (the same
// "channels instead of sync.Cond" trick qringbuf.go documents using
// for exactly the reason a mutex-backed Cond would defeat a lock-free
// design), adapted from a byte-region ring to a ring of small tagged
// command values since JLS commands are discriminated structs, not
// streamed byte ranges.
package ring

import (
	"errors"
	"sync/atomic"
)

// ErrOverflow is returned by TryPush when the ring is full and the
// drop policy cannot make room for the message being pushed (a
// control message, or any message when DropOnOverflow is not set).
// Push never returns it; it blocks instead.
var ErrOverflow = errors.New("ring: overflow")

// ErrClosed is returned by Push after Close.
var ErrClosed = errors.New("ring: closed")

// Message is one slot's payload. Droppable messages (sample data) may
// be discarded under the DROP_ON_OVERFLOW policy; control messages
// (source/signal definitions, flush, close) never are.
type Message struct {
	Droppable bool
	Value     any
}

// cell holds one slot's message plus its sequence number, the
// Dmitry Vyukov bounded-queue technique: a slot is claimable by a
// producer for position pos exactly when seq == pos, and becomes
// readable by the consumer at pos exactly when seq == pos+1. The
// consumer republishes it as claimable for the next lap by setting
// seq = pos + capacity once it has taken the message out.
type cell struct {
	seq atomic.Uint64
	msg Message
}

// Ring is a bounded lock-free queue of Message. The zero value is not
// usable; use New.
type Ring struct {
	cells []cell
	mask  uint64

	head atomic.Uint64 // next slot position to consume
	tail atomic.Uint64 // next slot position to claim for producing

	dropOnOverflow bool
	dropped        atomic.Uint64
	closed         atomic.Bool

	notEmpty atomic.Pointer[chan struct{}]
	notFull  atomic.Pointer[chan struct{}]
}

// New returns a Ring whose capacity is rounded up to the next power
// of two (required for the mask-based index wraparound), with a
// minimum of 2: in a one-slot ring "readable at pos" (seq == pos+1)
// and "claimable at pos+1" are the same sequence value. dropOnOverflow
// selects the producer-side behavior when the ring is full: block
// (default, dropOnOverflow=false) or drop the oldest droppable message.
func New(capacity int, dropOnOverflow bool) *Ring {
	if capacity < 2 {
		capacity = 2
	}
	n := 1
	for n < capacity {
		n <<= 1
	}
	r := &Ring{
		cells:          make([]cell, n),
		mask:           uint64(n - 1),
		dropOnOverflow: dropOnOverflow,
	}
	for i := range r.cells {
		r.cells[i].seq.Store(uint64(i))
	}
	notEmpty := make(chan struct{})
	notFull := make(chan struct{})
	r.notEmpty.Store(&notEmpty)
	r.notFull.Store(&notFull)
	return r
}

func (r *Ring) capacity() uint64 {
	return uint64(len(r.cells))
}

// wake closes the signal channel currently installed at p and
// installs a fresh one, so every goroutine blocked receiving on the
// old channel (there may be several) wakes up, the same "broadcast by
// closing, then swap in a new one for the next round" substitute for
// sync.Cond.Broadcast that keeps the hot path lock-free.
func (r *Ring) wake(p *atomic.Pointer[chan struct{}]) {
	fresh := make(chan struct{})
	old := p.Swap(&fresh)
	close(*old)
}

// DroppedCount returns the number of droppable messages discarded
// under the drop-on-overflow policy since the ring was created.
func (r *Ring) DroppedCount() uint64 {
	return r.dropped.Load()
}

// tryClaimPush reserves the next producer slot via CAS on tail,
// returning ok=false if the ring is currently full.
func (r *Ring) tryClaimPush() (uint64, bool) {
	for {
		pos := r.tail.Load()
		c := &r.cells[pos&r.mask]
		diff := int64(c.seq.Load()) - int64(pos)
		switch {
		case diff == 0:
			if r.tail.CompareAndSwap(pos, pos+1) {
				return pos, true
			}
		case diff < 0:
			return 0, false
		default:
			// Another producer already advanced tail past what we
			// read; reload and retry.
		}
	}
}

// publish writes msg into the slot claimed at pos and marks it
// readable, waking the consumer if it was blocked on an empty ring.
func (r *Ring) publish(pos uint64, msg Message) {
	c := &r.cells[pos&r.mask]
	c.msg = msg
	c.seq.Store(pos + 1)
	r.wake(&r.notEmpty)
}

// dropOldest discards the message at head if it is published and
// droppable, to make room for a producer under the drop-on-overflow
// policy. It only ever considers the actual oldest message: if that
// message is a non-droppable control message, dropOldest refuses
// rather than reaching past it, since skipping a slot in the middle
// of the ring without shifting it isn't expressible once producers
// may be concurrently claiming slots ahead of it.
func (r *Ring) dropOldest() bool {
	for {
		pos := r.head.Load()
		if pos == r.tail.Load() {
			return false
		}
		c := &r.cells[pos&r.mask]
		if int64(c.seq.Load())-int64(pos+1) != 0 {
			return false // not yet published
		}
		if !c.msg.Droppable {
			return false
		}
		if r.head.CompareAndSwap(pos, pos+1) {
			c.msg = Message{}
			c.seq.Store(pos + r.capacity())
			r.dropped.Add(1)
			r.wake(&r.notFull)
			return true
		}
		// Lost the race to a concurrent Pop or dropOldest; retry.
	}
}

// Push enqueues msg, blocking the caller while the ring is full.
// Under the drop-on-overflow policy a full ring evicts the oldest
// already-queued droppable message to make room for msg, whether or
// not msg itself is droppable; msg is never the message dropped, so
// if the ring is full of non-droppable control messages with nothing
// left to evict, Push still blocks until the consumer makes room, per
// spec.md §4.B.
func (r *Ring) Push(msg Message) error {
	for {
		if r.closed.Load() {
			return ErrClosed
		}
		waitCh := r.notFull.Load()
		if pos, ok := r.tryClaimPush(); ok {
			r.publish(pos, msg)
			return nil
		}
		if r.dropOnOverflow && r.dropOldest() {
			continue
		}
		<-*waitCh
	}
}

// TryPush enqueues msg without blocking. It returns ErrOverflow if
// the ring is full and msg cannot be accommodated by the drop policy
// (this is the "ring full while blocking disallowed" case from
// spec.md §7).
func (r *Ring) TryPush(msg Message) error {
	if r.closed.Load() {
		return ErrClosed
	}
	pos, ok := r.tryClaimPush()
	if !ok {
		if r.dropOnOverflow && r.dropOldest() {
			pos, ok = r.tryClaimPush()
		}
		if !ok {
			return ErrOverflow
		}
	}
	r.publish(pos, msg)
	return nil
}

// Pop blocks until a message is available or the ring is closed and
// drained, returning ok=false in the latter case.
func (r *Ring) Pop() (Message, bool) {
	for {
		waitCh := r.notEmpty.Load()
		pos := r.head.Load()
		c := &r.cells[pos&r.mask]
		if int64(c.seq.Load())-int64(pos+1) == 0 {
			if r.head.CompareAndSwap(pos, pos+1) {
				msg := c.msg
				c.msg = Message{}
				c.seq.Store(pos + r.capacity())
				r.wake(&r.notFull)
				return msg, true
			}
			continue // lost the race to a concurrent dropOldest
		}
		if r.closed.Load() {
			return Message{}, false
		}
		<-*waitCh
	}
}

// Close marks the ring closed: pending and future Push calls fail
// with ErrClosed once they observe it, and Pop drains remaining
// published messages before returning ok=false.
func (r *Ring) Close() {
	r.closed.Store(true)
	r.wake(&r.notEmpty)
	r.wake(&r.notFull)
}

// Len returns the number of messages currently queued, including any
// a producer has claimed but not yet published.
func (r *Ring) Len() int {
	return int(r.tail.Load() - r.head.Load())
}
