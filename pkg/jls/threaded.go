package jls

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/jls-format/jls-go/internal/ring"
)

// ThreadedWriter is the component I described in spec.md §4.I: a
// single worker goroutine owns the Writer exclusively and drains
// commands from an internal/ring.Ring that producer goroutines submit
// to. Every submission method below enqueues and returns once the
// ring has accepted the command — not once the façade has processed
// it — except Flush and Close, which block on a completion signal, per
// spec.md §5 ("flush blocks until the worker signals completion;
// close joins the worker").
//
// Because submissions other than Flush/Close don't report the
// façade's error synchronously, FirstError reports the first one the
// worker encountered, mirroring Close's "accumulated error code,
// first non-OK wins".
type ThreadedWriter struct {
	w    *Writer
	ring *ring.Ring
	wg   sync.WaitGroup

	mu       sync.Mutex
	firstErr error

	// pending counts submit() calls that have passed the closing check
	// and are committed to pushing into the ring but haven't yet.
	// Close sets closing, then waits for pending to drain to zero
	// before pushing cmdClose itself, so no submission that was ever
	// going to be accepted can land behind cmdClose in the ring.
	pending atomic.Int64
	closing atomic.Bool
}

type commandKind int

const (
	cmdSourceDef commandKind = iota
	cmdSignalDef
	cmdFSROmitData
	cmdFSR
	cmdAnnotation
	cmdUTC
	cmdUserData
	cmdFlush
	cmdClose
)

type command struct {
	kind commandKind

	source     Source
	signal     Signal
	signalID   uint16
	omit       bool
	sampleID   int64
	data       []float64
	annotation Annotation
	utcSample  int64
	utcValue   int64
	userData   UserData

	done   chan struct{}
	result *error
}

// NewThreadedWriter creates path and starts its worker goroutine.
// ringCapacity is rounded up to a power of two; dropOnOverflow selects
// whether a full ring drops the oldest pending FSR sample command
// instead of blocking the producer (control commands are never
// dropped regardless of this setting).
func NewThreadedWriter(path string, opts Opts, ringCapacity int, dropOnOverflow bool) (*ThreadedWriter, error) {
	w, err := Create(path, opts)
	if err != nil {
		return nil, err
	}
	tw := &ThreadedWriter{w: w, ring: ring.New(ringCapacity, dropOnOverflow)}
	tw.wg.Add(1)
	go tw.run()
	return tw, nil
}

func (tw *ThreadedWriter) run() {
	defer tw.wg.Done()
	for {
		msg, ok := tw.ring.Pop()
		if !ok {
			return
		}
		cmd := msg.Value.(*command)
		err := tw.dispatch(cmd)
		if err != nil {
			tw.noteErr(err)
		}
		if cmd.done != nil {
			if cmd.result != nil {
				*cmd.result = err
			}
			close(cmd.done)
		}
		if cmd.kind == cmdClose {
			return
		}
	}
}

func (tw *ThreadedWriter) dispatch(cmd *command) error {
	switch cmd.kind {
	case cmdSourceDef:
		return tw.w.SourceDef(cmd.source)
	case cmdSignalDef:
		return tw.w.SignalDef(cmd.signal)
	case cmdFSROmitData:
		return tw.w.FSROmitData(cmd.signalID, cmd.omit)
	case cmdFSR:
		return tw.w.FSR(cmd.signalID, cmd.sampleID, cmd.data)
	case cmdAnnotation:
		return tw.w.Annotation(cmd.signalID, cmd.annotation)
	case cmdUTC:
		return tw.w.UTC(cmd.signalID, cmd.utcSample, cmd.utcValue)
	case cmdUserData:
		return tw.w.UserData(cmd.userData)
	case cmdFlush:
		return tw.w.Flush()
	case cmdClose:
		return tw.w.Close()
	default:
		return nil
	}
}

func (tw *ThreadedWriter) noteErr(err error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.firstErr == nil {
		tw.firstErr = err
	}
}

// FirstError returns the first error the worker encountered
// processing any command so far, or nil.
func (tw *ThreadedWriter) FirstError() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.firstErr
}

func (tw *ThreadedWriter) submit(cmd *command, droppable bool) error {
	tw.pending.Add(1)
	defer tw.pending.Add(-1)
	if tw.closing.Load() {
		return newErr("submit", CodeAbort, ring.ErrClosed)
	}
	if err := tw.ring.Push(ring.Message{Droppable: droppable, Value: cmd}); err != nil {
		return newErr("submit", CodeOverflow, err)
	}
	return nil
}

// SourceDef enqueues a source_def command.
func (tw *ThreadedWriter) SourceDef(s Source) error {
	return tw.submit(&command{kind: cmdSourceDef, source: s}, false)
}

// SignalDef enqueues a signal_def command.
func (tw *ThreadedWriter) SignalDef(s Signal) error {
	return tw.submit(&command{kind: cmdSignalDef, signal: s}, false)
}

// FSROmitData enqueues an fsr_omit_data command.
func (tw *ThreadedWriter) FSROmitData(signalID uint16, omit bool) error {
	return tw.submit(&command{kind: cmdFSROmitData, signalID: signalID, omit: omit}, false)
}

// FSR enqueues an fsr sample-data command. It is droppable under the
// ring's DROP_ON_OVERFLOW policy, per spec.md §5.
func (tw *ThreadedWriter) FSR(signalID uint16, sampleID int64, data []float64) error {
	return tw.submit(&command{kind: cmdFSR, signalID: signalID, sampleID: sampleID, data: data}, true)
}

// Annotation enqueues an annotation command.
func (tw *ThreadedWriter) Annotation(signalID uint16, a Annotation) error {
	return tw.submit(&command{kind: cmdAnnotation, signalID: signalID, annotation: a}, false)
}

// UTC enqueues a utc command.
func (tw *ThreadedWriter) UTC(signalID uint16, sampleID, utc int64) error {
	return tw.submit(&command{kind: cmdUTC, signalID: signalID, utcSample: sampleID, utcValue: utc}, false)
}

// UserData enqueues a user_data command.
func (tw *ThreadedWriter) UserData(u UserData) error {
	return tw.submit(&command{kind: cmdUserData, userData: u}, false)
}

// Flush enqueues a flush command and blocks until the worker has
// processed everything ahead of it and synced the file.
func (tw *ThreadedWriter) Flush() error {
	cmd := &command{kind: cmdFlush, done: make(chan struct{})}
	var result error
	cmd.result = &result
	if err := tw.submit(cmd, false); err != nil {
		return err
	}
	<-cmd.done
	return result
}

// Close stops new submissions, waits for every submit() call already
// in flight to finish landing its command in the ring, then enqueues
// a close command, waits for the worker to drain the queue and join,
// and returns the accumulated first error, if any.
//
// closing is set before cmdClose is pushed, and Close waits for
// pending to reach zero first, so every submit() call that is ever
// going to successfully push a command is guaranteed to have done so
// before cmdClose is pushed: a successful submit() always gets
// processed, never silently dropped behind an already-enqueued close.
func (tw *ThreadedWriter) Close() error {
	tw.closing.Store(true)
	for tw.pending.Load() != 0 {
		runtime.Gosched()
	}

	cmd := &command{kind: cmdClose, done: make(chan struct{})}
	var result error
	cmd.result = &result
	if err := tw.ring.Push(ring.Message{Droppable: false, Value: cmd}); err != nil {
		return newErr("close", CodeAbort, err)
	}
	<-cmd.done
	tw.wg.Wait()
	if result != nil {
		return result
	}
	return tw.FirstError()
}
