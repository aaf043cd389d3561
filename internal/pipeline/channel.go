// Package pipeline acquires encoded frames from a granted screen-cast
// stream. A Channel wraps a continuously running GStreamer decode
// pipeline behind a depth-one mailbox: the newest decoded frame always
// replaces an unconsumed older one, bounding both memory and latency.
// The pipeline starts lazily on the first frame request and needs a
// short warm-up before it serves frames.
package pipeline

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/JonyBepary/Open-ALO/internal/clock"
)

const (
	// captureTimeout bounds one Capture call end to end, warm-up
	// included.
	captureTimeout = 10 * time.Second

	// warmupDelay is how long the decode pipeline gets to settle
	// after reaching PLAYING before frames are served.
	warmupDelay = 500 * time.Millisecond
)

var (
	// ErrCaptureTimeout reports that no frame arrived within the
	// capture deadline.
	ErrCaptureTimeout = errors.New("pipeline: capture timed out")

	// ErrStopped reports use of a stopped channel.
	ErrStopped = errors.New("pipeline: channel stopped")
)

// Frame is one encoded image pulled out of the decode pipeline.
type Frame struct {
	Data   []byte
	Width  int
	Height int
	Seq    uint64
	When   time.Time
}

// source is the decode side a Channel drains. gstSource is the
// production implementation; tests substitute a scripted fake.
//
// Start wires emit as the per-frame callback and brings the pipeline
// up. Stop tears it down and is idempotent. Fatal is closed on the
// first unrecoverable pipeline failure, with Err holding the cause.
type source interface {
	Start(emit func(Frame)) error
	Stop()
	Fatal() <-chan struct{}
	Err() error
}

type channelState int

const (
	chanIdle channelState = iota
	chanStarting
	chanRunning
	chanFailed
	chanStopped
)

// Channel hands single frames from a running decode pipeline to the
// caller. One consumer at a time; callers needing concurrent access
// must serialize their own calls.
type Channel struct {
	clk clock.Clock
	src source

	mu       sync.Mutex
	state    channelState
	kicked   bool
	startErr error
	seq      uint64
	width    int
	height   int

	startedc chan struct{}
	ready    chan struct{}
	stopc    chan struct{}
	frames   chan Frame
}

// NewChannel builds a frame channel over the PipeWire node a portal
// session negotiated. The pipeline does not run until the first
// Capture or Poll.
func NewChannel(node uint32, clk clock.Clock) *Channel {
	return newChannel(newGstSource(node), clk)
}

func newChannel(src source, clk clock.Clock) *Channel {
	return &Channel{
		clk:      clk,
		src:      src,
		startedc: make(chan struct{}),
		ready:    make(chan struct{}),
		stopc:    make(chan struct{}),
		frames:   make(chan Frame, 1),
	}
}

// start brings the pipeline up exactly once. Concurrent callers block
// until the first attempt settles and share its outcome. After a
// successful start a timer arms the warm-up gate.
func (c *Channel) start() error {
	c.mu.Lock()
	switch c.state {
	case chanIdle:
		c.state = chanStarting
		c.mu.Unlock()
	case chanStarting:
		c.mu.Unlock()
		<-c.startedc
		return c.startError()
	case chanRunning:
		c.mu.Unlock()
		return nil
	case chanFailed:
		err := c.startErr
		c.mu.Unlock()
		return err
	default:
		c.mu.Unlock()
		return ErrStopped
	}

	err := c.src.Start(c.deliver)
	c.mu.Lock()
	if err != nil {
		c.state = chanFailed
		c.startErr = fmt.Errorf("pipeline: start: %w", err)
		err = c.startErr
	} else {
		c.state = chanRunning
	}
	c.mu.Unlock()
	close(c.startedc)

	if err == nil {
		go func() {
			select {
			case <-c.clk.After(warmupDelay):
				close(c.ready)
				slog.Debug("pipeline: warm-up complete")
			case <-c.stopc:
			}
		}()
	}
	return err
}

func (c *Channel) startError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == chanStopped {
		return ErrStopped
	}
	return c.startErr
}

// deliver is the pipeline's frame callback. Depth-one mailbox with
// newest-wins: drain any unconsumed frame, then publish. Single
// producer, so drain-then-send cannot race with itself.
func (c *Channel) deliver(f Frame) {
	if len(f.Data) == 0 {
		return
	}

	c.mu.Lock()
	c.seq++
	f.Seq = c.seq
	if f.Width > 0 && f.Height > 0 {
		c.width, c.height = f.Width, f.Height
	} else if w, h, ok := pngSize(f.Data); ok {
		f.Width, f.Height = w, h
		c.width, c.height = w, h
	}
	c.mu.Unlock()
	f.When = c.clk.Now()

	select {
	case <-c.frames:
		slog.Debug("pipeline: dropping stale frame", "replaced_by", f.Seq)
	default:
	}
	select {
	case c.frames <- f:
	default:
	}
}

// Capture blocks for the next decoded frame.
//
// The call:
//  1. Starts the pipeline if this is the first frame request.
//  2. Waits out the warm-up gate.
//  3. Receives from the mailbox.
//
// The 10 second deadline covers all three stages. The result is either
// a non-empty encoded image or an error; a pipeline failure surfaces
// immediately instead of burning the rest of the deadline.
func (c *Channel) Capture(ctx context.Context) ([]byte, error) {
	deadline := c.clk.After(captureTimeout)

	if err := c.start(); err != nil {
		return nil, err
	}

	select {
	case <-c.ready:
	case <-c.src.Fatal():
		return nil, fmt.Errorf("pipeline: %w", c.src.Err())
	case <-deadline:
		return nil, ErrCaptureTimeout
	case <-c.stopc:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case f := <-c.frames:
		slog.Debug("pipeline: frame captured", "seq", f.Seq, "bytes", len(f.Data))
		return f.Data, nil
	case <-c.src.Fatal():
		return nil, fmt.Errorf("pipeline: %w", c.src.Err())
	case <-deadline:
		return nil, ErrCaptureTimeout
	case <-c.stopc:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Poll returns the most recently buffered frame, or nil immediately
// when none is ready. The first Poll kicks the pipeline off in the
// background, so a sampling loop pays no start-up stall; frames appear
// on later iterations once the warm-up passes. A dead pipeline
// surfaces as an error.
func (c *Channel) Poll() ([]byte, error) {
	c.mu.Lock()
	st := c.state
	kick := st == chanIdle && !c.kicked
	if kick {
		c.kicked = true
	}
	startErr := c.startErr
	c.mu.Unlock()

	switch st {
	case chanIdle, chanStarting:
		if kick {
			go func() {
				if err := c.start(); err != nil {
					slog.Warn("pipeline: background start failed", "error", err)
				}
			}()
		}
		return nil, nil
	case chanFailed:
		return nil, startErr
	case chanStopped:
		return nil, ErrStopped
	}

	select {
	case <-c.src.Fatal():
		return nil, fmt.Errorf("pipeline: %w", c.src.Err())
	default:
	}

	select {
	case <-c.ready:
	default:
		return nil, nil
	}
	select {
	case f := <-c.frames:
		return f.Data, nil
	default:
		return nil, nil
	}
}

// Resolution reports the negotiated frame size. Unknown until the
// first decoded frame has passed through.
func (c *Channel) Resolution() (width, height int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.width == 0 || c.height == 0 {
		return 0, 0, false
	}
	return c.width, c.height, true
}

// Stop tears the pipeline down. Idempotent; a stopped channel fails
// all further frame requests with ErrStopped. Callers must stop the
// channel before closing the session that granted its stream.
func (c *Channel) Stop() {
	c.mu.Lock()
	prev := c.state
	if prev == chanStopped {
		c.mu.Unlock()
		return
	}
	c.state = chanStopped
	c.mu.Unlock()

	close(c.stopc)
	if prev == chanStarting {
		<-c.startedc
	}
	if prev == chanStarting || prev == chanRunning {
		c.src.Stop()
	}
	slog.Debug("pipeline: channel stopped")
}

// pngSize reads the dimensions from a PNG IHDR header. Fallback for
// sources that deliver frames without caps metadata.
func pngSize(data []byte) (width, height int, ok bool) {
	// 8-byte signature, 4-byte length, "IHDR", then width and height.
	if len(data) < 24 {
		return 0, 0, false
	}
	if string(data[12:16]) != "IHDR" {
		return 0, 0, false
	}
	w := binary.BigEndian.Uint32(data[16:20])
	h := binary.BigEndian.Uint32(data[20:24])
	if w == 0 || h == 0 {
		return 0, 0, false
	}
	return int(w), int(h), true
}
