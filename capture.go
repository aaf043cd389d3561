package openalo

import (
	"context"
	"fmt"
)

// channel returns the frame channel, or the precondition error when
// capture is unavailable.
func (d *Desktop) channel() (frameChannel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.frames == nil {
		if !d.cfg.Capture {
			return nil, fmt.Errorf("%w: capture not enabled", ErrNotActive)
		}
		return nil, ErrNotActive
	}
	return d.frames, nil
}

// Screenshot blocks for the next decoded frame and returns it as PNG
// bytes. The pipeline starts on the first call; the ten second
// deadline covers that startup too.
func (d *Desktop) Screenshot(ctx context.Context) ([]byte, error) {
	ch, err := d.channel()
	if err != nil {
		return nil, err
	}
	data, err := ch.Capture(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCaptureFailed, err)
	}
	return data, nil
}

// Frame returns the most recent buffered frame without blocking, or
// nil when none has arrived since the last read. The first call kicks
// the pipeline off in the background, so early calls usually return
// nothing.
func (d *Desktop) Frame() ([]byte, error) {
	ch, err := d.channel()
	if err != nil {
		return nil, err
	}
	data, err := ch.Poll()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCaptureFailed, err)
	}
	return data, nil
}

// Resolution reports the negotiated frame size, once the pipeline has
// decoded at least one frame.
func (d *Desktop) Resolution() (Size, bool) {
	ch, err := d.channel()
	if err != nil {
		return Size{}, false
	}
	w, h, ok := ch.Resolution()
	if !ok {
		return Size{}, false
	}
	return Size{Width: w, Height: h}, true
}
