package openalo

import (
	"context"
	"fmt"
	"time"
)

const (
	// eventDelay separates the edges of synthetic button and key
	// events so compositors register them as distinct.
	eventDelay = 50 * time.Millisecond

	// defaultTypeInterval is the per-character hold time for TypeText
	// when the caller passes zero.
	defaultTypeInterval = 10 * time.Millisecond
)

// wait blocks for dur on the desktop clock, aborting early when ctx
// is done.
func (d *Desktop) wait(ctx context.Context, dur time.Duration) error {
	select {
	case <-d.clk.After(dur):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MoveMouse places the pointer at p, in stream-surface coordinates.
func (d *Desktop) MoveMouse(ctx context.Context, p Point) error {
	sess, err := d.activeSession()
	if err != nil {
		return err
	}
	if err := sess.NotifyPointerMotion(ctx, float64(p.X), float64(p.Y)); err != nil {
		return fmt.Errorf("%w: move to %v: %w", ErrInputFailed, p, err)
	}
	return nil
}

// Click moves the pointer to p, then presses and releases the given
// button, waiting 50ms before each edge. Buttons are ButtonLeft,
// ButtonMiddle, ButtonRight.
func (d *Desktop) Click(ctx context.Context, p Point, button int) error {
	sess, err := d.activeSession()
	if err != nil {
		return err
	}
	if err := d.clickSeq(ctx, sess, p, int32(button)); err != nil {
		return fmt.Errorf("%w: click %v button %d: %w", ErrInputFailed, p, button, err)
	}
	return nil
}

func (d *Desktop) clickSeq(ctx context.Context, sess remoteSession, p Point, button int32) error {
	if err := sess.NotifyPointerMotion(ctx, float64(p.X), float64(p.Y)); err != nil {
		return err
	}
	if err := d.wait(ctx, eventDelay); err != nil {
		return err
	}
	if err := sess.NotifyPointerButton(ctx, button, true); err != nil {
		return err
	}
	if err := d.wait(ctx, eventDelay); err != nil {
		return err
	}
	return sess.NotifyPointerButton(ctx, button, false)
}

// TypeText types text one rune at a time, holding each key for
// interval. Zero interval means 10ms. The first failure aborts the
// rest; whatever was already typed stands, and the error reports how
// far the text got.
func (d *Desktop) TypeText(ctx context.Context, text string, interval time.Duration) error {
	sess, err := d.activeSession()
	if err != nil {
		return err
	}
	if interval <= 0 {
		interval = defaultTypeInterval
	}
	runes := []rune(text)
	for i, r := range runes {
		if err := d.tap(ctx, sess, Keysym(string(r)), interval); err != nil {
			return fmt.Errorf("%w: type aborted at rune %d of %d: %w",
				ErrInputFailed, i, len(runes), err)
		}
	}
	return nil
}

// PressKey taps a single named key. The name goes through NormalizeKey
// first, so "enter", "esc" or "ctrl" work as well as the canonical
// names.
func (d *Desktop) PressKey(ctx context.Context, name string) error {
	sess, err := d.activeSession()
	if err != nil {
		return err
	}
	if err := d.tap(ctx, sess, Keysym(NormalizeKey(name)), eventDelay); err != nil {
		return fmt.Errorf("%w: key %q: %w", ErrInputFailed, name, err)
	}
	return nil
}

// KeyCombo holds the named keys together: pressed in the given order
// and released in reverse, with a 50ms gap after every event. So
// KeyCombo(ctx, "ctrl", "c") sends down(Control), down(c), up(c),
// up(Control).
func (d *Desktop) KeyCombo(ctx context.Context, names ...string) error {
	sess, err := d.activeSession()
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return nil
	}
	syms := make([]int32, len(names))
	for i, n := range names {
		syms[i] = Keysym(NormalizeKey(n))
	}
	if err := d.comboSeq(ctx, sess, syms); err != nil {
		return fmt.Errorf("%w: combo %v: %w", ErrInputFailed, names, err)
	}
	return nil
}

func (d *Desktop) comboSeq(ctx context.Context, sess remoteSession, syms []int32) error {
	for _, sym := range syms {
		if err := sess.NotifyKeyboardKeysym(ctx, sym, true); err != nil {
			return err
		}
		if err := d.wait(ctx, eventDelay); err != nil {
			return err
		}
	}
	for i := len(syms) - 1; i >= 0; i-- {
		if err := sess.NotifyKeyboardKeysym(ctx, syms[i], false); err != nil {
			return err
		}
		if err := d.wait(ctx, eventDelay); err != nil {
			return err
		}
	}
	return nil
}

// tap sends one key press and release, holding for the given time.
func (d *Desktop) tap(ctx context.Context, sess remoteSession, sym int32, hold time.Duration) error {
	if err := sess.NotifyKeyboardKeysym(ctx, sym, true); err != nil {
		return err
	}
	if err := d.wait(ctx, hold); err != nil {
		return err
	}
	return sess.NotifyKeyboardKeysym(ctx, sym, false)
}
