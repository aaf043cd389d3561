package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"

	openalo "github.com/JonyBepary/Open-ALO"
	"github.com/JonyBepary/Open-ALO/windowmgr"
)

func commandFlags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Flags for %s:\n%s", name, fs.FlagUsages())
	}
	return fs
}

// openDesktop negotiates a session. Input commands run input-only
// regardless of the capture setting; they neither need the screen nor
// want the extra consent prompt.
func openDesktop(ctx context.Context, cfg config, capture bool) (*openalo.Desktop, error) {
	desk, err := openalo.New(openalo.Config{
		Capture:   capture,
		Persist:   openalo.PersistMode(cfg.Persist),
		TokenPath: cfg.TokenPath,
	})
	if err != nil {
		return nil, err
	}
	if err := desk.Initialize(ctx); err != nil {
		return nil, err
	}
	return desk, nil
}

func cmdScreenshot(ctx context.Context, cfg config, args []string) error {
	fs := commandFlags("screenshot")
	out := fs.StringP("output", "o", "", "output file (default screenshot-TIMESTAMP.png)")
	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if !cfg.Capture {
		return fmt.Errorf("screen capture is disabled by configuration")
	}
	path := *out
	if path == "" {
		path = "screenshot-" + time.Now().Format("20060102-150405") + ".png"
	}

	desk, err := openDesktop(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer desk.Close()

	data, err := desk.Screenshot(ctx)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if size, ok := desk.Resolution(); ok {
		slog.Info("screenshot saved", "path", path, "size", size, "bytes", len(data))
	} else {
		slog.Info("screenshot saved", "path", path, "bytes", len(data))
	}
	fmt.Println(path)
	return nil
}

func cmdFrame(ctx context.Context, cfg config, args []string) error {
	fs := commandFlags("frame")
	out := fs.StringP("output", "o", "", "output file (default frame-TIMESTAMP.png)")
	wait := fs.Duration("wait", 5*time.Second, "how long to poll for a frame")
	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if !cfg.Capture {
		return fmt.Errorf("screen capture is disabled by configuration")
	}
	path := *out
	if path == "" {
		path = "frame-" + time.Now().Format("20060102-150405") + ".png"
	}

	desk, err := openDesktop(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer desk.Close()

	deadline := time.Now().Add(*wait)
	for {
		data, err := desk.Frame()
		if err != nil {
			return err
		}
		if data != nil {
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			fmt.Println(path)
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("no frame within %s", *wait)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func parseCoords(args []string) (openalo.Point, error) {
	if len(args) != 2 {
		return openalo.Point{}, fmt.Errorf("expected X Y, got %d arguments", len(args))
	}
	x, err := strconv.Atoi(args[0])
	if err != nil {
		return openalo.Point{}, fmt.Errorf("bad X coordinate %q", args[0])
	}
	y, err := strconv.Atoi(args[1])
	if err != nil {
		return openalo.Point{}, fmt.Errorf("bad Y coordinate %q", args[1])
	}
	return openalo.Point{X: x, Y: y}, nil
}

func parseButton(s string) (int, error) {
	switch strings.ToLower(s) {
	case "left", "1":
		return openalo.ButtonLeft, nil
	case "middle", "2":
		return openalo.ButtonMiddle, nil
	case "right", "3":
		return openalo.ButtonRight, nil
	}
	return 0, fmt.Errorf("unknown button %q (want left, middle or right)", s)
}

func cmdClick(ctx context.Context, cfg config, args []string) error {
	fs := commandFlags("click")
	button := fs.String("button", "left", "mouse button: left, middle, right")
	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	p, err := parseCoords(fs.Args())
	if err != nil {
		return err
	}
	btn, err := parseButton(*button)
	if err != nil {
		return err
	}

	desk, err := openDesktop(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer desk.Close()

	return desk.Click(ctx, p, btn)
}

func cmdMove(ctx context.Context, cfg config, args []string) error {
	p, err := parseCoords(args)
	if err != nil {
		return err
	}

	desk, err := openDesktop(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer desk.Close()

	return desk.MoveMouse(ctx, p)
}

func cmdType(ctx context.Context, cfg config, args []string) error {
	fs := commandFlags("type")
	interval := fs.Duration("interval", 0, "per-character delay (default 10ms)")
	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	text := strings.Join(fs.Args(), " ")
	if text == "" {
		return fmt.Errorf("nothing to type")
	}

	desk, err := openDesktop(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer desk.Close()

	return desk.TypeText(ctx, text, *interval)
}

func cmdKey(ctx context.Context, cfg config, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("expected exactly one key name")
	}

	desk, err := openDesktop(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer desk.Close()

	return desk.PressKey(ctx, args[0])
}

func cmdCombo(ctx context.Context, cfg config, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf(`expected one comma-separated key list, e.g. "ctrl,shift,t"`)
	}
	var names []string
	for _, name := range strings.Split(args[0], ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return fmt.Errorf("empty key list")
	}

	desk, err := openDesktop(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer desk.Close()

	return desk.KeyCombo(ctx, names...)
}

func cmdWindows(ctx context.Context, cfg config, args []string) error {
	fs := commandFlags("windows")
	activate := fs.String("activate", "", "find a window by class or title and focus it")
	focused := fs.Bool("focused", false, "show only the focused window")
	if err := fs.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	wm, err := windowmgr.New(ctx)
	if err != nil {
		return err
	}

	if *activate != "" {
		win, ok, err := wm.Find(ctx, *activate)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no window matches %q", *activate)
		}
		if err := wm.Activate(ctx, win.ID); err != nil {
			return err
		}
		fmt.Println(win)
		return nil
	}

	if *focused {
		win, ok, err := wm.Focused(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no window has focus")
		}
		fmt.Println(win)
		return nil
	}

	wins, err := wm.List(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCLASS\tWS\tFOCUS\tTITLE")
	for _, w := range wins {
		focus := ""
		if w.Focus {
			focus = "*"
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\n", w.ID, w.WMClass, w.Workspace, focus, w.Title)
	}
	return tw.Flush()
}

func cmdInfo(ctx context.Context, cfg config, args []string) error {
	fmt.Printf("session type:  %s\n", openalo.DetectSessionType())
	fmt.Printf("portal:        %s\n", availability(openalo.PortalAvailable(ctx)))
	fmt.Printf("pipewire:      %s\n", availability(openalo.PipeWireAvailable()))
	fmt.Printf("persist mode:  %d\n", cfg.Persist)
	fmt.Printf("capture:       %t\n", cfg.Capture)
	return nil
}

func availability(ok bool) string {
	if ok {
		return "available"
	}
	return "not available"
}
