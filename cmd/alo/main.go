// alo drives a Wayland desktop from the command line: screenshots,
// clicks, typed text and window management, all through the XDG
// desktop portal and the GNOME Window Calls extension. The first run
// shows the compositor's permission dialog; with persistence left at
// its default the grant is remembered after that.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "alo: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	globals := pflag.NewFlagSet("alo", pflag.ContinueOnError)
	globals.SetInterspersed(false)
	configPath := globals.String("config", "", "path to YAML config file")
	debug := globals.Bool("debug", false, "enable debug logging")
	jsonLog := globals.Bool("json-log", false, "write logs as JSON")
	persist := globals.Int("persist", 2, "token persistence: 0 never, 1 process, 2 durable")
	noCapture := globals.Bool("no-capture", false, "input-only session, skip screen capture")
	tokenPath := globals.String("token-path", "", "restore token file location")
	help := globals.BoolP("help", "h", false, "show help")

	if err := globals.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			printHelp(globals)
			return nil
		}
		return err
	}
	if *help {
		printHelp(globals)
		return nil
	}

	args := globals.Args()
	if len(args) == 0 {
		printHelp(globals)
		return fmt.Errorf("missing command")
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if globals.Changed("persist") {
		cfg.Persist = *persist
	}
	if globals.Changed("no-capture") {
		cfg.Capture = !*noCapture
	}
	if globals.Changed("token-path") {
		cfg.TokenPath = *tokenPath
	}
	if globals.Changed("debug") {
		cfg.Debug = *debug
	}
	if globals.Changed("json-log") {
		cfg.JSONLog = *jsonLog
	}

	setupLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "screenshot":
		return cmdScreenshot(ctx, cfg, rest)
	case "frame":
		return cmdFrame(ctx, cfg, rest)
	case "click":
		return cmdClick(ctx, cfg, rest)
	case "move":
		return cmdMove(ctx, cfg, rest)
	case "type":
		return cmdType(ctx, cfg, rest)
	case "key":
		return cmdKey(ctx, cfg, rest)
	case "combo":
		return cmdCombo(ctx, cfg, rest)
	case "windows":
		return cmdWindows(ctx, cfg, rest)
	case "info":
		return cmdInfo(ctx, cfg, rest)
	case "help":
		printHelp(globals)
		return nil
	default:
		printHelp(globals)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func setupLogger(cfg config) {
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.JSONLog {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func printHelp(globals *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `alo - remote desktop control through the XDG portal

Usage:
  alo [global flags] <command> [command flags] [args]

Commands:
  screenshot [-o FILE]        capture the screen to a PNG file
  frame [-o FILE]             poll the newest buffered frame to a file
  click X Y [--button NAME]   click at X,Y (left, middle or right)
  move X Y                    move the pointer to X,Y
  type TEXT [--interval DUR]  type text character by character
  key NAME                    tap a single key ("enter", "ctrl", "a")
  combo K1,K2,...             hold keys together ("ctrl,shift,t")
  windows [--activate QUERY | --focused]
                              list, focus-query or activate windows
  info                        report session type and portal status
  help                        show this help

Global flags:
%s`, globals.FlagUsages())
}
