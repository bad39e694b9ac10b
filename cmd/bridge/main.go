// Command bridge loads a guest module, links it against the bridge import
// table and runs its main entry point until the event loop drains.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/wippyai/wasm-bridge/engine"
	"github.com/wippyai/wasm-bridge/runtime"
)

func main() {
	var (
		wasmFile    = flag.String("wasm", "", "Path to guest wasm module")
		configFile  = flag.String("config", "", "Path to config file (default ./"+DefaultConfigFile+" if present)")
		list        = flag.Bool("list", false, "List imports and exports and exit")
		interactive = flag.Bool("i", false, "Interactive import browser")
		timeout     = flag.Duration("timeout", 0, "Overall run timeout (overrides config)")
		verbose     = flag.Bool("v", false, "Debug logging")
	)
	flag.Parse()

	if *wasmFile == "" {
		fmt.Fprintln(os.Stderr, "Usage: bridge -wasm <file.wasm> [-config bridge.toml] [-timeout 30s] [args...]")
		fmt.Fprintln(os.Stderr, "       bridge -wasm <file.wasm> -list")
		fmt.Fprintln(os.Stderr, "       bridge -wasm <file.wasm> -i  (interactive mode)")
		os.Exit(1)
	}

	cfg, err := LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	logger, err := newLogger(cfg.Log, *verbose, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	engine.SetLogger(logger)

	if *interactive {
		if err := runInteractive(cfg, *wasmFile); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(cfg, *wasmFile, *list, *timeout, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *Config, wasmFile string, listOnly bool, timeout time.Duration, args []string) error {
	ctx := context.Background()
	if timeout == 0 {
		d, err := cfg.TimeoutDuration()
		if err != nil {
			return err
		}
		timeout = d
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	data, err := os.ReadFile(wasmFile)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	rt, err := runtime.New(ctx, runtime.Config{Engine: cfg.EngineConfig(), Logger: engine.Logger()})
	if err != nil {
		return fmt.Errorf("create runtime: %w", err)
	}
	defer rt.Close(ctx)

	mod, err := rt.Compile(ctx, data)
	if err != nil {
		return err
	}

	if listOnly {
		return describe(os.Stdout, wasmFile, mod.Artifact())
	}

	store, err := openStore(cfg, engine.Logger())
	if err != nil {
		return err
	}
	defer store.Close()

	opts, err := instanceOptions(cfg, store)
	if err != nil {
		return err
	}
	opts.Stdout = os.Stdout

	inst, err := mod.Instantiate(ctx, nil, opts)
	if err != nil {
		return err
	}
	defer inst.Close(ctx)

	return inst.InvokeMain(ctx, args...)
}
