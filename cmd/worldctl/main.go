// Command worldctl is the World Kernel's thin operator CLI: it opens a
// world directory on disk (state.cbor, manifest.json, journal/, cas/,
// per spec.md §6) and drives snapshot, replay, and tick operations
// against it. It carries no server or transport surface of its own;
// everything it does goes through the same internal/kernel API a
// host process would embed directly.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	root := flag.NewFlagSet("worldctl", flag.ContinueOnError)
	root.SetOutput(io.Discard)
	dirFlag := root.String("world", getenv("WORLDCTL_WORLD_DIR", "."), "World directory (env WORLDCTL_WORLD_DIR)")
	if err := root.Parse(args); err != nil {
		return usageError(err)
	}

	remaining := root.Args()
	if len(remaining) == 0 {
		return usageError(errors.New("no command specified"))
	}

	switch remaining[0] {
	case "snapshot":
		return handleSnapshot(ctx, *dirFlag, remaining[1:])
	case "replay":
		return handleReplay(ctx, *dirFlag, remaining[1:])
	case "tick":
		return handleTick(ctx, *dirFlag, remaining[1:])
	case "help", "-h", "--help":
		printRootUsage()
		return nil
	default:
		return usageError(fmt.Errorf("unknown command %q", remaining[0]))
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func usageError(err error) error {
	printRootUsage()
	return err
}

func printRootUsage() {
	fmt.Println(`World Kernel CLI (worldctl)

Usage:
  worldctl [--world dir] <command> [flags]

Global Flags:
  --world      World directory holding state.cbor/journal/cas (env WORLDCTL_WORLD_DIR, default ".")

Commands:
  snapshot     Take a content-addressed snapshot of the world and write it to snapshots/<hash>.cbor
  replay       Reopen the world directory and verify the persisted snapshot against its journal
  tick         Submit pending actions (if any) and advance the world by one tick
  help         Show this message`)
}
