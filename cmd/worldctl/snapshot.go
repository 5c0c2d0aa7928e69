package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/agentworld/worldkernel/internal/codec"
)

// handleSnapshot takes a content-addressed snapshot of the world at
// dir, writes it to snapshots/<hash>.cbor, and refreshes state.cbor
// and manifest.json to match (spec.md §6's "state.cbor (latest
// snapshot)").
func handleSnapshot(ctx context.Context, dir string, args []string) error {
	fs := flag.NewFlagSet("snapshot", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	if err := fs.Parse(args); err != nil {
		return err
	}

	w, err := openWorld(dir)
	if err != nil {
		return err
	}
	snap, err := w.persist()
	if err != nil {
		return err
	}
	hash, err := snap.Hash()
	if err != nil {
		return fmt.Errorf("worldctl: hashing snapshot: %w", err)
	}

	data, err := codec.Encode(snap)
	if err != nil {
		return fmt.Errorf("worldctl: encoding snapshot: %w", err)
	}
	snapPath := filepath.Join(dir, snapshotsDir, hash+".cbor")
	if err := os.WriteFile(snapPath, data, 0o644); err != nil {
		return fmt.Errorf("worldctl: writing %s: %w", snapPath, err)
	}

	st := w.kernel.State()
	fmt.Printf("snapshot %s\n", hash)
	fmt.Printf("  time:       %d\n", st.Time)
	fmt.Printf("  agents:     %d\n", len(st.Agents))
	fmt.Printf("  locations:  %d\n", len(st.Locations))
	fmt.Printf("  assets:     %d\n", len(st.Assets))
	fmt.Printf("  facilities: %d\n", len(st.Facilities))
	fmt.Printf("  wrote:      %s\n", snapPath)
	return nil
}
