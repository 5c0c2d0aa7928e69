package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/agentworld/worldkernel/internal/codec"
	"github.com/agentworld/worldkernel/internal/effect"
	"github.com/agentworld/worldkernel/internal/journal"
	"github.com/agentworld/worldkernel/internal/kernel"
	"github.com/agentworld/worldkernel/internal/logging"
	"github.com/agentworld/worldkernel/internal/module"
	"github.com/agentworld/worldkernel/internal/policy"
	"github.com/agentworld/worldkernel/pkg/cas"
)

const (
	stateFile        = "state.cbor"
	manifestFile     = "manifest.json"
	journalDir       = "journal"
	hotFile          = "hot.jsonl"
	coldRefsFile     = "cold.refs.jsonl"
	casDir           = "cas"
	snapshotsDir     = "snapshots"
)

// world bundles an open kernel with the collaborators worldctl needs to
// persist it back to disk.
type world struct {
	dir      string
	store    *cas.FileStore
	kernel   *kernel.Kernel
	journal  *journal.Journal
	pipeline *effect.Pipeline
	registry *module.Registry
	rules    *policy.Ruleset
	caps     *policy.CapabilitySet
}

// openWorld loads the world directory at dir, creating the directory
// skeleton and an empty world if state.cbor does not yet exist.
func openWorld(dir string) (*world, error) {
	for _, sub := range []string{journalDir, casDir, snapshotsDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("worldctl: creating %s: %w", sub, err)
		}
	}

	store, err := cas.NewFileStore(filepath.Join(dir, casDir))
	if err != nil {
		return nil, fmt.Errorf("worldctl: opening cas store: %w", err)
	}

	hot, err := readEvents(filepath.Join(dir, journalDir, hotFile))
	if err != nil {
		return nil, err
	}
	refs, err := readColdRefs(filepath.Join(dir, journalDir, coldRefsFile))
	if err != nil {
		return nil, err
	}
	j := journal.Restore(store, journal.Config{}, hot, refs)

	pipeline := effect.New(nil)
	registry, err := module.NewRegistry(store, 0)
	if err != nil {
		return nil, fmt.Errorf("worldctl: opening module registry: %w", err)
	}
	rules := policy.NewRuleset()
	caps := policy.NewCapabilitySet()
	logger := logging.Nop()

	w := &world{dir: dir, store: store, journal: j, pipeline: pipeline, registry: registry, rules: rules, caps: caps}

	snapPath := filepath.Join(dir, stateFile)
	snapBytes, err := os.ReadFile(snapPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("worldctl: reading %s: %w", stateFile, err)
		}
		w.kernel = kernel.New(j, pipeline, registry, rules, caps, logger)
		return w, nil
	}

	var snap kernel.Snapshot
	if err := codec.Decode(snapBytes, &snap); err != nil {
		return nil, fmt.Errorf("worldctl: decoding %s: %w", stateFile, err)
	}
	k, err := kernel.FromSnapshot(snap, kernel.Deps{
		Journal: j, Pipeline: pipeline, Registry: registry, Rules: rules, Caps: caps, Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("worldctl: restoring snapshot: %w", err)
	}
	w.kernel = k
	return w, nil
}

// persist writes the kernel's current snapshot to state.cbor, mirrors
// the world's manifest to manifest.json for human inspection, and
// flushes the journal's hot tail and cold reference list back to disk.
func (w *world) persist() (kernel.Snapshot, error) {
	snap, err := w.kernel.Snapshot()
	if err != nil {
		return kernel.Snapshot{}, fmt.Errorf("worldctl: snapshotting: %w", err)
	}

	data, err := codec.Encode(snap)
	if err != nil {
		return kernel.Snapshot{}, fmt.Errorf("worldctl: encoding snapshot: %w", err)
	}
	if err := os.WriteFile(filepath.Join(w.dir, stateFile), data, 0o644); err != nil {
		return kernel.Snapshot{}, fmt.Errorf("worldctl: writing %s: %w", stateFile, err)
	}

	manifestJSON, err := json.MarshalIndent(w.kernel.State().Manifest, "", "  ")
	if err != nil {
		return kernel.Snapshot{}, fmt.Errorf("worldctl: encoding manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(w.dir, manifestFile), manifestJSON, 0o644); err != nil {
		return kernel.Snapshot{}, fmt.Errorf("worldctl: writing %s: %w", manifestFile, err)
	}

	if err := w.persistJournal(); err != nil {
		return kernel.Snapshot{}, err
	}
	return snap, nil
}

// persistJournal writes the journal's hot tail (the events not yet
// referenced by a cold segment) and the cold reference list, per
// spec.md §6's journal/hot.jsonl and journal/cold.refs.jsonl.
func (w *world) persistJournal() error {
	refs := w.journal.ColdRefs()
	var fromID uint64
	if len(refs) > 0 {
		fromID = refs[len(refs)-1].LastID + 1
	}
	hot, err := w.journal.Iter(fromID)
	if err != nil {
		return fmt.Errorf("worldctl: reading hot journal tail: %w", err)
	}
	if err := writeJSONLines(filepath.Join(w.dir, journalDir, hotFile), hot); err != nil {
		return err
	}
	if err := writeJSONLines(filepath.Join(w.dir, journalDir, coldRefsFile), refs); err != nil {
		return err
	}
	return nil
}

func readEvents(path string) ([]journal.Event, error) {
	var out []journal.Event
	err := readJSONLines(path, func(line []byte) error {
		var e journal.Event
		if err := json.Unmarshal(line, &e); err != nil {
			return err
		}
		out = append(out, e)
		return nil
	})
	return out, err
}

func readColdRefs(path string) ([]journal.ColdRef, error) {
	var out []journal.ColdRef
	err := readJSONLines(path, func(line []byte) error {
		var r journal.ColdRef
		if err := json.Unmarshal(line, &r); err != nil {
			return err
		}
		out = append(out, r)
		return nil
	})
	return out, err
}

func readJSONLines(path string, onLine func([]byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("worldctl: opening %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := onLine(line); err != nil {
			return fmt.Errorf("worldctl: parsing %s: %w", path, err)
		}
	}
	return scanner.Err()
}

func writeJSONLines[T any](path string, items []T) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("worldctl: creating %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, item := range items {
		line, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("worldctl: encoding %s: %w", path, err)
		}
		if _, err := w.Write(line); err != nil {
			return err
		}
		if _, err := w.Write([]byte("\n")); err != nil {
			return err
		}
	}
	return w.Flush()
}
