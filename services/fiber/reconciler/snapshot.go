// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package reconciler

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// SnapshotVersion is the current snapshot format version (semver).
const SnapshotVersion = "1.0.0"

// SnapshotNode is the serializable form of a committed fiber.
//
// Host handles are not serialized; events are recorded by name only.
type SnapshotNode struct {
	Type     string          `json:"type"`
	Attrs    map[string]any  `json:"attrs,omitempty"`
	Events   []string        `json:"events,omitempty"`
	Children []*SnapshotNode `json:"children,omitempty"`
}

// Snapshot is a committed tree as written to disk.
type Snapshot struct {
	Root      string        `json:"root"`
	CycleID   string        `json:"cycle_id"`
	Timestamp time.Time     `json:"timestamp"`
	Version   string        `json:"version"`
	Checksum  string        `json:"checksum"`
	Tree      *SnapshotNode `json:"tree"`
}

// snapshotNodeOf converts a view into its serializable form.
func snapshotNodeOf(v *FiberView) *SnapshotNode {
	n := &SnapshotNode{Type: v.Type}
	if len(v.Props.Attrs) > 0 {
		n.Attrs = make(map[string]any, len(v.Props.Attrs))
		for k, val := range v.Props.Attrs {
			n.Attrs[k] = val
		}
	}
	for name := range v.Props.Events {
		n.Events = append(n.Events, name)
	}
	sort.Strings(n.Events)
	for _, c := range v.Children {
		n.Children = append(n.Children, snapshotNodeOf(c))
	}
	return n
}

// computeSnapshotChecksum calculates SHA256 over every field but the
// checksum itself.
func computeSnapshotChecksum(s *Snapshot) (string, error) {
	data := struct {
		Root      string        `json:"root"`
		CycleID   string        `json:"cycle_id"`
		Timestamp time.Time     `json:"timestamp"`
		Version   string        `json:"version"`
		Tree      *SnapshotNode `json:"tree"`
	}{
		Root:      s.Root,
		CycleID:   s.CycleID,
		Timestamp: s.Timestamp,
		Version:   s.Version,
		Tree:      s.Tree,
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal for checksum: %w", err)
	}

	hash := sha256.Sum256(jsonData)
	return hex.EncodeToString(hash[:]), nil
}

// Snapshot captures the committed tree.
//
// Outputs:
//
//	*Snapshot - Checksummed snapshot of the committed tree.
//	error - ErrNoCommittedTree if the root never committed.
func (r *Root) Snapshot() (*Snapshot, error) {
	view := r.Current()
	if view == nil {
		return nil, ErrNoCommittedTree
	}

	cycleID := ""
	if report, ok := r.LastReport(); ok {
		cycleID = report.CycleID
	}

	s := &Snapshot{
		Root:      r.id,
		CycleID:   cycleID,
		Timestamp: time.Now().UTC(),
		Version:   SnapshotVersion,
		Tree:      snapshotNodeOf(view),
	}
	checksum, err := computeSnapshotChecksum(s)
	if err != nil {
		return nil, fmt.Errorf("compute checksum: %w", err)
	}
	s.Checksum = checksum
	return s, nil
}

// SaveSnapshot writes s to path.
//
// Description:
//
//	Writes atomically using temp file + rename in the directory of path, so
//	readers never observe a partial snapshot.
//
// Inputs:
//
//	s - The snapshot. Must not be nil.
//	path - Destination file. Parent directory must exist.
//
// Outputs:
//
//	error - Non-nil if serialization or file write fails.
func SaveSnapshot(s *Snapshot, path string) error {
	if s == nil {
		return fmt.Errorf("%w: snapshot must not be nil", ErrInvalidInput)
	}
	if path == "" {
		return fmt.Errorf("%w: path must not be empty", ErrInvalidInput)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tempPath)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tempFile.Sync(); err != nil {
		tempFile.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("rename snapshot: %w", err)
	}

	success = true
	return nil
}

// LoadSnapshot reads a snapshot from path and verifies its checksum.
func LoadSnapshot(path string) (*Snapshot, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: path must not be empty", ErrInvalidInput)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if s.Version != SnapshotVersion {
		return nil, fmt.Errorf("%w: version %s, want %s", ErrSnapshotCorrupt, s.Version, SnapshotVersion)
	}
	if !s.Verify() {
		return nil, ErrSnapshotCorrupt
	}
	return &s, nil
}

// Verify recalculates the checksum and compares it to the stored value.
func (s *Snapshot) Verify() bool {
	if s == nil || s.Tree == nil {
		return false
	}
	expected, err := computeSnapshotChecksum(s)
	if err != nil {
		return false
	}
	return s.Checksum == expected
}
