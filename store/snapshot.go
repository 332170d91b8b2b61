package store

import (
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"

	"github.com/lyzr/graphflow/common/models"
)

// Snapshot kinds stored alongside execution_state rows.
const (
	SnapshotNone  = "none"
	SnapshotFull  = "full"
	SnapshotPatch = "patch"
)

// SnapshotCodec encodes per-node state snapshots according to the
// configured artifact level:
//
//	minimal  — nothing is stored
//	standard — first snapshot full, later ones as RFC 7386 merge patches
//	full     — every snapshot stored in full
//
// A codec belongs to one execution and is not safe for concurrent use;
// the runner serializes node-boundary persistence.
type SnapshotCodec struct {
	level string
	prev  []byte
}

// NewSnapshotCodec builds a codec for one execution.
func NewSnapshotCodec(artifactLevel string) *SnapshotCodec {
	return &SnapshotCodec{level: artifactLevel}
}

// Encode renders the visible state snapshot into its stored form.
func (c *SnapshotCodec) Encode(visible map[string]any) ([]byte, string, error) {
	if c.level == "minimal" {
		return nil, SnapshotNone, nil
	}
	cur, err := json.Marshal(visible)
	if err != nil {
		return nil, "", fmt.Errorf("encode snapshot: %w", err)
	}
	if c.level == "full" || c.prev == nil {
		c.prev = cur
		return cur, SnapshotFull, nil
	}
	patch, err := jsonpatch.CreateMergePatch(c.prev, cur)
	if err != nil {
		return nil, "", fmt.Errorf("diff snapshot: %w", err)
	}
	c.prev = cur
	return patch, SnapshotPatch, nil
}

// ReplaySnapshots rebuilds the full snapshot at each recorded node
// boundary by applying stored merge patches in sequence. Records with
// kind "none" yield nil entries.
func ReplaySnapshots(states []*models.ExecutionState) ([]map[string]any, error) {
	out := make([]map[string]any, len(states))
	var doc []byte
	for i, s := range states {
		switch s.SnapshotKind {
		case SnapshotNone, "":
			continue
		case SnapshotFull:
			doc = s.Snapshot
		case SnapshotPatch:
			if doc == nil {
				return nil, fmt.Errorf("state %d: patch without a base snapshot", s.Seq)
			}
			merged, err := jsonpatch.MergePatch(doc, s.Snapshot)
			if err != nil {
				return nil, fmt.Errorf("state %d: apply patch: %w", s.Seq, err)
			}
			doc = merged
		default:
			return nil, fmt.Errorf("state %d: unknown snapshot kind %q", s.Seq, s.SnapshotKind)
		}
		var snapshot map[string]any
		if err := json.Unmarshal(doc, &snapshot); err != nil {
			return nil, fmt.Errorf("state %d: decode snapshot: %w", s.Seq, err)
		}
		out[i] = snapshot
	}
	return out, nil
}
