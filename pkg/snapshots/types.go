package snapshots

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"
)

var ErrETagMismatch = errors.New("snapshots: etag mismatch")

var ErrNotFound = errors.New("snapshots: snapshot not found")

// Ref identifies one published snapshot.
type Ref struct {
	Domain string
	Name   string
}

// Identifier returns the deterministic storage key `domain/name`.
func (r Ref) Identifier() (string, error) {
	domain := strings.TrimSpace(r.Domain)
	name := strings.TrimSpace(r.Name)
	if domain == "" {
		return "", fmt.Errorf("snapshots: domain is required")
	}
	if name == "" {
		return "", fmt.Errorf("snapshots: name is required")
	}
	if strings.Contains(domain, "/") {
		return "", fmt.Errorf("snapshots: domain %q must not contain '/'", domain)
	}
	return domain + "/" + name, nil
}

// Meta is storage-owned metadata used for audit and concurrency control.
type Meta struct {
	SnapshotID string            `json:"snapshot_id,omitempty"`
	ETag       string            `json:"etag,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// Store loads/saves one snapshot for a single reference.
type Store[T any] interface {
	Load(ctx context.Context, ref Ref) (snapshot T, meta Meta, ok bool, err error)
	Save(ctx context.Context, ref Ref, snapshot T, meta Meta) (Meta, error)
}

// Mutator edits a loaded snapshot before it is saved back.
type Mutator[T any] func(*T) error

func checkETag(expected, current Meta) error {
	if expected.ETag != "" && current.ETag != "" && expected.ETag != current.ETag {
		return fmt.Errorf("%w: expected %q, got %q", ErrETagMismatch, expected.ETag, current.ETag)
	}
	return nil
}

func mergeMeta(base, override Meta) Meta {
	out := base
	if override.SnapshotID != "" {
		out.SnapshotID = override.SnapshotID
	}
	if override.ETag != "" {
		out.ETag = override.ETag
	}
	if !override.UpdatedAt.IsZero() {
		out.UpdatedAt = override.UpdatedAt
	}
	if override.Extra != nil {
		out.Extra = override.Extra
	}
	return out
}

func cloneMeta(meta Meta) Meta {
	out := meta
	out.Extra = maps.Clone(meta.Extra)
	return out
}
