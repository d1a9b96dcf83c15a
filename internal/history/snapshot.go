package history

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/blake2b"

	"github.com/printdesk/editor/internal/document"
	"github.com/printdesk/editor/internal/typeid"
)

// ErrSnapshotCorrupt is returned when a stored snapshot no longer decodes to
// a valid scene.
var ErrSnapshotCorrupt = errors.New("snapshot corrupt")

// Deterministic encoding makes equal scenes produce equal bytes, so digests
// can be compared instead of scenes.
var encMode = mustEncMode()

func mustEncMode() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}

// Snapshot is an immutable copy of a scene at an edit boundary.
type Snapshot struct {
	ID     string
	data   []byte
	digest [blake2b.Size256]byte
}

// NewSnapshot encodes scene into a snapshot.
func NewSnapshot(scene *document.Scene) (Snapshot, error) {
	data, err := encMode.Marshal(scene)
	if err != nil {
		return Snapshot{}, fmt.Errorf("cbor encode: %w", err)
	}
	return Snapshot{
		ID:     typeid.NewSnapshotID(),
		data:   data,
		digest: blake2b.Sum256(data),
	}, nil
}

// Equal reports whether both snapshots hold the same scene.
func (s Snapshot) Equal(other Snapshot) bool {
	return s.digest == other.digest
}

// Digest returns the BLAKE2b-256 digest of the encoded scene.
func (s Snapshot) Digest() []byte {
	return bytes.Clone(s.digest[:])
}

// Size returns the encoded size in bytes.
func (s Snapshot) Size() int {
	return len(s.data)
}

// Restore decodes a fresh scene from the snapshot.
func (s Snapshot) Restore() (*document.Scene, error) {
	if blake2b.Sum256(s.data) != s.digest {
		return nil, fmt.Errorf("%w: %s: digest mismatch", ErrSnapshotCorrupt, s.ID)
	}
	var scene document.Scene
	if err := cbor.Unmarshal(s.data, &scene); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSnapshotCorrupt, s.ID, err)
	}
	if scene.Objects == nil {
		scene.Objects = []document.Object{}
	}
	if err := scene.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrSnapshotCorrupt, s.ID, err)
	}
	return &scene, nil
}
