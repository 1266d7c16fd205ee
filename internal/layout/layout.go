// Package layout names, locates and enumerates the delta and snapshot files
// that make up one partition's version chain on disk.
//
// Layout on disk, rooted at <dir>:
//
//	<dir>/<operatorId>/<partitionId>/
//	  0.delta
//	  1.delta
//	  N.snapshot
//	  M.delta          (M > N)
//	  temp-<random>    (transient, written by an in-flight session)
package layout

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Version is a non-negative, monotonic per-store identifier for a committed
// state. Version 0 is the first writable version; its predecessor is the
// empty map.
type Version int64

// StoreId uniquely identifies one shard: one partition of one operator.
type StoreId struct {
	OperatorId  int64
	PartitionId int32
}

func (id StoreId) String() string {
	return fmt.Sprintf("%d/%d", id.OperatorId, id.PartitionId)
}

// Kind distinguishes a delta (event log) file from a snapshot (full image).
type Kind int

const (
	Delta Kind = iota
	Snapshot
)

func (k Kind) String() string {
	if k == Snapshot {
		return "snapshot"
	}
	return "delta"
}

func (k Kind) ext() string {
	if k == Snapshot {
		return ".snapshot"
	}
	return ".delta"
}

// File is one on-disk delta or snapshot file for a given version.
type File struct {
	Version Version
	Kind    Kind
	Path    string
}

// Layout resolves and enumerates the files belonging to one StoreId.
type Layout struct {
	id  StoreId
	dir string
	log zerolog.Logger
}

// New builds a Layout rooted at <root>/<operatorId>/<partitionId>.
func New(root string, id StoreId, log zerolog.Logger) *Layout {
	dir := filepath.Join(root,
		strconv.FormatInt(id.OperatorId, 10),
		strconv.FormatInt(int64(id.PartitionId), 10))
	return &Layout{id: id, dir: dir, log: log.With().Str("store", id.String()).Logger()}
}

// Dir returns the partition's root directory.
func (l *Layout) Dir() string { return l.dir }

// EnsureDir creates the partition directory if it does not already exist.
func (l *Layout) EnsureDir() error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("create store dir %s: %w", l.dir, err)
	}
	return nil
}

// DeltaPath returns the final path of version v's delta file.
func (l *Layout) DeltaPath(v Version) string {
	return filepath.Join(l.dir, strconv.FormatInt(int64(v), 10)+Delta.ext())
}

// SnapshotPath returns the final path of version v's snapshot file.
func (l *Layout) SnapshotPath(v Version) string {
	return filepath.Join(l.dir, strconv.FormatInt(int64(v), 10)+Snapshot.ext())
}

// TempPath returns a fresh, unique staging path inside the partition
// directory; two concurrently prepared sessions never collide.
func (l *Layout) TempPath() string {
	return filepath.Join(l.dir, "temp-"+uuid.NewString())
}

// Enumerate lists every delta/snapshot file for this store, sorted by
// ascending version. When both a delta and a snapshot exist for the same
// version, only the snapshot is returned — it fully supersedes the delta.
// A missing directory yields an empty list, not an error.
func (l *Layout) Enumerate() ([]File, error) {
	entries, err := os.ReadDir(l.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read store dir %s: %w", l.dir, err)
	}

	byVersion := make(map[Version]File)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		v, kind, ok := ParseName(e.Name())
		if !ok {
			l.log.Debug().Str("name", e.Name()).Msg("ignoring file that does not match <version>.delta|.snapshot")
			continue
		}
		f := File{Version: v, Kind: kind, Path: filepath.Join(l.dir, e.Name())}
		existing, has := byVersion[v]
		if !has || (kind == Snapshot && existing.Kind == Delta) {
			byVersion[v] = f
		}
	}

	files := make([]File, 0, len(byVersion))
	for _, f := range byVersion {
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Version < files[j].Version })
	return files, nil
}

// ParseName parses a bare file name (no directory component) of the form
// "<version>.delta" or "<version>.snapshot".
func ParseName(name string) (Version, Kind, bool) {
	switch {
	case strings.HasSuffix(name, Delta.ext()):
		return parseVersion(strings.TrimSuffix(name, Delta.ext())), Delta, isNumeric(strings.TrimSuffix(name, Delta.ext()))
	case strings.HasSuffix(name, Snapshot.ext()):
		return parseVersion(strings.TrimSuffix(name, Snapshot.ext())), Snapshot, isNumeric(strings.TrimSuffix(name, Snapshot.ext()))
	default:
		return 0, Delta, false
	}
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}

func parseVersion(s string) Version {
	n, _ := strconv.ParseInt(s, 10, 64)
	return Version(n)
}
