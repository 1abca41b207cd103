// Package store is a content-addressed local cache for mcpkit
// bundles, so a module already pulled once can be started without
// round-tripping to a registry. Generalized from the teacher's
// pkg/volume.Manager (root directory, JSON metadata file per entry, an
// in-memory cache loaded on startup) from named volumes to
// registry/repository/tag-addressed bundle directories.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	digest "github.com/opencontainers/go-digest"
	"golang.org/x/sys/unix"

	"github.com/mcpkit/mcpkit/pkg/bundle"
	"github.com/mcpkit/mcpkit/pkg/errors"
	"github.com/mcpkit/mcpkit/pkg/logger"
	"github.com/mcpkit/mcpkit/pkg/ociclient"
)

var log = logger.New("store")

// DefaultRoot is the default store directory.
const DefaultRoot = "/var/lib/mcpkit/store"

const (
	wasmFileName     = "module.wasm"
	configFileName   = "config.yaml"
	metadataFileName = "metadata.json"
	lockFileName     = ".lock"
	indexFileName    = "index.json"
)

// Entry describes one cached bundle. It is the on-disk
// metadata.json shape as well as the in-memory cache record.
type Entry struct {
	Registry     string            `json:"registry"`
	Repository   string            `json:"repository"`
	Tag          string            `json:"tag"`
	WasmDigest   digest.Digest     `json:"wasm_digest"`
	ConfigDigest digest.Digest     `json:"config_digest"`
	StoredAt     time.Time         `json:"stored_at"`
	Precompiled  map[string]string `json:"precompiled,omitempty"` // runtime name -> sidecar file name
}

// key returns the index key this entry is addressed by: the
// reference's canonical "registry/repository:tag" form.
func (e *Entry) key() string {
	return (&ociclient.Reference{Registry: e.Registry, Repository: e.Repository, Tag: e.Tag}).String()
}

// dir returns the entry's directory, relative to a store's root.
func (e *Entry) dir() string {
	registry := e.Registry
	if registry == "" {
		registry = "_"
	}
	return filepath.Join(registry, e.Repository, e.Tag)
}

// Store is a content-addressed local bundle cache rooted at one
// directory. Reads are served from an in-memory cache under a
// read-lock; writes take the in-memory lock plus a per-entry file
// lock so two mcpkit processes sharing the same store directory never
// interleave a partial write.
type Store struct {
	root string
	mu   sync.RWMutex
	// cache maps an Entry's key() to its metadata.
	cache map[string]*Entry
}

// Open opens (creating if necessary) a bundle store rooted at root,
// loading its existing entries into an in-memory cache.
func Open(root string) (*Store, error) {
	if root == "" {
		root = DefaultRoot
	}
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, errors.Wrap(errors.ErrIO, "failed to create store directory", err).
			WithField("path", root)
	}

	s := &Store{root: root, cache: make(map[string]*Entry)}
	if err := s.loadCache(); err != nil {
		log.WithError(err).Warn("failed to load store cache, starting empty")
	}
	return s, nil
}

// Exists reports whether ref is already cached, without touching
// disk.
func (s *Store) Exists(ref *ociclient.Reference) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.cache[ref.String()]
	return ok
}

// Get returns the cached bundle for ref, reading its blobs from disk.
// Reads take no file lock: metadata.json, module.wasm and config.yaml
// are only ever replaced by a Put that rewrites the whole directory,
// so a concurrent reader sees either the old or the new entry, never
// a torn one, as long as Put always writes files before it updates
// the in-memory cache and index (see Put).
func (s *Store) Get(ref *ociclient.Reference) (*bundle.Bundle, error) {
	s.mu.RLock()
	entry, ok := s.cache[ref.String()]
	s.mu.RUnlock()
	if !ok {
		return nil, errors.New(errors.ErrBundleInvalid, "bundle not found in local store").
			WithField("reference", ref.String())
	}

	dir := filepath.Join(s.root, entry.dir())
	wasmBytes, err := os.ReadFile(filepath.Join(dir, wasmFileName))
	if err != nil {
		return nil, errors.Wrap(errors.ErrIO, "failed to read cached wasm layer", err).WithField("path", dir)
	}
	configYAML, err := os.ReadFile(filepath.Join(dir, configFileName))
	if err != nil {
		return nil, errors.Wrap(errors.ErrIO, "failed to read cached config layer", err).WithField("path", dir)
	}

	manifest, _, err := bundle.Encode(wasmBytes, configYAML)
	if err != nil {
		return nil, err
	}
	return &bundle.Bundle{Manifest: *manifest, WasmBytes: wasmBytes, ConfigYAML: configYAML}, nil
}

// Put writes b's two layers into the store under ref, updating the
// entry's metadata and the in-memory cache. Put serializes concurrent
// writers to the same entry with a file lock on the entry directory,
// so two processes pulling the same reference at once don't
// interleave writes.
func (s *Store) Put(ref *ociclient.Reference, b *bundle.Bundle) (*Entry, error) {
	entry := &Entry{
		Registry:     ref.Registry,
		Repository:   ref.Repository,
		Tag:          ref.Tag,
		WasmDigest:   digest.FromBytes(b.WasmBytes),
		ConfigDigest: digest.FromBytes(b.ConfigYAML),
		StoredAt:     time.Now(),
	}

	dir := filepath.Join(s.root, entry.dir())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(errors.ErrIO, "failed to create store entry directory", err).WithField("path", dir)
	}

	unlock, err := lockEntry(dir)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := os.WriteFile(filepath.Join(dir, wasmFileName), b.WasmBytes, 0644); err != nil {
		return nil, errors.Wrap(errors.ErrIO, "failed to write wasm layer", err).WithField("path", dir)
	}
	if err := os.WriteFile(filepath.Join(dir, configFileName), b.ConfigYAML, 0644); err != nil {
		return nil, errors.Wrap(errors.ErrIO, "failed to write config layer", err).WithField("path", dir)
	}
	if err := s.writeMetadata(dir, entry); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[entry.key()] = entry
	s.mu.Unlock()

	if err := s.writeIndex(); err != nil {
		log.WithError(err).Warn("failed to persist store index")
	}

	log.WithField("reference", entry.key()).Info("bundle cached")
	return entry, nil
}

// Remove evicts ref from the store, deleting its directory.
func (s *Store) Remove(ref *ociclient.Reference) error {
	s.mu.Lock()
	entry, ok := s.cache[ref.String()]
	if !ok {
		s.mu.Unlock()
		return errors.New(errors.ErrBundleInvalid, "bundle not found in local store").
			WithField("reference", ref.String())
	}
	delete(s.cache, entry.key())
	s.mu.Unlock()

	dir := filepath.Join(s.root, entry.dir())
	if err := os.RemoveAll(dir); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(errors.ErrIO, "failed to remove store entry", err).WithField("path", dir)
	}
	if err := s.writeIndex(); err != nil {
		log.WithError(err).Warn("failed to persist store index")
	}
	return nil
}

// List returns every cached entry.
func (s *Store) List() []*Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := make([]*Entry, 0, len(s.cache))
	for _, e := range s.cache {
		entries = append(entries, e)
	}
	return entries
}

// PrecompiledPath returns the path to a previously stored
// runtime-specific AOT-compiled sidecar for ref, if one exists.
func (s *Store) PrecompiledPath(ref *ociclient.Reference, runtimeName string) (string, bool) {
	s.mu.RLock()
	entry, ok := s.cache[ref.String()]
	s.mu.RUnlock()
	if !ok {
		return "", false
	}
	name, ok := entry.Precompiled[runtimeName]
	if !ok {
		return "", false
	}
	return filepath.Join(s.root, entry.dir(), name), true
}

// StorePrecompiled records a runtime-specific AOT-compiled sidecar
// for ref, retrievable through PrecompiledPath; sandbox.Host.Ready does
// not read it and compiles from the module bytes. The sidecar
// is invalidated by the caller whenever the runtime's own
// compilation-cache version changes; Store does not track that
// itself.
func (s *Store) StorePrecompiled(ref *ociclient.Reference, runtimeName string, data []byte) error {
	s.mu.RLock()
	entry, ok := s.cache[ref.String()]
	s.mu.RUnlock()
	if !ok {
		return errors.New(errors.ErrBundleInvalid, "bundle not found in local store").
			WithField("reference", ref.String())
	}

	dir := filepath.Join(s.root, entry.dir())
	unlock, err := lockEntry(dir)
	if err != nil {
		return err
	}
	defer unlock()

	sidecarName := "module." + runtimeName + ".precompiled"
	if err := os.WriteFile(filepath.Join(dir, sidecarName), data, 0644); err != nil {
		return errors.Wrap(errors.ErrIO, "failed to write precompiled sidecar", err).WithField("path", dir)
	}

	s.mu.Lock()
	if entry.Precompiled == nil {
		entry.Precompiled = make(map[string]string)
	}
	entry.Precompiled[runtimeName] = sidecarName
	s.mu.Unlock()

	return s.writeMetadata(dir, entry)
}

func (s *Store) writeMetadata(dir string, entry *Entry) error {
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return errors.Wrap(errors.ErrInternal, "failed to marshal store entry metadata", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metadataFileName), data, 0644); err != nil {
		return errors.Wrap(errors.ErrIO, "failed to write store entry metadata", err).WithField("path", dir)
	}
	return nil
}

// writeIndex persists the registry index mapping every cached
// reference to its on-disk directory, so external tools (or a future
// "mcpkit store ls") can enumerate the store without walking it.
func (s *Store) writeIndex() error {
	s.mu.RLock()
	index := make(map[string]string, len(s.cache))
	for key, entry := range s.cache {
		index[key] = entry.dir()
	}
	s.mu.RUnlock()

	data, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return errors.Wrap(errors.ErrInternal, "failed to marshal store index", err)
	}
	return os.WriteFile(filepath.Join(s.root, indexFileName), data, 0644)
}

// loadCache walks the store root's registry/repository/tag tree,
// loading each entry's metadata.json into memory. Malformed or
// unreadable entries are skipped with a warning, mirroring the
// teacher's tolerant loadCache behavior.
func (s *Store) loadCache() error {
	return filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() || d.Name() != metadataFileName {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			log.WithError(err).WithField("path", path).Warn("failed to read store entry metadata")
			return nil
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			log.WithError(err).WithField("path", path).Warn("failed to unmarshal store entry metadata")
			return nil
		}
		s.cache[entry.key()] = &entry
		return nil
	})
}

// lockEntry takes an exclusive advisory lock on dir's lock file,
// serializing writers to the same store entry across processes. The
// returned function releases the lock and must be called exactly
// once. Grounded on the teacher's golang.org/x/sys/unix dependency
// (already used for capability and seccomp syscall constants),
// reused here for its designed purpose: flock(2) via unix.Flock.
func lockEntry(dir string) (func(), error) {
	path := filepath.Join(dir, lockFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, errors.Wrap(errors.ErrIO, "failed to open store entry lock file", err).WithField("path", path)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, errors.Wrap(errors.ErrIO, "failed to acquire store entry lock", err).WithField("path", path)
	}

	return func() {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
	}, nil
}
