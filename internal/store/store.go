// Package store persists per-trial raw update logs and verifies their
// integrity.
package store

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/trailbench/trailbench/internal/protocol"
)

const (
	updatesFile  = "updates.json"
	manifestFile = "manifest.json"
	trialPrefix  = "trial-"
)

// Manifest records what a run produced, with a digest per trial log.
type Manifest struct {
	AgentID   string            `json:"agent_id,omitempty"`
	Benchmark string            `json:"benchmark,omitempty"`
	Created   time.Time         `json:"created"`
	Digests   map[string]string `json:"digests"`
}

// TrialRef identifies one persisted trial log.
type TrialRef struct {
	TaskID string
	Index  int
	Path   string
}

// Store is the on-disk layout of one run:
//
//	<root>/<task-dir>/trial-<idx>/updates.json
//	<root>/manifest.json
type Store struct {
	root string

	mu       sync.Mutex
	manifest Manifest
}

// New creates the run directory and an empty manifest.
func New(root, agentID, benchmarkID string) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating run directory: %w", err)
	}
	s := &Store{
		root: root,
		manifest: Manifest{
			AgentID:   agentID,
			Benchmark: benchmarkID,
			Created:   time.Now().UTC(),
			Digests:   map[string]string{},
		},
	}
	if err := s.writeManifest(); err != nil {
		return nil, err
	}
	return s, nil
}

// Open loads an existing run directory.
func Open(root string) (*Store, error) {
	data, err := os.ReadFile(filepath.Join(root, manifestFile))
	if err != nil {
		return nil, fmt.Errorf("reading run manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing run manifest: %w", err)
	}
	if m.Digests == nil {
		m.Digests = map[string]string{}
	}
	return &Store{root: root, manifest: m}, nil
}

// Root returns the run directory.
func (s *Store) Root() string {
	return s.root
}

// Manifest returns a copy of the current manifest.
func (s *Store) Manifest() Manifest {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.manifest
	m.Digests = make(map[string]string, len(s.manifest.Digests))
	for key, value := range s.manifest.Digests {
		m.Digests[key] = value
	}
	return m
}

// taskDirName keeps task ids filesystem-safe.
func taskDirName(taskID string) string {
	return strings.ReplaceAll(taskID, "/", "-")
}

// TrialPath returns the log path for one trial.
func (s *Store) TrialPath(taskID string, index int) string {
	return filepath.Join(s.root, taskDirName(taskID), fmt.Sprintf("%s%d", trialPrefix, index), updatesFile)
}

// SaveTrial writes a trial's raw update log and records its digest in the
// manifest. Safe for concurrent trials.
func (s *Store) SaveTrial(taskID string, index int, updates []protocol.SessionUpdate) (string, error) {
	path := s.TrialPath(taskID, index)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating trial directory: %w", err)
	}

	data, err := json.MarshalIndent(protocol.UpdateList(updates), "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding update log: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing update log: %w", err)
	}

	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.manifest.Digests[filepath.ToSlash(rel)] = Digest(data)
	if err := s.writeManifest(); err != nil {
		return "", err
	}
	return path, nil
}

// LoadTrial reads a trial's raw update log back in order.
func (s *Store) LoadTrial(taskID string, index int) ([]protocol.SessionUpdate, error) {
	return LoadUpdates(s.TrialPath(taskID, index))
}

// LoadUpdates reads an update log file.
func LoadUpdates(path string) ([]protocol.SessionUpdate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading update log: %w", err)
	}
	var list protocol.UpdateList
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parsing update log %s: %w", path, err)
	}
	return list, nil
}

// ListTrials returns all persisted trials sorted by task then trial index.
func (s *Store) ListTrials() ([]TrialRef, error) {
	var refs []TrialRef
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || d.Name() != updatesFile {
			return nil
		}
		trialDir := filepath.Base(filepath.Dir(path))
		if !strings.HasPrefix(trialDir, trialPrefix) {
			return nil
		}
		index, convErr := strconv.Atoi(strings.TrimPrefix(trialDir, trialPrefix))
		if convErr != nil {
			return nil
		}
		refs = append(refs, TrialRef{
			TaskID: filepath.Base(filepath.Dir(filepath.Dir(path))),
			Index:  index,
			Path:   path,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning run directory: %w", err)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].TaskID != refs[j].TaskID {
			return refs[i].TaskID < refs[j].TaskID
		}
		return refs[i].Index < refs[j].Index
	})
	return refs, nil
}

// ErrDigestMismatch is returned by Verify when a log no longer matches its
// recorded digest.
var ErrDigestMismatch = errors.New("digest mismatch")

// Verify recomputes every trial log digest against the manifest. It returns
// one error per tampered or missing file.
func (s *Store) Verify() []error {
	s.mu.Lock()
	digests := make(map[string]string, len(s.manifest.Digests))
	for key, value := range s.manifest.Digests {
		digests[key] = value
	}
	s.mu.Unlock()

	var problems []error
	keys := make([]string, 0, len(digests))
	for key := range digests {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, rel := range keys {
		data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(rel)))
		if err != nil {
			problems = append(problems, fmt.Errorf("%s: %w", rel, err))
			continue
		}
		if got := Digest(data); got != digests[rel] {
			problems = append(problems, fmt.Errorf("%s: %w: recorded %s, got %s", rel, ErrDigestMismatch, digests[rel], got))
		}
	}
	return problems
}

func (s *Store) writeManifest() error {
	data, err := json.MarshalIndent(s.manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding run manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.root, manifestFile), data, 0644); err != nil {
		return fmt.Errorf("writing run manifest: %w", err)
	}
	return nil
}

// Digest returns the blake3 digest of data in manifest form.
func Digest(data []byte) string {
	h := blake3.Sum256(data)
	return "blake3:" + hex.EncodeToString(h[:])
}
