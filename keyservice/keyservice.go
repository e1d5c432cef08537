// Package keyservice is a keyed lookup of 128-bit TACT decryption keys by
// 64-bit key name, used by blte to decrypt mode "E" chunks.
//
// Grounded on the teacher's small, thread-safe registry types (the pattern
// used throughout `store/` of a map guarded by a RWMutex, reads dominating
// writes) rather than anything domain-specific — key/value lookup tables
// recur everywhere in the teacher's codebase.
package keyservice

import (
	"bufio"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"k8s.io/klog/v2"
)

// Service holds the in-memory key-name -> key map. Safe for concurrent
// reads after construction; writes (Add, Load) take an exclusive lock.
type Service struct {
	mu   sync.RWMutex
	keys map[uint64][16]byte
}

// New returns an empty key service.
func New() *Service {
	return &Service{keys: make(map[uint64][16]byte)}
}

// Get returns the 128-bit key registered under keyName, if any.
func (s *Service) Get(keyName uint64) ([16]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[keyName]
	return k, ok
}

// Add registers a key under keyName, overwriting any previous value.
func (s *Service) Add(keyName uint64, key [16]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[keyName] = key
}

// Count returns the number of registered keys.
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

// Load reads key-name/key pairs from path, auto-detecting CSV, TSV, or
// space-delimited TXT formats (one record per line: name, 32 hex chars).
// Returns the number of keys added.
func (s *Service) Load(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("keyservice: open %s: %w", path, err)
	}
	defer f.Close()

	count := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, key, err := parseKeyLine(line)
		if err != nil {
			klog.V(2).Infof("keyservice: skipping malformed line in %s: %v", path, err)
			continue
		}
		s.Add(name, key)
		count++
	}
	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("keyservice: scan %s: %w", path, err)
	}
	return count, nil
}

// parseKeyLine accepts "name,key", "name key", and "name\tkey" forms.
func parseKeyLine(line string) (uint64, [16]byte, error) {
	var fields []string
	switch {
	case strings.Contains(line, ","):
		r := csv.NewReader(strings.NewReader(line))
		rec, err := r.Read()
		if err != nil {
			return 0, [16]byte{}, err
		}
		fields = rec
	default:
		fields = strings.Fields(line)
	}
	if len(fields) < 2 {
		return 0, [16]byte{}, fmt.Errorf("expected name and key, got %q", line)
	}
	nameStr := strings.TrimSpace(fields[0])
	keyStr := strings.TrimSpace(fields[1])

	name, err := strconv.ParseUint(nameStr, 16, 64)
	if err != nil {
		return 0, [16]byte{}, fmt.Errorf("bad key name %q: %w", nameStr, err)
	}
	if len(keyStr) != 32 {
		return 0, [16]byte{}, fmt.Errorf("key %q: expected 32 hex chars", keyStr)
	}
	raw, err := hex.DecodeString(keyStr)
	if err != nil {
		return 0, [16]byte{}, fmt.Errorf("key %q: %w", keyStr, err)
	}
	var key [16]byte
	copy(key[:], raw)
	return name, key, nil
}

// StandardDirCandidates returns the directories/files LoadStandardDirs
// scans, in priority order, without touching the filesystem — exposed so
// callers (e.g. the CLI's `keys status` command) can report where keys were
// or would be loaded from.
func StandardDirCandidates() []string {
	var out []string
	if env := os.Getenv("NGDP_KEYRING"); env != "" {
		out = append(out, env)
	}
	if home, err := os.UserHomeDir(); err == nil {
		out = append(out, filepath.Join(home, ".config", "ngdp", "TactKey.csv"))
		out = append(out, filepath.Join(home, ".config", "ngdp", "tact.keys"))
	}
	if exe, err := os.Executable(); err == nil {
		out = append(out, filepath.Join(filepath.Dir(exe), "tactKeys.csv"))
		out = append(out, filepath.Join(filepath.Dir(exe), "TactKey.csv"))
	}
	return out
}

// LoadStandardDirs scans the env-var path, the user config directory, and
// a tactKeys file next to the running binary, loading whichever exist.
// Returns the total number of keys added across all sources found.
func (s *Service) LoadStandardDirs() int {
	total := 0
	for _, path := range StandardDirCandidates() {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		n, err := s.Load(path)
		if err != nil {
			klog.Warningf("keyservice: failed to load %s: %v", path, err)
			continue
		}
		total += n
	}
	return total
}
