package planner

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ZiangHu97/paper-sailor/core"
)

// Store persists sessions as one JSON file each under a data directory.
type Store struct {
	mu  sync.Mutex
	dir string
}

// NewStore creates the sessions directory if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Save writes the session snapshot. The write goes through a temp file and a
// rename so a crash never leaves a half-written session on disk.
func (st *Store) Save(s *Session) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", s.ID, err)
	}
	final := st.path(s.ID)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write session %s: %w", s.ID, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("write session %s: %w", s.ID, err)
	}
	return nil
}

// Get loads one session. The boolean is false when the id is unknown.
func (st *Store) Get(id string) (*Session, bool, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	data, err := os.ReadFile(st.path(id))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read session %s: %w", id, err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, false, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &s, true, nil
}

// List returns all persisted session ids, sorted.
func (st *Store) List() ([]string, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	entries, err := os.ReadDir(st.dir)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

func (st *Store) path(id string) string {
	return filepath.Join(st.dir, id+".json")
}

// PaperLog is an append-only JSONL record of every paper the loop has seen.
type PaperLog struct {
	mu   sync.Mutex
	path string
}

// NewPaperLog creates the log's parent directory if needed.
func NewPaperLog(path string) (*PaperLog, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create paper log dir: %w", err)
	}
	return &PaperLog{path: path}, nil
}

// Append records papers. Each write opens, appends and closes the file so a
// crashed process never holds the log hostage.
func (pl *PaperLog) Append(papers []core.Paper) error {
	if len(papers) == 0 {
		return nil
	}
	pl.mu.Lock()
	defer pl.mu.Unlock()

	f, err := os.OpenFile(pl.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open paper log: %w", err)
	}
	defer f.Close()
	for _, p := range papers {
		line, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal paper %s: %w", p.ID, err)
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("append paper %s: %w", p.ID, err)
		}
	}
	return nil
}

// List replays the log, deduplicated by paper id with the latest record
// winning, in first-seen order.
func (pl *PaperLog) List() ([]core.Paper, error) {
	pl.mu.Lock()
	defer pl.mu.Unlock()

	f, err := os.Open(pl.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open paper log: %w", err)
	}
	defer f.Close()

	index := make(map[string]int)
	var papers []core.Paper
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var p core.Paper
		if err := json.Unmarshal(scanner.Bytes(), &p); err != nil {
			// Torn tail line from a crashed writer. Skip it.
			continue
		}
		if at, ok := index[p.ID]; ok {
			papers[at] = p
			continue
		}
		index[p.ID] = len(papers)
		papers = append(papers, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan paper log: %w", err)
	}
	return papers, nil
}
