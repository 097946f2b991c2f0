// Package floorlog is the append-only per-agent event log consumed by the
// dashboard for round replay. Entries are write-once JSONL, one file per
// agent per day.
package floorlog

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Entry is one chronological log record for an agent.
type Entry struct {
	At      string `json:"at"`
	Agent   string `json:"agent"`
	Kind    string `json:"kind"` // round, tool, account, oracle, error
	RoundID string `json:"round_id,omitempty"`
	Message string `json:"message"`
	ErrKind string `json:"err_kind,omitempty"`
}

// Log writes entries under <dir>/log/<agent>/<date>.jsonl.
type Log struct {
	mu  sync.Mutex
	dir string
}

func New(dataDir string) *Log {
	return &Log{dir: filepath.Join(dataDir, "log")}
}

func (l *Log) path(agent string, t time.Time) string {
	return filepath.Join(l.dir, agent, t.UTC().Format("2006-01-02")+".jsonl")
}

// Append writes one entry. Safe for concurrent writers from different
// agents' rounds.
func (l *Log) Append(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now().UTC()
	e.At = now.Format("2006-01-02 15:04:05")
	p := l.path(e.Agent, now)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	b, _ := json.Marshal(e)
	_, err = fmt.Fprintln(f, string(b))
	return err
}

// ReadDay returns all entries for one agent and day, in write order.
func (l *Log) ReadDay(agent string, day time.Time) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.Open(l.path(agent, day))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []Entry
	dec := json.NewDecoder(f)
	for dec.More() {
		var e Entry
		if err := dec.Decode(&e); err != nil {
			return out, fmt.Errorf("corrupt log %s/%s: %w", agent, day.Format("2006-01-02"), err)
		}
		out = append(out, e)
	}
	return out, nil
}

// CompressOlder gzips log files past the retention window.
func (l *Log) CompressOlder(retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	return filepath.WalkDir(l.dir, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || filepath.Ext(p) != ".jsonl" {
			return nil
		}
		info, er := os.Stat(p)
		if er != nil || !info.ModTime().Before(cutoff) {
			return nil
		}
		gz := p + ".gz"
		if _, e2 := os.Stat(gz); e2 == nil {
			_ = os.Remove(p)
			return nil
		}

		in, e3 := os.Open(p)
		if e3 != nil {
			return nil
		}
		defer in.Close()

		out, e4 := os.OpenFile(gz, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if e4 != nil {
			return nil
		}
		gw := gzip.NewWriter(out)
		if _, e5 := io.Copy(gw, in); e5 == nil {
			_ = gw.Close()
			_ = out.Close()
			_ = os.Remove(p)
		} else {
			_ = gw.Close()
			_ = out.Close()
		}
		return nil
	})
}
