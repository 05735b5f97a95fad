// ABOUTME: Append-only JSONL journal of conversation messages, one file per session.
// ABOUTME: Appends are fsynced; replay skips a torn trailing line left by a crash.

package conversation

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/2389-research/buddy/llm"
)

// Journal persists session history. Implementations are called only from the
// owning session's actor, so they need no per-session locking.
type Journal interface {
	Load(sessionID string) ([]llm.Message, error)
	Append(sessionID string, msgs []llm.Message) error
	Remove(sessionID string) error
}

type journalRecord struct {
	At      time.Time   `json:"at"`
	Message llm.Message `json:"message"`
}

// FileJournal stores each session as <dir>/<session>.jsonl.
type FileJournal struct {
	dir string
	now func() time.Time
}

// NewFileJournal creates the journal directory if needed.
func NewFileJournal(dir string) (*FileJournal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	return &FileJournal{dir: dir, now: time.Now}, nil
}

// Dir returns the directory holding session files.
func (j *FileJournal) Dir() string {
	return j.dir
}

func (j *FileJournal) path(sessionID string) (string, error) {
	if !ValidSessionID(sessionID) {
		return "", ErrInvalidSessionID
	}
	return filepath.Join(j.dir, sessionID+".jsonl"), nil
}

// Append writes each message as one JSON line and fsyncs the file.
func (j *FileJournal) Append(sessionID string, msgs []llm.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	path, err := j.path(sessionID)
	if err != nil {
		return err
	}

	var buf []byte
	at := j.now().UTC()
	for _, m := range msgs {
		data, err := json.Marshal(journalRecord{At: at, Message: m})
		if err != nil {
			return fmt.Errorf("marshal message: %w", err)
		}
		buf = append(buf, data...)
		buf = append(buf, '\n')
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer func() { _ = file.Close() }()

	if _, err := file.Write(buf); err != nil {
		return fmt.Errorf("write journal: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("fsync: %w", err)
	}
	return nil
}

// Load replays a session's messages in order. A missing file is an empty
// history.
func (j *FileJournal) Load(sessionID string) ([]llm.Message, error) {
	path, err := j.path(sessionID)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open journal for replay: %w", err)
	}
	defer func() { _ = file.Close() }()

	var msgs []llm.Message
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var rec journalRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			continue
		}
		msgs = append(msgs, rec.Message)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan journal: %w", err)
	}
	return msgs, nil
}

// Remove deletes a session's file. Removing a missing session is not an error.
func (j *FileJournal) Remove(sessionID string) error {
	path, err := j.path(sessionID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove journal: %w", err)
	}
	return nil
}
