package history

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/harun/mira/internal/observability"
	"github.com/harun/mira/internal/tracing"
)

// Entry is one transcript line: a user utterance or an agent reply.
type Entry struct {
	TurnID    string    `json:"turnId"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Model     string    `json:"model,omitempty"`
	Partial   bool      `json:"partial,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Record is an Entry with its owning session, as stored on disk.
type Record struct {
	SessionID string `json:"sessionId"`
	Entry     Entry  `json:"entry"`
}

// Store persists per-session transcripts as JSONL files, one file per
// session. Writes within a session are serialized by a per-session lock.
type Store struct {
	dir        string
	writeLocks map[string]*sync.Mutex
	locksMu    sync.RWMutex
}

// NewStore creates a transcript store rooted at dir
func NewStore(dir string) (*Store, error) {
	observability.EnsureRegistered()

	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".mira", "history")
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	s := &Store{
		dir:        dir,
		writeLocks: make(map[string]*sync.Mutex),
	}

	log.Info().Str("dir", dir).Msg("History store initialized")

	return s, nil
}

// validateSessionID rejects IDs that could escape the store directory
func (s *Store) validateSessionID(sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if strings.Contains(sessionID, "..") {
		return fmt.Errorf("session id cannot contain '..'")
	}
	if strings.ContainsAny(sessionID, "/\\") {
		return fmt.Errorf("session id cannot contain path separators")
	}
	if strings.Contains(sessionID, "\x00") {
		return fmt.Errorf("session id cannot contain null bytes")
	}
	return nil
}

func (s *Store) transcriptPath(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".jsonl")
}

// getWriteLock gets or creates a write lock for a session
func (s *Store) getWriteLock(sessionID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	if lock, exists := s.writeLocks[sessionID]; exists {
		return lock
	}

	lock := &sync.Mutex{}
	s.writeLocks[sessionID] = lock
	return lock
}

func (s *Store) releaseWriteLock(sessionID string) {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	delete(s.writeLocks, sessionID)
}

// Append writes one transcript entry, creating the session file on first use.
func (s *Store) Append(ctx context.Context, sessionID string, entry Entry) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithSessionID(ctx, sessionID)
	logger := tracing.LoggerFromContext(ctx, log.Logger)
	start := time.Now()
	defer func() {
		observability.RecordHistoryAppend(time.Since(start))
	}()

	if err := s.validateSessionID(sessionID); err != nil {
		return err
	}
	if entry.Role == "" {
		return fmt.Errorf("entry role cannot be empty")
	}
	if entry.Content == "" {
		return fmt.Errorf("entry content cannot be empty")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	lock := s.getWriteLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	file, err := os.OpenFile(s.transcriptPath(sessionID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open transcript file: %w", err)
	}
	defer file.Close()

	record := Record{
		SessionID: sessionID,
		Entry:     entry,
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}

	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync transcript file: %w", err)
	}

	logger.Debug().
		Str("role", entry.Role).
		Str("turn_id", entry.TurnID).
		Msg("Transcript entry appended")

	return nil
}

// Load returns the full transcript for a session. A session with no
// transcript yet yields an empty slice, not an error. Corrupted lines are
// skipped so a single bad write cannot poison the whole transcript.
func (s *Store) Load(ctx context.Context, sessionID string) ([]Entry, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithSessionID(ctx, sessionID)
	logger := tracing.LoggerFromContext(ctx, log.Logger)
	start := time.Now()
	defer func() {
		observability.RecordHistoryLoad(time.Since(start))
	}()

	if err := s.validateSessionID(sessionID); err != nil {
		return nil, err
	}

	path := s.transcriptPath(sessionID)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return []Entry{}, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript file: %w", err)
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()
		if line == "" {
			continue
		}

		var record Record
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			logger.Warn().
				Int("line", lineNum).
				Err(err).
				Msg("Failed to parse transcript line, skipping")
			continue
		}

		if record.Entry.Role == "" || record.Entry.Content == "" {
			logger.Warn().
				Int("line", lineNum).
				Msg("Invalid transcript entry, skipping")
			continue
		}

		entries = append(entries, record.Entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transcript file: %w", err)
	}

	logger.Debug().Int("entries", len(entries)).Msg("Transcript loaded")

	return entries, nil
}

// Tail returns at most n most recent entries, oldest first.
func (s *Store) Tail(ctx context.Context, sessionID string, n int) ([]Entry, error) {
	entries, err := s.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if n <= 0 || len(entries) <= n {
		return entries, nil
	}
	return entries[len(entries)-n:], nil
}

// Delete removes a session transcript. Deleting a session that was never
// written to is not an error.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithSessionID(ctx, sessionID)
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	if err := s.validateSessionID(sessionID); err != nil {
		return err
	}

	// Wait for any in-progress writes.
	lock := s.getWriteLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(s.transcriptPath(sessionID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete transcript file: %w", err)
	}

	s.releaseWriteLock(sessionID)

	logger.Info().Msg("Transcript deleted")

	return nil
}

// List returns the session IDs that have a transcript on disk.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read history directory: %w", err)
	}

	var sessions []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.HasSuffix(name, ".jsonl") {
			continue
		}

		sessions = append(sessions, strings.TrimSuffix(name, ".jsonl"))
	}

	return sessions, nil
}

// Repair rewrites a transcript keeping only the parseable lines.
func (s *Store) Repair(ctx context.Context, sessionID string) error {
	if err := s.validateSessionID(sessionID); err != nil {
		return err
	}

	entries, err := s.Load(ctx, sessionID)
	if err != nil {
		return err
	}

	lock := s.getWriteLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	path := s.transcriptPath(sessionID)
	tempPath := path + ".tmp"

	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	for _, entry := range entries {
		data, err := json.Marshal(Record{SessionID: sessionID, Entry: entry})
		if err != nil {
			file.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to marshal entry: %w", err)
		}

		if _, err := file.Write(append(data, '\n')); err != nil {
			file.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to write entry: %w", err)
		}
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}

	file.Close()

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace transcript file: %w", err)
	}

	log.Info().
		Str("session_id", sessionID).
		Int("entries", len(entries)).
		Msg("Transcript repaired")

	return nil
}

// Info returns size and entry-count metadata for a session transcript.
func (s *Store) Info(ctx context.Context, sessionID string) (map[string]interface{}, error) {
	if err := s.validateSessionID(sessionID); err != nil {
		return nil, err
	}

	info, err := os.Stat(s.transcriptPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("transcript does not exist")
		}
		return nil, fmt.Errorf("failed to stat transcript file: %w", err)
	}

	entries, err := s.Load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"sessionId":    sessionID,
		"size":         info.Size(),
		"lastModified": info.ModTime(),
		"entryCount":   len(entries),
	}, nil
}

// Close releases all per-session write locks.
func (s *Store) Close() error {
	s.locksMu.Lock()
	s.writeLocks = make(map[string]*sync.Mutex)
	s.locksMu.Unlock()

	log.Info().Msg("History store closed")

	return nil
}
