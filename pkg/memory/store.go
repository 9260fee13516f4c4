package memory

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/harun/mira/internal/observability"
	"github.com/harun/mira/internal/tracing"
)

func init() {
	// Auto-register sqlite-vec extension
	sqlite_vec.Auto()
}

// Status describes the current state of the note index.
type Status struct {
	TotalNotes            int        `json:"total_notes"`
	TotalChunks           int        `json:"total_chunks"`
	IsDirty               bool       `json:"is_dirty"`
	IsSyncing             bool       `json:"is_syncing"`
	EmbeddingCacheHitRate *float64   `json:"embedding_cache_hit_rate,omitempty"`
	LastSyncTime          *time.Time `json:"last_sync_time,omitempty"`
}

// StoreConfig holds note store configuration
type StoreConfig struct {
	SharedDir         string
	PrivateDir        string
	DBPath            string
	Logger            zerolog.Logger
	EmbeddingProvider EmbeddingProvider // Optional, if nil recall is keyword-only
}

// Store indexes note files and serves hybrid recall over them. Shared notes
// live directly under SharedDir; private notes live under
// PrivateDir/<owner>/ and are only recalled for that owner.
type Store struct {
	db                *sql.DB
	sharedDir         string
	privateDir        string
	logger            zerolog.Logger
	embeddingProvider EmbeddingProvider
	watcher           *NoteWatcher
	mu                sync.RWMutex
	isDirty           bool
	isSyncing         bool
	lastSyncTime      *time.Time
	stats             struct {
		cacheHits   int
		cacheMisses int
	}
}

// NewStore creates a note store backed by sqlite
func NewStore(cfg StoreConfig) (*Store, error) {
	observability.EnsureRegistered()

	if cfg.SharedDir == "" || cfg.PrivateDir == "" {
		return nil, errors.New("shared and private note directories are required")
	}
	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}

	for _, dir := range []string{cfg.SharedDir, cfg.PrivateDir} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create note directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_fts5=1&_foreign_keys=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL mode for concurrent recall during sync
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{
		db:                db,
		sharedDir:         cfg.SharedDir,
		privateDir:        cfg.PrivateDir,
		logger:            cfg.Logger,
		embeddingProvider: cfg.EmbeddingProvider,
		isDirty:           true, // Start dirty to trigger initial sync
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	watcher, err := NewNoteWatcher(cfg.Logger, func() {
		s.MarkDirty()
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create note watcher: %w", err)
	}

	for _, dir := range []string{cfg.SharedDir, cfg.PrivateDir} {
		if err := watcher.Watch(dir); err != nil {
			watcher.Stop()
			db.Close()
			return nil, fmt.Errorf("failed to watch note directory: %w", err)
		}
	}

	// fsnotify is not recursive, so existing per-owner directories need
	// their own watches.
	filepath.WalkDir(cfg.PrivateDir, func(path string, d fs.DirEntry, err error) error {
		if err == nil && d.IsDir() && path != cfg.PrivateDir {
			watcher.Watch(path)
		}
		return nil
	})

	s.watcher = watcher

	s.logger.Info().
		Str("shared_dir", cfg.SharedDir).
		Str("private_dir", cfg.PrivateDir).
		Msg("Memory store initialized")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS notes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			path TEXT NOT NULL UNIQUE,
			scope TEXT NOT NULL,
			owner TEXT NOT NULL DEFAULT '',
			content_hash TEXT NOT NULL,
			indexed_at INTEGER NOT NULL,
			size_bytes INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_notes_path ON notes(path);
		CREATE INDEX IF NOT EXISTS idx_notes_owner ON notes(scope, owner);

		CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			note_id INTEGER NOT NULL,
			content TEXT NOT NULL,
			start_offset INTEGER NOT NULL,
			end_offset INTEGER NOT NULL,
			FOREIGN KEY (note_id) REFERENCES notes(id) ON DELETE CASCADE
		);
		CREATE INDEX IF NOT EXISTS idx_chunks_note ON chunks(note_id);

		CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
			chunk_id UNINDEXED,
			content,
			tokenize='porter unicode61'
		);

		CREATE TABLE IF NOT EXISTS embedding_cache (
			content_hash TEXT PRIMARY KEY,
			embedding BLOB NOT NULL,
			dimension INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_cache_created ON embedding_cache(created_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	if s.embeddingProvider != nil {
		dimension := s.embeddingProvider.Dimension()
		vectorSchema := fmt.Sprintf(`
			CREATE VIRTUAL TABLE IF NOT EXISTS embeddings USING vec0(
				chunk_id TEXT PRIMARY KEY,
				embedding float[%d] distance_metric=cosine
			);
		`, dimension)

		if _, err := s.db.Exec(vectorSchema); err != nil {
			return fmt.Errorf("failed to create vector table: %w", err)
		}
	}

	return nil
}

// Recall implements Provider with hybrid vector plus keyword search.
func (s *Store) Recall(ctx context.Context, q Query) ([]Snippet, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	logger := tracing.LoggerFromContext(ctx, s.logger)
	start := time.Now()
	defer func() {
		observability.RecordMemoryRecall(time.Since(start))
	}()

	if strings.TrimSpace(q.Text) == "" {
		return []Snippet{}, nil
	}
	if q.Limit <= 0 {
		q.Limit = 10
	}

	s.mu.RLock()
	dirty := s.isDirty
	s.mu.RUnlock()

	if dirty {
		if err := s.Sync(ctx); err != nil {
			logger.Warn().Err(err).Msg("Sync failed before recall")
		}
	}

	// Vector and keyword legs run in parallel; either may fail on its own.
	var vectorResults []vectorSearchResult
	var keywordResults []keywordSearchResult
	var vectorErr, keywordErr error

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		if s.embeddingProvider != nil {
			vectorResults, vectorErr = s.vectorSearch(ctx, q.Text, 200)
		}
	}()

	go func() {
		defer wg.Done()
		keywordResults, keywordErr = s.keywordSearch(q.Text, 200)
	}()

	wg.Wait()

	if vectorErr != nil {
		logger.Warn().Err(vectorErr).Msg("Vector recall failed, using keyword only")
	}
	if keywordErr != nil {
		logger.Warn().Err(keywordErr).Msg("Keyword recall failed, using vector only")
	}

	if vectorErr != nil && keywordErr != nil {
		return nil, fmt.Errorf("both recall methods failed")
	}

	snippets := s.mergeResults(vectorResults, keywordResults, q)
	if len(snippets) > q.Limit {
		snippets = snippets[:q.Limit]
	}

	logger.Debug().
		Str("owner_id", q.OwnerID).
		Int("snippets", len(snippets)).
		Msg("Recall completed")

	return snippets, nil
}

type vectorSearchResult struct {
	chunkID    string
	similarity float64 // cosine similarity (-1 to 1)
}

type keywordSearchResult struct {
	chunkID   string
	bm25Score float64
}

func (s *Store) vectorSearch(ctx context.Context, query string, limit int) ([]vectorSearchResult, error) {
	embedding, err := s.embeddingProvider.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to generate query embedding: %w", err)
	}

	embeddingJSON, err := json.Marshal(embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT
			chunk_id,
			vec_distance_cosine(embedding, ?) as distance
		FROM embeddings
		ORDER BY distance ASC
		LIMIT ?
	`, string(embeddingJSON), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []vectorSearchResult
	for rows.Next() {
		var chunkID string
		var distance float64
		if err := rows.Scan(&chunkID, &distance); err != nil {
			return nil, err
		}

		results = append(results, vectorSearchResult{
			chunkID:    chunkID,
			similarity: 1.0 - distance,
		})
	}

	return results, nil
}

func (s *Store) keywordSearch(query string, limit int) ([]keywordSearchResult, error) {
	rows, err := s.db.Query(`
		SELECT chunk_id, bm25(chunks_fts) as score
		FROM chunks_fts
		WHERE chunks_fts MATCH ?
		ORDER BY score
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []keywordSearchResult
	for rows.Next() {
		var chunkID string
		var score float64
		if err := rows.Scan(&chunkID, &score); err != nil {
			return nil, err
		}

		// BM25 scores are negative, convert to positive
		results = append(results, keywordSearchResult{
			chunkID:   chunkID,
			bm25Score: -score,
		})
	}

	return results, nil
}

// mergeResults combines the two legs, normalizes scores, applies the owner
// visibility filter and the minimum score threshold.
func (s *Store) mergeResults(vectorResults []vectorSearchResult, keywordResults []keywordSearchResult, q Query) []Snippet {
	const vectorWeight = 0.7
	const keywordWeight = 0.3

	vectorMap := make(map[string]float64)
	keywordMap := make(map[string]float64)

	var maxKeyword float64
	for _, r := range vectorResults {
		vectorMap[r.chunkID] = r.similarity
	}
	for _, r := range keywordResults {
		keywordMap[r.chunkID] = r.bm25Score
		if r.bm25Score > maxKeyword {
			maxKeyword = r.bm25Score
		}
	}

	chunkIDs := make(map[string]bool)
	for id := range vectorMap {
		chunkIDs[id] = true
	}
	for id := range keywordMap {
		chunkIDs[id] = true
	}

	type scoredResult struct {
		chunkID      string
		score        float64
		vectorScore  *float64
		keywordScore *float64
	}

	var scored []scoredResult
	for chunkID := range chunkIDs {
		var normalizedVector, normalizedKeyword float64

		// Map cosine similarity [-1, 1] to [0, 1].
		if vectorScore, ok := vectorMap[chunkID]; ok {
			normalizedVector = (vectorScore + 1) / 2
		}
		if keywordScore, ok := keywordMap[chunkID]; ok && maxKeyword > 0 {
			normalizedKeyword = keywordScore / maxKeyword
		}

		combinedScore := (normalizedVector * vectorWeight) + (normalizedKeyword * keywordWeight)
		if q.MinScore > 0 && combinedScore < q.MinScore {
			continue
		}

		var vecPtr, keyPtr *float64
		if _, ok := vectorMap[chunkID]; ok {
			v := normalizedVector
			vecPtr = &v
		}
		if _, ok := keywordMap[chunkID]; ok {
			k := normalizedKeyword
			keyPtr = &k
		}

		scored = append(scored, scoredResult{
			chunkID:      chunkID,
			score:        combinedScore,
			vectorScore:  vecPtr,
			keywordScore: keyPtr,
		})
	}

	sort.Slice(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	snippets := make([]Snippet, 0, len(scored))
	for _, sc := range scored {
		var content, notePath string
		var scope Scope
		err := s.db.QueryRow(`
			SELECT c.content, n.path, n.scope
			FROM chunks c
			JOIN notes n ON c.note_id = n.id
			WHERE c.id = ? AND (n.scope = 'shared' OR n.owner = ?)
		`, sc.chunkID, q.OwnerID).Scan(&content, &notePath, &scope)

		if err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				s.logger.Warn().Err(err).Str("chunk_id", sc.chunkID).Msg("Failed to fetch chunk details")
			}
			// ErrNoRows means the chunk is private to another owner.
			continue
		}

		if q.Scope != "" && scope != q.Scope {
			continue
		}

		snippets = append(snippets, Snippet{
			ID:           sc.chunkID,
			Scope:        scope,
			NotePath:     notePath,
			Text:         content,
			Score:        sc.score,
			VectorScore:  sc.vectorScore,
			KeywordScore: sc.keywordScore,
		})
	}

	return snippets
}

// Sync reindexes both note directories.
func (s *Store) Sync(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := tracing.LoggerFromContext(ctx, s.logger)

	s.mu.Lock()
	if s.isSyncing {
		s.mu.Unlock()
		return errors.New("sync already in progress")
	}
	s.isSyncing = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.isSyncing = false
		s.isDirty = false
		now := time.Now()
		s.lastSyncTime = &now
		s.mu.Unlock()
	}()

	logger.Debug().Msg("Starting note sync")
	start := time.Now()

	notes, err := s.discoverNotes()
	if err != nil {
		return err
	}

	notesIndexed := 0
	notesSkipped := 0
	chunksCreated := 0

	for _, note := range notes {
		indexed, chunks, err := s.indexNote(ctx, note)
		if err != nil {
			logger.Warn().Err(err).Str("note", note.relPath).Msg("Failed to index note")
			continue
		}
		if indexed {
			notesIndexed++
			chunksCreated += chunks
		} else {
			notesSkipped++
		}
	}

	pruned, err := s.pruneDeletedNotes(notes)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to prune deleted notes")
	}

	logger.Info().
		Int("notes_indexed", notesIndexed).
		Int("notes_skipped", notesSkipped).
		Int("chunks_created", chunksCreated).
		Int("notes_pruned", pruned).
		Dur("duration", time.Since(start)).
		Msg("Note sync completed")

	status := s.Status()
	observability.SetMemoryIndexedChunks(status.TotalChunks)

	return nil
}

type noteFile struct {
	fullPath string
	relPath  string
	scope    Scope
	owner    string
}

// discoverNotes walks both directories collecting markdown notes. Private
// notes take their owner from the first path element under the private root.
func (s *Store) discoverNotes() ([]noteFile, error) {
	var notes []noteFile

	err := filepath.WalkDir(s.sharedDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			relPath, _ := filepath.Rel(s.sharedDir, path)
			notes = append(notes, noteFile{
				fullPath: path,
				relPath:  filepath.Join("shared", relPath),
				scope:    ScopeShared,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk shared notes: %w", err)
	}

	err = filepath.WalkDir(s.privateDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			return nil
		}
		relPath, _ := filepath.Rel(s.privateDir, path)
		parts := strings.Split(filepath.ToSlash(relPath), "/")
		if len(parts) < 2 {
			// Notes directly under the private root have no owner, skip.
			return nil
		}
		notes = append(notes, noteFile{
			fullPath: path,
			relPath:  filepath.Join("private", relPath),
			scope:    ScopePrivate,
			owner:    parts[0],
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk private notes: %w", err)
	}

	return notes, nil
}

func (s *Store) indexNote(ctx context.Context, note noteFile) (bool, int, error) {
	content, err := os.ReadFile(note.fullPath)
	if err != nil {
		return false, 0, err
	}

	hash := sha256.Sum256(content)
	contentHash := hex.EncodeToString(hash[:])

	var existingHash string
	err = s.db.QueryRow("SELECT content_hash FROM notes WHERE path = ?", note.relPath).Scan(&existingHash)
	if err == nil && existingHash == contentHash {
		// Note unchanged, skip
		return false, 0, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return false, 0, err
	}
	defer tx.Rollback()

	if err := s.deleteNoteRows(tx, note.relPath); err != nil {
		return false, 0, err
	}

	stat, _ := os.Stat(note.fullPath)
	result, err := tx.Exec(
		"INSERT INTO notes (path, scope, owner, content_hash, indexed_at, size_bytes) VALUES (?, ?, ?, ?, ?, ?)",
		note.relPath, string(note.scope), note.owner, contentHash, time.Now().Unix(), stat.Size(),
	)
	if err != nil {
		return false, 0, err
	}

	noteID, _ := result.LastInsertId()

	chunks := s.chunkContent(string(content))

	for i, ch := range chunks {
		chunkID := fmt.Sprintf("%s#%d", note.relPath, i)

		_, err := tx.Exec(
			"INSERT INTO chunks (id, note_id, content, start_offset, end_offset) VALUES (?, ?, ?, ?, ?)",
			chunkID, noteID, ch.content, ch.startOffset, ch.endOffset,
		)
		if err != nil {
			return false, 0, err
		}

		_, err = tx.Exec(
			"INSERT INTO chunks_fts (chunk_id, content) VALUES (?, ?)",
			chunkID, ch.content,
		)
		if err != nil {
			return false, 0, err
		}

		if s.embeddingProvider != nil {
			if err := s.storeEmbedding(ctx, tx, chunkID, ch.content); err != nil {
				s.logger.Warn().Err(err).Str("chunk", chunkID).Msg("Failed to store embedding")
				// Keyword recall still works for this chunk.
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return false, 0, err
	}

	return true, len(chunks), nil
}

func (s *Store) storeEmbedding(ctx context.Context, tx *sql.Tx, chunkID, content string) error {
	contentHashBytes := sha256.Sum256([]byte(content))
	contentHash := hex.EncodeToString(contentHashBytes[:])

	var cachedEmbedding []byte
	err := tx.QueryRow("SELECT embedding FROM embedding_cache WHERE content_hash = ?", contentHash).Scan(&cachedEmbedding)

	var embedding []float32
	if err == nil {
		s.stats.cacheHits++
		if err := json.Unmarshal(cachedEmbedding, &embedding); err != nil {
			return fmt.Errorf("failed to unmarshal cached embedding: %w", err)
		}
	} else {
		s.stats.cacheMisses++
		embedding, err = s.embeddingProvider.GenerateEmbedding(ctx, content)
		if err != nil {
			return fmt.Errorf("failed to generate embedding: %w", err)
		}

		embeddingJSON, err := json.Marshal(embedding)
		if err != nil {
			return fmt.Errorf("failed to marshal embedding: %w", err)
		}

		_, err = tx.Exec(
			"INSERT OR REPLACE INTO embedding_cache (content_hash, embedding, dimension, created_at) VALUES (?, ?, ?, ?)",
			contentHash, embeddingJSON, len(embedding), time.Now().Unix(),
		)
		if err != nil {
			return fmt.Errorf("failed to cache embedding: %w", err)
		}
	}

	embeddingJSON, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding for storage: %w", err)
	}

	_, err = tx.Exec(
		"INSERT OR REPLACE INTO embeddings (chunk_id, embedding) VALUES (?, ?)",
		chunkID, string(embeddingJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to store embedding in vector table: %w", err)
	}

	return nil
}

type chunk struct {
	content     string
	startOffset int
	endOffset   int
}

// chunkContent splits note content into overlapping line-aligned chunks
func (s *Store) chunkContent(content string) []chunk {
	const minSize = 500
	const maxSize = 1000
	const overlap = 50

	var chunks []chunk
	lines := strings.Split(content, "\n")

	var currentChunk strings.Builder
	startOffset := 0
	currentOffset := 0

	for _, line := range lines {
		lineLen := len(line) + 1 // +1 for newline

		if currentChunk.Len() > 0 && currentChunk.Len()+lineLen > maxSize {
			chunks = append(chunks, chunk{
				content:     strings.TrimSpace(currentChunk.String()),
				startOffset: startOffset,
				endOffset:   currentOffset,
			})

			chunkText := currentChunk.String()
			if len(chunkText) > overlap {
				overlapText := chunkText[len(chunkText)-overlap:]
				currentChunk.Reset()
				currentChunk.WriteString(overlapText)
				startOffset = currentOffset - overlap
			} else {
				currentChunk.Reset()
				startOffset = currentOffset
			}
		}

		currentChunk.WriteString(line)
		currentChunk.WriteString("\n")
		currentOffset += lineLen
	}

	if currentChunk.Len() >= minSize || len(chunks) == 0 {
		if strings.TrimSpace(currentChunk.String()) != "" {
			chunks = append(chunks, chunk{
				content:     strings.TrimSpace(currentChunk.String()),
				startOffset: startOffset,
				endOffset:   currentOffset,
			})
		}
	}

	return chunks
}

func (s *Store) pruneDeletedNotes(existing []noteFile) (int, error) {
	rows, err := s.db.Query("SELECT path FROM notes")
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	existingSet := make(map[string]bool)
	for _, n := range existing {
		existingSet[n.relPath] = true
	}

	var toDelete []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return 0, err
		}
		if !existingSet[path] {
			toDelete = append(toDelete, path)
		}
	}

	for _, path := range toDelete {
		if err := s.deleteNoteRows(s.db, path); err != nil {
			return 0, err
		}
	}

	return len(toDelete), nil
}

// noteRowDeleter is satisfied by both *sql.DB and *sql.Tx.
type noteRowDeleter interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
}

// deleteNoteRows removes a note together with its chunks and derived index
// rows. chunks_fts and the vector table are virtual tables, so the
// foreign-key cascade never reaches them; their rows go one by one.
func (s *Store) deleteNoteRows(db noteRowDeleter, path string) error {
	rows, err := db.Query(
		"SELECT c.id FROM chunks c JOIN notes n ON n.id = c.note_id WHERE n.path = ?", path)
	if err != nil {
		return err
	}
	var chunkIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		chunkIDs = append(chunkIDs, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, id := range chunkIDs {
		if _, err := db.Exec("DELETE FROM chunks_fts WHERE chunk_id = ?", id); err != nil {
			return err
		}
		if s.embeddingProvider != nil {
			if _, err := db.Exec("DELETE FROM embeddings WHERE chunk_id = ?", id); err != nil {
				return err
			}
		}
	}

	if _, err := db.Exec(
		"DELETE FROM chunks WHERE note_id IN (SELECT id FROM notes WHERE path = ?)", path); err != nil {
		return err
	}
	_, err = db.Exec("DELETE FROM notes WHERE path = ?", path)
	return err
}

// Status returns current index state
func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var status Status
	status.IsDirty = s.isDirty
	status.IsSyncing = s.isSyncing
	status.LastSyncTime = s.lastSyncTime

	s.db.QueryRow("SELECT COUNT(*) FROM notes").Scan(&status.TotalNotes)
	s.db.QueryRow("SELECT COUNT(*) FROM chunks").Scan(&status.TotalChunks)

	total := s.stats.cacheHits + s.stats.cacheMisses
	if total > 0 {
		rate := float64(s.stats.cacheHits) / float64(total)
		status.EmbeddingCacheHitRate = &rate
	}

	return status
}

// MarkDirty marks the index as needing sync
func (s *Store) MarkDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isDirty = true
}

// Close stops the watcher and closes the database.
func (s *Store) Close() error {
	s.logger.Info().Msg("Closing memory store")

	if s.watcher != nil {
		s.watcher.Stop()
	}

	return s.db.Close()
}
