package knowledge

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/blevesearch/bleve"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore keeps retained documents in SQLite and ranks them with an
// in-memory bleve index rebuilt from the database on open. It is safe for
// concurrent use.
type SQLiteStore struct {
	db        *sql.DB
	index     bleve.Index
	threshold float64
	topK      int
	strategy  string
	logger    *slog.Logger

	mu        sync.RWMutex
	summaries map[string]string // document id -> summary
	chunks    map[string]chunk  // chunk id -> chunk
}

type chunk struct {
	docID string
	text  string
}

// SQLiteOptions tune retrieval.
type SQLiteOptions struct {
	// Threshold is the minimum bleve score a chunk needs to be returned.
	Threshold float64
	// TopK is the maximum number of documents returned. Zero means 5.
	TopK int
	// Strategy is the chunking strategy, StrategyFixed or StrategySmart.
	Strategy string
	Logger   *slog.Logger
}

// NewSQLiteStore opens (or creates) the knowledge database at dbPath.
func NewSQLiteStore(dbPath string, opts SQLiteOptions) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	s, err := NewSQLiteStoreWithDB(db, opts)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStoreWithDB creates a store using an existing database
// connection.
func NewSQLiteStoreWithDB(db *sql.DB, opts SQLiteOptions) (*SQLiteStore, error) {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}

	s := &SQLiteStore{
		db:        db,
		index:     index,
		threshold: opts.Threshold,
		topK:      opts.TopK,
		strategy:  opts.Strategy,
		logger:    opts.Logger,
		summaries: make(map[string]string),
		chunks:    make(map[string]chunk),
	}
	if err := s.migrate(); err != nil {
		index.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := s.load(); err != nil {
		index.Close()
		return nil, fmt.Errorf("load index: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS documents (
			id           TEXT PRIMARY KEY,
			content_hash TEXT NOT NULL UNIQUE,
			summary      TEXT NOT NULL,
			created_at   TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS chunks (
			id          TEXT PRIMARY KEY,
			document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			seq         INTEGER NOT NULL,
			text        TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);
	`)
	return err
}

// load indexes every stored chunk.
func (s *SQLiteStore) load() error {
	rows, err := s.db.Query(`
		SELECT c.id, c.document_id, c.text, d.summary
		FROM chunks c JOIN documents d ON d.id = c.document_id
		ORDER BY d.created_at, c.seq
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	batch := s.index.NewBatch()
	for rows.Next() {
		var id, docID, text, summary string
		if err := rows.Scan(&id, &docID, &text, &summary); err != nil {
			return err
		}
		s.summaries[docID] = summary
		s.chunks[id] = chunk{docID: docID, text: text}
		if err := batch.Index(id, indexedChunk(text)); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if err := s.index.Batch(batch); err != nil {
		return err
	}
	s.logger.Debug("knowledge index loaded", "documents", len(s.summaries), "chunks", len(s.chunks))
	return nil
}

func indexedChunk(text string) map[string]any {
	return map[string]any{"text": text}
}

// Store saves text as a new document. Markdown is reduced to plain text
// first. Text already stored (after normalisation) is ignored.
func (s *SQLiteStore) Store(ctx context.Context, raw string) error {
	summary := PlainText(raw)
	if summary == "" {
		return nil
	}
	sum := sha256.Sum256([]byte(summary))
	hash := hex.EncodeToString(sum[:])

	docID, _ := uuid.NewV7()
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO documents (id, content_hash, summary, created_at)
		VALUES (?, ?, ?, ?)
	`, docID.String(), hash, summary, now.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		s.logger.Debug("knowledge already stored", "hash", hash[:12])
		return nil
	}

	parts := Split(summary, s.strategy)
	ids := make([]string, len(parts))
	for i, part := range parts {
		id, _ := uuid.NewV7()
		ids[i] = id.String()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chunks (id, document_id, seq, text) VALUES (?, ?, ?, ?)
		`, ids[i], docID.String(), i, part); err != nil {
			return fmt.Errorf("insert chunk: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[docID.String()] = summary
	batch := s.index.NewBatch()
	for i, part := range parts {
		s.chunks[ids[i]] = chunk{docID: docID.String(), text: part}
		if err := batch.Index(ids[i], indexedChunk(part)); err != nil {
			return fmt.Errorf("index chunk: %w", err)
		}
	}
	if err := s.index.Batch(batch); err != nil {
		return fmt.Errorf("index chunk: %w", err)
	}

	s.logger.Info("knowledge stored", "document", docID, "chunks", len(parts))
	return nil
}

// Retrieve returns up to TopK documents whose chunks match query with a
// score of at least Threshold. Matching chunks are grouped under their
// document in rank order.
func (s *SQLiteStore) Retrieve(ctx context.Context, query string) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q := bleve.NewMatchQuery(query)
	q.SetField("text")
	req := bleve.NewSearchRequestOptions(q, s.topK*3, 0, false)

	res, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var docs []Document
	pos := make(map[string]int)
	for _, hit := range res.Hits {
		if hit.Score < s.threshold {
			continue
		}
		c, ok := s.chunks[hit.ID]
		if !ok {
			continue
		}
		i, seen := pos[c.docID]
		if !seen {
			if len(docs) >= s.topK {
				continue
			}
			i = len(docs)
			pos[c.docID] = i
			docs = append(docs, Document{Summary: s.summaries[c.docID]})
		}
		docs[i].Chunks = append(docs[i].Chunks, c.text)
	}
	return docs, nil
}

// Count returns the number of stored documents.
func (s *SQLiteStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.summaries)
}

// Close closes the index and the database.
func (s *SQLiteStore) Close() error {
	s.index.Close()
	return s.db.Close()
}
