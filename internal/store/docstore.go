package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteDocStore persists full document content and index metadata in a
// single SQLite file next to the vector and keyword indexes.
type SQLiteDocStore struct {
	db *sql.DB
}

var _ DocStore = (*SQLiteDocStore)(nil)

// NewSQLiteDocStore opens (or creates) the document database at dbPath.
func NewSQLiteDocStore(dbPath string) (*SQLiteDocStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &SQLiteDocStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteDocStore) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			parent_id TEXT,
			page_path TEXT NOT NULL,
			space_key TEXT NOT NULL,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_page_path ON documents(page_path)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_parent_id ON documents(parent_id)`,
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// SaveDocuments upserts documents in a single transaction.
func (s *SQLiteDocStore) SaveDocuments(ctx context.Context, docs []*Document) error {
	if len(docs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO documents
		(id, parent_id, page_path, space_key, title, content, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			parent_id = excluded.parent_id,
			page_path = excluded.page_path,
			space_key = excluded.space_key,
			title = excluded.title,
			content = excluded.content,
			metadata = excluded.metadata`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, doc := range docs {
		metaJSON, err := marshalMetadata(doc.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata for %s: %w", doc.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			doc.ID, nullable(doc.ParentID), doc.PagePath, doc.SpaceKey,
			doc.Title, doc.Content, metaJSON); err != nil {
			return fmt.Errorf("failed to save document %s: %w", doc.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// GetDocument returns a document by id, or sql.ErrNoRows if absent.
func (s *SQLiteDocStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, parent_id, page_path, space_key, title, content, metadata
		FROM documents WHERE id = ?`, id)
	return scanDocument(row)
}

// GetDocuments returns the documents for the given ids, preserving input
// order. Ids with no stored document are skipped.
func (s *SQLiteDocStore) GetDocuments(ctx context.Context, ids []string) ([]*Document, error) {
	docs := make([]*Document, 0, len(ids))
	for _, id := range ids {
		doc, err := s.GetDocument(ctx, id)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// CountDocuments returns the total number of stored documents.
func (s *SQLiteDocStore) CountDocuments(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return count, nil
}

// CountPages returns the number of distinct source pages.
func (s *SQLiteDocStore) CountPages(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT page_path) FROM documents`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count pages: %w", err)
	}
	return count, nil
}

// GetMeta returns the metadata value for key, or "" if unset.
func (s *SQLiteDocStore) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read meta %s: %w", key, err)
	}
	return value, nil
}

// SetMeta upserts a metadata key.
func (s *SQLiteDocStore) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set meta %s: %w", key, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteDocStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var doc Document
	var parentID sql.NullString
	var metaJSON sql.NullString
	if err := row.Scan(&doc.ID, &parentID, &doc.PagePath, &doc.SpaceKey,
		&doc.Title, &doc.Content, &metaJSON); err != nil {
		return nil, err
	}
	if parentID.Valid {
		doc.ParentID = parentID.String
	}
	if metaJSON.Valid && metaJSON.String != "" {
		if err := json.Unmarshal([]byte(metaJSON.String), &doc.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata for %s: %w", doc.ID, err)
		}
	}
	return &doc, nil
}

func marshalMetadata(meta map[string]string) (string, error) {
	if len(meta) == 0 {
		return "", nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
