package sink

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"

	"github.com/so-miner/backend/internal/models"
)

const sqliteBatchSize = 5000

var sqliteSchema = []string{
	`CREATE TABLE posts (
		id                 INTEGER PRIMARY KEY,
		parent_id          INTEGER,
		post_type_id       INTEGER NOT NULL,
		accepted_answer_id INTEGER,
		score              INTEGER NOT NULL,
		title              TEXT,
		body               TEXT,
		tags               TEXT,
		creation_date      TEXT
	)`,
	`CREATE TABLE snippets (
		post_id INTEGER NOT NULL REFERENCES posts(id),
		code    TEXT NOT NULL
	)`,
}

// SQLite writes posts to a SQLite database in batched transactions.
type SQLite struct {
	db        *sql.DB
	dbPath    string
	batchSize int
	batch     []*models.Post
	written   int
	dropped   int
	logger    *log.Logger
}

// NewSQLite creates a SQLite database at dbPath. An existing file is replaced.
func NewSQLite(dbPath string, opts Options) (Sink, error) {
	if err := os.Remove(dbPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to replace %s: %w", dbPath, err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	for _, stmt := range append([]string{"PRAGMA journal_mode = WAL", "PRAGMA synchronous = OFF"}, sqliteSchema...) {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}

	size := opts.batchSize(sqliteBatchSize)
	return &SQLite{
		db:        db,
		dbPath:    dbPath,
		batchSize: size,
		batch:     make([]*models.Post, 0, size),
		logger:    opts.logger("[SQLite] "),
	}, nil
}

// Write buffers p and commits a full batch.
func (s *SQLite) Write(ctx context.Context, p *models.Post) error {
	s.batch = append(s.batch, p)
	if len(s.batch) >= s.batchSize {
		return s.flushBatch(ctx)
	}
	return nil
}

// flushBatch commits the batch and empties it. A failed batch is rolled back
// and dropped so later batches do not retry it.
func (s *SQLite) flushBatch(ctx context.Context) error {
	if len(s.batch) == 0 {
		return nil
	}
	err := s.commit(ctx)
	if err != nil {
		s.dropped += len(s.batch)
		s.logger.Printf("ERROR: dropped batch of %d posts: %v", len(s.batch), err)
	} else {
		s.written += len(s.batch)
	}
	s.batch = s.batch[:0]
	return err
}

func (s *SQLite) commit(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op after commit

	postSQL, _, err := sq.Insert("posts").
		Columns("id", "parent_id", "post_type_id", "accepted_answer_id", "score", "title", "body", "tags", "creation_date").
		Options("OR REPLACE").
		Values(0, 0, 0, 0, 0, "", "", "", "").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build SQL: %w", err)
	}
	snippetSQL, _, err := sq.Insert("snippets").Columns("post_id", "code").Values(0, "").ToSql()
	if err != nil {
		return fmt.Errorf("failed to build SQL: %w", err)
	}

	postStmt, err := tx.PrepareContext(ctx, postSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer postStmt.Close()
	snippetStmt, err := tx.PrepareContext(ctx, snippetSQL)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer snippetStmt.Close()

	for _, p := range s.batch {
		_, err := postStmt.ExecContext(ctx,
			p.ID,
			nullInt(p.ParentID),
			p.PostTypeID,
			nullInt(p.AcceptedAnswerID),
			p.Score,
			p.Title,
			p.Body,
			p.Tags,
			p.CreationDate,
		)
		if err != nil {
			return fmt.Errorf("failed to insert post %d: %w", p.ID, err)
		}
		for _, code := range p.Snippets {
			if _, err := snippetStmt.ExecContext(ctx, p.ID, code); err != nil {
				return fmt.Errorf("failed to insert snippet of post %d: %w", p.ID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// Close commits remaining posts, indexes parent links and closes the database.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	defer func() {
		s.db.Close()
		s.db = nil
	}()

	if err := s.flushBatch(context.Background()); err != nil {
		return err
	}
	if _, err := s.db.Exec("CREATE INDEX idx_posts_parent ON posts(parent_id)"); err != nil {
		return fmt.Errorf("idx_posts_parent creation failed: %w", err)
	}
	if _, err := s.db.Exec("CREATE INDEX idx_snippets_post ON snippets(post_id)"); err != nil {
		return fmt.Errorf("idx_snippets_post creation failed: %w", err)
	}
	s.logger.Printf("Wrote %d posts to %s (%d dropped)", s.written, s.dbPath, s.dropped)
	return nil
}

// nullInt stores 0 as NULL; the dump uses absent attributes for missing links.
func nullInt(n int) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(n), Valid: n != 0}
}
