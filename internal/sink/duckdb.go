package sink

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/marcboeker/go-duckdb"
	"github.com/so-miner/backend/internal/models"
)

const duckBatchSize = 50000

// DuckDB appends posts to a DuckDB database file.
type DuckDB struct {
	db        *sql.DB
	dbPath    string
	batchSize int
	batch     []*models.Post
	written   int
	dropped   int
	batches   int
	logger    *log.Logger
}

// NewDuckDB creates a DuckDB database at dbPath with posts and snippets tables.
// An existing file at dbPath is replaced.
func NewDuckDB(dbPath string, opts Options) (Sink, error) {
	logger := opts.logger("[DuckDB] ")
	if err := os.Remove(dbPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to replace %s: %w", dbPath, err)
	}

	connector, err := duckdb.NewConnector(dbPath, func(execer driver.ExecerContext) error {
		pragmas := []string{
			"PRAGMA memory_limit='1GB'",
			"PRAGMA threads=4",
			"PRAGMA enable_progress_bar=false",
		}
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}

	db := sql.OpenDB(connector)
	tables := []string{`
		CREATE TABLE posts (
			id                 INTEGER NOT NULL,
			parent_id          INTEGER,
			post_type_id       INTEGER NOT NULL,
			accepted_answer_id INTEGER,
			score              INTEGER NOT NULL,
			title              VARCHAR,
			body               VARCHAR,
			tags               VARCHAR,
			creation_date      VARCHAR
		)`, `
		CREATE TABLE snippets (
			post_id INTEGER NOT NULL,
			code    VARCHAR NOT NULL
		)`,
	}
	for _, ddl := range tables {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			os.Remove(dbPath)
			return nil, fmt.Errorf("failed to create tables: %w", err)
		}
	}

	// Indexes are created in Close, after all inserts.
	logger.Printf("Writing posts to %s", dbPath)
	size := opts.batchSize(duckBatchSize)
	return &DuckDB{
		db:        db,
		dbPath:    dbPath,
		batchSize: size,
		batch:     make([]*models.Post, 0, size),
		logger:    logger,
	}, nil
}

// Write buffers p and flushes a full batch.
func (d *DuckDB) Write(ctx context.Context, p *models.Post) error {
	d.batch = append(d.batch, p)
	if len(d.batch) >= d.batchSize {
		return d.flushBatch(ctx)
	}
	return nil
}

// flushBatch writes the current batch and empties it. A failed batch is
// dropped and counted; rows the appender flushed before the error stay.
func (d *DuckDB) flushBatch(ctx context.Context) error {
	if len(d.batch) == 0 {
		return nil
	}
	d.batches++
	start := time.Now()
	err := d.appendBatch(ctx)
	if err != nil {
		d.dropped += len(d.batch)
		d.logger.Printf("ERROR: batch %d (%d posts) dropped: %v", d.batches, len(d.batch), err)
	} else {
		d.written += len(d.batch)
		d.logger.Printf("Batch %d (%d posts) complete in %v", d.batches, len(d.batch), time.Since(start))
	}
	d.batch = d.batch[:0]
	return err
}

// appendBatch writes the batch with the native Appender API.
func (d *DuckDB) appendBatch(ctx context.Context) error {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	err = conn.Raw(func(driverConn interface{}) error {
		dConn, ok := driverConn.(driver.Conn)
		if !ok {
			return fmt.Errorf("failed to cast to duckdb.Conn")
		}

		posts, err := duckdb.NewAppenderFromConn(dConn, "", "posts")
		if err != nil {
			return fmt.Errorf("failed to create posts appender: %w", err)
		}
		defer posts.Close()
		snippets, err := duckdb.NewAppenderFromConn(dConn, "", "snippets")
		if err != nil {
			return fmt.Errorf("failed to create snippets appender: %w", err)
		}
		defer snippets.Close()

		// Record.Int keeps ids and scores within int32.
		for _, p := range d.batch {
			err := posts.AppendRow(
				int32(p.ID),
				int32(p.ParentID),
				int32(p.PostTypeID),
				int32(p.AcceptedAnswerID),
				int32(p.Score),
				p.Title,
				p.Body,
				p.Tags,
				p.CreationDate,
			)
			if err != nil {
				return fmt.Errorf("failed to append post %d: %w", p.ID, err)
			}
			for _, code := range p.Snippets {
				if err := snippets.AppendRow(int32(p.ID), code); err != nil {
					return fmt.Errorf("failed to append snippet of post %d: %w", p.ID, err)
				}
			}
		}

		if err := posts.Flush(); err != nil {
			return err
		}
		return snippets.Flush()
	})
	if err != nil {
		return fmt.Errorf("appender error: %w", err)
	}
	return nil
}

// Close flushes remaining posts, creates indexes and closes the database.
// The database file is kept.
func (d *DuckDB) Close() error {
	if d.db == nil {
		return nil
	}
	defer func() {
		d.db.Close()
		d.db = nil
	}()

	if err := d.flushBatch(context.Background()); err != nil {
		return err
	}
	if _, err := d.db.Exec("CREATE INDEX idx_posts_id ON posts(id)"); err != nil {
		return fmt.Errorf("idx_posts_id creation failed: %w", err)
	}
	if _, err := d.db.Exec("CREATE INDEX idx_posts_parent ON posts(parent_id)"); err != nil {
		return fmt.Errorf("idx_posts_parent creation failed: %w", err)
	}
	d.logger.Printf("Wrote %d posts to %s (%d dropped)", d.written, d.dbPath, d.dropped)
	return nil
}
