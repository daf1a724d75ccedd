package sink

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/so-miner/backend/internal/models"
)

const bleveBatchSize = 1000

// Bleve builds an on-disk full-text index of posts.
type Bleve struct {
	index     bleve.Index
	batch     *bleve.Batch
	path      string
	batchSize int
	written   int
	logger    *log.Logger
}

// NewBleve creates a bleve index directory at path. An existing index is
// replaced.
func NewBleve(path string, opts Options) (Sink, error) {
	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("failed to replace %s: %w", path, err)
	}
	index, err := bleve.New(path, buildPostMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create bleve index: %w", err)
	}
	return &Bleve{
		index:     index,
		batch:     index.NewBatch(),
		path:      path,
		batchSize: opts.batchSize(bleveBatchSize),
		logger:    opts.logger("[Bleve] "),
	}, nil
}

// buildPostMapping indexes prose with the standard analyzer and tags and
// snippets as exact keywords.
func buildPostMapping() *mapping.IndexMappingImpl {
	indexMapping := bleve.NewIndexMapping()

	textMapping := bleve.NewTextFieldMapping()
	textMapping.Analyzer = "standard"
	textMapping.Store = true
	textMapping.IncludeTermVectors = true

	titleMapping := bleve.NewTextFieldMapping()
	titleMapping.Analyzer = "standard"
	titleMapping.Store = true

	keywordMapping := bleve.NewTextFieldMapping()
	keywordMapping.Analyzer = "keyword"
	keywordMapping.Store = true

	codeMapping := bleve.NewTextFieldMapping()
	codeMapping.Analyzer = "keyword"
	codeMapping.Store = false

	numMapping := bleve.NewNumericFieldMapping()
	numMapping.Store = true

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("title", titleMapping)
	docMapping.AddFieldMappingsAt("body", textMapping)
	docMapping.AddFieldMappingsAt("tags", keywordMapping)
	docMapping.AddFieldMappingsAt("snippets", codeMapping)
	docMapping.AddFieldMappingsAt("post_type_id", numMapping)
	docMapping.AddFieldMappingsAt("score", numMapping)
	docMapping.AddFieldMappingsAt("parent_id", numMapping)

	indexMapping.DefaultMapping = docMapping
	return indexMapping
}

func postToDocument(p *models.Post) map[string]interface{} {
	doc := map[string]interface{}{
		"title":        p.Title,
		"body":         p.Body,
		"tags":         p.TagList(),
		"snippets":     p.Snippets,
		"post_type_id": p.PostTypeID,
		"score":        p.Score,
	}
	if p.ParentID != 0 {
		doc["parent_id"] = p.ParentID
	}
	return doc
}

// Write adds p to the pending batch and executes a full batch.
func (b *Bleve) Write(ctx context.Context, p *models.Post) error {
	id := strconv.Itoa(p.ID)
	if err := b.batch.Index(id, postToDocument(p)); err != nil {
		return fmt.Errorf("failed to add post %s to batch: %w", id, err)
	}
	if b.batch.Size() >= b.batchSize {
		return b.flushBatch(ctx)
	}
	return nil
}

func (b *Bleve) flushBatch(ctx context.Context) error {
	if b.batch.Size() == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	n := b.batch.Size()
	if err := b.index.Batch(b.batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	b.written += n
	b.batch.Reset()
	return nil
}

// Close executes the remaining batch and closes the index.
func (b *Bleve) Close() error {
	if b.index == nil {
		return nil
	}
	err := b.flushBatch(context.Background())
	if cerr := b.index.Close(); err == nil {
		err = cerr
	}
	b.index = nil
	if err == nil {
		b.logger.Printf("Indexed %d posts into %s", b.written, b.path)
	}
	return err
}
