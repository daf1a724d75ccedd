package miner

import (
	"github.com/so-miner/backend/internal/models"
	"github.com/so-miner/backend/internal/snippet"
)

// ToPost copies the fields of rec into a Post that may outlive the dispatch.
func ToPost(rec *Record) *models.Post {
	return &models.Post{
		ID:               rec.ID(),
		ParentID:         rec.ParentID(),
		PostTypeID:       rec.PostTypeID(),
		AcceptedAnswerID: rec.AcceptedAnswerID(),
		Score:            rec.Score(),
		Title:            rec.Title(),
		Body:             rec.Body(),
		Tags:             rec.Tags(),
		CreationDate:     rec.CreationDate(),
		Snippets:         snippet.Sorted(rec.CodeSnippets()),
	}
}
