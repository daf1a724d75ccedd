// Package models contains domain types for the Stack Overflow dump miner.
package models

import "strings"

// Post is the flattened form of one dump record, used by export sinks.
type Post struct {
	ID               int      `json:"id" msgpack:"id"`
	ParentID         int      `json:"parentId,omitempty" msgpack:"parentId"`
	PostTypeID       int      `json:"postTypeId" msgpack:"postTypeId"`
	AcceptedAnswerID int      `json:"acceptedAnswerId,omitempty" msgpack:"acceptedAnswerId"`
	Score            int      `json:"score" msgpack:"score"`
	Title            string   `json:"title,omitempty" msgpack:"title"`
	Body             string   `json:"body" msgpack:"body"`
	Tags             string   `json:"tags,omitempty" msgpack:"tags"`
	CreationDate     string   `json:"creationDate" msgpack:"creationDate"`
	Snippets         []string `json:"snippets,omitempty" msgpack:"snippets"`
}

// IsQuestion reports whether the post is a question (PostTypeId 1).
func (p *Post) IsQuestion() bool {
	return p.PostTypeID == 1
}

// TagList splits the dump's "<a><b>" tag encoding into its names.
func (p *Post) TagList() []string {
	if p.Tags == "" {
		return nil
	}
	var tags []string
	for _, t := range strings.Split(p.Tags, ">") {
		t = strings.TrimPrefix(t, "<")
		if t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
