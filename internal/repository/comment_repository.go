package repository

import (
	"context"
	"fmt"

	"github.com/go-kivik/kivik/v4"

	"collabdraft-server/internal/domain"
)

type CommentRepository interface {
	Insert(ctx context.Context, comment *domain.CollaborativeComment) error
	Update(ctx context.Context, comment *domain.CollaborativeComment) error
	ListByDocument(ctx context.Context, documentID string) ([]*domain.CollaborativeComment, error)
}

type commentRepo struct {
	client *kivik.Client
	dbName string
}

func NewCommentRepository(client *kivik.Client, dbName string) CommentRepository {
	return &commentRepo{client: client, dbName: dbName}
}

type commentDoc struct {
	ID  string `json:"_id"`
	Rev string `json:"_rev,omitempty"`
	*domain.CollaborativeComment
}

func (r *commentRepo) Insert(ctx context.Context, comment *domain.CollaborativeComment) error {
	db := r.client.DB(r.dbName)

	doc := &commentDoc{
		ID:                   commentDocID(comment),
		CollaborativeComment: comment,
	}

	if _, err := db.Put(ctx, doc.ID, doc); err != nil {
		return fmt.Errorf("insert comment %s: %w", comment.ID, err)
	}
	return nil
}

// Update rewrites the full comment thread document (replies, reactions and
// the resolved flag all live on the root comment).
func (r *commentRepo) Update(ctx context.Context, comment *domain.CollaborativeComment) error {
	db := r.client.DB(r.dbName)
	docID := commentDocID(comment)

	var existing commentDoc
	row := db.Get(ctx, docID)
	if err := row.ScanDoc(&existing); err != nil {
		return fmt.Errorf("fetch comment %s: %w", comment.ID, err)
	}

	doc := &commentDoc{
		ID:                   docID,
		Rev:                  existing.Rev,
		CollaborativeComment: comment,
	}

	if _, err := db.Put(ctx, docID, doc); err != nil {
		return fmt.Errorf("update comment %s: %w", comment.ID, err)
	}
	return nil
}

func (r *commentRepo) ListByDocument(ctx context.Context, documentID string) ([]*domain.CollaborativeComment, error) {
	db := r.client.DB(r.dbName)

	rows := db.AllDocs(ctx, kivik.Params(map[string]interface{}{
		"include_docs": true,
		"startkey":     fmt.Sprintf("comment:%s:", documentID),
		"endkey":       fmt.Sprintf("comment:%s:\ufff0", documentID),
	}))
	defer rows.Close()

	var comments []*domain.CollaborativeComment
	for rows.Next() {
		var c domain.CollaborativeComment
		if err := rows.ScanDoc(&c); err != nil {
			return nil, fmt.Errorf("scan comment doc: %w", err)
		}
		comments = append(comments, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list comments for %s: %w", documentID, err)
	}

	return comments, nil
}

func commentDocID(c *domain.CollaborativeComment) string {
	return fmt.Sprintf("comment:%s:%s", c.DocumentID, c.ID)
}
