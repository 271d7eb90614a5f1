package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-kivik/kivik/v4"

	"collabdraft-server/internal/domain"
)

type ChangeRepository interface {
	BulkInsert(ctx context.Context, changes []*domain.DocumentChange) error
	ListByDocument(ctx context.Context, documentID string) ([]*domain.DocumentChange, error)
	ListSince(ctx context.Context, documentID string, since time.Time) ([]*domain.DocumentChange, error)
}

type changeRepo struct {
	client *kivik.Client
	dbName string
}

func NewChangeRepository(client *kivik.Client, dbName string) ChangeRepository {
	return &changeRepo{client: client, dbName: dbName}
}

type changeDoc struct {
	ID string `json:"_id"`
	*domain.DocumentChange
}

// BulkInsert writes one batch atomically from the caller's point of view.
// Document ids embed the authoring timestamp so CouchDB's key order preserves
// the per-document change order.
func (r *changeRepo) BulkInsert(ctx context.Context, changes []*domain.DocumentChange) error {
	if len(changes) == 0 {
		return nil
	}

	db := r.client.DB(r.dbName)

	docs := make([]interface{}, len(changes))
	for i, ch := range changes {
		docs[i] = &changeDoc{
			ID:             changeDocID(ch),
			DocumentChange: ch,
		}
	}

	results, err := db.BulkDocs(ctx, docs)
	if err != nil {
		return fmt.Errorf("bulk insert changes: %w", err)
	}

	for _, res := range results {
		if res.Error != nil {
			return fmt.Errorf("bulk insert changes: doc %s: %w", res.ID, res.Error)
		}
	}

	return nil
}

func (r *changeRepo) ListByDocument(ctx context.Context, documentID string) ([]*domain.DocumentChange, error) {
	return r.list(ctx, documentID, time.Time{})
}

func (r *changeRepo) ListSince(ctx context.Context, documentID string, since time.Time) ([]*domain.DocumentChange, error) {
	return r.list(ctx, documentID, since)
}

func (r *changeRepo) list(ctx context.Context, documentID string, since time.Time) ([]*domain.DocumentChange, error) {
	db := r.client.DB(r.dbName)

	rows := db.AllDocs(ctx, kivik.Params(map[string]interface{}{
		"include_docs": true,
		"startkey":     fmt.Sprintf("change:%s:", documentID),
		"endkey":       fmt.Sprintf("change:%s:\ufff0", documentID),
	}))
	defer rows.Close()

	var changes []*domain.DocumentChange
	for rows.Next() {
		var ch domain.DocumentChange
		if err := rows.ScanDoc(&ch); err != nil {
			return nil, fmt.Errorf("scan change doc: %w", err)
		}
		if !since.IsZero() && !ch.CreatedAt.After(since) {
			continue
		}
		changes = append(changes, &ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list changes for %s: %w", documentID, err)
	}

	return changes, nil
}

func changeDocID(ch *domain.DocumentChange) string {
	return fmt.Sprintf("change:%s:%020d:%s", ch.DocumentID, ch.CreatedAt.UnixNano(), ch.ID)
}
