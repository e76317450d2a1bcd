package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Document is a decoded snapshot with its metadata.
type Document[T any] struct {
	ID         string
	Data       T
	CreateTime time.Time
	UpdateTime time.Time
}

// QueryBuilder narrows a collection query.
type QueryBuilder func(query firestore.Query) firestore.Query

// BaseRepository gives typed access to one collection. T is the storage struct carrying
// firestore tags, not the domain type.
type BaseRepository[T any] struct {
	provider   *Provider
	collection string
}

// NewBaseRepository binds a repository to collection.
func NewBaseRepository[T any](provider *Provider, collection string) *BaseRepository[T] {
	return &BaseRepository[T]{provider: provider, collection: strings.TrimSpace(collection)}
}

// Collection returns the collection name.
func (r *BaseRepository[T]) Collection() string { return r.collection }

// Get loads one document.
func (r *BaseRepository[T]) Get(ctx context.Context, id string) (Document[T], error) {
	ref, err := r.DocumentRef(ctx, id)
	if err != nil {
		return Document[T]{}, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return Document[T]{}, WrapError(r.op("get"), err)
	}
	return decode[T](snap)
}

// Create writes value only when id does not exist. An existing document yields a conflict error.
func (r *BaseRepository[T]) Create(ctx context.Context, id string, value T) error {
	ref, err := r.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, value); err != nil {
		return WrapError(r.op("create"), err)
	}
	return nil
}

// Set upserts value under id.
func (r *BaseRepository[T]) Set(ctx context.Context, id string, value T, opts ...firestore.SetOption) error {
	ref, err := r.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Set(ctx, value, opts...); err != nil {
		return WrapError(r.op("set"), err)
	}
	return nil
}

// Query runs build against the collection and decodes every result.
func (r *BaseRepository[T]) Query(ctx context.Context, build QueryBuilder) ([]Document[T], error) {
	coll, err := r.collectionRef(ctx)
	if err != nil {
		return nil, err
	}
	query := coll.Query
	if build != nil {
		query = build(query)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var docs []Document[T]
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return docs, nil
		}
		if err != nil {
			return nil, WrapError(r.op("query"), err)
		}
		doc, err := decode[T](snap)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
}

// First runs build and returns the first match, or a not-found error.
func (r *BaseRepository[T]) First(ctx context.Context, op string, build QueryBuilder) (Document[T], error) {
	docs, err := r.Query(ctx, func(q firestore.Query) firestore.Query {
		if build != nil {
			q = build(q)
		}
		return q.Limit(1)
	})
	if err != nil {
		return Document[T]{}, err
	}
	if len(docs) == 0 {
		return Document[T]{}, NotFoundError(r.op(op))
	}
	return docs[0], nil
}

// Count runs an aggregation count over the query.
func (r *BaseRepository[T]) Count(ctx context.Context, build QueryBuilder) (int64, error) {
	coll, err := r.collectionRef(ctx)
	if err != nil {
		return 0, err
	}
	query := coll.Query
	if build != nil {
		query = build(query)
	}
	result, err := query.NewAggregationQuery().WithCount("count").Get(ctx)
	if err != nil {
		return 0, WrapError(r.op("count"), err)
	}
	value, ok := result["count"]
	if !ok {
		return 0, nil
	}
	switch v := value.(type) {
	case int64:
		return v, nil
	case interface{ GetIntegerValue() int64 }:
		return v.GetIntegerValue(), nil
	default:
		return 0, fmt.Errorf("firestore: unexpected count type %T", value)
	}
}

// UpdateAll applies the same updates to every id through a BulkWriter and returns how
// many writes succeeded.
func (r *BaseRepository[T]) UpdateAll(ctx context.Context, ids []string, updates []firestore.Update) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	writer := client.BulkWriter(ctx)
	jobs := make([]*firestore.BulkWriterJob, 0, len(ids))
	for _, id := range ids {
		job, err := writer.Update(client.Collection(r.collection).Doc(id), updates)
		if err != nil {
			writer.End()
			return 0, WrapError(r.op("bulk_update"), err)
		}
		jobs = append(jobs, job)
	}
	writer.End()

	var firstErr error
	updated := 0
	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			if firstErr == nil {
				firstErr = WrapError(r.op("bulk_update"), err)
			}
			continue
		}
		updated++
	}
	return updated, firstErr
}

// DocumentRef returns the reference for id, for use inside transactions.
func (r *BaseRepository[T]) DocumentRef(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, WrapError(r.op("document"), errors.New("firestore: document id is required"))
	}
	coll, err := r.collectionRef(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

func (r *BaseRepository[T]) collectionRef(ctx context.Context) (*firestore.CollectionRef, error) {
	if r.collection == "" {
		return nil, errors.New("firestore: collection name is required")
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(r.collection), nil
}

func (r *BaseRepository[T]) op(action string) string {
	return r.collection + "." + action
}

func decode[T any](snap *firestore.DocumentSnapshot) (Document[T], error) {
	var data T
	if err := snap.DataTo(&data); err != nil {
		return Document[T]{}, fmt.Errorf("firestore: decode %s: %w", snap.Ref.Path, err)
	}
	return Document[T]{
		ID:         snap.Ref.ID,
		Data:       data,
		CreateTime: snap.CreateTime,
		UpdateTime: snap.UpdateTime,
	}, nil
}
