package resolver

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/vvakame/shelfql/internal/apperr"
	"github.com/vvakame/shelfql/internal/model"
	"github.com/vvakame/shelfql/internal/store"
)

const (
	defaultLoaderWait     = 2 * time.Millisecond
	defaultLoaderMaxBatch = 100
)

type AuthorFinder interface {
	FindAuthorsByIDs(ctx context.Context, ids []string) ([]*model.Author, error)
}

// AuthorLoader collects the author ids requested within a short window and
// fetches them with one FindAuthorsByIDs call. Results are cached for the
// lifetime of the loader, which is one operation.
type AuthorLoader struct {
	finder  AuthorFinder
	loader  *dataloader.Loader[string, *model.Author]
	batches int64
}

type authorLoaderKey struct{}

func NewAuthorLoader(finder AuthorFinder) *AuthorLoader {
	return newAuthorLoader(finder, defaultLoaderWait, defaultLoaderMaxBatch)
}

func newAuthorLoader(finder AuthorFinder, wait time.Duration, maxBatch int) *AuthorLoader {
	l := &AuthorLoader{finder: finder}
	l.loader = dataloader.NewBatchedLoader(
		l.fetch,
		dataloader.WithWait[string, *model.Author](wait),
		dataloader.WithBatchCapacity[string, *model.Author](maxBatch),
	)
	return l
}

func WithAuthorLoader(ctx context.Context, loader *AuthorLoader) context.Context {
	return context.WithValue(ctx, authorLoaderKey{}, loader)
}

func AuthorLoaderFromContext(ctx context.Context) *AuthorLoader {
	loader, _ := ctx.Value(authorLoaderKey{}).(*AuthorLoader)
	return loader
}

// Load returns the author with the given id. Concurrent calls for the same id
// share one lookup.
func (l *AuthorLoader) Load(ctx context.Context, id string) (*model.Author, error) {
	return l.loader.Load(ctx, id)()
}

// Batches reports how many store round trips the loader made.
func (l *AuthorLoader) Batches() int {
	return int(atomic.LoadInt64(&l.batches))
}

func (l *AuthorLoader) fetch(ctx context.Context, ids []string) []*dataloader.Result[*model.Author] {
	atomic.AddInt64(&l.batches, 1)

	results := make([]*dataloader.Result[*model.Author], len(ids))

	authors, err := l.finder.FindAuthorsByIDs(ctx, ids)
	if err != nil {
		err = apperr.Internal("load authors", err)
		for i := range results {
			results[i] = &dataloader.Result[*model.Author]{Error: err}
		}
		return results
	}

	byID := make(map[string]*model.Author, len(authors))
	for _, author := range authors {
		byID[author.ID] = author
	}
	for i, id := range ids {
		author := byID[id]
		if author == nil {
			results[i] = &dataloader.Result[*model.Author]{
				Error: apperr.Internal("load authors", fmt.Errorf("author %q: %w", id, store.ErrNotFound)),
			}
			continue
		}
		results[i] = &dataloader.Result[*model.Author]{Data: author}
	}
	return results
}
