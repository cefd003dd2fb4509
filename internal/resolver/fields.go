package resolver

import (
	"context"

	"github.com/vvakame/shelfql/internal/apperr"
	"github.com/vvakame/shelfql/internal/model"
	"github.com/vvakame/shelfql/internal/store"
)

// Author prefers the author carried by the book and otherwise goes through
// the request's AuthorLoader.
func (r *bookResolver) Author(ctx context.Context, obj *model.Book) (*model.Author, error) {
	if obj.Author != nil {
		return obj.Author, nil
	}

	if loader := AuthorLoaderFromContext(ctx); loader != nil {
		return loader.Load(ctx, obj.AuthorID)
	}

	authors, err := r.store.FindAuthorsByIDs(ctx, []string{obj.AuthorID})
	if err != nil {
		return nil, apperr.Internal("find author of book", err)
	}
	if len(authors) == 0 {
		return nil, apperr.Internal("find author of book", store.ErrNotFound)
	}
	return authors[0], nil
}

// BookCount uses the count aggregated by allAuthors when present.
func (r *authorResolver) BookCount(ctx context.Context, obj *model.Author) (int, error) {
	if obj.BookCount != nil {
		return *obj.BookCount, nil
	}

	n, err := r.store.CountBooks(ctx, store.BookFilter{AuthorID: obj.ID})
	if err != nil {
		return 0, apperr.Internal("count books of author", err)
	}
	return n, nil
}
