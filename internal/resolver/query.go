package resolver

import (
	"context"
	"errors"

	"github.com/vvakame/shelfql/internal/apperr"
	"github.com/vvakame/shelfql/internal/auth"
	"github.com/vvakame/shelfql/internal/model"
	"github.com/vvakame/shelfql/internal/store"
)

func (r *queryResolver) BookCount(ctx context.Context) (int, error) {
	n, err := r.store.CountBooks(ctx, store.BookFilter{})
	if err != nil {
		return 0, apperr.Internal("count books", err)
	}
	return n, nil
}

func (r *queryResolver) AuthorCount(ctx context.Context) (int, error) {
	n, err := r.store.CountAuthors(ctx)
	if err != nil {
		return 0, apperr.Internal("count authors", err)
	}
	return n, nil
}

// AllBooks filters by author name first; an unknown author matches nothing.
// Empty filter arguments are treated as absent.
func (r *queryResolver) AllBooks(ctx context.Context, author *string, genre *string) ([]*model.Book, error) {
	var filter store.BookFilter

	if author != nil && *author != "" {
		a, err := r.store.FindAuthorByName(ctx, *author)
		if errors.Is(err, store.ErrNotFound) {
			return []*model.Book{}, nil
		} else if err != nil {
			return nil, apperr.Internal("find author", err)
		}
		filter.AuthorID = a.ID
	}
	if genre != nil && *genre != "" {
		filter.Genre = *genre
	}

	books, err := r.store.FindBooks(ctx, filter)
	if err != nil {
		return nil, apperr.Internal("find books", err)
	}
	if books == nil {
		books = []*model.Book{}
	}
	return books, nil
}

// AllAuthors annotates every author with its book count from a single
// aggregate query.
func (r *queryResolver) AllAuthors(ctx context.Context) ([]*model.Author, error) {
	authors, err := r.store.FindAuthors(ctx)
	if err != nil {
		return nil, apperr.Internal("find authors", err)
	}
	counts, err := r.store.CountBooksByAuthor(ctx)
	if err != nil {
		return nil, apperr.Internal("count books by author", err)
	}

	ret := make([]*model.Author, 0, len(authors))
	for _, author := range authors {
		n := counts[author.ID]
		author.BookCount = &n
		ret = append(ret, author)
	}
	return ret, nil
}

// AllGenres returns the distinct genres of all books in first-seen order.
func (r *queryResolver) AllGenres(ctx context.Context) ([]string, error) {
	books, err := r.store.FindBooks(ctx, store.BookFilter{})
	if err != nil {
		return nil, apperr.Internal("find books", err)
	}

	seen := make(map[string]struct{})
	genres := []string{}
	for _, book := range books {
		for _, genre := range book.Genres {
			if _, ok := seen[genre]; ok {
				continue
			}
			seen[genre] = struct{}{}
			genres = append(genres, genre)
		}
	}
	return genres, nil
}

func (r *queryResolver) Me(ctx context.Context) (*model.User, error) {
	return auth.FromContext(ctx).User, nil
}
