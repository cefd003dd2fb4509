package store

import (
	"context"
	"errors"

	"github.com/vvakame/shelfql/internal/model"
)

var (
	ErrNotFound  = errors.New("entity not found")
	ErrDuplicate = errors.New("entity already exists")
	ErrInvalid   = errors.New("entity is invalid")
)

// BookFilter narrows book queries. Zero fields match everything.
type BookFilter struct {
	AuthorID string
	Genre    string
}

// Store is the persistence boundary of the catalog. Listing methods return
// entities in insertion order.
type Store interface {
	CountBooks(ctx context.Context, filter BookFilter) (int, error)
	CountAuthors(ctx context.Context) (int, error)
	// CountBooksByAuthor returns book counts keyed by author id. Authors
	// without books are absent from the map.
	CountBooksByAuthor(ctx context.Context) (map[string]int, error)

	FindBooks(ctx context.Context, filter BookFilter) ([]*model.Book, error)
	FindAuthors(ctx context.Context) ([]*model.Author, error)
	FindAuthorByName(ctx context.Context, name string) (*model.Author, error)
	FindAuthorsByIDs(ctx context.Context, ids []string) ([]*model.Author, error)
	FindUserByID(ctx context.Context, id string) (*model.User, error)
	FindUserByUsername(ctx context.Context, username string) (*model.User, error)

	InsertAuthor(ctx context.Context, author *model.Author) (*model.Author, error)
	InsertBook(ctx context.Context, book *model.Book) (*model.Book, error)
	InsertUser(ctx context.Context, user *model.User) (*model.User, error)

	UpdateAuthorBorn(ctx context.Context, name string, born int) (*model.Author, error)

	Close()
}

// InvalidFieldError reports the field that failed validation. It matches
// ErrInvalid with errors.Is.
type InvalidFieldError struct {
	Field  string
	Reason string
}

func (e *InvalidFieldError) Error() string {
	return e.Reason
}

func (e *InvalidFieldError) Is(target error) bool {
	return target == ErrInvalid
}

// InvalidField returns the field named by an InvalidFieldError in err's chain.
func InvalidField(err error) (string, bool) {
	var fieldErr *InvalidFieldError
	if errors.As(err, &fieldErr) {
		return fieldErr.Field, true
	}
	return "", false
}

func invalid(field, reason string) error {
	return &InvalidFieldError{Field: field, Reason: reason}
}

// ValidateAuthor checks the fields every store requires before insertion.
func ValidateAuthor(author *model.Author) error {
	if author == nil || author.Name == "" {
		return invalid("name", "author name is required")
	}
	return nil
}

func ValidateBook(book *model.Book) error {
	switch {
	case book == nil:
		return invalid("", "book is required")
	case book.Title == "":
		return invalid("title", "book title is required")
	case book.AuthorID == "":
		return invalid("author", "book author is required")
	}
	for _, genre := range book.Genres {
		if genre == "" {
			return invalid("genres", "book genres must not contain empty strings")
		}
	}
	return nil
}

func ValidateUser(user *model.User) error {
	switch {
	case user == nil:
		return invalid("", "user is required")
	case user.Username == "":
		return invalid("username", "username is required")
	case user.FavoriteGenre == "":
		return invalid("favoriteGenre", "favorite genre is required")
	}
	return nil
}
