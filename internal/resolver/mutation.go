package resolver

import (
	"context"
	"errors"

	"github.com/vvakame/shelfql/internal/apperr"
	"github.com/vvakame/shelfql/internal/auth"
	"github.com/vvakame/shelfql/internal/log"
	"github.com/vvakame/shelfql/internal/model"
	"github.com/vvakame/shelfql/internal/store"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	msgNotAuthenticated   = "not authenticated"
	msgSavingAuthorFailed = "Saving author failed"
	msgSavingBookFailed   = "Saving book failed"
	msgCreatingUserFailed = "Creating user failed"
)

func requireUser(ctx context.Context) (*model.User, error) {
	user := auth.FromContext(ctx).User
	if user == nil {
		return nil, apperr.Unauthenticated(msgNotAuthenticated)
	}
	return user, nil
}

func endSpan(span trace.Span, err error) {
	if err != nil && apperr.KindOf(err) == apperr.KindInternal {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// AddBook reuses the author with the given name or creates it, then stores
// the book and publishes it to bookAdded subscribers.
func (r *mutationResolver) AddBook(ctx context.Context, title string, published int, author string, genres []string) (_ *model.Book, err error) {
	ctx, span := tracer.Start(ctx, "Mutation.addBook", trace.WithAttributes(attribute.String("author", author)))
	defer func() { endSpan(span, err) }()

	if _, err := requireUser(ctx); err != nil {
		return nil, err
	}

	a, err := r.findOrCreateAuthor(ctx, author)
	if err != nil {
		return nil, err
	}

	book, err := r.store.InsertBook(ctx, &model.Book{
		Title:     title,
		Published: published,
		Genres:    genres,
		AuthorID:  a.ID,
	})
	if field, ok := store.InvalidField(err); ok && field == "genres" {
		return nil, apperr.ValidationFailed(msgSavingBookFailed, "genres", genres, err)
	} else if errors.Is(err, store.ErrInvalid) || errors.Is(err, store.ErrDuplicate) {
		return nil, apperr.ValidationFailed(msgSavingBookFailed, "title", title, err)
	} else if err != nil {
		return nil, apperr.Internal("insert book", err)
	}
	book.Author = a

	log.FromContext(ctx).V(1).Info("book added", "bookID", book.ID, "authorID", a.ID)
	if r.bookAdded != nil {
		r.bookAdded.Publish(ctx, book)
	}

	return book, nil
}

func (r *mutationResolver) findOrCreateAuthor(ctx context.Context, name string) (*model.Author, error) {
	a, err := r.store.FindAuthorByName(ctx, name)
	if err == nil {
		return a, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Internal("find author", err)
	}

	// a concurrent addBook may win the insert; the unique name rejects the loser.
	a, err = r.store.InsertAuthor(ctx, &model.Author{Name: name})
	if errors.Is(err, store.ErrInvalid) || errors.Is(err, store.ErrDuplicate) {
		return nil, apperr.ValidationFailed(msgSavingAuthorFailed, "author", name, err)
	} else if err != nil {
		return nil, apperr.Internal("insert author", err)
	}
	return a, nil
}

// EditAuthor returns null when no author has the given name.
func (r *mutationResolver) EditAuthor(ctx context.Context, name string, setBornTo int) (_ *model.Author, err error) {
	ctx, span := tracer.Start(ctx, "Mutation.editAuthor")
	defer func() { endSpan(span, err) }()

	if _, err := requireUser(ctx); err != nil {
		return nil, err
	}

	a, err := r.store.UpdateAuthorBorn(ctx, name, setBornTo)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, apperr.Internal("update author", err)
	}
	return a, nil
}

func (r *mutationResolver) CreateUser(ctx context.Context, username string, favoriteGenre string, password *string) (_ *model.User, err error) {
	ctx, span := tracer.Start(ctx, "Mutation.createUser")
	defer func() { endSpan(span, err) }()

	user := &model.User{
		Username:      username,
		FavoriteGenre: favoriteGenre,
	}
	if password != nil && *password != "" {
		user.PasswordHash, user.PasswordSalt, err = auth.HashPassword(*password)
		if err != nil {
			return nil, apperr.Internal("hash password", err)
		}
	}

	user, err = r.store.InsertUser(ctx, user)
	if field, ok := store.InvalidField(err); ok && field == "favoriteGenre" {
		return nil, apperr.ValidationFailed(msgCreatingUserFailed, "favoriteGenre", favoriteGenre, err)
	} else if errors.Is(err, store.ErrInvalid) || errors.Is(err, store.ErrDuplicate) {
		return nil, apperr.ValidationFailed(msgCreatingUserFailed, "username", username, err)
	} else if err != nil {
		return nil, apperr.Internal("insert user", err)
	}
	return user, nil
}

// Login answers an unknown username and a wrong password with the same error.
func (r *mutationResolver) Login(ctx context.Context, username string, password string) (_ *model.Token, err error) {
	ctx, span := tracer.Start(ctx, "Mutation.login")
	defer func() { endSpan(span, err) }()

	user, err := r.store.FindUserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		auth.BurnPassword(password)
		return nil, apperr.InvalidCredentials()
	} else if err != nil {
		return nil, apperr.Internal("find user", err)
	}

	ok, err := r.checkPassword(user, password)
	if err != nil {
		return nil, apperr.Internal("verify password", err)
	}
	if !ok {
		return nil, apperr.InvalidCredentials()
	}

	value, err := r.signer.Sign(user.Username, user.ID)
	if err != nil {
		return nil, apperr.Internal("sign token", err)
	}
	return &model.Token{Value: value}, nil
}

func (r *mutationResolver) checkPassword(user *model.User, password string) (bool, error) {
	if user.HasPassword() {
		return auth.VerifyPassword(password, user.PasswordHash, user.PasswordSalt)
	}
	auth.BurnPassword(password)
	return auth.SharedPasswordMatches(r.sharedPassword, password), nil
}
