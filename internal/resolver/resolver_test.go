package resolver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	testlogr "github.com/go-logr/logr/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vvakame/shelfql/internal/apperr"
	"github.com/vvakame/shelfql/internal/auth"
	"github.com/vvakame/shelfql/internal/log"
	"github.com/vvakame/shelfql/internal/model"
	"github.com/vvakame/shelfql/internal/pubsub"
	"github.com/vvakame/shelfql/internal/store"
	"pgregory.net/rapid"
)

type fixture struct {
	store     *store.Memory
	signer    *auth.Signer
	bookAdded *pubsub.Broadcaster[*model.Book]
	resolver  *Resolver
	user      *model.User
}

func newFixture(t *testing.T, sharedPassword string) *fixture {
	signer, err := auth.NewSigner("test secret", time.Hour)
	require.NoError(t, err)

	f := &fixture{
		store:     store.NewMemory(),
		signer:    signer,
		bookAdded: pubsub.New[*model.Book](TopicBookAdded),
	}
	t.Cleanup(f.bookAdded.Close)

	f.resolver = NewResolver(Config{
		Store:          f.store,
		Signer:         signer,
		BookAdded:      f.bookAdded,
		SharedPassword: sharedPassword,
	})

	f.user, err = f.store.InsertUser(context.Background(), &model.User{Username: "mluukkai", FavoriteGenre: "refactoring"})
	require.NoError(t, err)

	return f
}

func (f *fixture) anonymous(t *testing.T) context.Context {
	return log.WithLogger(context.Background(), testlogr.NewTestLogger(t))
}

func (f *fixture) authenticated(t *testing.T) context.Context {
	return auth.WithAuthContext(f.anonymous(t), auth.AuthContext{User: f.user})
}

func (f *fixture) addBook(t *testing.T, title string, published int, author string, genres ...string) *model.Book {
	t.Helper()

	book, err := f.resolver.Mutation().AddBook(f.authenticated(t), title, published, author, genres)
	require.NoError(t, err)
	return book
}

func strptr(s string) *string {
	return &s
}

func titles(books []*model.Book) []string {
	ret := make([]string, 0, len(books))
	for _, book := range books {
		ret = append(ret, book.Title)
	}
	return ret
}

func requireKind(t *testing.T, err error, kind apperr.Kind) *apperr.Error {
	t.Helper()

	require.Error(t, err)
	var appErr *apperr.Error
	require.True(t, errors.As(err, &appErr), "%v is not an apperr.Error", err)
	require.Equal(t, kind, appErr.Kind)
	return appErr
}

func TestQuery_counts(t *testing.T) {
	f := newFixture(t, "")
	ctx := f.anonymous(t)

	n, err := f.resolver.Query().BookCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	f.addBook(t, "Clean Code", 2008, "Robert Martin", "refactoring")
	f.addBook(t, "Agile software development", 2002, "Robert Martin", "agile", "patterns", "design")
	f.addBook(t, "Refactoring, edition 2", 2018, "Martin Fowler", "refactoring")

	n, err = f.resolver.Query().BookCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = f.resolver.Query().AuthorCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestQuery_AllBooks(t *testing.T) {
	f := newFixture(t, "")
	ctx := f.anonymous(t)

	f.addBook(t, "Clean Code", 2008, "Robert Martin", "refactoring")
	f.addBook(t, "Agile software development", 2002, "Robert Martin", "agile", "patterns", "design")
	f.addBook(t, "Refactoring, edition 2", 2018, "Martin Fowler", "refactoring")
	f.addBook(t, "Crime and punishment", 1866, "Fyodor Dostoevsky", "classic", "crime")

	tests := []struct {
		name   string
		author *string
		genre  *string
		want   []string
	}{
		{"no filter keeps insertion order", nil, nil, []string{"Clean Code", "Agile software development", "Refactoring, edition 2", "Crime and punishment"}},
		{"by author", strptr("Robert Martin"), nil, []string{"Clean Code", "Agile software development"}},
		{"unknown author", strptr("Nobody"), nil, []string{}},
		{"unknown author ignores genre", strptr("Nobody"), strptr("refactoring"), []string{}},
		{"by genre", nil, strptr("refactoring"), []string{"Clean Code", "Refactoring, edition 2"}},
		{"genre is case sensitive", nil, strptr("Refactoring"), []string{}},
		{"genre matches elements, not substrings", nil, strptr("refactor"), []string{}},
		{"author and genre intersect", strptr("Robert Martin"), strptr("refactoring"), []string{"Clean Code"}},
		{"empty arguments are absent", strptr(""), strptr(""), []string{"Clean Code", "Agile software development", "Refactoring, edition 2", "Crime and punishment"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			books, err := f.resolver.Query().AllBooks(ctx, tt.author, tt.genre)
			require.NoError(t, err)
			require.NotNil(t, books)
			assert.Equal(t, tt.want, titles(books))
		})
	}
}

func TestQuery_AllAuthors(t *testing.T) {
	f := newFixture(t, "")
	ctx := f.anonymous(t)

	f.addBook(t, "Clean Code", 2008, "Robert Martin", "refactoring")
	f.addBook(t, "Agile software development", 2002, "Robert Martin", "agile")
	f.addBook(t, "Refactoring, edition 2", 2018, "Martin Fowler", "refactoring")

	authors, err := f.resolver.Query().AllAuthors(ctx)
	require.NoError(t, err)
	require.Len(t, authors, 2)

	assert.Equal(t, "Robert Martin", authors[0].Name)
	require.NotNil(t, authors[0].BookCount)
	assert.Equal(t, 2, *authors[0].BookCount)
	assert.Equal(t, "Martin Fowler", authors[1].Name)
	require.NotNil(t, authors[1].BookCount)
	assert.Equal(t, 1, *authors[1].BookCount)

	// the pre-aggregated value wins over a live count.
	n, err := f.resolver.Author().BookCount(ctx, authors[0])
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	// without it the count is computed live.
	n, err = f.resolver.Author().BookCount(ctx, &model.Author{ID: authors[1].ID})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestQuery_AllGenres(t *testing.T) {
	f := newFixture(t, "")
	ctx := f.anonymous(t)

	genres, err := f.resolver.Query().AllGenres(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{}, genres)

	f.addBook(t, "Clean Code", 2008, "Robert Martin", "refactoring")
	f.addBook(t, "Agile software development", 2002, "Robert Martin", "agile", "patterns", "design")
	f.addBook(t, "Refactoring to patterns", 2008, "Joshua Kerievsky", "refactoring", "patterns")

	genres, err = f.resolver.Query().AllGenres(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"refactoring", "agile", "patterns", "design"}, genres)
}

func TestQuery_Me(t *testing.T) {
	f := newFixture(t, "")

	me, err := f.resolver.Query().Me(f.anonymous(t))
	require.NoError(t, err)
	assert.Nil(t, me)

	me, err = f.resolver.Query().Me(f.authenticated(t))
	require.NoError(t, err)
	require.NotNil(t, me)
	assert.Equal(t, "mluukkai", me.Username)
}

func TestMutation_AddBook(t *testing.T) {
	f := newFixture(t, "")

	t.Run("requires authentication", func(t *testing.T) {
		_, err := f.resolver.Mutation().AddBook(f.anonymous(t), "Clean Code", 2008, "Robert Martin", []string{"refactoring"})
		requireKind(t, err, apperr.KindUnauthenticated)

		n, err := f.store.CountAuthors(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, n, "no author is created before the auth check")
	})

	t.Run("creates the author once and reuses it", func(t *testing.T) {
		first := f.addBook(t, "Clean Code", 2008, "Robert Martin", "refactoring")
		second := f.addBook(t, "Clean Code", 2008, "Robert Martin", "refactoring")

		assert.NotEqual(t, first.ID, second.ID, "duplicate titles are allowed")
		require.NotNil(t, first.Author)
		require.NotNil(t, second.Author)
		assert.Equal(t, first.Author.ID, second.Author.ID)
		assert.Nil(t, first.Author.Born)

		authors, err := f.store.FindAuthors(context.Background())
		require.NoError(t, err)
		assert.Len(t, authors, 1)
	})

	t.Run("book failure is a validation error on title", func(t *testing.T) {
		_, err := f.resolver.Mutation().AddBook(f.authenticated(t), "", 2008, "Robert Martin", []string{"refactoring"})
		appErr := requireKind(t, err, apperr.KindValidationFailed)
		assert.Equal(t, "Saving book failed", appErr.Message)
		assert.Equal(t, "title", appErr.Field)
		assert.Equal(t, "", appErr.Value)
	})

	t.Run("author failure is a validation error on author", func(t *testing.T) {
		_, err := f.resolver.Mutation().AddBook(f.authenticated(t), "Untitled", 2008, "", nil)
		appErr := requireKind(t, err, apperr.KindValidationFailed)
		assert.Equal(t, "Saving author failed", appErr.Message)
		assert.Equal(t, "author", appErr.Field)
	})

	t.Run("empty genre is a validation error on genres", func(t *testing.T) {
		_, err := f.resolver.Mutation().AddBook(f.authenticated(t), "Untitled", 2008, "Robert Martin", []string{"classic", ""})
		appErr := requireKind(t, err, apperr.KindValidationFailed)
		assert.Equal(t, "Saving book failed", appErr.Message)
		assert.Equal(t, "genres", appErr.Field)
		assert.Equal(t, []string{"classic", ""}, appErr.Value)
	})
}

func TestMutation_AddBook_publishes(t *testing.T) {
	f := newFixture(t, "")

	ctx, cancel := context.WithCancel(f.anonymous(t))
	defer cancel()

	events, err := f.resolver.Subscription().BookAdded(ctx)
	require.NoError(t, err)

	// failed mutations publish nothing.
	_, err = f.resolver.Mutation().AddBook(f.authenticated(t), "", 2008, "Robert Martin", nil)
	require.Error(t, err)

	book := f.addBook(t, "Clean Code", 2008, "Robert Martin", "refactoring")

	select {
	case got := <-events:
		assert.Equal(t, book.ID, got.ID)
		require.NotNil(t, got.Author)
		assert.Equal(t, "Robert Martin", got.Author.Name)
	case <-time.After(5 * time.Second):
		t.Fatal("no event received")
	}

	select {
	case got := <-events:
		t.Fatalf("unexpected event %v", got.Title)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMutation_AddBook_concurrentUnseenAuthor(t *testing.T) {
	f := newFixture(t, "")

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.resolver.Mutation().AddBook(f.authenticated(t), "The Idiot", 1869, "Fyodor Dostoevsky", []string{"classic"})
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		appErr := requireKind(t, err, apperr.KindValidationFailed)
		assert.Equal(t, "author", appErr.Field)
	}

	authors, err := f.store.FindAuthors(context.Background())
	require.NoError(t, err)
	assert.Len(t, authors, 1)

	n, err := f.store.CountBooks(context.Background(), store.BookFilter{AuthorID: authors[0].ID})
	require.NoError(t, err)
	assert.Equal(t, succeeded, n)
	assert.GreaterOrEqual(t, succeeded, 1)
}

func TestMutation_EditAuthor(t *testing.T) {
	f := newFixture(t, "")
	f.addBook(t, "Crime and punishment", 1866, "Fyodor Dostoevsky", "classic")

	t.Run("auth is checked before the lookup", func(t *testing.T) {
		_, err := f.resolver.Mutation().EditAuthor(f.anonymous(t), "Nobody", 1900)
		requireKind(t, err, apperr.KindUnauthenticated)

		_, err = f.resolver.Mutation().EditAuthor(f.anonymous(t), "Fyodor Dostoevsky", 1821)
		requireKind(t, err, apperr.KindUnauthenticated)
	})

	t.Run("unknown author is null", func(t *testing.T) {
		author, err := f.resolver.Mutation().EditAuthor(f.authenticated(t), "Nobody", 1900)
		require.NoError(t, err)
		assert.Nil(t, author)
	})

	t.Run("sets born", func(t *testing.T) {
		author, err := f.resolver.Mutation().EditAuthor(f.authenticated(t), "Fyodor Dostoevsky", 1821)
		require.NoError(t, err)
		require.NotNil(t, author)
		require.NotNil(t, author.Born)
		assert.Equal(t, 1821, *author.Born)

		stored, err := f.store.FindAuthorByName(context.Background(), "Fyodor Dostoevsky")
		require.NoError(t, err)
		assert.Equal(t, 1821, *stored.Born)
	})
}

func TestMutation_CreateUser(t *testing.T) {
	f := newFixture(t, "")
	ctx := f.anonymous(t)

	user, err := f.resolver.Mutation().CreateUser(ctx, "hellas", "classic", nil)
	require.NoError(t, err)
	assert.Equal(t, "hellas", user.Username)
	assert.False(t, user.HasPassword())

	_, err = f.resolver.Mutation().CreateUser(ctx, "hellas", "crime", nil)
	appErr := requireKind(t, err, apperr.KindValidationFailed)
	assert.Equal(t, "username", appErr.Field)
	assert.Equal(t, "hellas", appErr.Value)

	_, err = f.resolver.Mutation().CreateUser(ctx, "", "crime", nil)
	appErr = requireKind(t, err, apperr.KindValidationFailed)
	assert.Equal(t, "username", appErr.Field)

	_, err = f.resolver.Mutation().CreateUser(ctx, "alice", "", nil)
	appErr = requireKind(t, err, apperr.KindValidationFailed)
	assert.Equal(t, "Creating user failed", appErr.Message)
	assert.Equal(t, "favoriteGenre", appErr.Field)
	assert.Equal(t, "", appErr.Value)

	user, err = f.resolver.Mutation().CreateUser(ctx, "kalle", "crime", strptr("salainen"))
	require.NoError(t, err)
	assert.True(t, user.HasPassword())
}

func TestMutation_Login(t *testing.T) {
	f := newFixture(t, "secret")
	ctx := f.anonymous(t)

	_, err := f.resolver.Mutation().CreateUser(ctx, "kalle", "crime", strptr("salainen"))
	require.NoError(t, err)

	t.Run("shared password for users without one", func(t *testing.T) {
		token, err := f.resolver.Mutation().Login(ctx, "mluukkai", "secret")
		require.NoError(t, err)

		claims, err := f.signer.Verify(token.Value)
		require.NoError(t, err)
		assert.Equal(t, "mluukkai", claims.Username)
		assert.Equal(t, f.user.ID, claims.UserID)
	})

	t.Run("own password", func(t *testing.T) {
		_, err := f.resolver.Mutation().Login(ctx, "kalle", "salainen")
		require.NoError(t, err)

		_, err = f.resolver.Mutation().Login(ctx, "kalle", "secret")
		requireKind(t, err, apperr.KindInvalidCredentials)
	})

	t.Run("unknown user and wrong password look the same", func(t *testing.T) {
		_, errUnknown := f.resolver.Mutation().Login(ctx, "nobody", "secret")
		_, errWrong := f.resolver.Mutation().Login(ctx, "mluukkai", "wrong")

		unknown := requireKind(t, errUnknown, apperr.KindInvalidCredentials)
		wrong := requireKind(t, errWrong, apperr.KindInvalidCredentials)
		assert.Equal(t, unknown, wrong)
		assert.Equal(t, errUnknown.Error(), errWrong.Error())
	})

	t.Run("shared password can be disabled", func(t *testing.T) {
		disabled := newFixture(t, "")
		_, err := disabled.resolver.Mutation().Login(disabled.anonymous(t), "mluukkai", "")
		requireKind(t, err, apperr.KindInvalidCredentials)
	})
}

func TestBook_Author(t *testing.T) {
	f := newFixture(t, "")
	added := f.addBook(t, "Clean Code", 2008, "Robert Martin", "refactoring")

	t.Run("denormalized author", func(t *testing.T) {
		author, err := f.resolver.Book().Author(f.anonymous(t), added)
		require.NoError(t, err)
		assert.Same(t, added.Author, author)
	})

	t.Run("without a loader", func(t *testing.T) {
		author, err := f.resolver.Book().Author(f.anonymous(t), &model.Book{AuthorID: added.Author.ID})
		require.NoError(t, err)
		assert.Equal(t, "Robert Martin", author.Name)
	})

	t.Run("through the loader", func(t *testing.T) {
		ctx := f.anonymous(t)
		loader := NewAuthorLoader(f.store)
		ctx = WithAuthorLoader(ctx, loader)

		author, err := f.resolver.Book().Author(ctx, &model.Book{AuthorID: added.Author.ID})
		require.NoError(t, err)
		assert.Equal(t, "Robert Martin", author.Name)
		assert.Equal(t, 1, loader.Batches())
	})
}

type countingFinder struct {
	store.Store

	mu    sync.Mutex
	calls [][]string
}

func (f *countingFinder) FindAuthorsByIDs(ctx context.Context, ids []string) ([]*model.Author, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), ids...))
	f.mu.Unlock()
	return f.Store.FindAuthorsByIDs(ctx, ids)
}

func TestAuthorLoader(t *testing.T) {
	f := newFixture(t, "")
	a := f.addBook(t, "Clean Code", 2008, "Robert Martin").Author
	b := f.addBook(t, "Refactoring, edition 2", 2018, "Martin Fowler").Author

	finder := &countingFinder{Store: f.store}
	ctx := f.anonymous(t)
	loader := newAuthorLoader(finder, 20*time.Millisecond, defaultLoaderMaxBatch)

	ids := []string{a.ID, b.ID, a.ID, b.ID, a.ID}
	got := make([]*model.Author, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			author, err := loader.Load(ctx, id)
			assert.NoError(t, err)
			got[i] = author
		}()
	}
	wg.Wait()

	require.Len(t, finder.calls, 1)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, finder.calls[0])
	for i, id := range ids {
		require.NotNil(t, got[i])
		assert.Equal(t, id, got[i].ID)
	}

	// cached
	_, err := loader.Load(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, finder.calls, 1)

	_, err = loader.Load(ctx, "missing")
	requireKind(t, err, apperr.KindInternal)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAuthorLoader_maxBatch(t *testing.T) {
	f := newFixture(t, "")
	a := f.addBook(t, "Clean Code", 2008, "Robert Martin").Author
	b := f.addBook(t, "Refactoring, edition 2", 2018, "Martin Fowler").Author

	finder := &countingFinder{Store: f.store}
	ctx := f.anonymous(t)
	loader := newAuthorLoader(finder, time.Hour, 2)

	var wg sync.WaitGroup
	for _, id := range []string{a.ID, b.ID} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := loader.Load(ctx, id)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, loader.Batches())
}

func TestAggregatesProperty(t *testing.T) {
	genres := []string{"refactoring", "agile", "patterns", "design", "classic", "crime", "revolution"}
	authors := []string{"Robert Martin", "Martin Fowler", "Fyodor Dostoevsky", "Joshua Kerievsky", "Sandi Metz"}

	rapid.Check(t, func(rt *rapid.T) {
		f := newFixture(t, "")
		ctx := f.authenticated(t)

		n := rapid.IntRange(0, 20).Draw(rt, "books")
		for i := 0; i < n; i++ {
			author := rapid.SampledFrom(authors).Draw(rt, "author")
			bookGenres := rapid.SliceOfN(rapid.SampledFrom(genres), 0, 3).Draw(rt, "genres")
			title := rapid.StringMatching(`[A-Z][a-z]{1,12}`).Draw(rt, "title")
			_, err := f.resolver.Mutation().AddBook(ctx, title, 1800+i, author, bookGenres)
			if err != nil {
				rt.Fatalf("addBook: %v", err)
			}
		}

		bookCount, err := f.resolver.Query().BookCount(ctx)
		if err != nil {
			rt.Fatal(err)
		}
		if bookCount != n {
			rt.Fatalf("bookCount = %d, want %d", bookCount, n)
		}

		all, err := f.resolver.Query().AllAuthors(ctx)
		if err != nil {
			rt.Fatal(err)
		}
		sum := 0
		for _, author := range all {
			books, err := f.resolver.Query().AllBooks(ctx, strptr(author.Name), nil)
			if err != nil {
				rt.Fatal(err)
			}
			if *author.BookCount != len(books) {
				rt.Fatalf("%s: bookCount = %d, allBooks = %d", author.Name, *author.BookCount, len(books))
			}
			sum += *author.BookCount
		}
		if sum != bookCount {
			rt.Fatalf("sum of bookCount = %d, bookCount = %d", sum, bookCount)
		}

		for _, genre := range genres {
			books, err := f.resolver.Query().AllBooks(ctx, nil, strptr(genre))
			if err != nil {
				rt.Fatal(err)
			}
			for _, book := range books {
				found := false
				for _, g := range book.Genres {
					found = found || g == genre
				}
				if !found {
					rt.Fatalf("%q returned for genre %q with %v", book.Title, genre, book.Genres)
				}
			}
		}
	})
}
