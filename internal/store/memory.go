package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/vvakame/shelfql/internal/model"
)

var _ Store = (*Memory)(nil)

// Memory is a Store kept in process memory. It enforces the same uniqueness
// rules as the PostgreSQL schema.
type Memory struct {
	mu sync.RWMutex

	authors []*model.Author
	books   []*model.Book
	users   []*model.User

	authorByName map[string]*model.Author
	authorByID   map[string]*model.Author
	userByName   map[string]*model.User
	userByID     map[string]*model.User
}

func NewMemory() *Memory {
	return &Memory{
		authorByName: make(map[string]*model.Author),
		authorByID:   make(map[string]*model.Author),
		userByName:   make(map[string]*model.User),
		userByID:     make(map[string]*model.User),
	}
}

func (m *Memory) CountBooks(ctx context.Context, filter BookFilter) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, book := range m.books {
		if matchBook(book, filter) {
			count++
		}
	}
	return count, nil
}

func (m *Memory) CountAuthors(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.authors), nil
}

func (m *Memory) CountBooksByAuthor(ctx context.Context) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[string]int)
	for _, book := range m.books {
		counts[book.AuthorID]++
	}
	return counts, nil
}

func (m *Memory) FindBooks(ctx context.Context, filter BookFilter) ([]*model.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	books := make([]*model.Book, 0, len(m.books))
	for _, book := range m.books {
		if matchBook(book, filter) {
			books = append(books, copyBook(book))
		}
	}
	return books, nil
}

func (m *Memory) FindAuthors(ctx context.Context) ([]*model.Author, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	authors := make([]*model.Author, 0, len(m.authors))
	for _, author := range m.authors {
		authors = append(authors, copyAuthor(author))
	}
	return authors, nil
}

func (m *Memory) FindAuthorByName(ctx context.Context, name string) (*model.Author, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	author, ok := m.authorByName[name]
	if !ok {
		return nil, fmt.Errorf("author %q: %w", name, ErrNotFound)
	}
	return copyAuthor(author), nil
}

func (m *Memory) FindAuthorsByIDs(ctx context.Context, ids []string) ([]*model.Author, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	authors := make([]*model.Author, 0, len(ids))
	for _, id := range ids {
		if author, ok := m.authorByID[id]; ok {
			authors = append(authors, copyAuthor(author))
		}
	}
	return authors, nil
}

func (m *Memory) FindUserByID(ctx context.Context, id string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.userByID[id]
	if !ok {
		return nil, fmt.Errorf("user id %q: %w", id, ErrNotFound)
	}
	copied := *user
	return &copied, nil
}

func (m *Memory) FindUserByUsername(ctx context.Context, username string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.userByName[username]
	if !ok {
		return nil, fmt.Errorf("user %q: %w", username, ErrNotFound)
	}
	copied := *user
	return &copied, nil
}

func (m *Memory) InsertAuthor(ctx context.Context, author *model.Author) (*model.Author, error) {
	if err := ValidateAuthor(author); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.authorByName[author.Name]; ok {
		return nil, fmt.Errorf("author %q: %w", author.Name, ErrDuplicate)
	}

	stored := copyAuthor(author)
	stored.ID = uuid.NewString()
	stored.BookCount = nil
	m.authors = append(m.authors, stored)
	m.authorByName[stored.Name] = stored
	m.authorByID[stored.ID] = stored

	return copyAuthor(stored), nil
}

func (m *Memory) InsertBook(ctx context.Context, book *model.Book) (*model.Book, error) {
	if err := ValidateBook(book); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.authorByID[book.AuthorID]; !ok {
		return nil, fmt.Errorf("author id %q of book %q: %w", book.AuthorID, book.Title, ErrInvalid)
	}

	stored := copyBook(book)
	stored.ID = uuid.NewString()
	stored.Author = nil
	m.books = append(m.books, stored)

	return copyBook(stored), nil
}

func (m *Memory) InsertUser(ctx context.Context, user *model.User) (*model.User, error) {
	if err := ValidateUser(user); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.userByName[user.Username]; ok {
		return nil, fmt.Errorf("user %q: %w", user.Username, ErrDuplicate)
	}

	stored := *user
	stored.ID = uuid.NewString()
	m.users = append(m.users, &stored)
	m.userByName[stored.Username] = &stored
	m.userByID[stored.ID] = &stored

	copied := stored
	return &copied, nil
}

func (m *Memory) UpdateAuthorBorn(ctx context.Context, name string, born int) (*model.Author, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	author, ok := m.authorByName[name]
	if !ok {
		return nil, fmt.Errorf("author %q: %w", name, ErrNotFound)
	}
	author.Born = &born

	return copyAuthor(author), nil
}

func (m *Memory) Close() {}

func matchBook(book *model.Book, filter BookFilter) bool {
	if filter.AuthorID != "" && book.AuthorID != filter.AuthorID {
		return false
	}
	if filter.Genre != "" && !slices.Contains(book.Genres, filter.Genre) {
		return false
	}
	return true
}

func copyAuthor(author *model.Author) *model.Author {
	copied := *author
	if author.Born != nil {
		born := *author.Born
		copied.Born = &born
	}
	return &copied
}

func copyBook(book *model.Book) *model.Book {
	copied := *book
	copied.Genres = slices.Clone(book.Genres)
	if copied.Genres == nil {
		copied.Genres = []string{}
	}
	return &copied
}
