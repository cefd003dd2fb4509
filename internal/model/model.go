package model

// Author is a catalog author. BookCount is never persisted: it is set by
// resolvers that already aggregated counts so Author.bookCount can skip the store.
type Author struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Born *int   `json:"born"`

	BookCount *int `json:"-"`
}

// Book is immutable after creation. Author is populated when the book was
// produced together with its author (addBook, BookAddedEvent).
type Book struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Published int      `json:"published"`
	Genres    []string `json:"genres"`
	AuthorID  string   `json:"-"`

	Author *Author `json:"-"`
}

type User struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	FavoriteGenre string `json:"favoriteGenre"`

	PasswordHash string `json:"-"`
	PasswordSalt string `json:"-"`
}

// HasPassword reports whether the user registered with a password of their own.
func (u *User) HasPassword() bool {
	return u.PasswordHash != "" && u.PasswordSalt != ""
}

type Token struct {
	Value string `json:"value"`
}
