package store

import (
	"context"
	"database/sql/driver"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/tern/v2/migrate"
	"github.com/vvakame/shelfql/internal/log"
	"github.com/vvakame/shelfql/internal/model"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const (
	dialectPostgres = "postgres"

	migrationVersionTable = "shelfql_schema_version"

	tableAuthors = "authors"
	tableBooks   = "books"
	tableUsers   = "users"

	colSeq           = "seq"
	colID            = "id"
	colName          = "name"
	colBorn          = "born"
	colTitle         = "title"
	colPublished     = "published"
	colGenres        = "genres"
	colAuthorID      = "author_id"
	colUsername      = "username"
	colFavoriteGenre = "favorite_genre"
	colPasswordHash  = "password_hash"
	colPasswordSalt  = "password_salt"

	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
	pgNotNullViolation    = "23502"
)

var _ Store = (*Postgres)(nil)

// Postgres is a Store backed by a pgx connection pool. Queries are built with
// goqu and rendered as prepared statements.
type Postgres struct {
	pool    *pgxpool.Pool
	builder goqu.DialectWrapper
	tracer  trace.Tracer
}

func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Postgres{
		pool:    pool,
		builder: newBuilder(),
		tracer:  otel.Tracer("github.com/vvakame/shelfql/internal/store"),
	}, nil
}

func newBuilder() goqu.DialectWrapper {
	return goqu.Dialect(dialectPostgres)
}

// Migrate applies the embedded migrations that the database has not seen yet.
func (p *Postgres) Migrate(ctx context.Context) error {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	migrator, err := migrate.NewMigrator(ctx, conn.Conn(), migrationVersionTable)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	migrations, err := fs.Sub(migrationFS, "migrations")
	if err != nil {
		return err
	}
	if err := migrator.LoadMigrations(migrations); err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	logger := log.FromContext(ctx)
	migrator.OnStart = func(sequence int32, name, direction, sql string) {
		logger.Info("migrating", "sequence", sequence, "name", name, "direction", direction)
	}

	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) CountBooks(ctx context.Context, filter BookFilter) (_ int, err error) {
	ctx, span := p.tracer.Start(ctx, "store.count_books", bookFilterAttributes(filter))
	defer func() { endSpan(span, err) }()

	query, args, err := p.bookWhere(p.builder.From(tableBooks).Select(goqu.COUNT("*")), filter).Prepared(true).ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build count books query: %w", err)
	}

	var count int
	if err := p.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count books: %w", err)
	}
	return count, nil
}

func (p *Postgres) CountAuthors(ctx context.Context) (_ int, err error) {
	ctx, span := p.tracer.Start(ctx, "store.count_authors")
	defer func() { endSpan(span, err) }()

	query, args, err := p.builder.From(tableAuthors).Select(goqu.COUNT("*")).Prepared(true).ToSQL()
	if err != nil {
		return 0, fmt.Errorf("build count authors query: %w", err)
	}

	var count int
	if err := p.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count authors: %w", err)
	}
	return count, nil
}

func (p *Postgres) CountBooksByAuthor(ctx context.Context) (_ map[string]int, err error) {
	ctx, span := p.tracer.Start(ctx, "store.count_books_by_author")
	defer func() { endSpan(span, err) }()

	query, args, err := p.builder.From(tableBooks).
		Select(goqu.C(colAuthorID), goqu.COUNT("*")).
		GroupBy(goqu.C(colAuthorID)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build count books by author query: %w", err)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count books by author: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var authorID string
		var count int
		if err := rows.Scan(&authorID, &count); err != nil {
			return nil, fmt.Errorf("scan book count: %w", err)
		}
		counts[authorID] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count books by author: %w", err)
	}
	return counts, nil
}

func (p *Postgres) FindBooks(ctx context.Context, filter BookFilter) (_ []*model.Book, err error) {
	ctx, span := p.tracer.Start(ctx, "store.find_books", bookFilterAttributes(filter))
	defer func() { endSpan(span, err) }()

	ds := p.builder.From(tableBooks).
		Select(colID, colTitle, colPublished, colGenres, colAuthorID).
		Order(goqu.I(colSeq).Asc())
	query, args, err := p.bookWhere(ds, filter).Prepared(true).ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build find books query: %w", err)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find books: %w", err)
	}
	defer rows.Close()

	books := make([]*model.Book, 0)
	for rows.Next() {
		book := &model.Book{}
		if err := rows.Scan(&book.ID, &book.Title, &book.Published, &book.Genres, &book.AuthorID); err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		if book.Genres == nil {
			book.Genres = []string{}
		}
		books = append(books, book)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find books: %w", err)
	}
	return books, nil
}

func (p *Postgres) FindAuthors(ctx context.Context) (_ []*model.Author, err error) {
	ctx, span := p.tracer.Start(ctx, "store.find_authors")
	defer func() { endSpan(span, err) }()

	query, args, err := p.builder.From(tableAuthors).
		Select(colID, colName, colBorn).
		Order(goqu.I(colSeq).Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build find authors query: %w", err)
	}
	return p.queryAuthors(ctx, query, args)
}

func (p *Postgres) FindAuthorByName(ctx context.Context, name string) (_ *model.Author, err error) {
	ctx, span := p.tracer.Start(ctx, "store.find_author_by_name")
	defer func() { endSpan(span, ignoreNotFound(err)) }()

	query, args, err := p.builder.From(tableAuthors).
		Select(colID, colName, colBorn).
		Where(goqu.C(colName).Eq(name)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build find author query: %w", err)
	}

	author := &model.Author{}
	err = p.pool.QueryRow(ctx, query, args...).Scan(&author.ID, &author.Name, &author.Born)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("author %q: %w", name, ErrNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("find author %q: %w", name, err)
	}
	return author, nil
}

func (p *Postgres) FindAuthorsByIDs(ctx context.Context, ids []string) (_ []*model.Author, err error) {
	if len(ids) == 0 {
		return []*model.Author{}, nil
	}

	ctx, span := p.tracer.Start(ctx, "store.find_authors_by_ids", trace.WithAttributes(attribute.Int("ids.count", len(ids))))
	defer func() { endSpan(span, err) }()

	query, args, err := p.builder.From(tableAuthors).
		Select(colID, colName, colBorn).
		Where(goqu.C(colID).In(ids)).
		Order(goqu.I(colSeq).Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build find authors by ids query: %w", err)
	}
	return p.queryAuthors(ctx, query, args)
}

func (p *Postgres) FindUserByID(ctx context.Context, id string) (_ *model.User, err error) {
	ctx, span := p.tracer.Start(ctx, "store.find_user_by_id")
	defer func() { endSpan(span, ignoreNotFound(err)) }()

	return p.findUser(ctx, goqu.C(colID).Eq(id), id)
}

func (p *Postgres) FindUserByUsername(ctx context.Context, username string) (_ *model.User, err error) {
	ctx, span := p.tracer.Start(ctx, "store.find_user_by_username")
	defer func() { endSpan(span, ignoreNotFound(err)) }()

	return p.findUser(ctx, goqu.C(colUsername).Eq(username), username)
}

func (p *Postgres) InsertAuthor(ctx context.Context, author *model.Author) (_ *model.Author, err error) {
	if err := ValidateAuthor(author); err != nil {
		return nil, err
	}

	ctx, span := p.tracer.Start(ctx, "store.insert_author")
	defer func() { endSpan(span, err) }()

	stored := &model.Author{
		ID:   uuid.NewString(),
		Name: author.Name,
		Born: author.Born,
	}
	var born interface{}
	if stored.Born != nil {
		born = *stored.Born
	}
	query, args, err := p.builder.Insert(tableAuthors).
		Rows(goqu.Record{colID: stored.ID, colName: stored.Name, colBorn: born}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build insert author query: %w", err)
	}

	if _, err := p.pool.Exec(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("insert author %q: %w", author.Name, mapPgError(err))
	}
	return stored, nil
}

func (p *Postgres) InsertBook(ctx context.Context, book *model.Book) (_ *model.Book, err error) {
	if err := ValidateBook(book); err != nil {
		return nil, err
	}

	ctx, span := p.tracer.Start(ctx, "store.insert_book")
	defer func() { endSpan(span, err) }()

	stored := &model.Book{
		ID:        uuid.NewString(),
		Title:     book.Title,
		Published: book.Published,
		Genres:    append([]string{}, book.Genres...),
		AuthorID:  book.AuthorID,
	}

	query, args, err := p.builder.Insert(tableBooks).
		Rows(goqu.Record{
			colID:        stored.ID,
			colTitle:     stored.Title,
			colPublished: stored.Published,
			colGenres:    textArray(stored.Genres),
			colAuthorID:  stored.AuthorID,
		}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build insert book query: %w", err)
	}

	if _, err := p.pool.Exec(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("insert book %q: %w", book.Title, mapPgError(err))
	}
	return stored, nil
}

func (p *Postgres) InsertUser(ctx context.Context, user *model.User) (_ *model.User, err error) {
	if err := ValidateUser(user); err != nil {
		return nil, err
	}

	ctx, span := p.tracer.Start(ctx, "store.insert_user")
	defer func() { endSpan(span, err) }()

	stored := *user
	stored.ID = uuid.NewString()
	query, args, err := p.builder.Insert(tableUsers).
		Rows(goqu.Record{
			colID:            stored.ID,
			colUsername:      stored.Username,
			colFavoriteGenre: stored.FavoriteGenre,
			colPasswordHash:  stored.PasswordHash,
			colPasswordSalt:  stored.PasswordSalt,
		}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build insert user query: %w", err)
	}

	if _, err := p.pool.Exec(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("insert user %q: %w", user.Username, mapPgError(err))
	}
	return &stored, nil
}

func (p *Postgres) UpdateAuthorBorn(ctx context.Context, name string, born int) (_ *model.Author, err error) {
	ctx, span := p.tracer.Start(ctx, "store.update_author_born")
	defer func() { endSpan(span, ignoreNotFound(err)) }()

	query, args, err := p.builder.Update(tableAuthors).
		Set(goqu.Record{colBorn: born}).
		Where(goqu.C(colName).Eq(name)).
		Returning(colID, colName, colBorn).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build update author query: %w", err)
	}

	author := &model.Author{}
	err = p.pool.QueryRow(ctx, query, args...).Scan(&author.ID, &author.Name, &author.Born)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("author %q: %w", name, ErrNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("update author %q: %w", name, err)
	}
	return author, nil
}

func (p *Postgres) bookWhere(ds *goqu.SelectDataset, filter BookFilter) *goqu.SelectDataset {
	if filter.AuthorID != "" {
		ds = ds.Where(goqu.C(colAuthorID).Eq(filter.AuthorID))
	}
	if filter.Genre != "" {
		ds = ds.Where(goqu.L("? = ANY("+colGenres+")", filter.Genre))
	}
	return ds
}

func (p *Postgres) queryAuthors(ctx context.Context, query string, args []interface{}) ([]*model.Author, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find authors: %w", err)
	}
	defer rows.Close()

	authors := make([]*model.Author, 0)
	for rows.Next() {
		author := &model.Author{}
		if err := rows.Scan(&author.ID, &author.Name, &author.Born); err != nil {
			return nil, fmt.Errorf("scan author: %w", err)
		}
		authors = append(authors, author)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("find authors: %w", err)
	}
	return authors, nil
}

func (p *Postgres) findUser(ctx context.Context, where goqu.Expression, key string) (*model.User, error) {
	query, args, err := p.builder.From(tableUsers).
		Select(colID, colUsername, colFavoriteGenre, colPasswordHash, colPasswordSalt).
		Where(where).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build find user query: %w", err)
	}

	user := &model.User{}
	err = p.pool.QueryRow(ctx, query, args...).Scan(&user.ID, &user.Username, &user.FavoriteGenre, &user.PasswordHash, &user.PasswordSalt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("user %q: %w", key, ErrNotFound)
	} else if err != nil {
		return nil, fmt.Errorf("find user %q: %w", key, err)
	}
	return user, nil
}

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgUniqueViolation:
		return errors.Join(ErrDuplicate, err)
	case pgForeignKeyViolation, pgCheckViolation, pgNotNullViolation:
		return errors.Join(ErrInvalid, err)
	default:
		return err
	}
}

func bookFilterAttributes(filter BookFilter) trace.SpanStartOption {
	return trace.WithAttributes(
		attribute.String("filter.author_id", filter.AuthorID),
		attribute.String("filter.genre", filter.Genre),
	)
}

func ignoreNotFound(err error) error {
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// textArray binds a []string as a single text[] argument. goqu expands plain
// slices into tuples.
type textArray []string

var _ driver.Valuer = textArray(nil)

func (a textArray) Value() (driver.Value, error) {
	if a == nil {
		a = textArray{}
	}
	buf, err := pgtype.NewMap().Encode(pgtype.TextArrayOID, pgtype.TextFormatCode, []string(a), nil)
	if err != nil {
		return nil, err
	}
	return string(buf), nil
}
