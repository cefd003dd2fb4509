package resolver

import (
	"context"

	"github.com/99designs/gqlgen/graphql"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vvakame/shelfql/internal/execute"
	"github.com/vvakame/shelfql/internal/model"
)

type ResolverRoot interface {
	Query() QueryResolver
	Mutation() MutationResolver
	Subscription() SubscriptionResolver
	Book() BookResolver
	Author() AuthorResolver
}

type QueryResolver interface {
	BookCount(ctx context.Context) (int, error)
	AuthorCount(ctx context.Context) (int, error)
	AllBooks(ctx context.Context, author *string, genre *string) ([]*model.Book, error)
	AllAuthors(ctx context.Context) ([]*model.Author, error)
	AllGenres(ctx context.Context) ([]string, error)
	Me(ctx context.Context) (*model.User, error)
}

type MutationResolver interface {
	AddBook(ctx context.Context, title string, published int, author string, genres []string) (*model.Book, error)
	EditAuthor(ctx context.Context, name string, setBornTo int) (*model.Author, error)
	CreateUser(ctx context.Context, username string, favoriteGenre string, password *string) (*model.User, error)
	Login(ctx context.Context, username string, password string) (*model.Token, error)
}

type SubscriptionResolver interface {
	BookAdded(ctx context.Context) (<-chan *model.Book, error)
}

type BookResolver interface {
	Author(ctx context.Context, obj *model.Book) (*model.Author, error)
}

type AuthorResolver interface {
	BookCount(ctx context.Context, obj *model.Author) (int, error)
}

var _ ResolverRoot = (*Resolver)(nil)

// Bindings adapts the typed resolvers of root to the executor's resolver
// tables. Fields missing here are read from the model structs.
func Bindings(root ResolverRoot) (execute.ResolverMap, map[string]execute.SubscriptionResolver) {
	query := root.Query()
	mutation := root.Mutation()
	subscription := root.Subscription()
	book := root.Book()
	author := root.Author()

	resolvers := execute.ResolverMap{
		"Query": {
			"bookCount": func(ctx context.Context, source interface{}, args map[string]interface{}) (interface{}, error) {
				return query.BookCount(ctx)
			},
			"authorCount": func(ctx context.Context, source interface{}, args map[string]interface{}) (interface{}, error) {
				return query.AuthorCount(ctx)
			},
			"allBooks": func(ctx context.Context, source interface{}, args map[string]interface{}) (interface{}, error) {
				authorArg, err := argOptionalString(args, "author")
				if err != nil {
					return nil, err
				}
				genreArg, err := argOptionalString(args, "genre")
				if err != nil {
					return nil, err
				}
				return query.AllBooks(ctx, authorArg, genreArg)
			},
			"allAuthors": func(ctx context.Context, source interface{}, args map[string]interface{}) (interface{}, error) {
				return query.AllAuthors(ctx)
			},
			"allGenres": func(ctx context.Context, source interface{}, args map[string]interface{}) (interface{}, error) {
				return query.AllGenres(ctx)
			},
			"me": func(ctx context.Context, source interface{}, args map[string]interface{}) (interface{}, error) {
				return query.Me(ctx)
			},
		},
		"Mutation": {
			"addBook": func(ctx context.Context, source interface{}, args map[string]interface{}) (interface{}, error) {
				title, err := argString(args, "title")
				if err != nil {
					return nil, err
				}
				published, err := argInt(args, "published")
				if err != nil {
					return nil, err
				}
				authorName, err := argString(args, "author")
				if err != nil {
					return nil, err
				}
				genres, err := argStrings(args, "genres")
				if err != nil {
					return nil, err
				}
				return mutation.AddBook(ctx, title, published, authorName, genres)
			},
			"editAuthor": func(ctx context.Context, source interface{}, args map[string]interface{}) (interface{}, error) {
				name, err := argString(args, "name")
				if err != nil {
					return nil, err
				}
				born, err := argInt(args, "setBornTo")
				if err != nil {
					return nil, err
				}
				return mutation.EditAuthor(ctx, name, born)
			},
			"createUser": func(ctx context.Context, source interface{}, args map[string]interface{}) (interface{}, error) {
				username, err := argString(args, "username")
				if err != nil {
					return nil, err
				}
				favoriteGenre, err := argString(args, "favoriteGenre")
				if err != nil {
					return nil, err
				}
				password, err := argOptionalString(args, "password")
				if err != nil {
					return nil, err
				}
				return mutation.CreateUser(ctx, username, favoriteGenre, password)
			},
			"login": func(ctx context.Context, source interface{}, args map[string]interface{}) (interface{}, error) {
				username, err := argString(args, "username")
				if err != nil {
					return nil, err
				}
				password, err := argString(args, "password")
				if err != nil {
					return nil, err
				}
				return mutation.Login(ctx, username, password)
			},
		},
		"Book": {
			"author": func(ctx context.Context, source interface{}, args map[string]interface{}) (interface{}, error) {
				obj, ok := source.(*model.Book)
				if !ok {
					return nil, gqlerror.Errorf("unexpected Book source %T", source)
				}
				return book.Author(ctx, obj)
			},
		},
		"Author": {
			"bookCount": func(ctx context.Context, source interface{}, args map[string]interface{}) (interface{}, error) {
				obj, ok := source.(*model.Author)
				if !ok {
					return nil, gqlerror.Errorf("unexpected Author source %T", source)
				}
				return author.BookCount(ctx, obj)
			},
		},
	}

	subscriptions := map[string]execute.SubscriptionResolver{
		"bookAdded": func(ctx context.Context, args map[string]interface{}) (<-chan interface{}, error) {
			books, err := subscription.BookAdded(ctx)
			if err != nil {
				return nil, err
			}
			out := make(chan interface{})
			go func() {
				defer close(out)
				for added := range books {
					select {
					case out <- added:
					case <-ctx.Done():
						return
					}
				}
			}()
			return out, nil
		},
	}

	return resolvers, subscriptions
}

func argString(args map[string]interface{}, name string) (string, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return "", nil
	}
	s, err := graphql.UnmarshalString(v)
	if err != nil {
		return "", gqlerror.Errorf("argument %s: %s", name, err.Error())
	}
	return s, nil
}

func argOptionalString(args map[string]interface{}, name string) (*string, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return nil, nil
	}
	s, err := argString(args, name)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func argInt(args map[string]interface{}, name string) (int, error) {
	n, err := graphql.UnmarshalInt(args[name])
	if err != nil {
		return 0, gqlerror.Errorf("argument %s: %s", name, err.Error())
	}
	return n, nil
}

func argStrings(args map[string]interface{}, name string) ([]string, error) {
	switch v := args[name].(type) {
	case nil:
		return []string{}, nil
	case []string:
		return v, nil
	case []interface{}:
		ret := make([]string, 0, len(v))
		for _, item := range v {
			s, err := graphql.UnmarshalString(item)
			if err != nil {
				return nil, gqlerror.Errorf("argument %s: %s", name, err.Error())
			}
			ret = append(ret, s)
		}
		return ret, nil
	default:
		// a single value is coerced to a list of one.
		s, err := graphql.UnmarshalString(v)
		if err != nil {
			return nil, gqlerror.Errorf("argument %s: %s", name, err.Error())
		}
		return []string{s}, nil
	}
}
