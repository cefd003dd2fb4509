package catalog

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/99designs/gqlgen/graphql"
	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vvakame/shelfql/internal/auth"
	"github.com/vvakame/shelfql/internal/execute"
	"github.com/vvakame/shelfql/internal/log"
	"github.com/vvakame/shelfql/internal/model"
	"github.com/vvakame/shelfql/internal/pubsub"
	"github.com/vvakame/shelfql/internal/resolver"
	"github.com/vvakame/shelfql/internal/store"
)

//go:embed schema.graphqls
var schemaSDL string

var _ graphql.ExecutableSchema = (*catalogImpl)(nil)

type Config struct {
	Store  store.Store
	Signer *auth.Signer
	// BookAdded carries added books to bookAdded subscribers. The caller
	// owns it and closes it on shutdown.
	BookAdded *pubsub.Broadcaster[*model.Book]
	// SharedPassword is accepted by login for users without a password of
	// their own. Empty disables it.
	SharedPassword string
}

type catalogImpl struct {
	schema        *ast.Schema
	store         store.Store
	auth          *auth.ContextResolver
	resolvers     execute.ResolverMap
	subscriptions map[string]execute.SubscriptionResolver
}

// Schema parses the embedded catalog SDL.
func Schema() (*ast.Schema, error) {
	return gqlparser.LoadSchema(&ast.Source{
		Name:  "schema.graphqls",
		Input: schemaSDL,
	})
}

// SDL returns the catalog schema as served.
func SDL() string {
	return schemaSDL
}

func NewCatalog(ctx context.Context, cfg *Config) (graphql.ExecutableSchema, error) {
	return newCatalog(ctx, cfg)
}

func newCatalog(ctx context.Context, cfg *Config) (*catalogImpl, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Signer == nil {
		return nil, fmt.Errorf("signer is required")
	}
	if cfg.BookAdded == nil {
		return nil, fmt.Errorf("bookAdded broadcaster is required")
	}

	schema, err := Schema()
	if err != nil {
		return nil, err
	}

	root := resolver.NewResolver(resolver.Config{
		Store:          cfg.Store,
		Signer:         cfg.Signer,
		BookAdded:      cfg.BookAdded,
		SharedPassword: cfg.SharedPassword,
	})
	resolvers, subscriptions := resolver.Bindings(root)

	log.FromContext(ctx).V(1).Info("catalog ready", "types", len(schema.Types))

	return &catalogImpl{
		schema:        schema,
		store:         cfg.Store,
		auth:          auth.NewContextResolver(cfg.Signer, cfg.Store),
		resolvers:     resolvers,
		subscriptions: subscriptions,
	}, nil
}

func (c *catalogImpl) Schema() *ast.Schema {
	return c.schema
}

// Complexity weighs the unpaginated list fields.
func (c *catalogImpl) Complexity(typeName, fieldName string, childComplexity int, args map[string]interface{}) (int, bool) {
	switch typeName + "." + fieldName {
	case "Query.allBooks", "Query.allAuthors":
		return 10 * (childComplexity + 1), true
	default:
		return 0, false
	}
}

func (c *catalogImpl) Exec(ctx context.Context) graphql.ResponseHandler {
	if err := authErrorFromContext(ctx); err != nil {
		graphql.AddError(ctx, err)
		return noResponse
	}

	oc := graphql.GetOperationContext(ctx)
	args := &execute.ExecutionArgs{
		Schema:        c.schema,
		Resolvers:     c.resolvers,
		Subscriptions: c.subscriptions,
	}

	if oc.Operation != nil && oc.Operation.Operation == ast.Subscription {
		stream, err := execute.Subscribe(ctx, args)
		if err != nil {
			graphql.AddError(ctx, err)
			return noResponse
		}
		return func(ctx context.Context) *graphql.Response {
			select {
			case event, ok := <-stream:
				if !ok {
					return nil
				}
				ctx = resolver.WithAuthorLoader(ctx, resolver.NewAuthorLoader(c.store))
				return execute.ExecuteEvent(ctx, args, event)
			case <-ctx.Done():
				return nil
			}
		}
	}

	done := false
	return func(ctx context.Context) *graphql.Response {
		if done {
			return nil
		}
		done = true

		ctx = resolver.WithAuthorLoader(ctx, resolver.NewAuthorLoader(c.store))
		return execute.Execute(ctx, args)
	}
}

func noResponse(ctx context.Context) *graphql.Response {
	return nil
}

type authErrorKey struct{}

// aroundOperations derives the AuthContext once per operation. A rejected
// credential fails the whole operation before any resolver runs.
func (c *catalogImpl) aroundOperations(ctx context.Context, next graphql.OperationHandler) graphql.ResponseHandler {
	a, err := c.auth.Resolve(ctx, auth.CredentialFromContext(ctx))
	if err != nil {
		ctx = context.WithValue(ctx, authErrorKey{}, err)
	} else {
		ctx = auth.WithAuthContext(ctx, a)
	}
	if a.Authenticated() {
		ctx = log.WithValues(ctx, "username", a.User.Username)
	}
	return next(ctx)
}

func authErrorFromContext(ctx context.Context) error {
	err, _ := ctx.Value(authErrorKey{}).(error)
	return err
}
