package resolver

import (
	"github.com/vvakame/shelfql/internal/auth"
	"github.com/vvakame/shelfql/internal/model"
	"github.com/vvakame/shelfql/internal/pubsub"
	"github.com/vvakame/shelfql/internal/store"
	"go.opentelemetry.io/otel"
)

// TopicBookAdded is the broadcaster topic that carries added books.
const TopicBookAdded = "BOOK_ADDED"

var tracer = otel.Tracer("github.com/vvakame/shelfql/internal/resolver")

// Resolver serves as dependency injection for the typed resolvers.
type Resolver struct {
	store     store.Store
	signer    *auth.Signer
	bookAdded *pubsub.Broadcaster[*model.Book]

	// sharedPassword lets users registered without a password log in.
	// Empty disables it.
	sharedPassword string
}

type Config struct {
	Store          store.Store
	Signer         *auth.Signer
	BookAdded      *pubsub.Broadcaster[*model.Book]
	SharedPassword string
}

func NewResolver(cfg Config) *Resolver {
	return &Resolver{
		store:          cfg.Store,
		signer:         cfg.Signer,
		bookAdded:      cfg.BookAdded,
		sharedPassword: cfg.SharedPassword,
	}
}

// Query returns QueryResolver implementation.
func (r *Resolver) Query() QueryResolver { return &queryResolver{r} }

// Mutation returns MutationResolver implementation.
func (r *Resolver) Mutation() MutationResolver { return &mutationResolver{r} }

// Subscription returns SubscriptionResolver implementation.
func (r *Resolver) Subscription() SubscriptionResolver { return &subscriptionResolver{r} }

// Book returns BookResolver implementation.
func (r *Resolver) Book() BookResolver { return &bookResolver{r} }

// Author returns AuthorResolver implementation.
func (r *Resolver) Author() AuthorResolver { return &authorResolver{r} }

type queryResolver struct{ *Resolver }
type mutationResolver struct{ *Resolver }
type subscriptionResolver struct{ *Resolver }
type bookResolver struct{ *Resolver }
type authorResolver struct{ *Resolver }
