package resolver

import (
	"context"
	"errors"

	"github.com/vvakame/shelfql/internal/apperr"
	"github.com/vvakame/shelfql/internal/log"
	"github.com/vvakame/shelfql/internal/model"
	"github.com/vvakame/shelfql/internal/pubsub"
)

// BookAdded streams every book added after the subscription started.
// The channel is closed when ctx is done.
func (r *subscriptionResolver) BookAdded(ctx context.Context) (<-chan *model.Book, error) {
	if r.bookAdded == nil {
		return nil, apperr.Internal("subscribe bookAdded", errors.New("no broadcaster configured"))
	}
	ch, err := r.bookAdded.Subscribe(ctx)
	if errors.Is(err, pubsub.ErrClosed) {
		return nil, apperr.Internal("subscribe bookAdded", err)
	} else if err != nil {
		return nil, err
	}

	log.FromContext(ctx).V(1).Info("subscribed", "topic", r.bookAdded.Topic())
	return ch, nil
}
