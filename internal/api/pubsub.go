package api

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/victornm/novatest/internal/domain"
)

const maxConcurrent = 100

type (
	Notification struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}

	BalanceChanged struct {
		Delta   int64 `json:"delta"`
		Balance int64 `json:"balance"`
	}

	TestCompleted struct {
		TestID string `json:"test_id"`
	}
)

// VisitorChannel is the pub/sub channel of one visitor.
func (a *API) VisitorChannel(visitorID string) string {
	return fmt.Sprintf("%s:visitor:%s", a.prefix, visitorID)
}

// ActivityChannel receives the notifications of every visitor.
func (a *API) ActivityChannel() string {
	return fmt.Sprintf("%s:activity", a.prefix)
}

func (a *API) PublishBalanceChanged(ctx context.Context, e domain.EventBalanceChanged) error {
	data := BalanceChanged{Delta: e.Delta, Balance: e.Balance}
	return a.publishNotification(ctx, e.Name(), data, a.VisitorChannel(e.VisitorID))
}

func (a *API) PublishTestCompleted(ctx context.Context, e domain.EventTestCompleted) error {
	data := TestCompleted{TestID: e.TestID}
	return a.publishNotification(ctx, e.Name(), data, a.VisitorChannel(e.VisitorID), a.ActivityChannel())
}

func (a *API) publishNotification(ctx context.Context, event string, data any, channels ...string) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	for _, ch := range channels {
		eg.Go(func() error {
			return a.redis.Publish(ctx, ch, b).Err()
		})
	}

	return eg.Wait()
}
