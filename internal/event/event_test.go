package event_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/victornm/novatest/internal/domain"
	"github.com/victornm/novatest/internal/event"
)

func TestBus_PublishSubscribe(t *testing.T) {
	var (
		balance   = domain.EventBalanceChanged{VisitorID: "v1", Delta: -300, Balance: 700}
		completed = domain.EventTestCompleted{VisitorID: "v1", TestID: "energy"}
		loggedOut = domain.EventLoggedOut{VisitorID: "v1"}
	)

	type (
		inputs struct {
			published   []event.Event
			subscribers []subscriber
		}

		outputs struct {
			received map[string][]event.Event
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"a subscriber should only receive the events it subscribed to": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{balance, completed},
					subscribers: []subscriber{
						{name: "metrics", subscribeTo: []string{domain.EventNameBalanceChanged}},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{balance}, out.received["metrics"])
			},
		},

		"an event should be dispatched to all subscribers": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{completed},
					subscribers: []subscriber{
						{name: "metrics", subscribeTo: []string{domain.EventNameTestCompleted}},
						{name: "pubsub", subscribeTo: []string{domain.EventNameTestCompleted}},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{completed}, out.received["metrics"])
				assert.ElementsMatch(t, []event.Event{completed}, out.received["pubsub"])
			},
		},

		"multiple events should be dispatched correctly to multiple subscribers": {
			arrange: func() inputs {
				return inputs{
					published: []event.Event{balance, completed, balance, loggedOut},
					subscribers: []subscriber{
						{name: "metrics", subscribeTo: []string{domain.EventNameBalanceChanged}},
						{name: "pubsub", subscribeTo: []string{domain.EventNameBalanceChanged, domain.EventNameTestCompleted}},
						{name: "audit", subscribeTo: []string{domain.EventNameLoggedOut}},
					},
				}
			},

			assert: func(t *testing.T, out outputs) {
				assert.ElementsMatch(t, []event.Event{balance, balance}, out.received["metrics"])
				assert.ElementsMatch(t, []event.Event{balance, balance, completed}, out.received["pubsub"])
				assert.ElementsMatch(t, []event.Event{loggedOut}, out.received["audit"])
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			in := tt.arrange()
			mu := sync.Mutex{}
			out := outputs{received: make(map[string][]event.Event)}

			b := event.NewBus(event.WithPoolSize(2))
			for _, s := range in.subscribers {
				for _, e := range s.subscribeTo {
					b.Subscribe(e, func(ctx context.Context, e event.Event) error {
						mu.Lock()
						out.received[s.name] = append(out.received[s.name], e)
						mu.Unlock()
						return nil
					})
				}
			}

			for _, e := range in.published {
				b.Publish(context.Background(), e)
			}
			b.Stop()

			tt.assert(t, out)
		})
	}
}

func TestBus_HandlerFailures(t *testing.T) {
	b := event.NewBus(event.WithTimeout(time.Second))

	var (
		mu    sync.Mutex
		calls int
	)
	count := func() {
		mu.Lock()
		calls++
		mu.Unlock()
	}

	b.Subscribe(domain.EventNameTestCompleted, func(ctx context.Context, e event.Event) error {
		count()
		panic("handler bug")
	})
	b.Subscribe(domain.EventNameTestCompleted, func(ctx context.Context, e event.Event) error {
		count()
		return errors.New("redis unavailable")
	})
	b.Subscribe(domain.EventNameTestCompleted, func(ctx context.Context, e event.Event) error {
		count()
		return nil
	})

	b.Publish(context.Background(), domain.EventTestCompleted{VisitorID: "v1", TestID: "energy"})
	b.Stop()

	assert.Equal(t, 3, calls, "a failing handler should not prevent the others from running")
}

func TestBus_Nil(t *testing.T) {
	var b *event.Bus

	assert.NotPanics(t, func() {
		b.Publish(context.Background(), domain.EventLoggedOut{VisitorID: "v1"})
		b.Stop()
	})
}

type subscriber struct {
	name        string
	subscribeTo []string
}
