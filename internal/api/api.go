package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"github.com/victornm/novatest/internal/catalog"
	"github.com/victornm/novatest/internal/domain"
	"github.com/victornm/novatest/internal/event"
	"github.com/victornm/novatest/internal/food"
	"github.com/victornm/novatest/internal/purchase"
	"github.com/victornm/novatest/internal/quiz"
	"github.com/victornm/novatest/internal/report"
	"github.com/victornm/novatest/internal/session"
)

type Config struct {
	HTTP     gin.IRouter
	GRPC     grpc.ServiceRegistrar
	EventBus *event.Bus

	Sessions *session.Manager
	Catalog  *catalog.Catalog
	Purchase *purchase.Service
	Quiz     *quiz.Service
	Report   *report.Service
	Food     *food.Service

	// TokenSecret signs visitor tokens. TokenTTL of zero issues tokens that never expire.
	TokenSecret []byte
	TokenTTL    time.Duration

	// Redis receives visitor notifications. Nil disables them.
	Redis        Redis
	PubsubPrefix string
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type API struct {
	sessions *session.Manager
	catalog  *catalog.Catalog
	purchase *purchase.Service
	quiz     *quiz.Service
	report   *report.Service
	food     *food.Service

	tokens tokenIssuer

	redis  Redis
	prefix string
}

func New(c Config) *API {
	a := &API{
		sessions: c.Sessions,
		catalog:  c.Catalog,
		purchase: c.Purchase,
		quiz:     c.Quiz,
		report:   c.Report,
		food:     c.Food,
		tokens:   tokenIssuer{secret: c.TokenSecret, ttl: c.TokenTTL},
		redis:    c.Redis,
		prefix:   c.PubsubPrefix,
	}

	// HTTP APIs
	if c.HTTP != nil {
		a.registerHTTP(c.HTTP)
	}

	// gRPC APIs
	if c.GRPC != nil {
		c.GRPC.RegisterService(&novaServiceDesc, a)
	}

	// Register event handlers
	if a.redis != nil {
		c.EventBus.Subscribe(domain.EventNameBalanceChanged, func(ctx context.Context, e event.Event) error {
			return a.PublishBalanceChanged(ctx, e.(domain.EventBalanceChanged))
		})
		c.EventBus.Subscribe(domain.EventNameTestCompleted, func(ctx context.Context, e event.Event) error {
			return a.PublishTestCompleted(ctx, e.(domain.EventTestCompleted))
		})
	}

	return a
}
