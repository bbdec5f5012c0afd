// Package food sells AI nutrition estimates of meal photos for tokens.
package food

import (
	"context"
	"log/slog"

	"github.com/victornm/novatest/internal/domain"
	"github.com/victornm/novatest/internal/errors"
	"github.com/victornm/novatest/internal/event"
	"github.com/victornm/novatest/internal/session"
)

// ScanPrice is the token price of one successful scan.
const ScanPrice = 50

type Analyzer interface {
	AnalyzeImage(ctx context.Context, image []byte, lang domain.Language) (*domain.NutritionEstimate, error)
}

type Config struct {
	Analyzer Analyzer
	EventBus *event.Bus
}

type Service struct {
	analyzer Analyzer
	eb       *event.Bus
}

func NewService(c Config) *Service {
	return &Service{
		analyzer: c.Analyzer,
		eb:       c.EventBus,
	}
}

// Scan analyzes a meal photo. The balance is checked up front but debited
// only once the analysis succeeded, so a failed scan costs nothing.
func (s *Service) Scan(ctx context.Context, store *session.Store, image []byte, lang domain.Language) (*domain.NutritionEstimate, int64, error) {
	u, ok := store.User()
	if !ok {
		return nil, 0, errors.LoginRequired()
	}
	if u.Tokens < ScanPrice {
		return nil, u.Tokens, errors.InsufficientTokens(u.Tokens, ScanPrice)
	}

	n, err := s.analyzer.AnalyzeImage(ctx, image, lang)
	if err != nil {
		if errors.HasCode(err, errors.CodeInvalidArgument) {
			return nil, u.Tokens, err
		}
		slog.WarnContext(ctx, "food: analyze image failed",
			"visitor", store.VisitorID(),
			"error", err,
		)
		return nil, u.Tokens, errors.New(errors.CodeUnavailable,
			errors.WithMessagef("image analysis failed, please try again"),
			errors.WithCause(err),
		)
	}

	// The balance may have moved while the analysis ran; Debit rechecks it.
	balance, err := store.Debit(ctx, ScanPrice)
	if err != nil {
		return nil, balance, err
	}

	s.eb.Publish(ctx, domain.EventFoodScanned{
		VisitorID: store.VisitorID(),
		FoodName:  n.FoodName,
		Calories:  n.Calories,
		Price:     ScanPrice,
	})

	return n, balance, nil
}
