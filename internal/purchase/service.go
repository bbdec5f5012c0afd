package purchase

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/victornm/novatest/internal/catalog"
	"github.com/victornm/novatest/internal/domain"
	"github.com/victornm/novatest/internal/errors"
	"github.com/victornm/novatest/internal/event"
	"github.com/victornm/novatest/internal/session"
)

type Config struct {
	Catalog  *catalog.Catalog
	EventBus *event.Bus
}

// Service decides whether a visitor may spend or receive tokens, and applies
// the resulting balance change through the session store.
type Service struct {
	catalog *catalog.Catalog
	eb      *event.Bus
}

func NewService(c Config) *Service {
	return &Service{
		catalog: c.Catalog,
		eb:      c.EventBus,
	}
}

// StartTest debits the price of a test before it is taken. Visitors without a
// user are sent to login and visitors who cannot pay are refused, in both
// cases without touching the balance.
func (s *Service) StartTest(ctx context.Context, store *session.Store, test domain.TestDefinition) (int64, error) {
	balance, err := store.Debit(ctx, test.PriceTokens)
	if err != nil {
		return balance, err
	}

	slog.InfoContext(ctx, "purchase: test started",
		"visitor", store.VisitorID(),
		"test", test.ID,
		"price", test.PriceTokens,
		"balance", balance,
	)

	return balance, nil
}

// Quote is the displayed price of a package in a currency.
type Quote struct {
	PackageID string
	Tokens    int64
	Currency  domain.Currency
	Amount    decimal.Decimal
	Symbol    string
	Display   string
}

const cryptoUnit = "USDT"

// Quote converts the base price of a package into cur. Fiat prices are
// rounded to whole units, crypto prices carry a markup and two decimals.
func (s *Service) Quote(pkg domain.PurchasePackage, cur domain.Currency) (Quote, error) {
	q := Quote{
		PackageID: pkg.ID,
		Tokens:    pkg.Tokens,
		Currency:  cur,
	}

	if cur == domain.CurrencyCrypto {
		q.Amount = pkg.BasePrice.Mul(catalog.CryptoMarkup).Round(2)
		q.Symbol = cryptoUnit
		q.Display = fmt.Sprintf("%s %s", q.Amount.StringFixed(2), cryptoUnit)
		return q, nil
	}

	r, ok := s.catalog.Rate(cur)
	if !ok {
		return Quote{}, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("unsupported currency: %q", cur))
	}

	q.Amount = pkg.BasePrice.Mul(r.Rate).Round(0)
	q.Symbol = r.Symbol
	q.Display = r.Symbol + q.Amount.String()
	return q, nil
}

// Quotes returns the quote of every package in catalog order.
func (s *Service) Quotes(cur domain.Currency) ([]Quote, error) {
	pkgs := s.catalog.Packages()
	quotes := make([]Quote, 0, len(pkgs))
	for _, p := range pkgs {
		q, err := s.Quote(p, cur)
		if err != nil {
			return nil, err
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}

type PurchaseRequest struct {
	PackageID string
	Currency  domain.Currency
	// Method defaults to crypto for the crypto currency and to card otherwise.
	Method domain.PaymentMethod
}

type Receipt struct {
	Quote   Quote
	Method  domain.PaymentMethod
	Balance int64
}

// Purchase credits the tokens of a package. Payment is simulated: the credit
// is unconditional once the visitor is logged in.
func (s *Service) Purchase(ctx context.Context, store *session.Store, req PurchaseRequest) (*Receipt, error) {
	if _, ok := store.User(); !ok {
		return nil, errors.LoginRequired()
	}

	pkg, ok := s.catalog.Package(req.PackageID)
	if !ok {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("package not found: %q", req.PackageID))
	}

	method, cur, err := checkout(req)
	if err != nil {
		return nil, err
	}

	q, err := s.Quote(pkg, cur)
	if err != nil {
		return nil, err
	}

	balance, err := store.UpdateTokens(ctx, pkg.Tokens)
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "purchase: package purchased",
		"visitor", store.VisitorID(),
		"package", pkg.ID,
		"price", q.Display,
		"method", method,
		"balance", balance,
	)

	return &Receipt{Quote: q, Method: method, Balance: balance}, nil
}

// checkout resolves the payment method and the quoted currency of a purchase.
// Crypto payments are always quoted in crypto.
func checkout(req PurchaseRequest) (domain.PaymentMethod, domain.Currency, error) {
	if req.Method == "" {
		if req.Currency == domain.CurrencyCrypto {
			return domain.PaymentMethodCrypto, req.Currency, nil
		}
		return domain.PaymentMethodCard, req.Currency, nil
	}

	method, ok := domain.ParsePaymentMethod(string(req.Method))
	if !ok {
		return "", "", errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("unsupported payment method: %q", req.Method))
	}

	switch {
	case method == domain.PaymentMethodCrypto:
		return method, domain.CurrencyCrypto, nil
	case req.Currency == domain.CurrencyCrypto:
		return "", "", errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("card payments need a fiat currency"))
	default:
		return method, req.Currency, nil
	}
}

type GrantRequest struct {
	TargetID string
	// Amount is the raw user input; it must be a positive integer.
	Amount string
}

type Grant struct {
	TargetID string
	Amount   int64
	Balance  int64
}

// Grant debits the agent's own balance and reports it as sent to the target.
// No balance is credited on the receiving side.
func (s *Service) Grant(ctx context.Context, store *session.Store, req GrantRequest) (*Grant, error) {
	u, ok := store.User()
	if !ok {
		return nil, errors.LoginRequired()
	}

	if !u.Role.Privileged() {
		return nil, errors.New(errors.CodePermissionDenied,
			errors.WithMessagef("role %s cannot grant tokens", u.Role))
	}

	amount, err := strconv.ParseInt(strings.TrimSpace(req.Amount), 10, 64)
	if err != nil || amount <= 0 {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("invalid amount"))
	}

	balance, err := store.Debit(ctx, amount)
	if err != nil {
		return nil, err
	}

	s.eb.Publish(ctx, domain.EventTokensGranted{
		VisitorID: store.VisitorID(),
		AgentID:   u.ID,
		TargetID:  req.TargetID,
		Amount:    amount,
	})

	slog.InfoContext(ctx, "purchase: tokens granted",
		"visitor", store.VisitorID(),
		"target", req.TargetID,
		"amount", amount,
		"balance", balance,
	)

	return &Grant{TargetID: req.TargetID, Amount: amount, Balance: balance}, nil
}
