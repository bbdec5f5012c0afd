package purchase_test

import (
	"context"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/novatest/internal/catalog"
	"github.com/victornm/novatest/internal/domain"
	"github.com/victornm/novatest/internal/errors"
	"github.com/victornm/novatest/internal/event"
	"github.com/victornm/novatest/internal/purchase"
	"github.com/victornm/novatest/internal/session"
	"github.com/victornm/novatest/internal/storage"
)

const visitor = "01928a6e-7f5c-7a3b-9c1d-2e3f4a5b6c7d"

func TestService_Quote(t *testing.T) {
	s, c := makeService(t)
	c = c.WithRates(map[domain.Currency]catalog.Rate{
		domain.CurrencyUSD: {Symbol: "$", Rate: decimal.NewFromInt(1)},
		domain.CurrencyEUR: {Symbol: "€", Rate: decimal.RequireFromString("0.92")},
		domain.CurrencyRUB: {Symbol: "₽", Rate: decimal.NewFromInt(92)},
	})
	s = purchase.NewService(purchase.Config{Catalog: c})

	pkg := domain.PurchasePackage{ID: "starter", Tokens: 250, BasePrice: decimal.NewFromInt(10)}

	tests := map[string]struct {
		currency    domain.Currency
		wantAmount  string
		wantDisplay string
	}{
		"USD should keep the base price":           {currency: domain.CurrencyUSD, wantAmount: "10", wantDisplay: "$10"},
		"EUR should round to the nearest unit":     {currency: domain.CurrencyEUR, wantAmount: "9", wantDisplay: "€9"},
		"RUB should convert with the rate":         {currency: domain.CurrencyRUB, wantAmount: "920", wantDisplay: "₽920"},
		"crypto should add the markup, 2 decimals": {currency: domain.CurrencyCrypto, wantAmount: "10.5", wantDisplay: "10.50 USDT"},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			q, err := s.Quote(pkg, tt.currency)
			require.NoError(t, err)
			assert.True(t, q.Amount.Equal(decimal.RequireFromString(tt.wantAmount)), "amount %s, want %s", q.Amount, tt.wantAmount)
			assert.Equal(t, tt.wantDisplay, q.Display)
			assert.EqualValues(t, 250, q.Tokens)
		})
	}

	_, err := s.Quote(pkg, domain.CurrencyTRY)
	assert.True(t, errors.HasCode(err, errors.CodeInvalidArgument), "currency missing from the table should be rejected")
}

func TestService_Quotes(t *testing.T) {
	s, c := makeService(t)

	qs, err := s.Quotes(domain.CurrencyTRY)
	require.NoError(t, err)
	require.Len(t, qs, len(c.Packages()))
	assert.Equal(t, "₺345", qs[0].Display)
}

func TestService_StartTest(t *testing.T) {
	test := domain.TestDefinition{ID: "energy", PriceTokens: 300}

	tests := map[string]struct {
		arrange     func(t *testing.T, store *session.Store)
		wantCode    errors.Code
		wantBalance int64
		wantUser    bool
	}{
		"logged out visitor should be sent to login": {
			arrange:  func(t *testing.T, store *session.Store) {},
			wantCode: errors.CodeUnauthenticated,
		},
		"insufficient balance should be refused without mutation": {
			arrange: func(t *testing.T, store *session.Store) {
				login(t, store, domain.RoleClient)
				_, err := store.UpdateTokens(context.Background(), -800)
				require.NoError(t, err)
			},
			wantCode:    errors.CodeFailedPrecondition,
			wantBalance: 200,
			wantUser:    true,
		},
		"enough balance should debit the price exactly once": {
			arrange: func(t *testing.T, store *session.Store) {
				login(t, store, domain.RoleClient)
			},
			wantBalance: 700,
			wantUser:    true,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			s, _ := makeService(t)
			store := makeStore(t)
			tt.arrange(t, store)

			_, err := s.StartTest(context.Background(), store, test)
			if tt.wantCode != 0 {
				assert.True(t, errors.HasCode(err, tt.wantCode), "got %v", err)
			} else {
				require.NoError(t, err)
			}

			u, ok := store.User()
			require.Equal(t, tt.wantUser, ok)
			assert.Equal(t, tt.wantBalance, u.Tokens)
		})
	}
}

func TestService_StartTestRedirect(t *testing.T) {
	s, _ := makeService(t)

	_, err := s.StartTest(context.Background(), makeStore(t), domain.TestDefinition{ID: "energy", PriceTokens: 300})
	assert.Equal(t, errors.RouteAuth, errors.Convert(err).Redirect)
}

func TestService_Purchase(t *testing.T) {
	ctx := context.Background()
	s, _ := makeService(t)
	store := makeStore(t)

	_, err := s.Purchase(ctx, store, purchase.PurchaseRequest{PackageID: "pro", Currency: domain.CurrencyUSD})
	assert.True(t, errors.HasCode(err, errors.CodeUnauthenticated))

	login(t, store, domain.RoleClient)

	_, err = s.Purchase(ctx, store, purchase.PurchaseRequest{PackageID: "mega", Currency: domain.CurrencyUSD})
	assert.True(t, errors.HasCode(err, errors.CodeNotFound))

	r, err := s.Purchase(ctx, store, purchase.PurchaseRequest{PackageID: "pro", Currency: domain.CurrencyCrypto})
	require.NoError(t, err)
	assert.EqualValues(t, 1750, r.Balance)
	assert.Equal(t, domain.PaymentMethodCrypto, r.Method)
	assert.Equal(t, "26.25 USDT", r.Quote.Display)

	r, err = s.Purchase(ctx, store, purchase.PurchaseRequest{PackageID: "starter", Currency: domain.CurrencyEUR})
	require.NoError(t, err)
	assert.EqualValues(t, 2000, r.Balance)
	assert.Equal(t, domain.PaymentMethodCard, r.Method)
}

func TestService_PurchaseMethod(t *testing.T) {
	tests := map[string]struct {
		currency    domain.Currency
		method      domain.PaymentMethod
		wantCode    errors.Code
		wantMethod  domain.PaymentMethod
		wantDisplay string
		wantBalance int64
	}{
		"card should keep the fiat quote":             {currency: domain.CurrencyUSD, method: "card", wantMethod: domain.PaymentMethodCard, wantDisplay: "$25", wantBalance: 1750},
		"crypto method should quote in crypto":        {currency: domain.CurrencyUSD, method: "CRYPTO", wantMethod: domain.PaymentMethodCrypto, wantDisplay: "26.25 USDT", wantBalance: 1750},
		"unknown method should be rejected":           {currency: domain.CurrencyUSD, method: "bitcoin", wantCode: errors.CodeInvalidArgument, wantBalance: 1000},
		"card with crypto currency should be refused": {currency: domain.CurrencyCrypto, method: "CARD", wantCode: errors.CodeInvalidArgument, wantBalance: 1000},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s, _ := makeService(t)
			store := makeStore(t)
			login(t, store, domain.RoleClient)

			r, err := s.Purchase(ctx, store, purchase.PurchaseRequest{PackageID: "pro", Currency: tt.currency, Method: tt.method})
			if tt.wantCode != 0 {
				assert.True(t, errors.HasCode(err, tt.wantCode), "got %v", err)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantMethod, r.Method)
				assert.Equal(t, tt.wantDisplay, r.Quote.Display)
				assert.Equal(t, r.Method == domain.PaymentMethodCrypto, r.Quote.Currency == domain.CurrencyCrypto)
			}

			u, ok := store.User()
			require.True(t, ok)
			assert.Equal(t, tt.wantBalance, u.Tokens, "a rejected checkout should not credit")
		})
	}
}

func TestService_Grant(t *testing.T) {
	tests := map[string]struct {
		role        domain.Role
		amount      string
		wantCode    errors.Code
		wantBalance int64
	}{
		"agent should debit own balance":             {role: domain.RoleAgent, amount: "100", wantBalance: 900},
		"admin should be allowed to grant":           {role: domain.RoleAdmin, amount: " 1000 ", wantBalance: 0},
		"client should be refused":                   {role: domain.RoleClient, amount: "100", wantCode: errors.CodePermissionDenied, wantBalance: 1000},
		"non numeric amount should be rejected":      {role: domain.RoleAgent, amount: "ten", wantCode: errors.CodeInvalidArgument, wantBalance: 1000},
		"zero amount should be rejected":             {role: domain.RoleAgent, amount: "0", wantCode: errors.CodeInvalidArgument, wantBalance: 1000},
		"negative amount should be rejected":         {role: domain.RoleAgent, amount: "-5", wantCode: errors.CodeInvalidArgument, wantBalance: 1000},
		"amount above the balance should be refused": {role: domain.RoleAgent, amount: "1001", wantCode: errors.CodeFailedPrecondition, wantBalance: 1000},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			eb := event.NewBus()
			var (
				mu      sync.Mutex
				granted []domain.EventTokensGranted
			)
			eb.Subscribe(domain.EventNameTokensGranted, func(ctx context.Context, e event.Event) error {
				mu.Lock()
				granted = append(granted, e.(domain.EventTokensGranted))
				mu.Unlock()
				return nil
			})

			c, err := catalog.Default()
			require.NoError(t, err)
			s := purchase.NewService(purchase.Config{Catalog: c, EventBus: eb})

			store := makeStore(t)
			login(t, store, tt.role)

			_, err = s.Grant(context.Background(), store, purchase.GrantRequest{TargetID: "USER-9921", Amount: tt.amount})
			eb.Stop()

			if tt.wantCode != 0 {
				assert.True(t, errors.HasCode(err, tt.wantCode), "got %v", err)
				assert.Empty(t, granted)
			} else {
				require.NoError(t, err)
				require.Len(t, granted, 1)
				assert.Equal(t, "USER-9921", granted[0].TargetID)
			}

			u, _ := store.User()
			assert.Equal(t, tt.wantBalance, u.Tokens)
		})
	}
}

func TestService_GrantLoggedOut(t *testing.T) {
	s, _ := makeService(t)

	_, err := s.Grant(context.Background(), makeStore(t), purchase.GrantRequest{TargetID: "x", Amount: "1"})
	assert.True(t, errors.HasCode(err, errors.CodeUnauthenticated))
}

func makeService(t *testing.T) (*purchase.Service, *catalog.Catalog) {
	c, err := catalog.Default()
	require.NoError(t, err)

	return purchase.NewService(purchase.Config{Catalog: c}), c
}

func makeStore(t *testing.T) *session.Store {
	s, err := session.Open(context.Background(), session.Config{
		VisitorID: visitor,
		Storage:   storage.NewMemory(),
	})
	require.NoError(t, err)
	return s
}

func login(t *testing.T, s *session.Store, role domain.Role) {
	_, err := s.Login(context.Background(), role)
	require.NoError(t, err)
}
