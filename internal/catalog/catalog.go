// Package catalog holds the static, immutable test definitions and token
// packages. It is loaded once at start up and only read afterwards.
package catalog

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/victornm/novatest/internal/domain"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// CryptoMarkup is applied to the base price when paying with crypto.
var CryptoMarkup = decimal.RequireFromString("1.05")

// Rate converts a base price into a fiat currency.
type Rate struct {
	Symbol string
	Rate   decimal.Decimal
}

var rates = map[domain.Currency]Rate{
	domain.CurrencyUSD: {Symbol: "$", Rate: decimal.NewFromInt(1)},
	domain.CurrencyEUR: {Symbol: "€", Rate: decimal.RequireFromString("0.92")},
	domain.CurrencyRUB: {Symbol: "₽", Rate: decimal.NewFromInt(92)},
	domain.CurrencyTRY: {Symbol: "₺", Rate: decimal.RequireFromString("34.5")},
}

type Catalog struct {
	tests    []domain.TestDefinition
	packages []domain.PurchasePackage
	rates    map[domain.Currency]Rate
}

// Default returns the catalog shipped with the binary.
func Default() (*Catalog, error) {
	return Load(bytes.NewReader(defaultCatalog))
}

type (
	document struct {
		Tests    []testDoc    `yaml:"tests"`
		Packages []packageDoc `yaml:"packages"`
	}

	testDoc struct {
		ID          string           `yaml:"id"`
		Type        domain.TestType  `yaml:"type"`
		PriceTokens int64            `yaml:"price_tokens"`
		Title       domain.Localized `yaml:"title"`
		Description domain.Localized `yaml:"description"`
		Questions   []questionDoc    `yaml:"questions"`
	}

	questionDoc struct {
		ID      string           `yaml:"id"`
		Text    domain.Localized `yaml:"text"`
		Options []optionDoc      `yaml:"options"`
	}

	optionDoc struct {
		ID     string           `yaml:"id"`
		Weight int64            `yaml:"weight"`
		Text   domain.Localized `yaml:"text"`
	}

	packageDoc struct {
		ID        string `yaml:"id"`
		Tokens    int64  `yaml:"tokens"`
		BasePrice string `yaml:"base_price"`
		Popular   bool   `yaml:"popular"`
	}
)

// Load reads a YAML catalog and validates it.
func Load(r io.Reader) (*Catalog, error) {
	var doc document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}

	c := &Catalog{rates: rates}

	seen := make(map[string]struct{}, len(doc.Tests))
	for _, td := range doc.Tests {
		if _, ok := seen[td.ID]; ok {
			return nil, fmt.Errorf("catalog: duplicate test %q", td.ID)
		}
		seen[td.ID] = struct{}{}

		t, err := td.toDomain()
		if err != nil {
			return nil, fmt.Errorf("catalog: test %q: %w", td.ID, err)
		}
		c.tests = append(c.tests, t)
	}

	for _, pd := range doc.Packages {
		price, err := decimal.NewFromString(pd.BasePrice)
		if err != nil {
			return nil, fmt.Errorf("catalog: package %q: base price: %w", pd.ID, err)
		}
		if pd.Tokens <= 0 || !price.IsPositive() {
			return nil, fmt.Errorf("catalog: package %q: tokens and price must be positive", pd.ID)
		}
		c.packages = append(c.packages, domain.PurchasePackage{
			ID:        pd.ID,
			Tokens:    pd.Tokens,
			BasePrice: price,
			Popular:   pd.Popular,
		})
	}

	return c, nil
}

func (td testDoc) toDomain() (domain.TestDefinition, error) {
	if td.ID == "" {
		return domain.TestDefinition{}, fmt.Errorf("missing id")
	}
	if td.PriceTokens < 0 {
		return domain.TestDefinition{}, fmt.Errorf("negative price")
	}
	if len(td.Questions) == 0 {
		return domain.TestDefinition{}, fmt.Errorf("no questions")
	}

	t := domain.TestDefinition{
		ID:          td.ID,
		Title:       td.Title,
		Description: td.Description,
		Type:        td.Type,
		PriceTokens: td.PriceTokens,
	}

	questions := make(map[string]struct{}, len(td.Questions))
	for _, qd := range td.Questions {
		if _, ok := questions[qd.ID]; ok {
			return domain.TestDefinition{}, fmt.Errorf("duplicate question %q", qd.ID)
		}
		questions[qd.ID] = struct{}{}

		if len(qd.Options) == 0 {
			return domain.TestDefinition{}, fmt.Errorf("question %q: no options", qd.ID)
		}

		q := domain.Question{ID: qd.ID, Text: qd.Text}
		options := make(map[string]struct{}, len(qd.Options))
		for _, od := range qd.Options {
			if _, ok := options[od.ID]; ok {
				return domain.TestDefinition{}, fmt.Errorf("question %q: duplicate option %q", qd.ID, od.ID)
			}
			options[od.ID] = struct{}{}
			q.Options = append(q.Options, domain.Option{ID: od.ID, Text: od.Text, Weight: od.Weight})
		}
		t.Questions = append(t.Questions, q)
	}

	return t, nil
}

// Tests returns all tests in catalog order.
func (c *Catalog) Tests() []domain.TestDefinition {
	return c.tests
}

// Test returns the test with the given id.
func (c *Catalog) Test(id string) (domain.TestDefinition, bool) {
	for _, t := range c.tests {
		if t.ID == id {
			return t, true
		}
	}
	return domain.TestDefinition{}, false
}

// Packages returns all token packages in catalog order.
func (c *Catalog) Packages() []domain.PurchasePackage {
	return c.packages
}

// Package returns the token package with the given id.
func (c *Catalog) Package(id string) (domain.PurchasePackage, bool) {
	for _, p := range c.packages {
		if p.ID == id {
			return p, true
		}
	}
	return domain.PurchasePackage{}, false
}

// Rate returns the conversion of a fiat currency. Crypto has no rate.
func (c *Catalog) Rate(cur domain.Currency) (Rate, bool) {
	r, ok := c.rates[cur]
	return r, ok
}

// WithRates replaces the currency table. Meant for tests and regional deployments.
func (c *Catalog) WithRates(r map[domain.Currency]Rate) *Catalog {
	cc := *c
	cc.rates = r
	return &cc
}
