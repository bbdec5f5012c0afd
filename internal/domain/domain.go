package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Role of a user. Roles are assigned at login and never change afterwards.
type Role string

const (
	RoleClient Role = "CLIENT"
	RoleAgent  Role = "AGENT"
	RoleAdmin  Role = "ADMIN"
)

// ParseRole returns the role matching s, ignoring case.
func ParseRole(s string) (Role, bool) {
	switch r := Role(strings.ToUpper(strings.TrimSpace(s))); r {
	case RoleClient, RoleAgent, RoleAdmin:
		return r, true
	default:
		return "", false
	}
}

// Privileged reports whether the role may grant tokens.
func (r Role) Privileged() bool {
	return r == RoleAgent || r == RoleAdmin
}

// Language is a display language.
type Language string

const (
	LanguageEN Language = "EN"
	LanguageRU Language = "RU"
	LanguageES Language = "ES"
	LanguageHI Language = "HI"

	DefaultLanguage = LanguageRU
)

var Languages = []Language{LanguageEN, LanguageRU, LanguageES, LanguageHI}

// ParseLanguage returns the language matching s, ignoring case.
func ParseLanguage(s string) (Language, bool) {
	l := Language(strings.ToUpper(strings.TrimSpace(s)))
	for _, v := range Languages {
		if v == l {
			return l, true
		}
	}
	return "", false
}

// Name is the English name of the language, as used in AI prompts.
func (l Language) Name() string {
	switch l {
	case LanguageRU:
		return "Russian"
	case LanguageES:
		return "Spanish"
	case LanguageHI:
		return "Hindi"
	default:
		return "English"
	}
}

// Localized is a text available in several languages.
type Localized map[Language]string

// Get returns the text in lang, falling back to English and then to any translation.
func (l Localized) Get(lang Language) string {
	if s, ok := l[lang]; ok && s != "" {
		return s
	}
	if s, ok := l[LanguageEN]; ok && s != "" {
		return s
	}
	for _, v := range Languages {
		if s := l[v]; s != "" {
			return s
		}
	}
	return ""
}

// User is the only representation of a logged in visitor. It is persisted as JSON.
type User struct {
	ID     string   `json:"id"`
	Email  string   `json:"email"`
	Role   Role     `json:"role"`
	Tokens int64    `json:"tokens"`
	Locale Language `json:"locale"`
}

type TestType string

const (
	TestTypeEnergy      TestType = "energy"
	TestTypePersonality TestType = "personality"
	TestTypeLifestyle   TestType = "lifestyle"
)

// TestDefinition is an immutable test of the catalog.
type TestDefinition struct {
	ID          string
	Title       Localized
	Description Localized
	Type        TestType
	PriceTokens int64
	Questions   []Question
}

// DefaultMaxScore is used when the maximum score of a test cannot be computed.
const DefaultMaxScore = 10

// MaxScore is the sum of the heaviest option of every question.
func (t TestDefinition) MaxScore() int64 {
	var total int64
	for _, q := range t.Questions {
		if len(q.Options) == 0 {
			continue
		}
		m := q.Options[0].Weight
		for _, o := range q.Options[1:] {
			m = max(m, o.Weight)
		}
		total += m
	}
	if total == 0 {
		return DefaultMaxScore
	}
	return total
}

type Question struct {
	ID      string
	Text    Localized
	Options []Option
}

// Option returns the option with the given id.
func (q Question) Option(id string) (Option, bool) {
	for _, o := range q.Options {
		if o.ID == id {
			return o, true
		}
	}
	return Option{}, false
}

type Option struct {
	ID     string
	Text   Localized
	Weight int64
}

// PurchasePackage is a bundle of tokens sold for a base price in USD.
type PurchasePackage struct {
	ID        string
	Tokens    int64
	BasePrice decimal.Decimal
	Popular   bool
}

// Currency selects how a package price is displayed and paid.
type Currency string

const (
	CurrencyUSD    Currency = "USD"
	CurrencyEUR    Currency = "EUR"
	CurrencyRUB    Currency = "RUB"
	CurrencyTRY    Currency = "TRY"
	CurrencyCrypto Currency = "CRYPTO"
)

// ParseCurrency returns the currency matching s, ignoring case.
func ParseCurrency(s string) (Currency, bool) {
	switch c := Currency(strings.ToUpper(strings.TrimSpace(s))); c {
	case CurrencyUSD, CurrencyEUR, CurrencyRUB, CurrencyTRY, CurrencyCrypto:
		return c, true
	default:
		return "", false
	}
}

// DefaultCurrency is the currency preselected for a display language.
func DefaultCurrency(lang Language) Currency {
	if lang == LanguageRU {
		return CurrencyRUB
	}
	return CurrencyUSD
}

type PaymentMethod string

const (
	PaymentMethodCard   PaymentMethod = "CARD"
	PaymentMethodCrypto PaymentMethod = "CRYPTO"
)

// ParsePaymentMethod returns the payment method matching s, ignoring case.
func ParsePaymentMethod(s string) (PaymentMethod, bool) {
	switch m := PaymentMethod(strings.ToUpper(strings.TrimSpace(s))); m {
	case PaymentMethodCard, PaymentMethodCrypto:
		return m, true
	default:
		return "", false
	}
}

// Report is the narrative result of a completed test.
type Report struct {
	Title           string   `json:"title"`
	Summary         string   `json:"summary"`
	Details         []string `json:"details"`
	Recommendations []string `json:"recommendations"`
}

// NutritionEstimate is the result of a food image analysis.
type NutritionEstimate struct {
	FoodName  string  `json:"foodName"`
	Calories  float64 `json:"calories"`
	Protein   string  `json:"protein"`
	Carbs     string  `json:"carbs"`
	Fat       string  `json:"fat"`
	HealthTip string  `json:"healthTip"`
}
