package api

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/text/language"
	"google.golang.org/grpc/metadata"

	"github.com/victornm/novatest/internal/domain"
	"github.com/victornm/novatest/internal/errors"
	"github.com/victornm/novatest/internal/session"
)

const (
	issuerName = "novatest"
	storeKey   = "novatest.store"
)

// tokenIssuer signs visitor handles into bearer tokens.
type tokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

func (t tokenIssuer) issue(visitorID string, now time.Time) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:   issuerName,
		Subject:  visitorID,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if t.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(t.ttl))
	}

	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("api: sign token: %w", err)
	}
	return s, nil
}

// visitor returns the visitor handle carried by a token.
func (t tokenIssuer) visitor(raw string) (string, error) {
	token, err := jwt.ParseWithClaims(raw, &jwt.RegisteredClaims{},
		func(*jwt.Token) (any, error) { return t.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuerName),
	)
	if err != nil {
		return "", errors.New(errors.CodeUnauthenticated,
			errors.WithMessagef("invalid visitor token"),
			errors.WithCause(err),
		)
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.New(errors.CodeUnauthenticated, errors.WithMessagef("invalid visitor token"))
	}
	return sub, nil
}

func bearer(header string) (string, bool) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	raw = strings.TrimSpace(raw)
	return raw, ok && raw != ""
}

func (a *API) storeOf(ctx context.Context, header string) (*session.Store, error) {
	raw, ok := bearer(header)
	if !ok {
		return nil, errors.New(errors.CodeUnauthenticated, errors.WithMessagef("visitor token required"))
	}

	id, err := a.tokens.visitor(raw)
	if err != nil {
		return nil, err
	}

	return a.sessions.Get(ctx, id)
}

// authenticate resolves the visitor store of a request.
func (a *API) authenticate(c *gin.Context) {
	s, err := a.storeOf(c.Request.Context(), c.GetHeader("Authorization"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.Set(storeKey, s)
	c.Next()
}

func storeFrom(c *gin.Context) *session.Store {
	return c.MustGet(storeKey).(*session.Store)
}

// storeFromMetadata resolves the visitor store of a gRPC call.
func (a *API) storeFromMetadata(ctx context.Context) (*session.Store, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	var header string
	if v := md.Get("authorization"); len(v) > 0 {
		header = v[0]
	}
	return a.storeOf(ctx, header)
}

// supported is ordered like domain languages; the first one is the default.
var (
	supported = []domain.Language{domain.LanguageRU, domain.LanguageEN, domain.LanguageES, domain.LanguageHI}
	matcher   = language.NewMatcher([]language.Tag{language.Russian, language.English, language.Spanish, language.Hindi})
)

// matchLanguage picks the display language of a new visitor from an
// Accept-Language header.
func matchLanguage(accept string) domain.Language {
	tags, _, err := language.ParseAcceptLanguage(accept)
	if err != nil || len(tags) == 0 {
		return domain.DefaultLanguage
	}

	_, idx, conf := matcher.Match(tags...)
	if conf == language.No {
		return domain.DefaultLanguage
	}
	return supported[idx]
}
