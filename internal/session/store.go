package session

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"sync"

	"github.com/victornm/novatest/internal/domain"
	"github.com/victornm/novatest/internal/errors"
	"github.com/victornm/novatest/internal/event"
	"github.com/victornm/novatest/internal/storage"
)

const (
	// UserKey is the storage key name of the persisted user record.
	UserKey = "nova_user"

	// InitialTokens is granted to every freshly logged in user.
	InitialTokens = 1000

	stubUserID    = "u123"
	stubUserEmail = "user@example.com"
)

type Config struct {
	VisitorID string
	Storage   storage.Storage
	EventBus  *event.Bus
	Prefix    string
	Lang      domain.Language
}

// Store is the single source of truth of one visitor: who is logged in,
// which language is displayed and which tests are completed. All mutations
// go through its methods and are serialized, reads always observe the latest
// mutation.
type Store struct {
	visitorID string
	key       string
	storage   storage.Storage
	eb        *event.Bus

	mu        sync.RWMutex
	user      *domain.User
	lang      domain.Language
	completed map[string]struct{}
}

// Open creates the store of a visitor and restores the persisted user, if any.
func Open(ctx context.Context, c Config) (*Store, error) {
	lang := c.Lang
	if lang == "" {
		lang = domain.DefaultLanguage
	}

	s := &Store{
		visitorID: c.VisitorID,
		key:       storage.Key(c.Prefix, c.VisitorID, UserKey),
		storage:   c.Storage,
		eb:        c.EventBus,
		lang:      lang,
		completed: make(map[string]struct{}),
	}

	b, err := s.storage.Get(ctx, s.key)
	if stderrors.Is(err, storage.ErrNotFound) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: restore user: %w", err)
	}

	var u domain.User
	if err := json.Unmarshal(b, &u); err != nil {
		// A corrupted record is treated like an absent one.
		slog.WarnContext(ctx, "session: discard unreadable user record",
			"visitor", s.visitorID,
			"error", err,
		)
		return s, nil
	}
	s.user = &u

	return s, nil
}

// VisitorID returns the handle of the visitor owning the store.
func (s *Store) VisitorID() string {
	return s.visitorID
}

// User returns a copy of the current user.
func (s *Store) User() (domain.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.user == nil {
		return domain.User{}, false
	}
	return *s.user, true
}

func (s *Store) Lang() domain.Language {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.lang
}

// CompletedTests returns the completed test ids, sorted.
func (s *Store) CompletedTests() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.completed))
	for id := range s.completed {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (s *Store) IsCompleted(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.completed[id]
	return ok
}

// Login creates the stub user with the given role and the initial token grant.
// An existing user is replaced.
func (s *Store) Login(ctx context.Context, role domain.Role) (domain.User, error) {
	r, ok := domain.ParseRole(string(role))
	if !ok {
		return domain.User{}, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("unknown role: %q", role))
	}

	u, err := s.login(ctx, r)
	if err != nil {
		return domain.User{}, err
	}

	s.eb.Publish(ctx, domain.EventLoggedIn{VisitorID: s.visitorID, User: u})

	return u, nil
}

func (s *Store) login(ctx context.Context, r domain.Role) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := domain.User{
		ID:     stubUserID,
		Email:  stubUserEmail,
		Role:   r,
		Tokens: InitialTokens,
		Locale: s.lang,
	}

	if err := s.save(ctx, &u); err != nil {
		return domain.User{}, err
	}
	s.user = &u

	return u, nil
}

// Logout clears the user and removes the persisted record.
func (s *Store) Logout(ctx context.Context) error {
	if err := s.logout(ctx); err != nil {
		return err
	}

	s.eb.Publish(ctx, domain.EventLoggedOut{VisitorID: s.visitorID})

	return nil
}

func (s *Store) logout(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.save(ctx, nil); err != nil {
		return err
	}
	s.user = nil

	return nil
}

// applyDelta is the only balance arithmetic: it adds delta, saturating at
// math.MaxInt64 and clamping at zero.
func applyDelta(balance, delta int64) int64 {
	if delta > 0 && balance > math.MaxInt64-delta {
		return math.MaxInt64
	}
	return max(0, balance+delta)
}

// UpdateTokens adds delta to the balance, clamping at zero. Without a user it
// does nothing. It returns the balance after the update.
func (s *Store) UpdateTokens(ctx context.Context, delta int64) (int64, error) {
	balance, changed, err := s.updateTokens(ctx, delta)
	if err != nil || !changed {
		return balance, err
	}

	s.eb.Publish(ctx, domain.EventBalanceChanged{
		VisitorID: s.visitorID,
		Delta:     delta,
		Balance:   balance,
	})

	return balance, nil
}

func (s *Store) updateTokens(ctx context.Context, delta int64) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.user == nil {
		return 0, false, nil
	}

	u := *s.user
	u.Tokens = applyDelta(u.Tokens, delta)

	if err := s.save(ctx, &u); err != nil {
		return s.user.Tokens, false, err
	}
	s.user = &u

	return u.Tokens, true, nil
}

// Debit subtracts amount from the balance only if the balance covers it. The
// check and the update happen under the same lock, the update itself goes
// through the same arithmetic as UpdateTokens.
func (s *Store) Debit(ctx context.Context, amount int64) (int64, error) {
	balance, err := s.debit(ctx, amount)
	if err != nil {
		return balance, err
	}

	s.eb.Publish(ctx, domain.EventBalanceChanged{
		VisitorID: s.visitorID,
		Delta:     -amount,
		Balance:   balance,
	})

	return balance, nil
}

func (s *Store) debit(ctx context.Context, amount int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.user == nil {
		return 0, errors.LoginRequired()
	}
	if s.user.Tokens < amount {
		return s.user.Tokens, errors.InsufficientTokens(s.user.Tokens, amount)
	}

	u := *s.user
	u.Tokens = applyDelta(u.Tokens, -amount)

	if err := s.save(ctx, &u); err != nil {
		return s.user.Tokens, err
	}
	s.user = &u

	return u.Tokens, nil
}

// CompleteTest marks a test as completed. Completing it again changes nothing.
func (s *Store) CompleteTest(ctx context.Context, id string) {
	if !s.complete(id) {
		return
	}

	s.eb.Publish(ctx, domain.EventTestCompleted{VisitorID: s.visitorID, TestID: id})
}

func (s *Store) complete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.completed[id]; ok {
		return false
	}
	s.completed[id] = struct{}{}
	return true
}

// SetLang changes the display language. The stored user keeps its locale.
func (s *Store) SetLang(lang domain.Language) error {
	l, ok := domain.ParseLanguage(string(lang))
	if !ok {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("unsupported language: %q", lang))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.lang = l
	return nil
}

// save persists u, or removes the record when u is nil. Callers hold s.mu.
func (s *Store) save(ctx context.Context, u *domain.User) error {
	if u == nil {
		if err := s.storage.Delete(ctx, s.key); err != nil {
			return errors.Internal(fmt.Errorf("session: remove user: %w", err))
		}
		return nil
	}

	b, err := json.Marshal(u)
	if err != nil {
		return errors.Internal(fmt.Errorf("session: marshal user: %w", err))
	}

	if err := s.storage.Set(ctx, s.key, b); err != nil {
		return errors.Internal(fmt.Errorf("session: persist user: %w", err))
	}

	return nil
}
