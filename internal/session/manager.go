package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/victornm/novatest/internal/domain"
	"github.com/victornm/novatest/internal/errors"
	"github.com/victornm/novatest/internal/event"
	"github.com/victornm/novatest/internal/storage"
)

type ManagerConfig struct {
	Storage  storage.Storage
	EventBus *event.Bus
	Prefix   string
}

// Manager owns the stores of all visitors. A store is opened on first use
// and kept for the life of the process, like a page that is never reloaded.
type Manager struct {
	storage storage.Storage
	eb      *event.Bus
	prefix  string

	mu     sync.Mutex
	stores map[string]*Store
}

func NewManager(c ManagerConfig) *Manager {
	return &Manager{
		storage: c.Storage,
		eb:      c.EventBus,
		prefix:  c.Prefix,
		stores:  make(map[string]*Store),
	}
}

// NewVisitor allocates a visitor handle and opens its store with the given language.
func (m *Manager) NewVisitor(ctx context.Context, lang domain.Language) (*Store, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("session: generate visitor ID: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.open(ctx, id.String(), lang)
}

// Get returns the store of a visitor, restoring it from storage when the
// process has not seen the visitor yet.
func (m *Manager) Get(ctx context.Context, visitorID string) (*Store, error) {
	if _, err := uuid.Parse(visitorID); err != nil {
		return nil, errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("malformed visitor id: %q", visitorID),
			errors.WithCause(err),
		)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.stores[visitorID]; ok {
		return s, nil
	}

	return m.open(ctx, visitorID, domain.DefaultLanguage)
}

// Forget drops the in-memory store of a visitor. The persisted user stays.
func (m *Manager) Forget(visitorID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.stores, visitorID)
}

func (m *Manager) open(ctx context.Context, visitorID string, lang domain.Language) (*Store, error) {
	s, err := Open(ctx, Config{
		VisitorID: visitorID,
		Storage:   m.storage,
		EventBus:  m.eb,
		Prefix:    m.prefix,
		Lang:      lang,
	})
	if err != nil {
		return nil, errors.Internal(err)
	}

	m.stores[visitorID] = s
	return s, nil
}
