package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	pkgerrors "github.com/angelmondragon/storefront-checkout/pkg/errors"
	"github.com/angelmondragon/storefront-checkout/pkg/logger"
	"github.com/angelmondragon/storefront-checkout/pkg/redis"
)

const defaultSessionTTL = 24 * time.Hour

// Store persists sessions and announces every change to subscribers.
type Store interface {
	Get(ctx context.Context, id string) (*Session, error)
	Set(ctx context.Context, session *Session) error
	// Subscribe streams the session after each Set until ctx is done or the
	// returned func is called.
	Subscribe(ctx context.Context, id string) (<-chan *Session, func() error, error)
}

type sessionBackend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Publish(ctx context.Context, channel string, message any) error
	Subscribe(ctx context.Context, channel string) (<-chan string, func() error, error)
	SessionKey(sessionID string) string
	SessionChannel(sessionID string) string
}

func sessionNotFound(id string) error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "checkout session not found").
		WithDetails(map[string]any{"sessionId": id})
}

// RedisStore keeps each session as a JSON value and publishes it on a
// per-session channel.
type RedisStore struct {
	backend sessionBackend
	ttl     time.Duration
	logg    *logger.Logger
}

func NewRedisStore(backend sessionBackend, ttl time.Duration, logg *logger.Logger) *RedisStore {
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &RedisStore{backend: backend, ttl: ttl, logg: logg}
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	raw, err := s.backend.Get(ctx, s.backend.SessionKey(id))
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, sessionNotFound(id)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load checkout session")
	}
	var session Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode checkout session")
	}
	return &session, nil
}

func (s *RedisStore) Set(ctx context.Context, session *Session) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode checkout session")
	}
	if err := s.backend.Set(ctx, s.backend.SessionKey(session.ID), string(payload), s.ttl); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save checkout session")
	}
	if err := s.backend.Publish(ctx, s.backend.SessionChannel(session.ID), string(payload)); err != nil && s.logg != nil {
		warnCtx := s.logg.WithFields(ctx, map[string]any{"session_id": session.ID, "error": err.Error()})
		s.logg.Warn(warnCtx, "checkout.session_publish_failed")
	}
	return nil
}

func (s *RedisStore) Subscribe(ctx context.Context, id string) (<-chan *Session, func() error, error) {
	messages, closeFn, err := s.backend.Subscribe(ctx, s.backend.SessionChannel(id))
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "subscribe to checkout session")
	}
	out := make(chan *Session)
	go func() {
		defer close(out)
		for raw := range messages {
			var session Session
			if err := json.Unmarshal([]byte(raw), &session); err != nil {
				if s.logg != nil {
					s.logg.Warn(s.logg.WithSessionID(ctx, id), "checkout.session_event_undecodable")
				}
				continue
			}
			select {
			case out <- &session:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, closeFn, nil
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu          sync.Mutex
	sessions    map[string][]byte
	subscribers map[string]map[chan *Session]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:    map[string][]byte{},
		subscribers: map[string]map[chan *Session]struct{}{},
	}
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	raw, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, sessionNotFound(id)
	}
	var session Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "decode checkout session")
	}
	return &session, nil
}

func (m *MemoryStore) Set(_ context.Context, session *Session) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode checkout session")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = raw
	for ch := range m.subscribers[session.ID] {
		var copied Session
		if err := json.Unmarshal(raw, &copied); err != nil {
			continue
		}
		select {
		case ch <- &copied:
		default:
		}
	}
	return nil
}

func (m *MemoryStore) Subscribe(ctx context.Context, id string) (<-chan *Session, func() error, error) {
	ch := make(chan *Session, 16)
	m.mu.Lock()
	if m.subscribers[id] == nil {
		m.subscribers[id] = map[chan *Session]struct{}{}
	}
	m.subscribers[id][ch] = struct{}{}
	m.mu.Unlock()

	var once sync.Once
	closeFn := func() error {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subscribers[id], ch)
			m.mu.Unlock()
			close(ch)
		})
		return nil
	}
	go func() {
		<-ctx.Done()
		_ = closeFn()
	}()
	return ch, closeFn, nil
}
