// Package session хранит текущую личность клиента (пользователь и токен).
//
// Все чтения синхронные и идут из зеркала в памяти; зеркало заполняется из
// долговременного хранилища при Load и обновляется при каждой записи.
// Повреждённая сохранённая сессия считается отсутствующей.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/messenger-client/internal/logger"
	"github.com/messenger-client/internal/model"
	"github.com/messenger-client/internal/storage"
)

// StorageKey: фиксированный ключ сохранённой сессии.
const StorageKey = "auth-storage"

const persistVersion = 0

var ErrNoSession = errors.New("session: not authenticated")

// persisted повторяет формат, в котором веб-клиент хранит сессию:
// {"state":{"user":{...},"token":"..."},"version":0}.
type persisted struct {
	State struct {
		User  *model.User `json:"user"`
		Token *string     `json:"token"`
	} `json:"state"`
	Version int `json:"version"`
}

// Change: уведомление подписчикам об изменении сессии.
type Change struct {
	Authenticated bool
	Session       model.Session
}

type Store struct {
	backend storage.Store

	// wmu упорядочивает записи: зеркало, хранилище и уведомление меняются
	// одной операцией.
	wmu sync.Mutex

	mu    sync.RWMutex
	user  *model.User
	token string

	subMu sync.Mutex
	subs  map[chan Change]struct{}
}

func New(backend storage.Store) *Store {
	return &Store{backend: backend, subs: make(map[chan Change]struct{})}
}

// Load заполняет зеркало из хранилища. Ошибка чтения хранилища возвращается,
// а нечитаемая запись или запись без пользователя или токена удаляется и даёт
// состояние "нет сессии".
func (s *Store) Load(ctx context.Context) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	raw, err := s.backend.Get(ctx, StorageKey)
	if err != nil {
		s.reset()
		return fmt.Errorf("session.Load: %w", err)
	}
	if raw == nil {
		s.reset()
		return nil
	}
	var p persisted
	err = json.Unmarshal(raw, &p)
	if err == nil && (p.State.User == nil || p.State.Token == nil || *p.State.Token == "") {
		err = errors.New("user or token missing")
	}
	if err != nil {
		logger.Errorf("session: повреждённая запись %s: %v, сессия сброшена", StorageKey, err)
		s.reset()
		if delErr := s.backend.Delete(ctx, StorageKey); delErr != nil {
			logger.Errorf("session: удаление повреждённой записи: %v", delErr)
		}
		return nil
	}
	token := *p.State.Token
	s.mu.Lock()
	s.user = p.State.User
	s.token = token
	s.mu.Unlock()
	s.notify()
	return nil
}

func (s *Store) reset() {
	s.mu.Lock()
	s.user = nil
	s.token = ""
	s.mu.Unlock()
}

// SetSession запоминает пользователя и токен после входа или регистрации.
func (s *Store) SetSession(ctx context.Context, user *model.User, token string) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	s.mu.Lock()
	s.user = cloneUser(user)
	s.token = token
	s.mu.Unlock()
	return s.persistAndNotify(ctx)
}

func (s *Store) SetUser(ctx context.Context, user *model.User) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	s.mu.Lock()
	s.user = cloneUser(user)
	s.mu.Unlock()
	return s.persistAndNotify(ctx)
}

func (s *Store) SetToken(ctx context.Context, token string) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	return s.persistAndNotify(ctx)
}

// Clear: выход: зеркало очищается сразу, запись в хранилище удаляется.
func (s *Store) Clear(ctx context.Context) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.clear(ctx)
}

// ClearToken сбрасывает сессию, только если текущий токен равен token.
// Ответ 401 на запрос со старым токеном не должен разлогинить новую сессию.
func (s *Store) ClearToken(ctx context.Context, token string) (bool, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if token == "" || s.Token() != token {
		return false, nil
	}
	return true, s.clear(ctx)
}

func (s *Store) clear(ctx context.Context) error {
	s.reset()
	err := s.backend.Delete(ctx, StorageKey)
	s.notify()
	if err != nil {
		return fmt.Errorf("session.Clear: %w", err)
	}
	return nil
}

// IsAuthenticated истинно тогда и только тогда, когда есть и пользователь, и токен.
func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user != nil && s.token != ""
}

// User возвращает копию текущего пользователя или nil.
func (s *Store) User() *model.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneUser(s.user)
}

func (s *Store) UserID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return 0
	}
	return s.user.ID
}

func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Store) Snapshot() model.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return model.Session{User: cloneUser(s.user), Token: s.token}
}

// TokenExpired разбирает токен как JWT без проверки подписи и сравнивает exp с now.
// Токен без exp или не-JWT считается бессрочным: подпись проверяет сервер.
func (s *Store) TokenExpired(now time.Time) bool {
	token := s.Token()
	if token == "" {
		return false
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return !now.Before(claims.ExpiresAt.Time)
}

// Subscribe возвращает канал изменений и функцию отписки. В канале всегда
// лежит только последнее изменение: медленный подписчик пропускает промежуточные.
func (s *Store) Subscribe() (<-chan Change, func()) {
	ch := make(chan Change, 1)
	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()
	return ch, func() {
		s.subMu.Lock()
		delete(s.subs, ch)
		s.subMu.Unlock()
	}
}

func (s *Store) persistAndNotify(ctx context.Context) error {
	err := s.persist(ctx)
	s.notify()
	return err
}

func (s *Store) persist(ctx context.Context) error {
	s.mu.RLock()
	var p persisted
	p.Version = persistVersion
	p.State.User = cloneUser(s.user)
	if s.token != "" {
		tok := s.token
		p.State.Token = &tok
	}
	s.mu.RUnlock()

	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("session.persist: %w", err)
	}
	if err := s.backend.Set(ctx, StorageKey, data); err != nil {
		return fmt.Errorf("session.persist: %w", err)
	}
	return nil
}

func (s *Store) notify() {
	c := Change{Authenticated: s.IsAuthenticated(), Session: s.Snapshot()}
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- c:
		default:
		}
	}
}

func cloneUser(u *model.User) *model.User {
	if u == nil {
		return nil
	}
	cp := *u
	return &cp
}
