package iiko

import (
	"sync"
	"time"
)

// expiryMargin — запас до истечения токена, в пределах которого токен
// считается просроченным и запрашивается заново.
const expiryMargin = 5 * time.Second

// Token представляет закэшированный access token iiko.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// TokenStore описывает хранилище access-токенов, ключом служит api_login.
type TokenStore interface {
	Get(key string) (Token, bool)
	Set(key string, token Token)
}

// MemoryTokenStore — потокобезопасное хранилище токенов в памяти процесса.
// Параллельные запросы одного ключа до завершения первого обновления могут
// каждый запросить свежий токен: выдача токена идемпотентна, поэтому
// single-flight не используется.
type MemoryTokenStore struct {
	mu sync.Mutex
	m  map[string]Token
}

// NewMemoryTokenStore создаёт пустое хранилище токенов.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{m: make(map[string]Token)}
}

// Get возвращает токен по ключу.
func (s *MemoryTokenStore) Get(key string) (Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.m[key]
	return t, ok
}

// Set сохраняет токен, перезаписывая предыдущий.
func (s *MemoryTokenStore) Set(key string, token Token) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = token
}
