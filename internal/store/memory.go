package store

import (
	"context"
	"sync"
	"time"

	"secret.letters/internal/models"
)

// Compile-time interface check
var _ Store = (*MemoryStore)(nil)

type MemoryStore struct {
	letters map[string]*models.Letter
	mu      sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		letters: make(map[string]*models.Letter),
	}
}

func (s *MemoryStore) Create(ctx context.Context, letter *models.Letter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.letters[letter.SecretCode]; ok && !existing.Expires.Before(letter.Sent) {
		return ErrConflict
	}

	s.letters[letter.SecretCode] = clone(letter)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, code string) (*models.Letter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	letter, ok := s.letters[code]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(letter), nil
}

func (s *MemoryStore) DeleteIfExpired(ctx context.Context, code string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	letter, ok := s.letters[code]
	if !ok || !letter.Expires.Before(now) {
		return false, nil
	}
	delete(s.letters, code)
	return true, nil
}

func (s *MemoryStore) AddReply(ctx context.Context, code string, reply models.Reply, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	letter, ok := s.letters[code]
	if !ok {
		return ErrNotFound
	}
	if letter.Expired(now) {
		return ErrExpired
	}
	if letter.HasReply {
		return ErrAlreadyReplied
	}

	letter.HasReply = true
	letter.Reply = &reply
	return nil
}

func (s *MemoryStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for code, letter := range s.letters {
		if letter.Expires.Before(now) {
			delete(s.letters, code)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.letters = make(map[string]*models.Letter)
	return nil
}

// clone keeps callers from mutating stored records outside the lock.
func clone(l *models.Letter) *models.Letter {
	c := *l
	if l.Reply != nil {
		r := *l.Reply
		c.Reply = &r
	}
	return &c
}
