// Package memstore is test support only: an in-memory stand-in for the
// Postgres repositories. It enforces the same uniqueness, ownership and cascade
// rules as the schema and returns the same error values, so service and HTTP
// tests can run without a database. Production code must not import it.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/taskhub/taskhub-api/internal/db/models"
	"github.com/taskhub/taskhub-api/internal/db/repositories"
)

// Store holds users and API keys behind a single mutex.
type Store struct {
	mu         sync.Mutex
	users      map[int64]models.User
	keys       map[int64]models.APIKey
	nextUserID int64
	nextKeyID  int64
	now        func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		users: make(map[int64]models.User),
		keys:  make(map[int64]models.APIKey),
		now:   time.Now,
	}
}

// Users returns the user repository view of s.
func (s *Store) Users() *Users { return &Users{s: s} }

// APIKeys returns the API key repository view of s.
func (s *Store) APIKeys() *APIKeys { return &APIKeys{s: s} }

// Users implements the user repository contract.
type Users struct{ s *Store }

func (u *Users) Create(_ context.Context, user *models.User) error {
	s := u.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkUserUnique(0, user.Username, user.Email); err != nil {
		return err
	}
	s.nextUserID++
	now := s.now()
	user.ID = s.nextUserID
	user.CreatedAt = now
	user.UpdatedAt = now
	s.users[user.ID] = *user
	return nil
}

func (s *Store) checkUserUnique(selfID int64, username, email string) error {
	for id, existing := range s.users {
		if id == selfID {
			continue
		}
		if existing.Email == email {
			return &repositories.UniqueViolationError{Constraint: repositories.ConstraintUserEmail}
		}
		if existing.Username == username {
			return &repositories.UniqueViolationError{Constraint: repositories.ConstraintUserUsername}
		}
	}
	return nil
}

func (u *Users) GetByID(_ context.Context, id int64) (*models.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	if user, ok := u.s.users[id]; ok {
		return &user, nil
	}
	return nil, nil
}

func (u *Users) GetByEmail(_ context.Context, email string) (*models.User, error) {
	return u.find(func(user models.User) bool { return user.Email == email }), nil
}

func (u *Users) GetByUsername(_ context.Context, username string) (*models.User, error) {
	return u.find(func(user models.User) bool { return user.Username == username }), nil
}

func (u *Users) find(match func(models.User) bool) *models.User {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	for _, user := range u.s.users {
		if match(user) {
			return &user
		}
	}
	return nil
}

func (u *Users) List(_ context.Context, limit, offset int) ([]*models.User, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()

	ids := make([]int64, 0, len(u.s.users))
	for id := range u.s.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := []*models.User{}
	for i := offset; i < len(ids) && len(out) < limit; i++ {
		user := u.s.users[ids[i]]
		out = append(out, &user)
	}
	return out, nil
}

func (u *Users) Update(_ context.Context, user *models.User) error {
	s := u.s
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.users[user.ID]
	if !ok {
		return repositories.ErrNotFound
	}
	if err := s.checkUserUnique(user.ID, user.Username, user.Email); err != nil {
		return err
	}
	existing.Username = user.Username
	existing.Email = user.Email
	existing.PasswordHash = user.PasswordHash
	existing.UpdatedAt = s.now()
	s.users[user.ID] = existing
	*user = existing
	return nil
}

func (u *Users) DeleteWithKeys(_ context.Context, id int64) error {
	s := u.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[id]; !ok {
		return repositories.ErrNotFound
	}
	delete(s.users, id)
	for keyID, k := range s.keys {
		if k.UserID == id {
			delete(s.keys, keyID)
		}
	}
	return nil
}

func (u *Users) Ping(context.Context) error { return nil }

// APIKeys implements the API key repository contract.
type APIKeys struct{ s *Store }

func (a *APIKeys) Create(_ context.Context, key *models.APIKey) error {
	s := a.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[key.UserID]; !ok {
		return repositories.ErrNotFound
	}
	for _, existing := range s.keys {
		if existing.KeyHash == key.KeyHash {
			return &repositories.UniqueViolationError{Constraint: repositories.ConstraintAPIKeyHash}
		}
	}
	s.nextKeyID++
	key.ID = s.nextKeyID
	key.Revoked = false
	key.CreatedAt = s.now()
	s.keys[key.ID] = *key
	return nil
}

func (a *APIKeys) GetActiveByHash(_ context.Context, keyHash string) (*models.APIKey, error) {
	s := a.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range s.keys {
		if k.KeyHash != keyHash || k.Revoked {
			continue
		}
		if _, ok := s.users[k.UserID]; !ok {
			return nil, nil
		}
		return &k, nil
	}
	return nil, nil
}

func (a *APIKeys) ListByUser(_ context.Context, userID int64) ([]*models.APIKey, error) {
	s := a.s
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []*models.APIKey{}
	for _, k := range s.keys {
		if k.UserID == userID {
			k := k
			out = append(out, &k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (a *APIKeys) Revoke(_ context.Context, userID, keyID int64) error {
	s := a.s
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[keyID]
	if !ok || k.UserID != userID {
		return repositories.ErrNotFound
	}
	k.Revoked = true
	s.keys[keyID] = k
	return nil
}

func (a *APIKeys) UpdateLastUsed(_ context.Context, keyID int64, at time.Time) error {
	s := a.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if k, ok := s.keys[keyID]; ok {
		k.LastUsedAt = &at
		s.keys[keyID] = k
	}
	return nil
}

// Key returns a copy of the stored key, including its hash and revoked flag.
func (a *APIKeys) Key(keyID int64) (models.APIKey, bool) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	k, ok := a.s.keys[keyID]
	return k, ok
}
