// Package memory provides an in-memory implementation of all storage
// interfaces. It is suitable for development, testing, and single-instance
// deployments.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/helix-auth/helix/storage"
)

type grantKey struct {
	grantType string
	data      string
}

// Store is an in-memory implementation of storage.Store. All state is guarded
// by a single mutex, which is what makes ConsumeGrant/ConsumeChallenge/
// ConsumeState naturally atomic.
type Store struct {
	mu sync.RWMutex

	grants      map[grantKey]*storage.PersistentGrant
	devices     map[string]*storage.Device // keyed by device code
	userCodes   map[string]string          // user code -> device code
	challenges  map[string]*storage.CodeChallenge // keyed by client ID
	blacklist   map[string]int64           // token -> expiration
	states      map[string]time.Time       // federation state -> created at
	clients     map[string]*storage.Client
	users       map[string]*storage.User // keyed by user ID
	usersByName map[string]string        // username -> user ID

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
	logger          *slog.Logger
}

// Compile-time interface check.
var _ storage.Store = (*Store)(nil)

// New creates a new in-memory store with the default sweep interval (1 minute).
func New() *Store {
	return NewWithInterval(time.Minute)
}

// NewWithInterval creates a new in-memory store with a custom sweep interval.
// If cleanupInterval is 0 or negative, the default of 1 minute is used.
func NewWithInterval(cleanupInterval time.Duration) *Store {
	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	s := &Store{
		grants:          make(map[grantKey]*storage.PersistentGrant),
		devices:         make(map[string]*storage.Device),
		userCodes:       make(map[string]string),
		challenges:      make(map[string]*storage.CodeChallenge),
		blacklist:       make(map[string]int64),
		states:          make(map[string]time.Time),
		clients:         make(map[string]*storage.Client),
		users:           make(map[string]*storage.User),
		usersByName:     make(map[string]string),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
		logger:          slog.Default(),
	}

	go s.cleanupLoop()

	return s
}

// SetLogger sets a custom logger.
func (s *Store) SetLogger(logger *slog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

// Stop terminates the background sweeper.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

// ============================================================
// GrantStore
// ============================================================

// CreateGrant persists a new grant.
func (s *Store) CreateGrant(_ context.Context, grant *storage.PersistentGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := *grant
	s.grants[grantKey{grant.GrantType, grant.Data}] = &g
	return nil
}

// GrantExists reports whether a live grant exists for (grantType, data).
func (s *Store) GrantExists(_ context.Context, grantType, data string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	grant, ok := s.grants[grantKey{grantType, data}]
	if !ok || grant.Expired(time.Now()) {
		return false, nil
	}
	return true, nil
}

// GetGrant retrieves a grant without consuming it.
func (s *Store) GetGrant(_ context.Context, grantType, data string) (*storage.PersistentGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	grant, ok := s.grants[grantKey{grantType, data}]
	if !ok || grant.Expired(time.Now()) {
		return nil, storage.ErrGrantNotFound
	}
	g := *grant
	return &g, nil
}

// ConsumeGrant atomically retrieves and deletes a grant. The single mutex
// hold is the atomicity guarantee: one concurrent redeemer wins, the rest
// observe ErrGrantNotFound.
func (s *Store) ConsumeGrant(_ context.Context, grantType, data string) (*storage.PersistentGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := grantKey{grantType, data}
	grant, ok := s.grants[key]
	if !ok {
		return nil, storage.ErrGrantNotFound
	}
	delete(s.grants, key)
	if grant.Expired(time.Now()) {
		return nil, storage.ErrGrantNotFound
	}
	g := *grant
	return &g, nil
}

// DeleteGrant removes a grant.
func (s *Store) DeleteGrant(_ context.Context, grantType, data string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := grantKey{grantType, data}
	if _, ok := s.grants[key]; !ok {
		return storage.ErrGrantNotFound
	}
	delete(s.grants, key)
	return nil
}

// DeleteGrantsForClientAndUser removes every grant the user has with the client.
func (s *Store) DeleteGrantsForClientAndUser(_ context.Context, clientID, subjectID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, grant := range s.grants {
		if grant.ClientID == clientID && grant.SubjectID == subjectID {
			delete(s.grants, key)
			removed++
		}
	}
	return removed, nil
}

// ============================================================
// DeviceStore
// ============================================================

// CreateDevice persists a new device pairing.
func (s *Store) CreateDevice(_ context.Context, device *storage.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := *device
	s.devices[device.DeviceCode] = &d
	s.userCodes[device.UserCode] = device.DeviceCode
	return nil
}

// GetDeviceByUserCode retrieves a device pairing by its user code.
func (s *Store) GetDeviceByUserCode(_ context.Context, userCode string) (*storage.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	deviceCode, ok := s.userCodes[userCode]
	if !ok {
		return nil, storage.ErrDeviceNotFound
	}
	device, ok := s.devices[deviceCode]
	if !ok {
		return nil, storage.ErrDeviceNotFound
	}
	d := *device
	return &d, nil
}

// GetDeviceByDeviceCode retrieves a device pairing by its device code.
func (s *Store) GetDeviceByDeviceCode(_ context.Context, deviceCode string) (*storage.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	device, ok := s.devices[deviceCode]
	if !ok {
		return nil, storage.ErrDeviceNotFound
	}
	d := *device
	return &d, nil
}

// DeleteDeviceByUserCode removes a device pairing by its user code.
func (s *Store) DeleteDeviceByUserCode(_ context.Context, userCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	deviceCode, ok := s.userCodes[userCode]
	if !ok {
		return storage.ErrDeviceNotFound
	}
	delete(s.userCodes, userCode)
	delete(s.devices, deviceCode)
	return nil
}

// DeleteDeviceByDeviceCode removes a device pairing by its device code.
func (s *Store) DeleteDeviceByDeviceCode(_ context.Context, deviceCode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	device, ok := s.devices[deviceCode]
	if !ok {
		return storage.ErrDeviceNotFound
	}
	delete(s.userCodes, device.UserCode)
	delete(s.devices, deviceCode)
	return nil
}

// ============================================================
// ChallengeStore
// ============================================================

// SaveChallenge persists a PKCE challenge, replacing any pending challenge
// for the same client.
func (s *Store) SaveChallenge(_ context.Context, challenge *storage.CodeChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *challenge
	s.challenges[challenge.ClientID] = &c
	return nil
}

// ConsumeChallenge atomically retrieves and deletes the pending challenge.
func (s *Store) ConsumeChallenge(_ context.Context, clientID string) (*storage.CodeChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	challenge, ok := s.challenges[clientID]
	if !ok {
		return nil, storage.ErrChallengeNotFound
	}
	delete(s.challenges, clientID)
	c := *challenge
	return &c, nil
}

// ============================================================
// BlacklistStore
// ============================================================

// BlacklistToken records a revoked token until its expiration.
func (s *Store) BlacklistToken(_ context.Context, token string, expiration int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blacklist[token] = expiration
	return nil
}

// IsTokenBlacklisted reports whether the token has been revoked.
func (s *Store) IsTokenBlacklisted(_ context.Context, token string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expiration, ok := s.blacklist[token]
	if !ok {
		return false, nil
	}
	if expiration > 0 && time.Now().Unix() > expiration {
		return false, nil
	}
	return true, nil
}

// ============================================================
// StateStore
// ============================================================

// SaveState persists a federation CSRF state value.
func (s *Store) SaveState(_ context.Context, state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.states[state]; ok {
		return storage.ErrStateExists
	}
	s.states[state] = time.Now()
	return nil
}

// ConsumeState deletes a state value; the first caller wins.
func (s *Store) ConsumeState(_ context.Context, state string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.states[state]; !ok {
		return storage.ErrStateNotFound
	}
	delete(s.states, state)
	return nil
}

// ============================================================
// ClientStore / UserStore
// ============================================================

// GetClient retrieves a registered client.
func (s *Store) GetClient(_ context.Context, clientID string) (*storage.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[clientID]
	if !ok {
		return nil, storage.ErrClientNotFound
	}
	c := *client
	return &c, nil
}

// SaveClient persists a client registration.
func (s *Store) SaveClient(_ context.Context, client *storage.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *client
	s.clients[client.ClientID] = &c
	return nil
}

// GetUserByID retrieves a user by ID.
func (s *Store) GetUserByID(_ context.Context, id string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	u := *user
	return &u, nil
}

// GetUserByUsername retrieves a user by username.
func (s *Store) GetUserByUsername(_ context.Context, username string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByName[username]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	user, ok := s.users[id]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	u := *user
	return &u, nil
}

// CreateUser persists a new user.
func (s *Store) CreateUser(_ context.Context, user *storage.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := *user
	s.users[user.ID] = &u
	s.usersByName[user.Username] = user.ID
	return nil
}

// ============================================================
// Cleanup
// ============================================================

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanup sweeps expired grants, devices, blacklist entries, and stale
// federation states. Lookup-time expiry checks make this purely a memory
// reclamation pass.
func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	removed := 0

	for key, grant := range s.grants {
		if grant.Expired(now) {
			delete(s.grants, key)
			removed++
		}
	}
	for deviceCode, device := range s.devices {
		if device.Expired(now) {
			delete(s.userCodes, device.UserCode)
			delete(s.devices, deviceCode)
			removed++
		}
	}
	for token, expiration := range s.blacklist {
		if expiration > 0 && now.Unix() > expiration {
			delete(s.blacklist, token)
			removed++
		}
	}
	for state, createdAt := range s.states {
		if now.Sub(createdAt) > time.Hour {
			delete(s.states, state)
			removed++
		}
	}

	if removed > 0 {
		s.logger.Debug("Store cleanup completed", "removed", removed)
	}
}
