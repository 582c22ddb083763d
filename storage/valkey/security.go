package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/helix-auth/helix/storage"
)

type challengeJSON struct {
	ClientID  string    `json:"client_id"`
	Challenge string    `json:"challenge"`
	Method    string    `json:"method"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Store) challengeKey(clientID string) string {
	return s.key("challenge", clientID)
}

// SaveChallenge persists a PKCE challenge keyed by client ID, replacing any
// pending challenge for that client.
func (s *Store) SaveChallenge(ctx context.Context, challenge *storage.CodeChallenge) error {
	data, err := json.Marshal(challengeJSON{
		ClientID:  challenge.ClientID,
		Challenge: challenge.Challenge,
		Method:    challenge.Method,
		CreatedAt: challenge.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal challenge: %w", err)
	}

	if err := s.client.Do(ctx,
		s.client.B().Set().Key(s.challengeKey(challenge.ClientID)).Value(string(data)).Ex(challengeTTL).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to store challenge: %w", err)
	}
	return nil
}

// ConsumeChallenge atomically retrieves and deletes the pending challenge
// via GETDEL.
func (s *Store) ConsumeChallenge(ctx context.Context, clientID string) (*storage.CodeChallenge, error) {
	raw, err := s.client.Do(ctx,
		s.client.B().Getdel().Key(s.challengeKey(clientID)).Build(),
	).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrChallengeNotFound
		}
		return nil, fmt.Errorf("failed to consume challenge: %w", err)
	}

	var j challengeJSON
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal challenge: %w", err)
	}
	return &storage.CodeChallenge{
		ClientID:  j.ClientID,
		Challenge: j.Challenge,
		Method:    j.Method,
		CreatedAt: j.CreatedAt,
	}, nil
}

func (s *Store) blacklistKey(token string) string {
	return s.key("blacklist", token)
}

// BlacklistToken records a revoked token value until its natural expiry,
// after which the key lapses on its own.
func (s *Store) BlacklistToken(ctx context.Context, token string, expiration int64) error {
	if err := s.client.Do(ctx,
		s.client.B().Set().Key(s.blacklistKey(token)).Value("1").Ex(ttlUntil(expiration)).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to blacklist token: %w", err)
	}
	return nil
}

// IsTokenBlacklisted reports whether the token has been revoked.
func (s *Store) IsTokenBlacklisted(ctx context.Context, token string) (bool, error) {
	n, err := s.client.Do(ctx,
		s.client.B().Exists().Key(s.blacklistKey(token)).Build(),
	).AsInt64()
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}
	return n > 0, nil
}

func (s *Store) stateKey(state string) string {
	return s.key("state", state)
}

// SaveState persists a federation state with SET NX, so a duplicate write
// is detected server-side.
func (s *Store) SaveState(ctx context.Context, state string) error {
	err := s.client.Do(ctx,
		s.client.B().Set().Key(s.stateKey(state)).Value("1").Nx().Ex(stateTTL).Build(),
	).Error()
	if err != nil {
		if isNilError(err) {
			return storage.ErrStateExists
		}
		return fmt.Errorf("failed to store state: %w", err)
	}
	return nil
}

// ConsumeState deletes a state via GETDEL; the first caller wins.
func (s *Store) ConsumeState(ctx context.Context, state string) error {
	_, err := s.client.Do(ctx,
		s.client.B().Getdel().Key(s.stateKey(state)).Build(),
	).ToString()
	if err != nil {
		if isNilError(err) {
			return storage.ErrStateNotFound
		}
		return fmt.Errorf("failed to consume state: %w", err)
	}
	return nil
}
