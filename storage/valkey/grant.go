package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/helix-auth/helix/storage"
)

// grantJSON is the wire representation of a grant in Valkey.
type grantJSON struct {
	Key        string    `json:"key"`
	ClientID   string    `json:"client_id"`
	SubjectID  string    `json:"subject_id"`
	GrantType  string    `json:"grant_type"`
	Data       string    `json:"data"`
	Expiration int64     `json:"expiration"`
	CreatedAt  time.Time `json:"created_at"`
}

func grantToJSON(g *storage.PersistentGrant) grantJSON {
	return grantJSON{
		Key:        g.Key,
		ClientID:   g.ClientID,
		SubjectID:  g.SubjectID,
		GrantType:  g.GrantType,
		Data:       g.Data,
		Expiration: g.Expiration,
		CreatedAt:  g.CreatedAt,
	}
}

func (j grantJSON) toGrant() *storage.PersistentGrant {
	return &storage.PersistentGrant{
		Key:        j.Key,
		ClientID:   j.ClientID,
		SubjectID:  j.SubjectID,
		GrantType:  j.GrantType,
		Data:       j.Data,
		Expiration: j.Expiration,
		CreatedAt:  j.CreatedAt,
	}
}

func (s *Store) grantKey(grantType, data string) string {
	return s.key("grant", grantType, data)
}

// sessionKey indexes the grants of a (client, user) pair for end-session.
func (s *Store) sessionKey(clientID, subjectID string) string {
	return s.key("session", clientID, subjectID)
}

// CreateGrant persists a new grant with a server-side TTL matching its
// expiration, and indexes it under the (client, user) session set.
func (s *Store) CreateGrant(ctx context.Context, grant *storage.PersistentGrant) error {
	data, err := json.Marshal(grantToJSON(grant))
	if err != nil {
		return fmt.Errorf("failed to marshal grant: %w", err)
	}

	key := s.grantKey(grant.GrantType, grant.Data)
	ttl := ttlUntil(grant.Expiration)

	if err := s.client.Do(ctx,
		s.client.B().Set().Key(key).Value(string(data)).Ex(ttl).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to store grant: %w", err)
	}

	sessionKey := s.sessionKey(grant.ClientID, grant.SubjectID)
	if err := s.client.Do(ctx,
		s.client.B().Sadd().Key(sessionKey).Member(grant.GrantType+":"+grant.Data).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to index grant: %w", err)
	}
	// Keep the index alive at least as long as its longest-lived member.
	if err := s.client.Do(ctx,
		s.client.B().Expire().Key(sessionKey).Seconds(int64(ttl.Seconds())).Gt().Build(),
	).Error(); err != nil {
		s.logger.Warn("Failed to refresh session index TTL", "error", err)
	}

	return nil
}

// GrantExists reports whether a live grant exists for (grantType, data).
func (s *Store) GrantExists(ctx context.Context, grantType, data string) (bool, error) {
	n, err := s.client.Do(ctx,
		s.client.B().Exists().Key(s.grantKey(grantType, data)).Build(),
	).AsInt64()
	if err != nil {
		return false, fmt.Errorf("failed to check grant: %w", err)
	}
	return n > 0, nil
}

// GetGrant retrieves a grant without consuming it.
func (s *Store) GetGrant(ctx context.Context, grantType, data string) (*storage.PersistentGrant, error) {
	raw, err := s.client.Do(ctx,
		s.client.B().Get().Key(s.grantKey(grantType, data)).Build(),
	).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrGrantNotFound
		}
		return nil, fmt.Errorf("failed to get grant: %w", err)
	}
	return s.decodeGrant(raw)
}

// ConsumeGrant atomically retrieves and deletes a grant via GETDEL.
// The server executes GETDEL as a single command, so under concurrent
// redemption exactly one caller receives the value.
func (s *Store) ConsumeGrant(ctx context.Context, grantType, data string) (*storage.PersistentGrant, error) {
	raw, err := s.client.Do(ctx,
		s.client.B().Getdel().Key(s.grantKey(grantType, data)).Build(),
	).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrGrantNotFound
		}
		return nil, fmt.Errorf("failed to consume grant: %w", err)
	}

	grant, err := s.decodeGrant(raw)
	if err != nil {
		return nil, err
	}
	s.unindexGrant(ctx, grant)

	// The key TTL normally removes expired grants, but guard against skew.
	if grant.Expired(time.Now()) {
		return nil, storage.ErrGrantNotFound
	}
	return grant, nil
}

// DeleteGrant removes a grant. Returns ErrGrantNotFound if absent.
func (s *Store) DeleteGrant(ctx context.Context, grantType, data string) error {
	raw, err := s.client.Do(ctx,
		s.client.B().Getdel().Key(s.grantKey(grantType, data)).Build(),
	).ToString()
	if err != nil {
		if isNilError(err) {
			return storage.ErrGrantNotFound
		}
		return fmt.Errorf("failed to delete grant: %w", err)
	}
	if grant, err := s.decodeGrant(raw); err == nil {
		s.unindexGrant(ctx, grant)
	}
	return nil
}

// DeleteGrantsForClientAndUser removes every grant the user has with the
// client, using the session index set.
func (s *Store) DeleteGrantsForClientAndUser(ctx context.Context, clientID, subjectID string) (int, error) {
	sessionKey := s.sessionKey(clientID, subjectID)

	members, err := s.client.Do(ctx,
		s.client.B().Smembers().Key(sessionKey).Build(),
	).AsStrSlice()
	if err != nil {
		if isNilError(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read session index: %w", err)
	}

	removed := 0
	for _, member := range members {
		grantType, data, ok := splitMember(member)
		if !ok {
			continue
		}
		n, err := s.client.Do(ctx,
			s.client.B().Del().Key(s.grantKey(grantType, data)).Build(),
		).AsInt64()
		if err != nil {
			return removed, fmt.Errorf("failed to delete session grant: %w", err)
		}
		removed += int(n)
	}

	if err := s.client.Do(ctx, s.client.B().Del().Key(sessionKey).Build()).Error(); err != nil {
		s.logger.Warn("Failed to drop session index", "error", err)
	}

	return removed, nil
}

func (s *Store) decodeGrant(raw string) (*storage.PersistentGrant, error) {
	var j grantJSON
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal grant: %w", err)
	}
	return j.toGrant(), nil
}

func (s *Store) unindexGrant(ctx context.Context, grant *storage.PersistentGrant) {
	if err := s.client.Do(ctx,
		s.client.B().Srem().Key(s.sessionKey(grant.ClientID, grant.SubjectID)).
			Member(grant.GrantType+":"+grant.Data).Build(),
	).Error(); err != nil {
		s.logger.Warn("Failed to unindex grant", "error", err)
	}
}

// splitMember parses a "grantType:data" session-index member. Grant types
// may contain colons (the device urn does) but data values are url-safe
// random tokens, so the last colon is always the separator.
func splitMember(member string) (grantType, data string, ok bool) {
	for i := len(member) - 1; i >= 0; i-- {
		if member[i] == ':' {
			return member[:i], member[i+1:], member[i+1:] != ""
		}
	}
	return "", "", false
}
