package sqlstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/helix-auth/helix/storage"
)

// grantModel mirrors storage.PersistentGrant. (GrantType, Data) is the
// uniqueness boundary the engine depends on.
type grantModel struct {
	ID         uint   `gorm:"primaryKey"`
	Key        string `gorm:"index"`
	ClientID   string `gorm:"index:idx_grants_session"`
	SubjectID  string `gorm:"index:idx_grants_session"`
	GrantType  string `gorm:"uniqueIndex:idx_grants_type_data"`
	Data       string `gorm:"uniqueIndex:idx_grants_type_data"`
	Expiration int64
	CreatedAt  time.Time
}

func (grantModel) TableName() string { return "grants" }

func (m *grantModel) toGrant() *storage.PersistentGrant {
	return &storage.PersistentGrant{
		Key:        m.Key,
		ClientID:   m.ClientID,
		SubjectID:  m.SubjectID,
		GrantType:  m.GrantType,
		Data:       m.Data,
		Expiration: m.Expiration,
		CreatedAt:  m.CreatedAt,
	}
}

type deviceModel struct {
	ID                      uint   `gorm:"primaryKey"`
	ClientID                string `gorm:"index"`
	DeviceCode              string `gorm:"uniqueIndex"`
	UserCode                string `gorm:"uniqueIndex"`
	VerificationURI         string
	VerificationURIComplete string
	ExpiresIn               int64
	Interval                int
	CreatedAt               time.Time
}

func (deviceModel) TableName() string { return "devices" }

func (m *deviceModel) toDevice() *storage.Device {
	return &storage.Device{
		ClientID:                m.ClientID,
		DeviceCode:              m.DeviceCode,
		UserCode:                m.UserCode,
		VerificationURI:         m.VerificationURI,
		VerificationURIComplete: m.VerificationURIComplete,
		ExpiresIn:               m.ExpiresIn,
		Interval:                m.Interval,
		CreatedAt:               m.CreatedAt,
	}
}

type challengeModel struct {
	ClientID  string `gorm:"primaryKey"`
	Challenge string
	Method    string
	CreatedAt time.Time
}

func (challengeModel) TableName() string { return "code_challenges" }

type blacklistModel struct {
	Token      string `gorm:"primaryKey"`
	Expiration int64  `gorm:"index"`
}

func (blacklistModel) TableName() string { return "blacklisted_tokens" }

type stateModel struct {
	State     string `gorm:"primaryKey"`
	CreatedAt time.Time
}

func (stateModel) TableName() string { return "federation_states" }

// clientModel stores the slice-valued client fields as JSON columns,
// which keeps the schema flat without join tables.
type clientModel struct {
	ClientID       string `gorm:"primaryKey"`
	SecretHash     string
	ClientName     string
	RedirectURIs   string
	Scopes         string
	GrantTypes     string
	ResponseTypes  string
	RequirePKCE    bool
	AccessTokenTTL int64
	CreatedAt      time.Time
}

func (clientModel) TableName() string { return "clients" }

type userModel struct {
	ID           string `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex"`
	PasswordHash string
	Claims       string
	Groups       string
	Roles        string
	CreatedAt    time.Time
}

func (userModel) TableName() string { return "users" }

func marshalJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal column: %w", err)
	}
	return string(data), nil
}

func unmarshalStrings(raw string) ([]string, error) {
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal column: %w", err)
	}
	return out, nil
}

func unmarshalClaims(raw string) (map[string]any, error) {
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal column: %w", err)
	}
	return out, nil
}
