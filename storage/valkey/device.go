package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/helix-auth/helix/storage"
)

type deviceJSON struct {
	ClientID                string    `json:"client_id"`
	DeviceCode              string    `json:"device_code"`
	UserCode                string    `json:"user_code"`
	VerificationURI         string    `json:"verification_uri"`
	VerificationURIComplete string    `json:"verification_uri_complete"`
	ExpiresIn               int64     `json:"expires_in"`
	Interval                int       `json:"interval"`
	CreatedAt               time.Time `json:"created_at"`
}

func (s *Store) deviceKey(deviceCode string) string {
	return s.key("device", "code", deviceCode)
}

func (s *Store) userCodeKey(userCode string) string {
	return s.key("device", "user", userCode)
}

// CreateDevice persists a pending pairing under both codes, with server-side
// TTLs matching the pairing window.
func (s *Store) CreateDevice(ctx context.Context, device *storage.Device) error {
	data, err := json.Marshal(deviceJSON{
		ClientID:                device.ClientID,
		DeviceCode:              device.DeviceCode,
		UserCode:                device.UserCode,
		VerificationURI:         device.VerificationURI,
		VerificationURIComplete: device.VerificationURIComplete,
		ExpiresIn:               device.ExpiresIn,
		Interval:                device.Interval,
		CreatedAt:               device.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal device: %w", err)
	}

	ttl := time.Duration(device.ExpiresIn) * time.Second

	if err := s.client.Do(ctx,
		s.client.B().Set().Key(s.deviceKey(device.DeviceCode)).Value(string(data)).Ex(ttl).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to store device: %w", err)
	}

	if err := s.client.Do(ctx,
		s.client.B().Set().Key(s.userCodeKey(device.UserCode)).Value(device.DeviceCode).Ex(ttl).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to index user code: %w", err)
	}

	return nil
}

// GetDeviceByUserCode retrieves a pairing by its user code.
func (s *Store) GetDeviceByUserCode(ctx context.Context, userCode string) (*storage.Device, error) {
	deviceCode, err := s.client.Do(ctx,
		s.client.B().Get().Key(s.userCodeKey(userCode)).Build(),
	).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrDeviceNotFound
		}
		return nil, fmt.Errorf("failed to resolve user code: %w", err)
	}
	return s.GetDeviceByDeviceCode(ctx, deviceCode)
}

// GetDeviceByDeviceCode retrieves a pairing by its device code.
func (s *Store) GetDeviceByDeviceCode(ctx context.Context, deviceCode string) (*storage.Device, error) {
	raw, err := s.client.Do(ctx,
		s.client.B().Get().Key(s.deviceKey(deviceCode)).Build(),
	).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, storage.ErrDeviceNotFound
		}
		return nil, fmt.Errorf("failed to get device: %w", err)
	}

	var j deviceJSON
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal device: %w", err)
	}
	return &storage.Device{
		ClientID:                j.ClientID,
		DeviceCode:              j.DeviceCode,
		UserCode:                j.UserCode,
		VerificationURI:         j.VerificationURI,
		VerificationURIComplete: j.VerificationURIComplete,
		ExpiresIn:               j.ExpiresIn,
		Interval:                j.Interval,
		CreatedAt:               j.CreatedAt,
	}, nil
}

// DeleteDeviceByUserCode removes a pairing by its user code.
func (s *Store) DeleteDeviceByUserCode(ctx context.Context, userCode string) error {
	deviceCode, err := s.client.Do(ctx,
		s.client.B().Getdel().Key(s.userCodeKey(userCode)).Build(),
	).ToString()
	if err != nil {
		if isNilError(err) {
			return storage.ErrDeviceNotFound
		}
		return fmt.Errorf("failed to delete user code: %w", err)
	}

	if err := s.client.Do(ctx,
		s.client.B().Del().Key(s.deviceKey(deviceCode)).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}
	return nil
}

// DeleteDeviceByDeviceCode removes a pairing by its device code.
func (s *Store) DeleteDeviceByDeviceCode(ctx context.Context, deviceCode string) error {
	device, err := s.GetDeviceByDeviceCode(ctx, deviceCode)
	if err != nil {
		return err
	}

	if err := s.client.Do(ctx,
		s.client.B().Del().Key(s.userCodeKey(device.UserCode)).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to delete user code: %w", err)
	}
	if err := s.client.Do(ctx,
		s.client.B().Del().Key(s.deviceKey(deviceCode)).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to delete device: %w", err)
	}
	return nil
}
