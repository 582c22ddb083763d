package engine

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/helix-auth/helix/security"
	"github.com/helix-auth/helix/storage"
)

// DeviceAuthorization is the response to a device registration request.
type DeviceAuthorization struct {
	DeviceCode              string
	UserCode                string
	VerificationURI         string
	VerificationURIComplete string
	ExpiresIn               int64
	Interval                int
}

// RegisterDevice starts a device-authorization pairing: it mints a device
// code for the polling client and a short user code for the person at the
// browser, and persists the pairing until approval, cancellation, or expiry.
func (e *Engine) RegisterDevice(ctx context.Context, clientID, scope string) (*DeviceAuthorization, error) {
	client, err := e.clients.ValidateClient(ctx, clientID)
	if err != nil {
		e.auditFailure("", clientID, ErrorCodeInvalidClient)
		return nil, err
	}
	if err := e.clients.ValidateGrantType(client, GrantTypeDeviceCode); err != nil {
		return nil, err
	}
	if _, err := e.scopes.Resolve(scope, client); err != nil {
		return nil, err
	}

	userCode, err := newUserCode(DefaultUserCodeLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate user code: %w", err)
	}

	verificationURI := e.Config.Issuer + "/device/auth"
	device := &storage.Device{
		ClientID:                client.ClientID,
		DeviceCode:              generateRandomToken(),
		UserCode:                userCode,
		VerificationURI:         verificationURI,
		VerificationURIComplete: verificationURI + "?user_code=" + url.QueryEscape(userCode),
		ExpiresIn:               int64(e.Config.DeviceCodeTTL.Seconds()),
		Interval:                int(e.Config.DevicePollInterval.Seconds()),
		CreatedAt:               time.Now(),
	}
	if err := e.store.CreateDevice(ctx, device); err != nil {
		return nil, fmt.Errorf("failed to persist device pairing: %w", err)
	}

	e.countDeviceRegistered(ctx, client.ClientID)
	e.Logger.Info("Device flow started",
		"client_id", client.ClientID,
		"user_code", device.UserCode)

	return &DeviceAuthorization{
		DeviceCode:              device.DeviceCode,
		UserCode:                device.UserCode,
		VerificationURI:         device.VerificationURI,
		VerificationURIComplete: device.VerificationURIComplete,
		ExpiresIn:               device.ExpiresIn,
		Interval:                device.Interval,
	}, nil
}

// VerifyUserCode resolves a user-entered code to the authorization URL the
// browser is sent to. The actual approval happens on that authorization
// request; here the pairing is only checked for existence and freshness.
func (e *Engine) VerifyUserCode(ctx context.Context, userCode string) (string, error) {
	if userCode == "" {
		return "", ErrInvalidRequest("user_code is required")
	}

	device, err := e.store.GetDeviceByUserCode(ctx, userCode)
	if err != nil {
		if errors.Is(err, storage.ErrDeviceNotFound) {
			return "", ErrInvalidRequest("user code not found")
		}
		return "", fmt.Errorf("failed to look up device: %w", err)
	}
	if device.Expired(time.Now()) {
		_ = e.store.DeleteDeviceByUserCode(ctx, userCode)
		return "", ErrExpiredToken("user code has expired")
	}

	params := url.Values{
		"response_type": {ResponseTypeDeviceCode},
		"client_id":     {device.ClientID},
		"scope":         {"user_code=" + userCode},
	}
	return e.Config.Issuer + "/authorize?" + params.Encode(), nil
}

// CancelDevice aborts a pending pairing and returns the cancellation page URL.
func (e *Engine) CancelDevice(ctx context.Context, userCode string) (string, error) {
	if userCode == "" {
		return "", ErrInvalidRequest("user_code is required")
	}

	if err := e.store.DeleteDeviceByUserCode(ctx, userCode); err != nil {
		if errors.Is(err, storage.ErrDeviceNotFound) {
			return "", ErrInvalidRequest("user code not found")
		}
		return "", fmt.Errorf("failed to delete device pairing: %w", err)
	}

	if e.Auditor != nil {
		e.Auditor.LogEvent(security.Event{
			Type: "device_authorization_cancelled",
		})
	}

	return e.Config.Issuer + e.Config.DeviceCancelPath, nil
}

// userCodeAlphabet deliberately excludes lowercase and digits: the code is
// typed by a person, often on a TV remote.
const userCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// newUserCode generates a short uppercase code for manual entry.
func newUserCode(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = userCodeAlphabet[int(b)%len(userCodeAlphabet)]
	}
	return string(buf), nil
}
