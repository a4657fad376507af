package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Temutjin2k/ride-hail-driver/internal/adapter/storage"
	"github.com/Temutjin2k/ride-hail-driver/internal/domain/models"
	wrap "github.com/Temutjin2k/ride-hail-driver/pkg/logger/wrapper"
)

var ErrNoSession = errors.New("no stored session")

// LoadSession restores the persisted credential and identity snapshot.
// The client holds no signing secret, so the token is decoded without
// verification, only to read the driver id and expiry out of the claims.
func (c *Client) LoadSession(ctx context.Context) (*models.DriverIdentity, error) {
	const op = "api.Client.LoadSession"
	ctx = wrap.WithAction(ctx, "load_session")

	token, err := c.store.Get(storage.KeyCredential)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	c.SetToken(token)

	var identity models.DriverIdentity
	raw, err := c.store.Get(storage.KeyIdentity)
	switch {
	case errors.Is(err, storage.ErrKeyNotFound):
		// snapshot missing, fall back to the token claims
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	default:
		if err := json.Unmarshal([]byte(raw), &identity); err != nil {
			c.log.Warn(ctx, "corrupt identity snapshot, ignoring", "err", err.Error())
		}
	}

	info, err := DecodeToken(token)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if identity.DriverID == "" {
		identity.DriverID = info.DriverID
	}

	if !info.ExpiresAt.IsZero() && time.Now().After(info.ExpiresAt) {
		c.log.Info(ctx, "stored credential is expired, renewal will trigger on first call",
			"expired_at", info.ExpiresAt.Format(time.RFC3339),
		)
	}

	return &identity, nil
}

// DecodeToken reads driver id and expiry from an access token without
// validating the signature.
func DecodeToken(token string) (models.TokenInfo, error) {
	parser := jwt.NewParser()

	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return models.TokenInfo{}, fmt.Errorf("decode token: %w", err)
	}

	info := models.TokenInfo{}
	if sub, _ := claims["user_id"].(string); sub != "" {
		info.DriverID = sub
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		info.ExpiresAt = exp.Time
	}

	return info, nil
}
