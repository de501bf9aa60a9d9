// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// DefaultRefreshInterval is the minimum JWKS refresh interval.
const DefaultRefreshInterval = 15 * time.Minute

// Config configures token validation. Exactly one of JWKSURL and Secret
// must be set.
type Config struct {
	JWKSURL         string
	Secret          string
	Issuer          string
	Audience        string
	RefreshInterval time.Duration
}

// Validator verifies JWTs and extracts their claims.
type Validator struct {
	cfg   Config
	cache *jwk.Cache
}

// NewValidator creates a validator. With a JWKS URL the key set is fetched
// once up front and refreshed in the background until ctx is done.
func NewValidator(ctx context.Context, cfg Config) (*Validator, error) {
	switch {
	case cfg.JWKSURL == "" && cfg.Secret == "":
		return nil, fmt.Errorf("either jwks_url or secret is required")
	case cfg.JWKSURL != "" && cfg.Secret != "":
		return nil, fmt.Errorf("jwks_url and secret are mutually exclusive")
	}

	v := &Validator{cfg: cfg}
	if cfg.JWKSURL == "" {
		return v, nil
	}

	interval := cfg.RefreshInterval
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}

	cache := jwk.NewCache(ctx)
	if err := cache.Register(cfg.JWKSURL, jwk.WithMinRefreshInterval(interval)); err != nil {
		return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
	}
	if _, err := cache.Refresh(ctx, cfg.JWKSURL); err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS from %s: %w", cfg.JWKSURL, err)
	}
	v.cache = cache
	return v, nil
}

// ValidateToken verifies signature, expiry and, when configured, issuer and
// audience.
func (v *Validator) ValidateToken(ctx context.Context, tokenString string) (*Claims, error) {
	opts := []jwt.ParseOption{jwt.WithValidate(true)}
	if v.cache != nil {
		keyset, err := v.cache.Get(ctx, v.cfg.JWKSURL)
		if err != nil {
			return nil, fmt.Errorf("failed to get JWKS: %w", err)
		}
		opts = append(opts, jwt.WithKeySet(keyset))
	} else {
		opts = append(opts, jwt.WithKey(jwa.HS256, []byte(v.cfg.Secret)))
	}
	if v.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.cfg.Issuer))
	}
	if v.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(v.cfg.Audience))
	}

	token, err := jwt.Parse([]byte(tokenString), opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired()) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if token.Subject() == "" {
		return nil, ErrMissingClaims
	}

	claims := &Claims{
		Subject: token.Subject(),
		Custom:  make(map[string]any),
	}
	for key, value := range token.PrivateClaims() {
		switch key {
		case "email":
			claims.Email, _ = value.(string)
		case "role":
			claims.Role, _ = value.(string)
		case "tenant_id":
			claims.TenantID, _ = value.(string)
		default:
			claims.Custom[key] = value
		}
	}
	return claims, nil
}
