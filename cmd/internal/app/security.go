package app

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"pixelpact/cmd/internal/api"
	"pixelpact/cmd/security/token"
)

// ValidateSecurityConfig enforces the startup security policy: a strong master
// secret, a well-formed public origin and a coherent cookie policy.
func ValidateSecurityConfig(cfg Config) error {
	var errs []error

	if _, err := token.ParseSecret(cfg.Secret, token.MinSecretBytes); err != nil {
		switch {
		case errors.Is(err, token.ErrSecretMissing):
			errs = append(errs, fmt.Errorf("%s is required", token.SecretEnvKey))
		case errors.Is(err, token.ErrSecretTooShort):
			errs = append(errs, fmt.Errorf("%s is too short (min %d bytes)", token.SecretEnvKey, token.MinSecretBytes))
		default:
			errs = append(errs, err)
		}
	}

	if origin := strings.TrimSpace(cfg.PublicOrigin); origin != "" {
		u, err := url.Parse(origin)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("public_origin %q must be an absolute http(s) URL", origin))
		}
	}

	sameSite, ok := api.ParseSameSite(cfg.CookieSameSite)
	switch {
	case !ok:
		errs = append(errs, fmt.Errorf("cookie_same_site %q: want lax, strict or none", cfg.CookieSameSite))
	case sameSite == http.SameSiteNoneMode && !cfg.CookieSecure:
		// Browsers drop SameSite=None cookies without Secure.
		errs = append(errs, errors.New("cookie_same_site=none requires cookie_secure=true"))
	}

	return errors.Join(errs...)
}
