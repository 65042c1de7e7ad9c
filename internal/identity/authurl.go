package identity

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const authScope = "openid email profile"

// BuildAuthorizationURL returns the implicit-flow URL the user is sent to.
// The nonce commits to the session's ephemeral key and state carries the
// session id.
func BuildAuthorizationURL(authEndpoint string, s *EphemeralSession, clientID, redirectURI string) (string, error) {
	if s == nil {
		return "", errors.New("nil session")
	}
	if strings.TrimSpace(clientID) == "" {
		return "", errors.New("provider client id is required")
	}
	ru, err := url.Parse(redirectURI)
	if err != nil || ru.Scheme == "" || ru.Host == "" {
		return "", fmt.Errorf("invalid redirect uri %q", redirectURI)
	}
	u, err := url.Parse(authEndpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid authorization endpoint %q", authEndpoint)
	}

	q := u.Query()
	q.Set("response_type", "id_token")
	q.Set("client_id", clientID)
	q.Set("redirect_uri", redirectURI)
	q.Set("scope", authScope)
	q.Set("nonce", s.Key.Nonce)
	q.Set("state", s.ID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ExtractAssertion pulls id_token (and state, when present) out of the
// provider callback. The implicit flow puts them in the fragment; some
// providers fall back to the query string.
func ExtractAssertion(callbackURL string) (token, state string, err error) {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrAssertionMissing, err)
	}

	if u.Fragment != "" {
		if frag, err := url.ParseQuery(u.Fragment); err == nil {
			if t := frag.Get("id_token"); t != "" {
				return t, frag.Get("state"), nil
			}
		}
	}
	q := u.Query()
	if t := q.Get("id_token"); t != "" {
		return t, q.Get("state"), nil
	}
	return "", "", ErrAssertionMissing
}
