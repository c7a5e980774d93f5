package auth

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	logx "xposter/pkg/logx"
)

// PKCE is a verifier and its S256 challenge, both base64url without padding.
type PKCE struct {
	Verifier  string
	Challenge string
}

func NewPKCE() PKCE {
	v := oauth2.GenerateVerifier()
	return PKCE{Verifier: v, Challenge: oauth2.S256ChallengeFromVerifier(v)}
}

// NewState returns a random CSRF state value.
func NewState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ExtractCode accepts a bare authorization code or the full redirect URL.
func ExtractCode(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", errors.New("empty input for authorization code")
	}
	if strings.Contains(input, "://") && strings.Contains(input, "code=") {
		u, err := url.Parse(input)
		if err != nil {
			return "", fmt.Errorf("parse redirect url: %w", err)
		}
		code := u.Query().Get("code")
		if code == "" {
			return "", errors.New("no code found in URL")
		}
		return code, nil
	}
	return input, nil
}

// Login runs the interactive PKCE flow: it prints the authorization URL to
// out, reads the code or redirect URL from in, exchanges it and stores the
// resulting tokens.
func (s *Store) Login(ctx context.Context, in io.Reader, out io.Writer) (TokenSet, error) {
	if s.endpoint == nil {
		return TokenSet{}, errors.New("no token endpoint configured")
	}
	pkce := NewPKCE()
	state, err := NewState()
	if err != nil {
		return TokenSet{}, err
	}

	fmt.Fprintln(out, "Open this URL to authorize:")
	fmt.Fprintln(out, s.endpoint.AuthCodeURL(state, pkce.Verifier))
	fmt.Fprintln(out, "After approval, paste the authorization code or full redirect URL here.")
	fmt.Fprint(out, "code> ")

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return TokenSet{}, fmt.Errorf("read code: %w", err)
	}
	code, err := ExtractCode(line)
	if err != nil {
		return TokenSet{}, err
	}
	if got := stateFrom(line); got != "" && got != state {
		return TokenSet{}, errors.New("state mismatch in redirect URL")
	}

	fresh, err := s.endpoint.Exchange(ctx, code, pkce.Verifier)
	if err != nil {
		return TokenSet{}, fmt.Errorf("exchange code: %w", err)
	}
	ts := TokenSet{}.Merge(fresh, s.now())
	if err := s.Save(ts); err != nil {
		return TokenSet{}, err
	}
	s.log.Info("auth.login", logx.String("scope", ts.Scope))
	return ts, nil
}

func stateFrom(input string) string {
	u, err := url.Parse(strings.TrimSpace(input))
	if err != nil || u.Scheme == "" {
		return ""
	}
	return u.Query().Get("state")
}
