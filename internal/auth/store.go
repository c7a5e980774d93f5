package auth

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "xposter/pkg/logx"
)

const DefaultSkew = 60 * time.Second

// Token is what outbound calls need.
type Token struct {
	AccessToken string
	BaseURL     string
}

// StoreConfig configures a Store.
type StoreConfig struct {
	Path string
	// Skew forces a refresh this long before expiry. Zero means DefaultSkew.
	Skew time.Duration
	// BaseURL is used when the token file does not name one.
	BaseURL string
	Now     func() time.Time
	Log     logx.Logger
}

// Store owns the token file. Reads and refreshes are serialized.
type Store struct {
	mu       sync.Mutex
	path     string
	skew     time.Duration
	baseURL  string
	now      func() time.Time
	endpoint Endpoint
	log      logx.Logger
}

func NewStore(cfg StoreConfig, ep Endpoint) *Store {
	s := &Store{
		path:     cfg.Path,
		skew:     cfg.Skew,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		now:      cfg.Now,
		endpoint: ep,
		log:      cfg.Log,
	}
	if s.skew <= 0 {
		s.skew = DefaultSkew
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	s.log = s.log.With(logx.String("comp", "auth"))
	return s
}

// Load reads the token file. A missing, empty or "{}" file yields an empty set.
func (s *Store) Load() (TokenSet, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return TokenSet{}, nil
	}
	if err != nil {
		return TokenSet{}, err
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return TokenSet{}, nil
	}
	var ts TokenSet
	if err := json.Unmarshal(b, &ts); err != nil {
		return TokenSet{}, err
	}
	return ts, nil
}

// Save replaces the token file with ts.
func (s *Store) Save(ts TokenSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ts)
}

func (s *Store) saveLocked(ts TokenSet) error {
	b, err := json.MarshalIndent(ts, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, append(b, '\n'), 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// EnsureValidToken returns a usable access token, refreshing first when the
// stored one is within the skew window of its expiry. Failures are *AuthError.
func (s *Store) EnsureValidToken(ctx context.Context) (Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts, err := s.Load()
	if err != nil {
		return Token{}, &AuthError{Kind: ErrNoTokens, Err: err}
	}
	if ts.IsEmpty() {
		return Token{}, &AuthError{Kind: ErrNoTokens}
	}

	now := s.now()
	if ts.Expired(now, s.skew) {
		if ts.RefreshToken == "" {
			return Token{}, &AuthError{Kind: ErrExpiredNoRefresh}
		}
		if s.endpoint == nil {
			return Token{}, &AuthError{Kind: ErrRefreshFailed, Err: errors.New("no token endpoint configured")}
		}
		s.log.Info("token.refresh", logx.Time("expires_at", ts.ExpiresAt))
		fresh, err := s.endpoint.Refresh(ctx, ts.RefreshToken)
		if err != nil {
			s.log.Warn("token.refresh_failed", logx.Err(err))
			return Token{}, &AuthError{Kind: ErrRefreshFailed, Err: err}
		}
		ts = ts.Merge(fresh, s.now())
		if err := s.saveLocked(ts); err != nil {
			return Token{}, &AuthError{Kind: ErrRefreshFailed, Err: err}
		}
	}

	if ts.AccessToken == "" {
		return Token{}, &AuthError{Kind: ErrNoAccessToken}
	}
	base := strings.TrimRight(ts.BaseURL, "/")
	if base == "" {
		base = s.baseURL
	}
	return Token{AccessToken: ts.AccessToken, BaseURL: base}, nil
}

// Status summarizes the stored tokens without refreshing.
type Status struct {
	Authenticated bool
	HasRefresh    bool
	Expired       bool
	ExpiresAt     time.Time
	Scope         string
	BaseURL       string
}

func (s *Store) Status() (Status, error) {
	ts, err := s.Load()
	if err != nil {
		return Status{}, err
	}
	st := Status{
		Authenticated: ts.AccessToken != "",
		HasRefresh:    ts.RefreshToken != "",
		Expired:       ts.Expired(s.now(), s.skew),
		ExpiresAt:     ts.ExpiresAt,
		Scope:         ts.Scope,
		BaseURL:       ts.BaseURL,
	}
	if st.BaseURL == "" {
		st.BaseURL = s.baseURL
	}
	return st, nil
}
