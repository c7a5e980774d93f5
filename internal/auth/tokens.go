// Package auth persists OAuth2 tokens, refreshes them before expiry and runs
// the interactive PKCE login.
package auth

import (
	"encoding/json"
	"time"
)

// TokenSet is the persisted token file. Fields the API returns beyond the
// known ones are kept in Extra and written back unchanged.
type TokenSet struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Scope        string
	BaseURL      string
	ExpiresIn    int64
	// ExpiresAt is zero when unknown; such tokens are treated as valid.
	ExpiresAt time.Time

	Extra map[string]json.RawMessage
}

var knownKeys = []string{"access_token", "refresh_token", "token_type", "scope", "base_url", "expires_in", "expires_at"}

func (t TokenSet) IsEmpty() bool {
	return t.AccessToken == "" && t.RefreshToken == "" && len(t.Extra) == 0
}

// Expired reports whether now+skew has reached the expiry.
func (t TokenSet) Expired(now time.Time, skew time.Duration) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(skew).Before(t.ExpiresAt)
}

// Merge overlays newer on t. Empty fields in newer keep t's values, so an
// unrotated refresh token survives a refresh. ExpiresAt is recomputed from
// now and newer's expires_in, or from the kept expires_in when newer carries
// no expiry at all.
func (t TokenSet) Merge(newer TokenSet, now time.Time) TokenSet {
	out := t
	out.Extra = make(map[string]json.RawMessage, len(t.Extra)+len(newer.Extra))
	for k, v := range t.Extra {
		out.Extra[k] = v
	}
	for k, v := range newer.Extra {
		out.Extra[k] = v
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&out.AccessToken, newer.AccessToken)
	set(&out.RefreshToken, newer.RefreshToken)
	set(&out.TokenType, newer.TokenType)
	set(&out.Scope, newer.Scope)
	set(&out.BaseURL, newer.BaseURL)
	if !newer.ExpiresAt.IsZero() {
		out.ExpiresAt = newer.ExpiresAt
	}
	if newer.ExpiresIn > 0 {
		out.ExpiresIn = newer.ExpiresIn
	}
	if (newer.ExpiresIn > 0 || newer.ExpiresAt.IsZero()) && out.ExpiresIn > 0 {
		out.ExpiresAt = now.Add(time.Duration(out.ExpiresIn) * time.Second).UTC()
	}
	if len(out.Extra) == 0 {
		out.Extra = nil
	}
	return out
}

func (t TokenSet) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(t.Extra)+len(knownKeys))
	for k, v := range t.Extra {
		m[k] = v
	}
	put := func(k, v string) {
		if v != "" {
			m[k] = v
		}
	}
	put("access_token", t.AccessToken)
	put("refresh_token", t.RefreshToken)
	put("token_type", t.TokenType)
	put("scope", t.Scope)
	put("base_url", t.BaseURL)
	if t.ExpiresIn > 0 {
		m["expires_in"] = t.ExpiresIn
	}
	if !t.ExpiresAt.IsZero() {
		m["expires_at"] = t.ExpiresAt.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(m)
}

func (t *TokenSet) UnmarshalJSON(b []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	*t = TokenSet{}
	str := func(k string) string {
		var s string
		_ = json.Unmarshal(m[k], &s)
		return s
	}
	t.AccessToken = str("access_token")
	t.RefreshToken = str("refresh_token")
	t.TokenType = str("token_type")
	t.Scope = str("scope")
	t.BaseURL = str("base_url")

	if raw, ok := m["expires_in"]; ok {
		var n json.Number
		if err := json.Unmarshal(raw, &n); err == nil {
			t.ExpiresIn, _ = n.Int64()
		} else if s := str("expires_in"); s != "" {
			_ = json.Unmarshal([]byte(s), &t.ExpiresIn)
		}
	}
	// An unparsable expires_at is treated like a missing one.
	if s := str("expires_at"); s != "" {
		if at, err := time.Parse(time.RFC3339Nano, s); err == nil {
			t.ExpiresAt = at
		}
	}

	for _, k := range knownKeys {
		delete(m, k)
	}
	if len(m) > 0 {
		t.Extra = m
	}
	return nil
}
