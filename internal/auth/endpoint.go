package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Endpoint is the authorization server.
type Endpoint interface {
	AuthCodeURL(state, verifier string) string
	Exchange(ctx context.Context, code, verifier string) (TokenSet, error)
	Refresh(ctx context.Context, refreshToken string) (TokenSet, error)
}

// EndpointConfig describes the OAuth2 client registration.
type EndpointConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
	AuthURL      string
	TokenURL     string
	// Timeout bounds each token endpoint call. Zero means 30s.
	Timeout time.Duration
}

// OAuth2Endpoint talks to the token endpoint with golang.org/x/oauth2.
type OAuth2Endpoint struct {
	cfg    *oauth2.Config
	client *http.Client
}

func NewOAuth2Endpoint(c EndpointConfig) *OAuth2Endpoint {
	style := oauth2.AuthStyleInParams
	if c.ClientSecret != "" {
		style = oauth2.AuthStyleInHeader
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OAuth2Endpoint{
		cfg: &oauth2.Config{
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			RedirectURL:  c.RedirectURI,
			Scopes:       c.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   c.AuthURL,
				TokenURL:  c.TokenURL,
				AuthStyle: style,
			},
		},
		client: &http.Client{Timeout: timeout},
	}
}

func (e *OAuth2Endpoint) ctx(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, e.client)
}

func (e *OAuth2Endpoint) AuthCodeURL(state, verifier string) string {
	return e.cfg.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

func (e *OAuth2Endpoint) Exchange(ctx context.Context, code, verifier string) (TokenSet, error) {
	tok, err := e.cfg.Exchange(e.ctx(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return TokenSet{}, describe(err)
	}
	return fromOAuth2(tok), nil
}

func (e *OAuth2Endpoint) Refresh(ctx context.Context, refreshToken string) (TokenSet, error) {
	src := e.cfg.TokenSource(e.ctx(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return TokenSet{}, describe(err)
	}
	return fromOAuth2(tok), nil
}

func fromOAuth2(tok *oauth2.Token) TokenSet {
	ts := TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresIn:    tok.ExpiresIn,
	}
	if ts.ExpiresIn == 0 && !tok.Expiry.IsZero() {
		ts.ExpiresIn = int64(time.Until(tok.Expiry).Round(time.Second) / time.Second)
	}
	if s, ok := tok.Extra("scope").(string); ok {
		ts.Scope = s
	}
	return ts
}

// describe flattens a token endpoint rejection into status and body.
func describe(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return fmt.Errorf("token endpoint returned %d: %s", re.Response.StatusCode, strings.TrimSpace(string(re.Body)))
	}
	return err
}
