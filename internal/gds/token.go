// Package gds talks to the upstream flight GDS: client-credentials tokens and
// authenticated JSON calls.
package gds

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Domenick1991/skyorder/config"
	"github.com/Domenick1991/skyorder/internal/domain"
	"github.com/Domenick1991/skyorder/internal/logger"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const tokenPath = "/v1/security/oauth2/token"

// TokenStore keeps issued tokens. Latest returns (nil, nil) when nothing is stored.
type TokenStore interface {
	Latest(ctx context.Context) (*domain.AccessToken, error)
	Save(ctx context.Context, token *domain.AccessToken) error
}

type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
	// RefreshAccessToken replaces stale with a newly issued token. If another
	// caller already replaced it, that token is returned instead.
	RefreshAccessToken(ctx context.Context, stale string) (string, error)
}

type TokenManager struct {
	baseURL      string
	clientID     string
	clientSecret string
	margin       time.Duration
	store        TokenStore
	httpClient   *http.Client
	log          logrus.FieldLogger
	now          func() time.Time
	group        singleflight.Group
}

type TokenManagerOption func(*TokenManager)

func WithTokenHTTPClient(c *http.Client) TokenManagerOption {
	return func(m *TokenManager) {
		m.httpClient = c
	}
}

func WithClock(now func() time.Time) TokenManagerOption {
	return func(m *TokenManager) {
		m.now = now
	}
}

func NewTokenManager(cfg config.GDSConfig, store TokenStore, log logrus.FieldLogger, opts ...TokenManagerOption) *TokenManager {
	m := &TokenManager{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		margin:       cfg.TokenMargin(),
		store:        store,
		httpClient:   &http.Client{Timeout: cfg.Timeout()},
		log:          log,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *TokenManager) AccessToken(ctx context.Context) (string, error) {
	latest, err := m.store.Latest(ctx)
	if err != nil {
		m.log.WithError(err).Warn("gds: reading stored token failed, requesting a new one")
	}
	if latest.ValidAt(m.now(), m.margin) {
		return latest.Token, nil
	}
	return m.refresh(ctx, "")
}

func (m *TokenManager) RefreshAccessToken(ctx context.Context, stale string) (string, error) {
	return m.refresh(ctx, stale)
}

// refresh coalesces concurrent callers onto one upstream exchange. The flight
// runs detached from the first caller's cancellation since others share it.
func (m *TokenManager) refresh(ctx context.Context, stale string) (string, error) {
	v, err, shared := m.group.Do("token", func() (interface{}, error) {
		ctx := context.WithoutCancel(ctx)

		if latest, err := m.store.Latest(ctx); err == nil && latest.ValidAt(m.now(), m.margin) && latest.Token != stale {
			return latest.Token, nil
		}

		token, err := m.exchange(ctx)
		if err != nil {
			return "", err
		}
		if err := m.store.Save(ctx, token); err != nil {
			m.log.WithError(err).Error("gds: persisting token failed")
		}
		m.log.WithField("token", logger.TokenPrefix(token.Token)).Info("gds: new access token issued")
		return token.Token, nil
	})
	if err != nil {
		return "", err
	}
	if shared {
		m.log.Debug("gds: joined in-flight token refresh")
	}
	return v.(string), nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`
	ExpiresIn   int    `json:"expires_in"`
}

func (m *TokenManager) exchange(ctx context.Context) (*domain.AccessToken, error) {
	form := url.Values{}
	form.Set("client_id", m.clientID)
	form.Set("client_secret", m.clientSecret)
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+tokenPath, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &domain.UpstreamAuthError{Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	m.log.WithField("url", m.baseURL+tokenPath).Info("gds: requesting access token")
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, &domain.UpstreamAuthError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.UpstreamAuthError{Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		m.log.WithFields(logrus.Fields{"status": resp.StatusCode, "body": string(body)}).Error("gds: token request rejected")
		return nil, &domain.UpstreamAuthError{Status: resp.StatusCode, Body: string(body)}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, &domain.UpstreamAuthError{Status: resp.StatusCode, Body: string(body), Err: fmt.Errorf("decode token response: %w", err)}
	}
	if tr.AccessToken == "" {
		return nil, &domain.UpstreamAuthError{Status: resp.StatusCode, Body: string(body)}
	}

	now := m.now()
	return &domain.AccessToken{
		Token:     tr.AccessToken,
		TokenType: tr.TokenType,
		Scope:     tr.Scope,
		ExpiresIn: tr.ExpiresIn,
		ExpiresAt: now.Add(time.Duration(tr.ExpiresIn) * time.Second),
		CreatedAt: now,
	}, nil
}

var _ TokenProvider = (*TokenManager)(nil)
