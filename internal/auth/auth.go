// Package auth connects providers to credentials. OAuth login flows are
// injected as black boxes that yield tokens and progress events; the
// service persists what they return and answers credential lookups for the
// adapters.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/haasonsaas/relay/internal/observability"
	"github.com/haasonsaas/relay/internal/state"
	"github.com/haasonsaas/relay/pkg/models"
)

// Secret names under the state store.
const (
	secretPrimary   = "primary_oauth"
	secretSecondary = "secondary_oauth"
	secretRouter    = "router_key"
	secretSearch    = "search_key"
)

var (
	ErrNotConnected = errors.New("provider not connected")
	ErrNoFlow       = errors.New("no login flow configured")
)

// FlowEvent is a login flow progress report: a verification URL to open, a
// user code to type, or a stage transition.
type FlowEvent struct {
	Stage  string `json:"stage"`
	URL    string `json:"url,omitempty"`
	Code   string `json:"code,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// LoginFlow runs a provider's interactive login and yields the resulting
// token. Implementations report progress through onEvent.
type LoginFlow interface {
	Login(ctx context.Context, onEvent func(FlowEvent)) (*oauth2.Token, error)
}

// storedToken is the persisted shape of an OAuth credential. The id token
// rides alongside because oauth2.Token keeps extras out of JSON.
type storedToken struct {
	oauth2.Token
	IDToken string `json:"id_token,omitempty"`
}

// storedKey is the persisted shape of a plain API key.
type storedKey struct {
	Key string `json:"key"`
}

// ProviderStatus describes one provider's credential state.
type ProviderStatus struct {
	Provider  models.Provider `json:"provider"`
	Enabled   bool            `json:"enabled"`
	Connected bool            `json:"connected"`
	Account   string          `json:"account,omitempty"`
	Plan      string          `json:"plan,omitempty"`
}

// Service manages provider credentials on top of the state store.
type Service struct {
	store  *state.Store
	logger *observability.Logger

	mu    sync.Mutex
	flows map[models.Provider]LoginFlow
}

func NewService(store *state.Store, logger *observability.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
		flows:  make(map[models.Provider]LoginFlow),
	}
}

// RegisterFlow installs the login flow for an OAuth provider.
func (s *Service) RegisterFlow(provider models.Provider, flow LoginFlow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flows[provider] = flow
}

// ConnectPrimary runs the primary login flow and persists the credential.
func (s *Service) ConnectPrimary(ctx context.Context, onEvent func(FlowEvent)) error {
	return s.connect(ctx, models.ProviderPrimary, secretPrimary, onEvent)
}

// ConnectSecondary runs the secondary login flow and persists the credential.
func (s *Service) ConnectSecondary(ctx context.Context, onEvent func(FlowEvent)) error {
	return s.connect(ctx, models.ProviderSecondary, secretSecondary, onEvent)
}

func (s *Service) connect(ctx context.Context, provider models.Provider, secret string, onEvent func(FlowEvent)) error {
	s.mu.Lock()
	flow := s.flows[provider]
	s.mu.Unlock()
	if flow == nil {
		return fmt.Errorf("%w for %s", ErrNoFlow, provider)
	}

	token, err := flow.Login(ctx, onEvent)
	if err != nil {
		return fmt.Errorf("%s login: %w", provider, err)
	}
	if token == nil || token.AccessToken == "" {
		return fmt.Errorf("%s login yielded no access token", provider)
	}

	stored := storedToken{Token: *token}
	if id, ok := token.Extra("id_token").(string); ok {
		stored.IDToken = id
	}
	if err := s.store.SaveSecret(secret, stored); err != nil {
		return fmt.Errorf("persist %s credential: %w", provider, err)
	}
	if err := s.enable(provider); err != nil {
		return err
	}
	s.logger.Info(ctx, "provider connected", "provider", provider)
	return nil
}

// SetRouterKey persists the aggregator API key and enables the router.
func (s *Service) SetRouterKey(key string) error {
	return s.setKey(models.ProviderRouter, secretRouter, key)
}

// SetSearchKey persists the web-search API key. It binds to no provider.
func (s *Service) SetSearchKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("search key must not be empty")
	}
	return s.store.SaveSecret(secretSearch, storedKey{Key: key})
}

func (s *Service) setKey(provider models.Provider, secret, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("%s key must not be empty", provider)
	}
	if err := s.store.SaveSecret(secret, storedKey{Key: key}); err != nil {
		return fmt.Errorf("persist %s key: %w", provider, err)
	}
	return s.enable(provider)
}

func (s *Service) enable(provider models.Provider) error {
	_, err := s.store.UpdateSelection(func(sel *state.Selection) {
		sel.EnableProvider(provider)
	})
	return err
}

// Disconnect removes a provider's stored credential.
func (s *Service) Disconnect(provider models.Provider) error {
	name, err := secretName(provider)
	if err != nil {
		return err
	}
	return s.store.DeleteSecret(name)
}

// Credential returns the bearer secret for a provider: the OAuth access
// token for primary and secondary, the stored key for the router.
func (s *Service) Credential(provider models.Provider) (string, error) {
	name, err := secretName(provider)
	if err != nil {
		return "", err
	}
	switch provider {
	case models.ProviderRouter:
		var key storedKey
		ok, err := s.store.LoadSecret(name, &key)
		if err != nil {
			return "", err
		}
		if !ok || key.Key == "" {
			return "", fmt.Errorf("%w: %s", ErrNotConnected, provider)
		}
		return key.Key, nil
	default:
		var token storedToken
		ok, err := s.store.LoadSecret(name, &token)
		if err != nil {
			return "", err
		}
		if !ok || token.AccessToken == "" {
			return "", fmt.Errorf("%w: %s", ErrNotConnected, provider)
		}
		return token.AccessToken, nil
	}
}

// SearchKey returns the stored web-search key, empty when unset.
func (s *Service) SearchKey() string {
	var key storedKey
	if ok, err := s.store.LoadSecret(secretSearch, &key); err != nil || !ok {
		return ""
	}
	return key.Key
}

// Status reports every provider's credential state in provider order.
func (s *Service) Status() []ProviderStatus {
	sel, err := s.store.LoadSelection()
	if err != nil {
		sel = state.DefaultSelection()
	}

	out := make([]ProviderStatus, 0, 3)
	for _, provider := range models.ProviderOrder() {
		status := ProviderStatus{
			Provider: provider,
			Enabled:  sel.ProviderEnabled(provider),
		}
		name, nameErr := secretName(provider)
		if nameErr == nil && s.store.HasSecret(name) {
			status.Connected = true
			if provider != models.ProviderRouter {
				var token storedToken
				if ok, loadErr := s.store.LoadSecret(name, &token); loadErr == nil && ok {
					status.Account, status.Plan = accountHint(token.IDToken)
				}
			}
		}
		out = append(out, status)
	}
	return out
}

func secretName(provider models.Provider) (string, error) {
	switch provider {
	case models.ProviderPrimary:
		return secretPrimary, nil
	case models.ProviderSecondary:
		return secretSecondary, nil
	case models.ProviderRouter:
		return secretRouter, nil
	}
	return "", fmt.Errorf("unknown provider %q", provider)
}

// accountHint extracts email and plan from the id token's claims without
// verifying the signature. The hint is display-only; nothing trusts it.
func accountHint(idToken string) (email, plan string) {
	if idToken == "" {
		return "", ""
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return "", ""
	}
	if v, ok := claims["email"].(string); ok {
		email = v
	}
	if v, ok := claims["plan"].(string); ok {
		plan = v
	}
	return email, plan
}
