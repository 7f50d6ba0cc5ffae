package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/brewlog/auth-service/internal/config"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// ProviderUserInfo is the normalized identity returned by every provider.
type ProviderUserInfo struct {
	ProviderUserID string
	Email          string
	Name           string
	Avatar         string
	EmailVerified  bool
}

// Provider abstracts one OAuth identity provider. Only the S256 challenge
// method is ever sent; the plain method is not offered.
type Provider interface {
	Name() string
	AuthCodeURL(state, codeChallenge string) string
	Exchange(ctx context.Context, code, codeVerifier string) (*oauth2.Token, error)
	FetchUserInfo(ctx context.Context, token *oauth2.Token) (*ProviderUserInfo, error)
}

var providerScopes = map[string][]string{
	"google":    {"email", "profile"},
	"github":    {"user:email"},
	"apple":     {"name", "email"},
	"microsoft": {"openid", "profile", "email"},
}

var providerEndpoints = map[string]oauth2.Endpoint{
	"google":    endpoints.Google,
	"github":    endpoints.GitHub,
	"apple":     endpoints.Apple,
	"microsoft": endpoints.AzureAD("common"),
}

type oauthProvider struct {
	name        string
	cfg         *oauth2.Config
	userinfoURL string
}

// NewProviderRegistry builds providers from configuration. Unknown provider
// names in config are ignored; the four supported ones map to fixed
// endpoints and default scopes.
func NewProviderRegistry(configs map[string]config.OAuthProviderConfig) map[string]Provider {
	registry := make(map[string]Provider, len(configs))
	for name, pc := range configs {
		endpoint, ok := providerEndpoints[name]
		if !ok {
			continue
		}
		registry[name] = &oauthProvider{
			name: name,
			cfg: &oauth2.Config{
				ClientID:     pc.ClientID,
				ClientSecret: pc.ClientSecret,
				RedirectURL:  pc.RedirectURL,
				Endpoint:     endpoint,
				Scopes:       providerScopes[name],
			},
			userinfoURL: userinfoURLFor(name),
		}
	}
	return registry
}

func userinfoURLFor(name string) string {
	switch name {
	case "google":
		return "https://openidconnect.googleapis.com/v1/userinfo"
	case "github":
		return "https://api.github.com/user"
	case "microsoft":
		return "https://graph.microsoft.com/oidc/userinfo"
	default:
		// Apple has no userinfo endpoint; identity rides in the id_token.
		return ""
	}
}

func (p *oauthProvider) Name() string { return p.name }

func (p *oauthProvider) AuthCodeURL(state, codeChallenge string) string {
	return p.cfg.AuthCodeURL(state,
		oauth2.SetAuthURLParam("code_challenge", codeChallenge),
		oauth2.SetAuthURLParam("code_challenge_method", "S256"),
	)
}

func (p *oauthProvider) Exchange(ctx context.Context, code, codeVerifier string) (*oauth2.Token, error) {
	return p.cfg.Exchange(ctx, code, oauth2.SetAuthURLParam("code_verifier", codeVerifier))
}

func (p *oauthProvider) FetchUserInfo(ctx context.Context, token *oauth2.Token) (*ProviderUserInfo, error) {
	if p.userinfoURL == "" {
		return identityFromIDToken(token)
	}
	if p.name == "github" {
		return p.fetchGitHubUser(ctx, token)
	}
	return p.fetchOIDCUserInfo(ctx, token)
}

type oidcUserInfo struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

func (p *oauthProvider) fetchOIDCUserInfo(ctx context.Context, token *oauth2.Token) (*ProviderUserInfo, error) {
	body, err := p.authorizedGET(ctx, token, p.userinfoURL)
	if err != nil {
		return nil, err
	}
	var info oidcUserInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	if info.Sub == "" || info.Email == "" {
		return nil, fmt.Errorf("missing required userinfo fields")
	}
	return &ProviderUserInfo{
		ProviderUserID: info.Sub,
		Email:          info.Email,
		Name:           info.Name,
		Avatar:         info.Picture,
		EmailVerified:  info.EmailVerified || p.name == "microsoft",
	}, nil
}

type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

func (p *oauthProvider) fetchGitHubUser(ctx context.Context, token *oauth2.Token) (*ProviderUserInfo, error) {
	body, err := p.authorizedGET(ctx, token, p.userinfoURL)
	if err != nil {
		return nil, err
	}
	var user githubUser
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("decode userinfo: %w", err)
	}
	info := &ProviderUserInfo{
		ProviderUserID: fmt.Sprintf("%d", user.ID),
		Email:          user.Email,
		Name:           user.Name,
		Avatar:         user.AvatarURL,
	}
	if info.Name == "" {
		info.Name = user.Login
	}
	// The profile email is often withheld; the emails endpoint carries the
	// verified primary address.
	if info.Email == "" {
		body, err := p.authorizedGET(ctx, token, "https://api.github.com/user/emails")
		if err != nil {
			return nil, err
		}
		var emails []githubEmail
		if err := json.Unmarshal(body, &emails); err != nil {
			return nil, fmt.Errorf("decode user emails: %w", err)
		}
		for _, e := range emails {
			if e.Primary && e.Verified {
				info.Email = e.Email
				info.EmailVerified = true
				break
			}
		}
	} else {
		info.EmailVerified = true
	}
	if info.ProviderUserID == "0" || info.Email == "" {
		return nil, fmt.Errorf("missing required userinfo fields")
	}
	return info, nil
}

func (p *oauthProvider) authorizedGET(ctx context.Context, token *oauth2.Token, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	token.SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")
	resp, err := p.cfg.Client(ctx, token).Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo status: %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<20))
}

type idTokenClaims struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified any    `json:"email_verified"`
	Name          string `json:"name"`
}

// identityFromIDToken reads identity claims out of the id_token returned by
// the token endpoint. The token arrived directly from the provider over TLS
// in the code exchange, so the claims are read without a JWKS round-trip.
func identityFromIDToken(token *oauth2.Token) (*ProviderUserInfo, error) {
	raw, _ := token.Extra("id_token").(string)
	if raw == "" {
		return nil, fmt.Errorf("missing id_token in token response")
	}
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed id_token")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("decode id_token: %w", err)
	}
	var claims idTokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("decode id_token claims: %w", err)
	}
	if claims.Sub == "" || claims.Email == "" {
		return nil, fmt.Errorf("missing required userinfo fields")
	}
	verified := false
	switch v := claims.EmailVerified.(type) {
	case bool:
		verified = v
	case string:
		verified = v == "true"
	}
	return &ProviderUserInfo{
		ProviderUserID: claims.Sub,
		Email:          claims.Email,
		Name:           claims.Name,
		EmailVerified:  verified,
	}, nil
}

// providerPriority orders the provider list for display by platform. iOS
// surfaces Apple then Google first, Android surfaces Google; desktop keeps
// the registry order. Display only, no security weight.
func providerPriority(platform string) map[string]int {
	switch strings.ToLower(strings.TrimSpace(platform)) {
	case "ios":
		return map[string]int{"apple": 0, "google": 1}
	case "android":
		return map[string]int{"google": 0}
	default:
		return nil
	}
}

func OrderProviders(platform string, names []string) []string {
	out := make([]string, len(names))
	copy(out, names)
	sort.Strings(out)
	priority := providerPriority(platform)
	if len(priority) == 0 {
		return out
	}
	sort.SliceStable(out, func(i, j int) bool {
		pi, iok := priority[out[i]]
		pj, jok := priority[out[j]]
		switch {
		case iok && jok:
			return pi < pj
		case iok:
			return true
		default:
			return false
		}
	})
	return out
}
