package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/brewlog/auth-service/internal/domain"
	"github.com/brewlog/auth-service/internal/repository"
	"github.com/brewlog/auth-service/internal/security"
)

// Callback outcomes. A callback either ends in a live session or parks the
// identity behind a pending-link token until the user chooses.
const (
	OutcomeSessionCreated     = "session_created"
	OutcomeAwaitingLinkChoice = "awaiting_user_choice"
)

// Link decisions accepted by CompleteLink.
const (
	LinkDecisionLink     = "link"
	LinkDecisionSeparate = "separate"
)

// OAuthService drives the authorization-code-with-PKCE flow end to end:
// initiation, callback, and the explicit account-linking decision.
type OAuthService struct {
	providers map[string]Provider
	states    OAuthStateStore
	links     LinkDecisionStore
	users     repository.UserRepository
	linked    repository.LinkedAccountRepository
	session   *SessionService

	stateTTL        time.Duration
	exchangeTimeout time.Duration
}

func NewOAuthService(
	providers map[string]Provider,
	states OAuthStateStore,
	links LinkDecisionStore,
	users repository.UserRepository,
	linked repository.LinkedAccountRepository,
	session *SessionService,
	stateTTL, exchangeTimeout time.Duration,
) *OAuthService {
	if stateTTL <= 0 {
		stateTTL = 10 * time.Minute
	}
	if exchangeTimeout <= 0 {
		exchangeTimeout = 10 * time.Second
	}
	return &OAuthService{
		providers:       providers,
		states:          states,
		links:           links,
		users:           users,
		linked:          linked,
		session:         session,
		stateTTL:        stateTTL,
		exchangeTimeout: exchangeTimeout,
	}
}

// ProviderNames returns the configured providers ordered for the given
// platform.
func (s *OAuthService) ProviderNames(platform string) []string {
	names := make([]string, 0, len(s.providers))
	for name := range s.providers {
		names = append(names, name)
	}
	return OrderProviders(platform, names)
}

// BeginFlowResult carries the redirect target for the provider handshake.
type BeginFlowResult struct {
	Provider     string
	State        string
	AuthorizeURL string
}

// BeginFlow mints a fresh verifier, challenge, and state for one handshake
// and records them server side. A second initiation for the same provider
// and client while one is pending is rejected; the first must complete or
// expire.
func (s *OAuthService) BeginFlow(ctx context.Context, providerName, clientKey string) (*BeginFlowResult, error) {
	provider, ok := s.providers[providerName]
	if !ok {
		return nil, newAuthError(ErrKindValidation, "Unknown sign-in provider", "unknown_provider", false)
	}
	verifier, err := security.GenerateCodeVerifier()
	if err != nil {
		return nil, err
	}
	state, err := security.GenerateState()
	if err != nil {
		return nil, err
	}
	challenge := security.CodeChallengeS256(verifier)

	record := OAuthState{
		State:         state,
		CodeVerifier:  verifier,
		CodeChallenge: challenge,
		Provider:      providerName,
		ClientKey:     clientKey,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.states.Save(ctx, record, s.stateTTL); err != nil {
		if errors.Is(err, ErrFlowInFlight) {
			return nil, newAuthError(ErrKindValidation, "Sign-in already in progress, finish or wait a moment", "flow_in_flight", true)
		}
		return nil, err
	}
	return &BeginFlowResult{
		Provider:     providerName,
		State:        state,
		AuthorizeURL: provider.AuthCodeURL(state, challenge),
	}, nil
}

// CallbackRequest is the provider redirect as received by the callback
// endpoint.
type CallbackRequest struct {
	Provider  string
	State     string
	Code      string
	ErrorCode string
	ClientIP  string
	UserAgent string
}

// CallbackResult reports what the callback ended in. When the outcome is
// awaiting_user_choice, PendingToken keys the held identity and Session is
// nil; no account has been created or modified yet.
type CallbackResult struct {
	Outcome      string
	Session      *SessionResult
	PendingToken string
	Provider     string
	Email        string
	NewUser      bool
}

// HandleCallback consumes the state, exchanges the code under a hard
// timeout, and resolves the provider identity to an account. The state is
// consumed before anything else so a replayed callback always fails.
func (s *OAuthService) HandleCallback(ctx context.Context, req CallbackRequest) (*CallbackResult, error) {
	provider, ok := s.providers[req.Provider]
	if !ok {
		return nil, newAuthError(ErrKindValidation, "Unknown sign-in provider", "unknown_provider", false)
	}

	if req.ErrorCode != "" {
		// Clear the handshake record so the user can retry immediately.
		if req.State != "" {
			_, _ = s.states.Take(ctx, req.Provider, req.State)
		}
		if req.ErrorCode == "access_denied" {
			return nil, newAuthError(ErrKindAccessDenied, "Sign-in was cancelled", "access_denied", true)
		}
		return nil, newAuthError(ErrKindNetwork, "Sign-in failed, try again", "provider_error:"+req.ErrorCode, true)
	}

	if req.State == "" || req.Code == "" {
		return nil, newAuthError(ErrKindStateMismatch, "Sign-in session invalid, start over", "missing_parameters", true)
	}

	record, err := s.states.Take(ctx, req.Provider, req.State)
	if err != nil {
		if errors.Is(err, ErrStateNotFound) {
			return nil, newAuthError(ErrKindStateMismatch, "Sign-in session invalid, start over", "state_mismatch", true)
		}
		return nil, err
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, s.exchangeTimeout)
	defer cancel()
	token, err := provider.Exchange(exchangeCtx, req.Code, record.CodeVerifier)
	if err != nil {
		return nil, classifyExchangeError(err)
	}

	info, err := provider.FetchUserInfo(exchangeCtx, token)
	if err != nil {
		return nil, wrapAuthError(ErrKindNetwork, "Sign-in failed, try again", "userinfo_fetch", true, err)
	}

	return s.resolveIdentity(ctx, req, info)
}

// resolveIdentity maps a provider identity onto an account. Known provider
// link: sign in. Email collision with an existing account: hold for the
// linking decision. Otherwise: provision a new account.
func (s *OAuthService) resolveIdentity(ctx context.Context, req CallbackRequest, info *ProviderUserInfo) (*CallbackResult, error) {
	user, err := s.users.FindByProviderIdentity(req.Provider, info.ProviderUserID)
	if err == nil {
		session, err := s.session.Issue(user, domain.AuthMethodOAuth, req.UserAgent, req.ClientIP)
		if err != nil {
			return nil, err
		}
		return &CallbackResult{
			Outcome:  OutcomeSessionCreated,
			Session:  session,
			Provider: req.Provider,
			Email:    user.Email,
		}, nil
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, err
	}

	// Email matching requires a verified address; an unverified one would
	// let an attacker park someone else's email at a provider and inherit
	// their account.
	if info.EmailVerified {
		existing, err := s.users.FindByEmail(info.Email)
		if err == nil {
			pending := PendingLink{
				Token:          uuid.NewString(),
				Provider:       req.Provider,
				ProviderUserID: info.ProviderUserID,
				Email:          info.Email,
				Name:           info.Name,
				Avatar:         info.Avatar,
				ExistingUserID: existing.ID,
				CreatedAt:      time.Now().UTC(),
			}
			if err := s.links.Save(ctx, pending, s.stateTTL); err != nil {
				return nil, err
			}
			return &CallbackResult{
				Outcome:      OutcomeAwaitingLinkChoice,
				PendingToken: pending.Token,
				Provider:     req.Provider,
				Email:        info.Email,
			}, nil
		}
		if !errors.Is(err, repository.ErrUserNotFound) {
			return nil, err
		}
	}

	session, err := s.provisionUser(req, info)
	if err != nil {
		return nil, err
	}
	return &CallbackResult{
		Outcome:  OutcomeSessionCreated,
		Session:  session,
		Provider: req.Provider,
		Email:    info.Email,
		NewUser:  true,
	}, nil
}

// CompleteLink applies the user's linking decision for a held identity. The
// pending token is single-use either way.
func (s *OAuthService) CompleteLink(ctx context.Context, pendingToken, decision, ua, ip string) (*CallbackResult, error) {
	if decision != LinkDecisionLink && decision != LinkDecisionSeparate {
		return nil, newAuthError(ErrKindValidation, "Unknown linking choice", "invalid_decision", false)
	}
	pending, err := s.links.Take(ctx, pendingToken)
	if err != nil {
		if errors.Is(err, ErrLinkNotFound) {
			return nil, newAuthError(ErrKindLinking, "Link request expired, sign in again", "pending_link_expired", false)
		}
		return nil, err
	}

	if decision == LinkDecisionSeparate {
		session, err := s.provisionUser(CallbackRequest{
			Provider:  pending.Provider,
			ClientIP:  ip,
			UserAgent: ua,
		}, &ProviderUserInfo{
			ProviderUserID: pending.ProviderUserID,
			Email:          pending.Email,
			Name:           pending.Name,
			Avatar:         pending.Avatar,
		})
		if err != nil {
			return nil, err
		}
		return &CallbackResult{
			Outcome:  OutcomeSessionCreated,
			Session:  session,
			Provider: pending.Provider,
			Email:    pending.Email,
			NewUser:  true,
		}, nil
	}

	user, err := s.users.FindByID(pending.ExistingUserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, newAuthError(ErrKindLinking, "Account is no longer available", "target_user_missing", false)
		}
		return nil, err
	}
	link := &domain.LinkedAccount{
		UserID:     user.ID,
		Provider:   pending.Provider,
		ProviderID: pending.ProviderUserID,
		Email:      pending.Email,
		LinkedAt:   time.Now().UTC(),
	}
	if err := s.linked.Create(link); err != nil {
		if errors.Is(err, repository.ErrAlreadyLinked) {
			return nil, newAuthError(ErrKindLinking, "A different account from this provider is already linked", "provider_already_linked", false)
		}
		return nil, err
	}
	session, err := s.session.Issue(user, domain.AuthMethodOAuth, ua, ip)
	if err != nil {
		return nil, err
	}
	return &CallbackResult{
		Outcome:  OutcomeSessionCreated,
		Session:  session,
		Provider: pending.Provider,
		Email:    user.Email,
	}, nil
}

// provisionUser creates a fresh OAuth account plus its provider link and
// signs it in.
func (s *OAuthService) provisionUser(req CallbackRequest, info *ProviderUserInfo) (*SessionResult, error) {
	user := &domain.User{
		Email:         info.Email,
		Name:          info.Name,
		Avatar:        info.Avatar,
		AuthMethod:    domain.AuthMethodOAuth,
		OAuthProvider: req.Provider,
	}
	if err := s.users.Create(user); err != nil {
		return nil, err
	}
	link := &domain.LinkedAccount{
		UserID:     user.ID,
		Provider:   req.Provider,
		ProviderID: info.ProviderUserID,
		Email:      info.Email,
		LinkedAt:   time.Now().UTC(),
	}
	if err := s.linked.Create(link); err != nil {
		return nil, err
	}
	return s.session.Issue(user, domain.AuthMethodOAuth, req.UserAgent, req.ClientIP)
}

// classifyExchangeError splits code-exchange failures between the provider
// rejecting the grant and the network not answering in time.
func classifyExchangeError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return wrapAuthError(ErrKindAccessDenied, "Sign-in was rejected by the provider", "code_exchange_rejected", true, err)
	}
	return wrapAuthError(ErrKindNetwork, "Sign-in timed out, try again", "code_exchange_network", true, err)
}
