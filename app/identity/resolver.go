package identity

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/diploma-bazar/api-gate/app/token"
)

type (
	// Config carries the security filter configuration. Lists are
	// compiled into sets/patterns by NewResolver.
	Config struct {
		Whitelist       []string
		Blacklist       []string
		BlockedAgents   []string
		AllowedOrigins  []string
		RequiredHeaders []string
		APIKeys         APIKeyConfig
	}

	APIKeyConfig struct {
		Enabled              bool
		Header               string
		QueryParam           string
		MinLength            int
		RequiredForAnonymous bool
		Keys                 []string
	}

	// Resolver produces a request identity or an early rejection.
	Resolver struct {
		whitelist       map[string]struct{}
		blacklist       map[string]struct{}
		blockedAgents   []*regexp.Regexp
		allowedOrigins  map[string]struct{}
		requiredHeaders []string
		apiKeys         apiKeys
		verifier        token.Verifier
		verifyTimeout   time.Duration
	}

	apiKeys struct {
		enabled              bool
		header               string
		queryParam           string
		minLength            int
		requiredForAnonymous bool
		valid                map[string]struct{}
	}
)

const (
	defaultAPIKeyHeader = "x-api-key"
	defaultAPIKeyQuery  = "api_key"
	defaultVerifyWait   = 5 * time.Second
)

// NewResolver compiles the configured lists. The verifier may be nil
// when no credential resolution is wanted.
func NewResolver(cfg Config, verifier token.Verifier) (*Resolver, error) {
	agents := make([]*regexp.Regexp, 0, len(cfg.BlockedAgents))

	for _, p := range cfg.BlockedAgents {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to compile blocked user agent pattern %q: %w", p, err)
		}

		agents = append(agents, re)
	}

	keys := apiKeys{
		enabled:              cfg.APIKeys.Enabled,
		header:               cfg.APIKeys.Header,
		queryParam:           cfg.APIKeys.QueryParam,
		minLength:            cfg.APIKeys.MinLength,
		requiredForAnonymous: cfg.APIKeys.RequiredForAnonymous,
		valid:                toSet(cfg.APIKeys.Keys),
	}

	if keys.header == "" {
		keys.header = defaultAPIKeyHeader
	}

	if keys.queryParam == "" {
		keys.queryParam = defaultAPIKeyQuery
	}

	return &Resolver{
		whitelist:       toSet(cfg.Whitelist),
		blacklist:       toSet(cfg.Blacklist),
		blockedAgents:   agents,
		allowedOrigins:  toSet(cfg.AllowedOrigins),
		requiredHeaders: cfg.RequiredHeaders,
		apiKeys:         keys,
		verifier:        verifier,
		verifyTimeout:   defaultVerifyWait,
	}, nil
}

// Resolve runs the security filters in order: blacklist, whitelist
// short-circuit, user agent, origin, required headers, API key, then
// credential resolution. Credential failure never rejects; the request
// just stays anonymous.
func (s *Resolver) Resolve(r *http.Request) (Identity, *Rejection) {
	ip := ClientIP(r)

	id := Identity{Identifier: ip, Kind: KindIP, IP: ip}

	if _, ok := s.blacklist[ip]; ok {
		log.WithField("ip", ip).Warn("request from blacklisted address")
		return id, blockedRejection("IP address is blocked")
	}

	if _, ok := s.whitelist[ip]; ok {
		id.Whitelisted = true
		id.APIKeyValid = true
	} else {
		if rej := s.checkSecurity(r, ip); rej != nil {
			return id, rej
		}

		if rej := s.checkAPIKey(r, &id); rej != nil {
			return id, rej
		}
	}

	s.resolveCredentials(r, &id)

	if !id.Authenticated && s.apiKeys.requiredForAnonymous && !id.APIKeyValid {
		return id, unauthorizedRejection("Authentication or API key required for anonymous requests")
	}

	if id.Authenticated {
		id.Identifier = id.UserID
		id.Kind = KindUser
	}

	return id, nil
}

func (s *Resolver) checkSecurity(r *http.Request, ip string) *Rejection {
	if len(s.blockedAgents) > 0 && s.agentBlocked(r.UserAgent()) {
		log.WithFields(log.Fields{"ip": ip, "user_agent": r.UserAgent()}).Warn("blocked user agent")
		return forbiddenRejection("User agent not allowed")
	}

	// absent Origin means a non-browser client; only present-but-unlisted is rejected
	if origin := r.Header.Get("Origin"); origin != "" {
		if _, ok := s.allowedOrigins[origin]; !ok {
			if _, any := s.allowedOrigins["*"]; !any {
				log.WithFields(log.Fields{"ip": ip, "origin": origin}).Warn("blocked origin")
				return forbiddenRejection("Origin not allowed")
			}
		}
	}

	var missing []string

	for _, h := range s.requiredHeaders {
		if r.Header.Get(h) == "" {
			missing = append(missing, h)
		}
	}

	if len(missing) > 0 {
		return invalidRequestRejection("Missing required headers: " + strings.Join(missing, ", "))
	}

	return nil
}

func (s *Resolver) checkAPIKey(r *http.Request, id *Identity) *Rejection {
	if !s.apiKeys.enabled {
		return nil
	}

	key := r.Header.Get(s.apiKeys.header)
	if key == "" {
		key = r.URL.Query().Get(s.apiKeys.queryParam)
	}

	if key == "" {
		return unauthorizedRejection("API key required")
	}

	if len(key) < s.apiKeys.minLength {
		return forbiddenRejection("Invalid API key format")
	}

	if _, ok := s.apiKeys.valid[key]; !ok {
		return forbiddenRejection("Invalid API key")
	}

	id.APIKeyValid = true

	return nil
}

func (s *Resolver) resolveCredentials(r *http.Request, id *Identity) {
	if s.verifier == nil {
		return
	}

	raw := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if raw == "" {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.verifyTimeout)
	defer cancel()

	userID, err := s.verifier.Verify(ctx, raw)
	if err != nil {
		log.WithField("error", err).Debug("token verification failed")
		return
	}

	id.UserID = userID
	id.Authenticated = true
}

func (s *Resolver) agentBlocked(agent string) bool {
	if agent == "" {
		return true
	}

	for _, re := range s.blockedAgents {
		if re.MatchString(agent) {
			return true
		}
	}

	return false
}

func toSet(values []string) map[string]struct{} {
	m := make(map[string]struct{}, len(values))

	for _, v := range values {
		m[v] = struct{}{}
	}

	return m
}
