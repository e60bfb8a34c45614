package poodll

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	perrors "github.com/alexjbarnes/cloudpoodll-imagegen/internal/errors"
	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/models"
	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/state"
	"github.com/tidwall/gjson"
)

const (
	// tokenPath is the credential exchange endpoint on the vendor server.
	tokenPath = "/local/cpapi/poodlltoken.php"

	// tokenService is the service name sent with every exchange.
	tokenService = "cloud_poodll"

	// refreshMargin is subtracted from the remote expiry so tokens are
	// refreshed an hour before the vendor stops accepting them.
	refreshMargin = int64(time.Hour / time.Second)
)

// TokenStore persists tokens keyed by state.TokenKey.
type TokenStore interface {
	GetToken(key string) (*models.Token, error)
	SaveToken(key string, tok models.Token) error
}

// FormPoster sends a form POST and returns the raw body.
type FormPoster interface {
	PostForm(ctx context.Context, endpoint string, values url.Values) ([]byte, error)
}

// TokenCache exchanges vendor credentials for a bearer token and caches
// the result per (server, API user).
type TokenCache struct {
	store  TokenStore
	client FormPoster
	server string
	now    func() time.Time
	logger *slog.Logger
}

// TokenOption configures a TokenCache.
type TokenOption func(*TokenCache)

// WithClock replaces the wall clock used for expiry checks.
func WithClock(now func() time.Time) TokenOption {
	return func(c *TokenCache) {
		c.now = now
	}
}

// NewTokenCache creates a cache for tokens issued by server, which is a
// base URL such as https://cloud.poodll.com.
func NewTokenCache(store TokenStore, client FormPoster, server string, logger *slog.Logger, opts ...TokenOption) *TokenCache {
	c := &TokenCache{
		store:  store,
		client: client,
		server: strings.TrimRight(server, "/"),
		now:    time.Now,
		logger: logger,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Server returns the vendor base URL this cache fetches tokens from.
func (c *TokenCache) Server() string {
	return c.server
}

func (c *TokenCache) key(creds models.Credential) string {
	return state.TokenKey(c.server, strings.TrimSpace(creds.APIUser))
}

// FetchToken returns a bearer token for creds, or "" when none could be
// obtained. Failures are logged, never returned.
func (c *TokenCache) FetchToken(ctx context.Context, creds models.Credential, force bool) string {
	tok, err := c.Fetch(ctx, creds, force)
	if err != nil {
		c.logger.Log(ctx, FailureLevel(err), "token fetch failed",
			slog.String("server", c.server),
			slog.String("kind", perrors.Kind(err)),
			slog.String("error", err.Error()),
		)

		return ""
	}

	return tok
}

// Fetch returns a bearer token for creds. A cached token is served
// without a network call unless force is set or it has expired. On any
// failure the cache is left untouched.
func (c *TokenCache) Fetch(ctx context.Context, creds models.Credential, force bool) (string, error) {
	apiUser := strings.TrimSpace(creds.APIUser)
	apiSecret := strings.TrimSpace(creds.APISecret)

	if apiUser == "" || apiSecret == "" {
		return "", fmt.Errorf("vendor credentials: %w", perrors.ErrConfigurationMissing)
	}

	key := c.key(creds)

	if !force {
		cached, err := c.store.GetToken(key)
		if err != nil {
			c.logger.Warn("reading cached token", slog.String("error", err.Error()))
		} else if cached.Valid(c.now().Unix()) {
			return cached.Value, nil
		}
	}

	form := url.Values{
		"username": {apiUser},
		"password": {apiSecret},
		"service":  {tokenService},
	}

	body, err := c.client.PostForm(ctx, c.server+tokenPath, form)
	if err != nil {
		return "", fmt.Errorf("exchanging credentials: %w", err)
	}

	tok, err := parseTokenResponse(body, c.now().Unix())
	if err != nil {
		return "", err
	}

	tok.User = apiUser
	tok.Server = c.server

	if err := c.store.SaveToken(key, tok); err != nil {
		return "", fmt.Errorf("caching token: %w: %w", perrors.ErrStorage, err)
	}

	if tok.Value == "" {
		return "", fmt.Errorf("vendor issued an empty token: %w", perrors.ErrAuthentication)
	}

	c.logger.Debug("token refreshed",
		slog.String("server", c.server),
		slog.Int64("valid_until", tok.ValidUntil),
	)

	return tok.Value, nil
}

// parseTokenResponse builds a Token from an exchange response. The
// remote expiry is shifted by the skew between the vendor clock
// (poodlltime) and now, then brought forward by refreshMargin.
func parseTokenResponse(body []byte, now int64) (models.Token, error) {
	if !gjson.ValidBytes(body) {
		return models.Token{}, fmt.Errorf("token response is not JSON: %w: %s", perrors.ErrMalformedResponse, sanitizeResponseBody(body))
	}

	res := gjson.ParseBytes(body)

	value := res.Get("token")
	if !value.Exists() {
		msg := res.Get("error").String()
		if msg == "" {
			msg = sanitizeResponseBody(body)
		}

		return models.Token{}, fmt.Errorf("token response has no token: %w: %s", perrors.ErrAuthentication, msg)
	}

	tok := models.Token{Value: value.String()}

	if remote := res.Get("validuntil").Int(); remote != 0 {
		poodllTime := res.Get("poodlltime").Int()
		tok.ValidUntil = remote - (poodllTime - now) - refreshMargin
	}

	if subs := res.Get("subs"); subs.Exists() {
		tok.HasSubs = true

		for _, s := range subs.Array() {
			tok.Subscriptions = append(tok.Subscriptions, models.Subscription{
				Name:   s.Get("subscriptionname").String(),
				Expiry: s.Get("expiredate").Int(),
			})
		}
	}

	if apps := res.Get("apps"); apps.Exists() {
		tok.HasApps = true

		for _, a := range apps.Array() {
			tok.AuthorizedApps = append(tok.AuthorizedApps, a.String())
		}
	}

	if sites := res.Get("sites"); sites.Exists() {
		tok.HasSites = true

		for _, s := range sites.Array() {
			tok.RegisteredSites = append(tok.RegisteredSites, s.String())
		}
	}

	return tok, nil
}

// Cached returns the cached token value for creds without contacting
// the vendor, expired or not. It returns "" when nothing is cached.
func (c *TokenCache) Cached(creds models.Credential) string {
	cached, err := c.store.GetToken(c.key(creds))
	if err != nil {
		c.logger.Warn("reading cached token", slog.String("error", err.Error()))
		return ""
	}

	if cached == nil {
		return ""
	}

	return cached.Value
}

// CheckToken reports why token cannot be used to call the vendor, or
// nil when it can. Checks run in a fixed order against the cached
// record for creds.
func (c *TokenCache) CheckToken(creds models.Credential, token string) error {
	if token == "" {
		return perrors.ErrNoToken
	}

	cached, err := c.store.GetToken(c.key(creds))
	if err != nil {
		return fmt.Errorf("reading cached token: %w: %w", perrors.ErrStorage, err)
	}

	switch {
	case cached == nil:
		return perrors.ErrTokenNotCached
	case cached.Value == "":
		return perrors.ErrCredentialsInvalid
	case !cached.HasSubs:
		return perrors.ErrNoSubscriptions
	case !cached.HasApps || !cached.AuthorizesApp(models.AppID):
		return perrors.ErrAppNotAuthorised
	}

	return nil
}

// TokenStatus summarises the cached token for display. It is built
// from the cache alone.
type TokenStatus struct {
	MissingUser   bool     `json:"missing_user,omitempty"`
	MissingSecret bool     `json:"missing_secret,omitempty"`
	Problem       string   `json:"problem,omitempty"`
	Subscriptions []string `json:"subscriptions,omitempty"`
	AppAuthorised bool     `json:"app_authorised"`
	ValidUntil    int64    `json:"valid_until,omitempty"`
}

// Lines renders the status as human-readable lines.
func (s TokenStatus) Lines() []string {
	var lines []string

	if s.MissingUser {
		lines = append(lines, "No API user entered")
	}

	if s.MissingSecret {
		lines = append(lines, "No API secret entered")
	}

	if s.Problem != "" {
		lines = append(lines, s.Problem)
	}

	if len(lines) > 0 {
		return lines
	}

	lines = append(lines, s.Subscriptions...)

	if s.AppAuthorised {
		lines = append(lines, "This app is authorised for this site")
	} else {
		lines = append(lines, "This app is NOT authorised for this site")
	}

	return lines
}

// Status reports the cached token state for creds against siteURL.
// It never contacts the vendor.
func (c *TokenCache) Status(creds models.Credential, siteURL string) TokenStatus {
	var st TokenStatus

	st.MissingUser = strings.TrimSpace(creds.APIUser) == ""
	st.MissingSecret = strings.TrimSpace(creds.APISecret) == ""

	if st.MissingUser || st.MissingSecret {
		return st
	}

	cached, err := c.store.GetToken(c.key(creds))

	switch {
	case err != nil:
		st.Problem = "Token cache could not be read"
		c.logger.Warn("reading cached token", slog.String("error", err.Error()))

		return st
	case cached == nil:
		st.Problem = perrors.ErrTokenNotCached.Error()
		return st
	case cached.Value == "":
		st.Problem = perrors.ErrCredentialsInvalid.Error()
		return st
	case !cached.HasSubs:
		st.Problem = "No subscriptions found at all"
		return st
	}

	st.ValidUntil = cached.ValidUntil

	for _, sub := range cached.Subscriptions {
		expires := time.Unix(sub.Expiry, 0).UTC().Format("02/01/2006")
		st.Subscriptions = append(st.Subscriptions, sub.Name+" : expires "+expires)
	}

	st.AppAuthorised = cached.AuthorizesApp(models.AppID) &&
		IsSiteRegistered(cached.RegisteredSites, siteURL, true)

	return st
}
