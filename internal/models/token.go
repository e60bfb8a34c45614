// Package models defines types shared across internal packages.
package models

import "slices"

// AppID identifies this application to the vendor backend, both as the
// payload appid and in a token's authorised app list.
const AppID = "repository_cloudpoodll"

// Credential is the vendor API user and secret pair from configuration.
type Credential struct {
	APIUser   string
	APISecret string
}

// Subscription is a vendor subscription attached to a token.
type Subscription struct {
	Name   string `json:"subscriptionname"`
	Expiry int64  `json:"expiredate"`
}

// Token is a cached vendor bearer token. ValidUntil is a local unix
// timestamp already corrected for clock skew and the refresh margin;
// zero means the token never expires.
type Token struct {
	Value           string         `json:"token"`
	ValidUntil      int64          `json:"validuntil"`
	Subscriptions   []Subscription `json:"subs,omitempty"`
	AuthorizedApps  []string       `json:"apps,omitempty"`
	RegisteredSites []string       `json:"sites,omitempty"`
	HasSubs         bool           `json:"has_subs"`
	HasApps         bool           `json:"has_apps"`
	HasSites        bool           `json:"has_sites"`
	User            string         `json:"user"`
	Server          string         `json:"server"`
}

// Valid reports whether the token can be served from cache at unix time now.
func (t *Token) Valid(now int64) bool {
	if t == nil || t.Value == "" {
		return false
	}

	return t.ValidUntil == 0 || t.ValidUntil > now
}

// AuthorizesApp reports whether appID is in the token's authorised apps.
func (t *Token) AuthorizesApp(appID string) bool {
	return t != nil && slices.Contains(t.AuthorizedApps, appID)
}
