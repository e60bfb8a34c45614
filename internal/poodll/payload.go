package poodll

import (
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	perrors "github.com/alexjbarnes/cloudpoodll-imagegen/internal/errors"
	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/models"
)

// Vendor web service constants.
const (
	servicePath    = "/webservice/rest/server.php"
	wsFunction     = "local_cpapi_call_ai"
	restFormat     = "json"
	payloadLang    = "en-US"
	actionGenerate = "generate_images"
	actionEdit     = "edit_image"

	// generateSubject is the placeholder subject sent with generate calls.
	generateSubject = "1"
)

// TokenSource hands out vendor bearer tokens.
type TokenSource interface {
	Fetch(ctx context.Context, creds models.Credential, force bool) (string, error)
}

// PayloadBuilder builds the form parameters for vendor image calls.
type PayloadBuilder struct {
	tokens TokenSource
	creds  models.Credential
	region string
}

// NewPayloadBuilder creates a builder that authenticates with creds and
// targets region.
func NewPayloadBuilder(tokens TokenSource, creds models.Credential, region string) *PayloadBuilder {
	return &PayloadBuilder{tokens: tokens, creds: creds, region: region}
}

// OwnerHash returns the md5 hex digest of username, sent to the vendor
// for usage attribution in place of the name itself.
func OwnerHash(username string) string {
	sum := md5.Sum([]byte(username))
	return hex.EncodeToString(sum[:])
}

// BuildGenerate returns the parameters for a generate_images call.
func (b *PayloadBuilder) BuildGenerate(ctx context.Context, prompt, username string) (url.Values, error) {
	token, err := b.token(ctx)
	if err != nil {
		return nil, err
	}

	return b.params(token, actionGenerate, generateSubject, prompt, username), nil
}

// BuildEdit returns the parameters for an edit_image call carrying image
// as the base64 subject.
func (b *PayloadBuilder) BuildEdit(ctx context.Context, prompt string, image []byte, username string) (url.Values, error) {
	token, err := b.token(ctx)
	if err != nil {
		return nil, err
	}

	if len(image) == 0 {
		return nil, perrors.ErrNoSourceImage
	}

	subject := base64.StdEncoding.EncodeToString(image)

	return b.params(token, actionEdit, subject, prompt, username), nil
}

func (b *PayloadBuilder) token(ctx context.Context) (string, error) {
	if strings.TrimSpace(b.creds.APIUser) == "" || strings.TrimSpace(b.creds.APISecret) == "" {
		return "", fmt.Errorf("vendor credentials: %w", perrors.ErrConfigurationMissing)
	}

	token, err := b.tokens.Fetch(ctx, b.creds, false)
	if err != nil {
		return "", fmt.Errorf("fetching token: %w", err)
	}

	if token == "" {
		return "", fmt.Errorf("fetching token: %w", perrors.ErrAuthentication)
	}

	return token, nil
}

func (b *PayloadBuilder) params(token, action, subject, prompt, username string) url.Values {
	return url.Values{
		"wstoken":            {token},
		"wsfunction":         {wsFunction},
		"moodlewsrestformat": {restFormat},
		"appid":              {models.AppID},
		"action":             {action},
		"subject":            {subject},
		"prompt":             {prompt},
		"language":           {payloadLang},
		"region":             {b.region},
		"owner":              {OwnerHash(username)},
	}
}
