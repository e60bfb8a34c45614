package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	perrors "github.com/alexjbarnes/cloudpoodll-imagegen/internal/errors"
	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type geminiStub struct {
	*httptest.Server
	calls    atomic.Int32
	lastPath atomic.Value
	lastBody atomic.Value
}

func newGeminiStub(t *testing.T, reply string) *geminiStub {
	t.Helper()

	s := &geminiStub{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		s.lastPath.Store(r.URL.Path)
		s.lastBody.Store(string(body))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(reply))
	}))
	t.Cleanup(s.Close)

	return s
}

func newTestGemini(t *testing.T, srv *geminiStub) *Gemini {
	t.Helper()

	g, err := NewGemini(context.Background(), Instance{
		ID:      1,
		Plugin:  PluginGemini,
		Enabled: true,
		Actions: []string{"generate_image", "edit_image"},
		APIKey:  "test-key",
		BaseURL: srv.URL,
	}, srv.Client())
	require.NoError(t, err)

	return g
}

func imageReply(data []byte) string {
	return `{"candidates":[{"content":{"role":"model","parts":[{"text":"here"},{"inlineData":{"mimeType":"image/png","data":"` +
		base64.StdEncoding.EncodeToString(data) + `"}}]}}]}`
}

func TestGemini_Generate(t *testing.T) {
	srv := newGeminiStub(t, imageReply([]byte("generated")))
	g := newTestGemini(t, srv)

	resp, err := g.Invoke(context.Background(), models.NewGenerateRequest("a fox"))
	require.NoError(t, err)
	assert.Equal(t, []byte("generated"), resp.Image)
	assert.Equal(t, "image/png", resp.MIMEType)
	assert.True(t, strings.HasSuffix(srv.lastPath.Load().(string), "models/"+DefaultGeminiModel+":generateContent"))
	assert.Contains(t, srv.lastBody.Load().(string), "a fox")
}

func TestGemini_EditSendsSourceImage(t *testing.T) {
	srv := newGeminiStub(t, imageReply([]byte("edited")))
	g := newTestGemini(t, srv)
	src := []byte("source-image-bytes")

	resp, err := g.Invoke(context.Background(), models.NewEditRequest("add a hat", src, "image/jpeg"))
	require.NoError(t, err)
	assert.Equal(t, []byte("edited"), resp.Image)

	body := srv.lastBody.Load().(string)
	assert.Contains(t, body, "add a hat")
	assert.Contains(t, body, base64.StdEncoding.EncodeToString(src))
	assert.Contains(t, body, "image/jpeg")
}

func TestGemini_EditWithoutImage(t *testing.T) {
	srv := newGeminiStub(t, imageReply([]byte("x")))
	g := newTestGemini(t, srv)

	_, err := g.Invoke(context.Background(), models.NewEditRequest("add a hat", nil, ""))
	assert.True(t, errors.Is(err, perrors.ErrNoSourceImage))
	assert.Equal(t, int32(0), srv.calls.Load())
}

func TestGemini_TextOnlyReply(t *testing.T) {
	srv := newGeminiStub(t, `{"candidates":[{"content":{"role":"model","parts":[{"text":"I cannot draw that"}]}}]}`)
	g := newTestGemini(t, srv)

	_, err := g.Invoke(context.Background(), models.NewGenerateRequest("a fox"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, perrors.ErrNoImage))
	assert.Contains(t, err.Error(), "I cannot draw that")
}

func TestGemini_EmptyReply(t *testing.T) {
	srv := newGeminiStub(t, `{"candidates":[]}`)
	g := newTestGemini(t, srv)

	_, err := g.Invoke(context.Background(), models.NewGenerateRequest("a fox"))
	assert.True(t, errors.Is(err, perrors.ErrNoImage))
}

func TestGemini_ModelOverrideAndActions(t *testing.T) {
	srv := newGeminiStub(t, imageReply([]byte("x")))

	g, err := NewGemini(context.Background(), Instance{
		Plugin:  PluginGemini,
		Enabled: true,
		Actions: []string{"generate_image"},
		APIKey:  "k",
		Model:   "gemini-custom",
		BaseURL: srv.URL,
	}, srv.Client())
	require.NoError(t, err)

	assert.Equal(t, PluginGemini, g.Name())
	assert.True(t, g.SupportsAction(models.ActionGenerate))
	assert.False(t, g.SupportsAction(models.ActionEdit))

	_, err = g.Invoke(context.Background(), models.NewGenerateRequest("p"))
	require.NoError(t, err)
	assert.Contains(t, srv.lastPath.Load().(string), "models/gemini-custom:generateContent")
}
