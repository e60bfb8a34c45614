package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/auth"
	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/draft"
	perrors "github.com/alexjbarnes/cloudpoodll-imagegen/internal/errors"
	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/models"
	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/poodll"
	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/repository"
	"github.com/alexjbarnes/cloudpoodll-imagegen/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSite = "https://school.example.com"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeRepo struct {
	err  error
	last repository.SearchRequest
	user string
}

func (f *fakeRepo) Search(_ context.Context, user models.User, req repository.SearchRequest) (repository.Results, error) {
	f.last = req
	f.user = user.Username

	if f.err != nil {
		return repository.Results{List: []repository.Result{}, Pages: 1}, f.err
	}

	return repository.Results{
		List:     []repository.Result{{Title: "imagegen_1.png", URL: testSite + "/draftfile/teacher/5/imagegen_1.png"}},
		Pages:    1,
		NoSearch: true,
	}, nil
}

func (f *fakeRepo) Form(_ context.Context, user models.User, _ string, req repository.SearchRequest) (repository.Form, error) {
	f.last = req
	f.user = user.Username

	return repository.Form{CanEdit: true, Images: []repository.Image{}}, nil
}

type fakeTokens struct {
	err    error
	forced bool
}

func (f *fakeTokens) Fetch(_ context.Context, _ models.Credential, force bool) (string, error) {
	f.forced = force
	return "tok", f.err
}

func (f *fakeTokens) Status(models.Credential, string) poodll.TokenStatus {
	return poodll.TokenStatus{Subscriptions: []string{"Poodll Pro : expires 31/12/2025"}, AppAuthorised: true}
}

type testEnv struct {
	mux    *http.ServeMux
	key    string
	store  *draft.Store
	repo   *fakeRepo
	tokens *fakeTokens
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	st, err := state.LoadAt(filepath.Join(dir, "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	key, hash, err := auth.GenerateKey()
	require.NoError(t, err)

	env := &testEnv{
		key:    key,
		store:  draft.NewStore(st, filepath.Join(dir, "filedir"), testLogger()),
		repo:   &fakeRepo{},
		tokens: &fakeTokens{},
	}

	env.mux = NewMux(MuxConfig{
		Keys: auth.NewKeys([]auth.KeyHash{{Username: "teacher", Hash: hash}}),
		MCPHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("mcp:" + auth.RequestUserID(r.Context())))
		}),
		Files:   env.store,
		Repo:    env.repo,
		Tokens:  env.tokens,
		SiteURL: testSite,
		Logger:  testLogger(),
	})

	return env
}

func (e *testEnv) do(t *testing.T, method, target, body string, authed bool) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, target, r)
	if authed {
		req.Header.Set("Authorization", "Bearer "+e.key)
	}

	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)

	return rec
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "GET", "/healthz", "", false)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProtectedRoutesRequireKey(t *testing.T) {
	env := newTestEnv(t)

	for _, tc := range []struct{ method, path string }{
		{"GET", "/draftfile/teacher/5/a.png"},
		{"POST", "/api/search"},
		{"GET", "/api/form"},
		{"GET", "/admin/token"},
		{"POST", "/admin/token"},
		{"POST", "/mcp"},
	} {
		rec := env.do(t, tc.method, tc.path, "", false)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, tc.path)
	}
}

func TestMCPIsMounted(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "POST", "/mcp", "{}", true)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "mcp:teacher", rec.Body.String())
}

// --- /draftfile ---

func TestDraftFile_Serves(t *testing.T) {
	env := newTestEnv(t)
	loc := models.FileLocation{Username: "teacher", ItemID: 5, FilePath: "/", Filename: "my image.png"}
	_, err := env.store.CreateFile(context.Background(), loc, []byte("\x89PNG\r\n\x1a\nrest"))
	require.NoError(t, err)

	target := strings.TrimPrefix(draft.URL(testSite, loc), testSite)
	rec := env.do(t, "GET", target, "", true)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.Equal(t, "\x89PNG\r\n\x1a\nrest", rec.Body.String())
}

func TestDraftFile_NotFound(t *testing.T) {
	env := newTestEnv(t)

	for _, target := range []string{
		"/draftfile/teacher/5/missing.png",
		"/draftfile/teacher/abc/missing.png",
		"/draftfile/teacher/0/missing.png",
	} {
		rec := env.do(t, "GET", target, "", true)
		assert.Equal(t, http.StatusNotFound, rec.Code, target)
	}
}

func TestDraftFile_OtherUsersDraftsHidden(t *testing.T) {
	env := newTestEnv(t)
	loc := models.FileLocation{Username: "someone", ItemID: 5, FilePath: "/", Filename: "a.png"}
	_, err := env.store.CreateFile(context.Background(), loc, []byte("data"))
	require.NoError(t, err)

	rec := env.do(t, "GET", "/draftfile/someone/5/a.png", "", true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// --- /api ---

func TestSearch(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "POST", "/api/search", `{"prompt":"a fox","imagetype":"cartoon"}`, true)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "teacher", env.repo.user)
	assert.Equal(t, repository.SearchRequest{Prompt: "a fox", ImageType: "cartoon"}, env.repo.last)

	var out repository.Results
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out.List, 1)
	assert.True(t, out.NoSearch)
}

func TestSearch_BadBody(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "POST", "/api/search", `not json`, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSearch_FailureStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{perrors.ErrUpstreamUnavailable, http.StatusBadGateway},
		{perrors.ErrProviderIncapable, http.StatusUnprocessableEntity},
		{perrors.ErrStorage, http.StatusInternalServerError},
		{draft.ErrNotFound, http.StatusNotFound},
	}

	for _, tt := range tests {
		env := newTestEnv(t)
		env.repo.err = tt.err

		rec := env.do(t, "POST", "/api/search", `{"prompt":"x"}`, true)
		assert.Equal(t, tt.want, rec.Code, tt.err.Error())

		var body errorBody
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, perrors.Kind(tt.err), body.Kind)
	}
}

func TestForm(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "GET", "/api/form?itemid=9&imagetype=cartoon&selectedimage=a.png", "", true)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, repository.SearchRequest{ItemID: 9, ImageType: "cartoon", SelectedImage: "a.png"}, env.repo.last)

	rec = env.do(t, "GET", "/api/form?itemid=x", "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// --- /admin/token ---

func TestTokenStatus(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "GET", "/admin/token", "", true)

	require.Equal(t, http.StatusOK, rec.Code)

	var out tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, []string{"Poodll Pro : expires 31/12/2025", "This app is authorised for this site"}, out.Lines)
	assert.False(t, out.Refreshed)
	assert.False(t, env.tokens.forced)
}

func TestTokenRefresh(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, "POST", "/admin/token", "", true)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.tokens.forced)

	var out tokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.True(t, out.Refreshed)
}

func TestTokenRefresh_Failure(t *testing.T) {
	env := newTestEnv(t)
	env.tokens.err = perrors.ErrAuthentication
	rec := env.do(t, "POST", "/admin/token", "", true)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	env.tokens.err = perrors.ErrConfigurationMissing
	rec = env.do(t, "POST", "/admin/token", "", true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
