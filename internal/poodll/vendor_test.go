package poodll

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	perrors "github.com/alexjbarnes/cloudpoodll-imagegen/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeVendorServer serves the token and web service endpoints. The web
// service replies with a url-shaped result pointing back at /img.png.
type fakeVendorServer struct {
	*httptest.Server
	tokenCalls   atomic.Int32
	serviceCalls atomic.Int32
	lastAction   atomic.Value
	returnCode   string
}

func newFakeVendorServer(t *testing.T, returnCode string) *fakeVendorServer {
	t.Helper()

	f := &fakeVendorServer{returnCode: returnCode}
	mux := http.NewServeMux()

	mux.HandleFunc("/local/cpapi/poodlltoken.php", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		w.Write([]byte(`{"token":"tok_live","validuntil":0,"subs":[],"apps":["repository_cloudpoodll"],"sites":[]}`))
	})

	mux.HandleFunc("/webservice/rest/server.php", func(w http.ResponseWriter, r *http.Request) {
		f.serviceCalls.Add(1)

		if r.Method != http.MethodPost || r.ParseForm() != nil || r.PostForm.Get("wstoken") != "tok_live" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		f.lastAction.Store(r.PostForm.Get("action"))

		results, _ := json.Marshal([]map[string]string{{"url": f.URL + "/img.png"}})
		json.NewEncoder(w).Encode(map[string]string{
			"returnCode":    f.returnCode,
			"returnMessage": string(results),
		})
	})

	mux.HandleFunc("/img.png", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("vendor-image"))
	})

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)

	return f
}

func newTestVendor(t *testing.T, srv *fakeVendorServer) *Vendor {
	t.Helper()

	client := NewClient(srv.Client())
	tokens := NewTokenCache(testState(t), client, srv.URL, discardLogger())
	builder := NewPayloadBuilder(tokens, testCreds, "useast1")
	normalizer := NewNormalizer(client, discardLogger())

	return NewVendor(srv.URL, builder, client, normalizer, discardLogger())
}

func TestVendor_GenerateImage(t *testing.T) {
	srv := newFakeVendorServer(t, "0")
	v := newTestVendor(t, srv)

	b64, err := v.GenerateImage(context.Background(), "alex", "a lighthouse")
	require.NoError(t, err)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("vendor-image")), b64)
	assert.Equal(t, "generate_images", srv.lastAction.Load())

	_, err = v.GenerateImage(context.Background(), "alex", "again")
	require.NoError(t, err)
	assert.Equal(t, int32(1), srv.tokenCalls.Load())
	assert.Equal(t, int32(2), srv.serviceCalls.Load())
}

func TestVendor_EditImage(t *testing.T) {
	srv := newFakeVendorServer(t, "0")
	v := newTestVendor(t, srv)

	_, err := v.EditImage(context.Background(), "alex", "add a hat", []byte("source"))
	require.NoError(t, err)
	assert.Equal(t, "edit_image", srv.lastAction.Load())
}

func TestVendor_EditWithoutImageMakesNoServiceCall(t *testing.T) {
	srv := newFakeVendorServer(t, "0")
	v := newTestVendor(t, srv)

	_, err := v.EditImage(context.Background(), "alex", "add a hat", nil)
	assert.True(t, errors.Is(err, perrors.ErrNoSourceImage))
	assert.Equal(t, int32(0), srv.serviceCalls.Load())
}

func TestVendor_ErrorEnvelope(t *testing.T) {
	srv := newFakeVendorServer(t, "7")
	v := newTestVendor(t, srv)

	_, err := v.GenerateImage(context.Background(), "alex", "a lighthouse")
	assert.True(t, errors.Is(err, perrors.ErrUpstreamUnavailable))
}
