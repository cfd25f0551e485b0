package coremain

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spaghettinuum/spagh/pkg/cache/mem_cache"
	"github.com/spaghettinuum/spagh/pkg/resolver"
	"github.com/spaghettinuum/spagh/pkg/store/mem_store"
)

const testIdent = "yryyyyyyyeh6dtmbfuec8m3fh3h469qmrsr193t4c6yps44tk1sdwjyd"

const publishDoc = `{
	"missing_ttl": 5,
	"data": {
		"dff50392-a569-4de4-9e66-e086af040f30": {"ttl": 10, "data": ["203.0.113.7"]},
		"30e4975d-e5e9-4a28-8b28-e09f87d4e0b2": {"ttl": 10, "data": "hello"}
	}
}`

func newTestAPI(t *testing.T) *Spagh {
	t.Helper()

	backend := mem_cache.NewMemCache(1024, -1)
	t.Cleanup(func() { backend.Close() })

	s := mem_store.NewMemStore(nil)
	r, err := resolver.NewResolver(resolver.Opts{
		Upstream: s,
		Backend:  backend,
	})
	require.NoError(t, err)

	m := &Spagh{
		logger:     zap.NewNop(),
		store:      s,
		resolver:   r,
		httpAPIMux: http.NewServeMux(),
	}
	m.registerAPI()
	return m
}

func doReq(m *Spagh, method, target, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if len(body) > 0 {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	m.httpAPIMux.ServeHTTP(w, r)
	return w
}

func TestAPI_publish(t *testing.T) {
	r := require.New(t)
	m := newTestAPI(t)

	w := doReq(m, http.MethodPost, "/publish/v1/"+testIdent, publishDoc)
	r.Equal(http.StatusOK, w.Code, w.Body.String())

	var resp publishResp
	r.NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	r.EqualValues(1, resp.Version)

	// Republish bumps the version.
	w = doReq(m, http.MethodPost, "/publish/v1/"+testIdent, publishDoc)
	r.Equal(http.StatusOK, w.Code)
	r.NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	r.EqualValues(2, resp.Version)
}

func TestAPI_publishRejects(t *testing.T) {
	r := require.New(t)
	m := newTestAPI(t)

	// Not JSON.
	w := doReq(m, http.MethodPost, "/publish/v1/"+testIdent, `{`)
	r.Equal(http.StatusBadRequest, w.Code)

	// Zero missing_ttl fails validation.
	w = doReq(m, http.MethodPost, "/publish/v1/"+testIdent, `{"missing_ttl": 0, "data": {}}`)
	r.Equal(http.StatusBadRequest, w.Code)

	// Bad shape under a reserved dns key.
	w = doReq(m, http.MethodPost, "/publish/v1/"+testIdent,
		`{"missing_ttl": 5, "data": {"dff50392-a569-4de4-9e66-e086af040f30": {"ttl": 10, "data": ["nope"]}}}`)
	r.Equal(http.StatusBadRequest, w.Code)
}

func TestAPI_resolve(t *testing.T) {
	r := require.New(t)
	m := newTestAPI(t)

	w := doReq(m, http.MethodPost, "/publish/v1/"+testIdent, publishDoc)
	r.Equal(http.StatusOK, w.Code)

	w = doReq(m, http.MethodGet,
		"/resolve/v1/"+testIdent+"?q=30e4975d-e5e9-4a28-8b28-e09f87d4e0b2,absent-key", "")
	r.Equal(http.StatusOK, w.Code, w.Body.String())
	r.Equal("application/json", w.Header().Get("Content-Type"))

	var out map[string]resolveAnswer
	r.NoError(json.Unmarshal(w.Body.Bytes(), &out))
	r.Len(out, 2)

	found := out["30e4975d-e5e9-4a28-8b28-e09f87d4e0b2"]
	r.JSONEq(`"hello"`, string(found.Data))
	r.WithinDuration(time.Now().Add(time.Minute*10), found.Expires, time.Second*5)

	// Absent key is a negative answer bounded by missing_ttl, not an
	// error.
	absent := out["absent-key"]
	r.JSONEq(`null`, string(absent.Data))
	r.WithinDuration(time.Now().Add(time.Minute*5), absent.Expires, time.Second*5)
}

func TestAPI_resolveUnknownIdentity(t *testing.T) {
	r := require.New(t)
	m := newTestAPI(t)

	w := doReq(m, http.MethodGet, "/resolve/v1/nobody?q=some-key", "")
	r.Equal(http.StatusOK, w.Code)

	var out map[string]resolveAnswer
	r.NoError(json.Unmarshal(w.Body.Bytes(), &out))
	r.JSONEq(`null`, string(out["some-key"].Data))
}

func TestAPI_resolveBadQuery(t *testing.T) {
	r := require.New(t)
	m := newTestAPI(t)

	w := doReq(m, http.MethodGet, "/resolve/v1/"+testIdent, "")
	r.Equal(http.StatusBadRequest, w.Code)

	w = doReq(m, http.MethodGet, "/resolve/v1/"+testIdent+"?q=,", "")
	r.Equal(http.StatusBadRequest, w.Code)
}
