package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"wuyrush.io/note/catalog"
	"wuyrush.io/note/common/clock"
	mw "wuyrush.io/note/common/middleware"
	"wuyrush.io/note/lifecycle"
	"wuyrush.io/note/metrics"
	md "wuyrush.io/note/models"
	"wuyrush.io/note/notes"
	"wuyrush.io/note/share"
	st "wuyrush.io/note/stores"
)

// fakeAuth maps the Authorization header verbatim to a principal
type fakeAuth map[string]string

func (f fakeAuth) Authenticate(r *http.Request) (string, error) {
	if p, ok := f[r.Header.Get("Authorization")]; ok {
		return p, nil
	}
	return "", io.EOF
}

type fixture struct {
	svr *Server
	clk *clock.Fake
}

func setup(t *testing.T) *fixture {
	db := st.NewMemStore()
	clk := clock.NewFake(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	m := metrics.NewMetrics("test")
	ns := &st.NoteStore{DB: db}
	cat := &catalog.Service{Categories: &st.CategoryStore{DB: db}, Tags: &st.TagStore{DB: db}}
	svc := &notes.Service{
		Notes:     ns,
		Lifecycle: &lifecycle.Manager{Notes: ns, Clock: clk, Schedule: st.NewMemSchedule(), Metrics: m},
		Broker:    &share.Broker{Notes: ns, Tokens: &st.ShareTokenStore{DB: db}, Clock: clk, BaseURL: "https://notes.example.com", Metrics: m},
		Catalog:   cat,
		Clock:     clk,
	}
	svr := &Server{
		Notes:   svc,
		Catalog: cat,
		Auth:    fakeAuth{"alice-token": "alice", "bob-token": "bob"},
		Metrics: m,
		Limits:  Limits{ReqBodySizeMaxByte: 4096, NoteTitleSizeMaxByte: 64, NoteContentSizeMaxByte: 1024},
	}
	svr.SetupMux()
	return &fixture{svr: svr, clk: clk}
}

func (f *fixture) do(t *testing.T, token, method, path, body string, out interface{}) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	wrec := httptest.NewRecorder()
	f.svr.ServeHTTP(wrec, req)
	if out != nil && wrec.Code < 300 {
		require.NoError(t, json.Unmarshal(wrec.Body.Bytes(), out), "unexpected body %s", wrec.Body.String())
	}
	return wrec
}

func TestServer_NoteFlow(t *testing.T) {
	f := setup(t)
	var n md.Note
	wrec := f.do(t, "alice-token", http.MethodPost, "/notes", `{"title":"Mitosis","content":"prophase","tags":["cells"]}`, &n)
	require.Equal(t, http.StatusCreated, wrec.Code, wrec.Body.String())
	assert.NotEmpty(t, wrec.Header().Get(mw.HeaderRequestID))
	assert.Equal(t, "alice", n.OwnerID)

	var got md.Note
	wrec = f.do(t, "alice-token", http.MethodGet, "/notes/"+n.ID, "", &got)
	require.Equal(t, http.StatusOK, wrec.Code)
	assert.Equal(t, "prophase", got.Content)

	wrec = f.do(t, "bob-token", http.MethodGet, "/notes/"+n.ID, "", nil)
	assert.Equal(t, http.StatusNotFound, wrec.Code)

	f.clk.Advance(time.Minute)
	var edited md.Note
	wrec = f.do(t, "alice-token", http.MethodPatch, "/notes/"+n.ID, `{"content":"metaphase"}`, &edited)
	require.Equal(t, http.StatusOK, wrec.Code, wrec.Body.String())
	assert.Equal(t, "metaphase", edited.Content)

	var pinned md.Note
	wrec = f.do(t, "alice-token", http.MethodPut, "/notes/"+n.ID+"/pin", `{"pinned":true}`, &pinned)
	require.Equal(t, http.StatusOK, wrec.Code)
	assert.True(t, pinned.Pinned)

	var list []*md.Note
	wrec = f.do(t, "alice-token", http.MethodGet, "/notes?tag=CELLS", "", &list)
	require.Equal(t, http.StatusOK, wrec.Code)
	assert.Len(t, list, 1)

	var timed md.Note
	wrec = f.do(t, "alice-token", http.MethodPut, "/notes/"+n.ID+"/destruct", `{"destruct":"1h"}`, &timed)
	require.Equal(t, http.StatusOK, wrec.Code)
	require.NotNil(t, timed.DestructAt)

	var trashed md.Note
	wrec = f.do(t, "alice-token", http.MethodPost, "/notes/"+n.ID+"/trash", `{}`, &trashed)
	require.Equal(t, http.StatusOK, wrec.Code, wrec.Body.String())
	assert.Equal(t, md.StatusTrashed, trashed.Status)
	var trash []*md.Note
	f.do(t, "alice-token", http.MethodGet, "/trash", "", &trash)
	assert.Len(t, trash, 1)

	var restored md.Note
	wrec = f.do(t, "alice-token", http.MethodPost, "/notes/"+n.ID+"/restore", "", &restored)
	require.Equal(t, http.StatusOK, wrec.Code)
	assert.Equal(t, md.StatusActive, restored.Status)

	wrec = f.do(t, "alice-token", http.MethodDelete, "/notes/"+n.ID, "", nil)
	assert.Equal(t, http.StatusBadRequest, wrec.Code, "only trashed notes are deleted forever")
	f.do(t, "alice-token", http.MethodPost, "/notes/"+n.ID+"/trash", `{"retention":"720h"}`, nil)
	wrec = f.do(t, "alice-token", http.MethodDelete, "/notes/"+n.ID, "", nil)
	assert.Equal(t, http.StatusNoContent, wrec.Code)
	wrec = f.do(t, "alice-token", http.MethodGet, "/notes/"+n.ID, "", nil)
	assert.Equal(t, http.StatusNotFound, wrec.Code)
}

func TestServer_ShareAndReaders(t *testing.T) {
	f := setup(t)
	var n md.Note
	f.do(t, "alice-token", http.MethodPost, "/notes", `{"title":"t"}`, &n)

	var link md.ShareLink
	wrec := f.do(t, "alice-token", http.MethodPost, "/notes/"+n.ID+"/share", "", &link)
	require.Equal(t, http.StatusCreated, wrec.Code)
	assert.Equal(t, "https://notes.example.com/share/"+link.Token, link.URL)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.svr.Metrics.ShareLinks.WithLabelValues(metrics.ShareCreated)))

	var granted md.Note
	wrec = f.do(t, "alice-token", http.MethodPut, "/notes/"+n.ID+"/readers/bob", "", &granted)
	require.Equal(t, http.StatusOK, wrec.Code)
	assert.Equal(t, []string{"alice", "bob"}, granted.ACL)

	wrec = f.do(t, "bob-token", http.MethodGet, "/notes/"+n.ID, "", nil)
	assert.Equal(t, http.StatusOK, wrec.Code)
	wrec = f.do(t, "bob-token", http.MethodPost, "/notes/"+n.ID+"/share", "", nil)
	assert.Equal(t, http.StatusForbidden, wrec.Code)

	wrec = f.do(t, "alice-token", http.MethodDelete, "/notes/"+n.ID+"/readers/bob", "", nil)
	assert.Equal(t, http.StatusOK, wrec.Code)
	wrec = f.do(t, "bob-token", http.MethodGet, "/notes/"+n.ID, "", nil)
	assert.Equal(t, http.StatusNotFound, wrec.Code)
}

func TestServer_Catalog(t *testing.T) {
	f := setup(t)
	var bio md.Category
	wrec := f.do(t, "alice-token", http.MethodPost, "/categories", `{"name":"Biology"}`, &bio)
	require.Equal(t, http.StatusCreated, wrec.Code, wrec.Body.String())
	var gen md.Category
	wrec = f.do(t, "alice-token", http.MethodPost, "/categories", `{"name":"Genetics","parentId":"`+bio.ID+`"}`, &gen)
	require.Equal(t, http.StatusCreated, wrec.Code, wrec.Body.String())

	wrec = f.do(t, "alice-token", http.MethodPatch, "/categories/biology", `{"parentId":"`+gen.ID+`"}`, nil)
	assert.Equal(t, http.StatusBadRequest, wrec.Code, "cycles are rejected")

	var tree []*md.CategoryNode
	wrec = f.do(t, "alice-token", http.MethodGet, "/category-tree", "", &tree)
	require.Equal(t, http.StatusOK, wrec.Code)
	require.Len(t, tree, 1)
	require.Len(t, tree[0].Children, 1)
	assert.Equal(t, "Genetics", tree[0].Children[0].Name)

	var got md.Category
	wrec = f.do(t, "alice-token", http.MethodGet, "/categories/Genetics", "", &got)
	require.Equal(t, http.StatusOK, wrec.Code)
	assert.Equal(t, gen.ID, got.ID)
	wrec = f.do(t, "bob-token", http.MethodGet, "/categories/Genetics", "", nil)
	assert.Equal(t, http.StatusNotFound, wrec.Code, "categories are per owner")

	var n md.Note
	wrec = f.do(t, "alice-token", http.MethodPost, "/notes", `{"title":"t","category":"genetics","tags":["DNA"]}`, &n)
	require.Equal(t, http.StatusCreated, wrec.Code, wrec.Body.String())
	wrec = f.do(t, "alice-token", http.MethodPatch, "/categories/Genetics", `{"name":"Heredity"}`, nil)
	require.Equal(t, http.StatusOK, wrec.Code, wrec.Body.String())
	wrec = f.do(t, "alice-token", http.MethodGet, "/notes/"+n.ID, "", &n)
	require.Equal(t, http.StatusOK, wrec.Code)
	assert.Equal(t, "Heredity", n.Category, "renames follow into notes")
	var tags []*md.Tag
	f.do(t, "alice-token", http.MethodGet, "/tags", "", &tags)
	require.Len(t, tags, 1)
	assert.Equal(t, "DNA", tags[0].Name)

	wrec = f.do(t, "alice-token", http.MethodDelete, "/categories/"+bio.ID, "", nil)
	assert.Equal(t, http.StatusNoContent, wrec.Code)
	var cats []*md.Category
	f.do(t, "alice-token", http.MethodGet, "/categories", "", &cats)
	require.Len(t, cats, 1)
	assert.True(t, cats[0].Root(), "children of deleted categories become roots")
}

func TestServer_Rejections(t *testing.T) {
	f := setup(t)
	tcs := []struct {
		name         string
		token        string
		method       string
		path         string
		body         string
		expectedCode int
	}{
		{name: "Anonymous", method: http.MethodGet, path: "/notes", expectedCode: http.StatusUnauthorized},
		{name: "UnknownToken", token: "carol-token", method: http.MethodGet, path: "/notes", expectedCode: http.StatusUnauthorized},
		{name: "MalformedBody", token: "alice-token", method: http.MethodPost, path: "/notes", body: `{"title":`, expectedCode: http.StatusBadRequest},
		{name: "UnknownField", token: "alice-token", method: http.MethodPost, path: "/notes", body: `{"owner":"bob"}`, expectedCode: http.StatusBadRequest},
		{name: "LongTitle", token: "alice-token", method: http.MethodPost, path: "/notes", body: `{"title":"` + strings.Repeat("t", 65) + `"}`, expectedCode: http.StatusBadRequest},
		{name: "Oversized", token: "alice-token", method: http.MethodPost, path: "/notes", body: `{"content":"` + strings.Repeat("c", 5000) + `"}`, expectedCode: http.StatusRequestEntityTooLarge},
		{name: "BadOffset", token: "alice-token", method: http.MethodPut, path: "/notes/x/destruct", body: `{"destruct":"2d"}`, expectedCode: http.StatusBadRequest},
		{name: "BadRetention", token: "alice-token", method: http.MethodPost, path: "/notes/x/trash", body: `{"retention":"soon"}`, expectedCode: http.StatusBadRequest},
		{name: "MissingNote", token: "alice-token", method: http.MethodGet, path: "/notes/nope", expectedCode: http.StatusNotFound},
		{name: "NoRoute", token: "alice-token", method: http.MethodGet, path: "/pins", expectedCode: http.StatusNotFound},
	}
	for _, c := range tcs {
		t.Run(c.name, func(t *testing.T) {
			wrec := f.do(t, c.token, c.method, c.path, c.body, nil)
			assert.Equal(t, c.expectedCode, wrec.Code, wrec.Body.String())
			assert.Contains(t, wrec.Body.String(), `"error"`)
		})
	}
}

func TestServer_Ops(t *testing.T) {
	f := setup(t)
	wrec := f.do(t, "", http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, wrec.Code)

	f.do(t, "alice-token", http.MethodGet, "/notes", "", nil)
	wrec = f.do(t, "", http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, wrec.Code)
	assert.Contains(t, wrec.Body.String(), `note_test_requests_total{method="GET",route="/notes",status="200"} 1`)
}
