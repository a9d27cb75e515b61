package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/offlinekit/docstore/internal/document"
	"github.com/offlinekit/docstore/internal/logging"
	"github.com/offlinekit/docstore/internal/server/auth"
	"github.com/offlinekit/docstore/internal/server/documents"
	"github.com/offlinekit/docstore/internal/server/users"
)

const testSecret = "test-secret"

type testAPI struct {
	srv        *Server
	docs       *documents.Service
	adminToken string
	userToken  string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	log := logging.NewNop()
	docs := documents.NewService(documents.NewMemoryRepository(), log)
	us := users.NewService(docs, log, testSecret, time.Hour)
	require.NoError(t, us.EnsureAdmin(t.Context(), "admin", "letmein"))

	adminToken, err := auth.GenerateToken("admin", []string{users.AdminRole}, []byte(testSecret), time.Hour)
	require.NoError(t, err)
	userToken, err := auth.GenerateToken("alice", nil, []byte(testSecret), time.Hour)
	require.NoError(t, err)

	return &testAPI{
		srv:        NewServer(":0", log, docs, us, testSecret),
		docs:       docs,
		adminToken: adminToken,
		userToken:  userToken,
	}
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.srv.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

func TestLogin(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodPost, "/session", "", loginRequest{Name: "admin", Password: "letmein"})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[sessionResponse](t, w)
	assert.True(t, resp.OK)
	assert.Equal(t, "admin", resp.Name)
	assert.NotEmpty(t, resp.Token)

	w = a.do(t, http.MethodPost, "/session", "", loginRequest{Name: "admin", Password: "wrong"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized", decode[errorBody](t, w).Error)
}

func TestSessionRequiresToken(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodGet, "/session", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = a.do(t, http.MethodGet, "/session", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = a.do(t, http.MethodGet, "/session", a.userToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", decode[sessionResponse](t, w).Name)
}

func TestPutAndGet(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodPut, "/things/a", a.userToken, document.Document{"name": "first"})
	require.Equal(t, http.StatusOK, w.Code)
	saved := decode[document.Document](t, w)
	assert.Equal(t, "a", saved.ID())
	assert.NotEmpty(t, saved.Rev())

	w = a.do(t, http.MethodGet, "/things/a", a.userToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "first", decode[document.Document](t, w)["name"])
}

func TestGetMissingReportsID(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodGet, "/things/nope", a.userToken, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	body := decode[errorBody](t, w)
	assert.Equal(t, "not_found", body.Error)
	assert.Equal(t, "nope", body.Reason)
}

func TestPutConflict(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodPut, "/things/a", a.userToken, document.Document{})
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, http.MethodPut, "/things/a", a.userToken, document.Document{document.FieldRev: "0-stale"})
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "conflict", decode[errorBody](t, w).Error)
}

func TestPutRejectsMismatchedID(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodPut, "/things/a", a.userToken, document.Document{document.FieldID: "b"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDelete(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodPut, "/things/a", a.userToken, document.Document{})
	require.Equal(t, http.StatusOK, w.Code)
	rev := decode[document.Document](t, w).Rev()

	w = a.do(t, http.MethodDelete, "/things/a?rev=0-wrong", a.userToken, nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = a.do(t, http.MethodDelete, "/things/a?rev="+rev, a.userToken, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, http.MethodGet, "/things/a", a.userToken, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBulkDocsReportsPerDocumentResults(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodPut, "/things/b", a.userToken, document.Document{})
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(t, http.MethodPost, "/things/_bulk_docs", a.userToken, bulkRequest{Docs: []document.Document{
		{document.FieldID: "a"},
		{document.FieldID: "b", document.FieldRev: "0-stale"},
	}})
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[struct {
		Results []bulkResult `json:"results"`
	}](t, w)
	require.Len(t, resp.Results, 2)
	assert.True(t, resp.Results[0].OK)
	assert.NotEmpty(t, resp.Results[0].Doc.Rev())
	assert.False(t, resp.Results[1].OK)
	assert.Equal(t, "conflict", resp.Results[1].Error)
}

func TestFind(t *testing.T) {
	a := newTestAPI(t)

	for i, name := range []string{"x", "y"} {
		w := a.do(t, http.MethodPut, fmt.Sprintf("/things/%d", i), a.userToken, document.Document{"name": name})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := a.do(t, http.MethodPost, "/things/_find", a.userToken, document.Query{
		Selector: map[string]any{"name": "y"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[struct {
		Docs []document.Document `json:"docs"`
	}](t, w)
	require.Len(t, resp.Docs, 1)
	assert.Equal(t, "y", resp.Docs[0]["name"])

	// No matches is an empty list, not null.
	w = a.do(t, http.MethodPost, "/things/_find", a.userToken, document.Query{
		Selector: map[string]any{"name": "z"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"docs":[]`)
}

func TestChangesPaging(t *testing.T) {
	a := newTestAPI(t)

	for _, id := range []string{"a", "b", "c"} {
		w := a.do(t, http.MethodPut, "/things/"+id, a.userToken, document.Document{})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := a.do(t, http.MethodGet, "/things/_changes?since=0&limit=2", a.userToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[document.ChangesPage](t, w)
	require.Len(t, page.Results, 2)

	w = a.do(t, http.MethodGet, fmt.Sprintf("/things/_changes?since=%d", page.LastSeq), a.userToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page = decode[document.ChangesPage](t, w)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "c", page.Results[0].ID)
}

func TestUsersCollectionIsAdminOnly(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodGet, "/users/admin", a.userToken, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "forbidden", decode[errorBody](t, w).Error)

	w = a.do(t, http.MethodGet, "/users/admin", a.adminToken, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPutUserHashesPassword(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodPut, "/users/alice", a.adminToken, document.Document{
		users.FieldPassword: "hunter2",
	})
	require.Equal(t, http.StatusOK, w.Code)
	saved := decode[document.Document](t, w)
	assert.NotContains(t, saved, users.FieldPassword)
	assert.NotEmpty(t, saved[users.FieldPasswordHash])

	// The new account can log in.
	w = a.do(t, http.MethodPost, "/session", "", loginRequest{Name: "alice", Password: "hunter2"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestUsersFeedIsRejected(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodGet, "/users/_changes?feed=ws", a.adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFeedStreamsCatchupAndLiveChanges(t *testing.T) {
	a := newTestAPI(t)
	ts := httptest.NewServer(a.srv.Handler())
	defer ts.Close()

	w := a.do(t, http.MethodPut, "/things/a", a.userToken, document.Document{})
	require.Equal(t, http.StatusOK, w.Code)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/things/_changes?feed=ws&since=0"
	header := http.Header{"Authorization": {"Bearer " + a.userToken}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn.Close()

	// Catch-up replay delivers the write made before connecting.
	var ch document.Change
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&ch))
	assert.Equal(t, "a", ch.ID)

	// A live write arrives on the open connection.
	w = a.do(t, http.MethodPut, "/things/b", a.userToken, document.Document{})
	require.Equal(t, http.StatusOK, w.Code)

	require.NoError(t, conn.ReadJSON(&ch))
	assert.Equal(t, "b", ch.ID)
	assert.False(t, ch.Deleted)
	assert.NotNil(t, ch.Doc)
}
