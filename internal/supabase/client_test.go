package supabase

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Davelummy/taxagent/internal/auth"
	"github.com/Davelummy/taxagent/internal/objectstore"
)

type recorded struct {
	method string
	path   string
	query  string
	header http.Header
	body   []byte
}

type fakeProject struct {
	mu       sync.Mutex
	requests []recorded
	handler  func(w http.ResponseWriter, r *http.Request)
}

func (f *fakeProject) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, recorded{r.Method, r.URL.Path, r.URL.RawQuery, r.Header.Clone(), body})
	f.mu.Unlock()
	f.handler(w, r)
}

func (f *fakeProject) last() recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newTestClient(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*Client, *fakeProject) {
	t.Helper()
	fake := &fakeProject{handler: handler}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	c, err := New(Config{
		URL:            srv.URL + "/",
		ServiceRoleKey: "service-key",
		AnonKey:        "anon-key",
		Bucket:         "client-uploads",
		HiddenTable:    "upload_visibility",
	})
	require.NoError(t, err)
	return c, fake
}

func TestNewRequiresConfiguration(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = New(Config{URL: "https://x.supabase.co"})
	assert.ErrorIs(t, err, ErrNotConfigured)

	c, err := New(Config{URL: "https://x.supabase.co", AnonKey: "anon"})
	require.NoError(t, err)
	assert.False(t, c.StorageConfigured())
}

func TestIdentity(t *testing.T) {
	c, fake := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"msg": "invalid JWT"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": "user-1", "email": "jane@example.com"})
	})

	id, err := c.Identity(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, auth.Identity{ID: "user-1", Email: "jane@example.com"}, id)
	req := fake.last()
	assert.Equal(t, "/auth/v1/user", req.path)
	assert.Equal(t, "service-key", req.header.Get("apikey"))

	_, err = c.Identity(context.Background(), "bad")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "invalid JWT", apiErr.Message)
}

func TestPutAndList(t *testing.T) {
	c, fake := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/storage/v1/object/client-uploads/uploads/jane/dup.pdf":
			writeJSON(w, http.StatusConflict, map[string]string{"message": "The resource already exists"})
		case "/storage/v1/object/client-uploads/uploads/jane/a.pdf":
			writeJSON(w, http.StatusOK, map[string]string{"Key": "client-uploads/uploads/jane/a.pdf"})
		case "/storage/v1/object/list/client-uploads":
			writeJSON(w, http.StatusOK, []map[string]any{
				{"name": "b.pdf", "id": "2", "created_at": "2025-03-02T10:00:00.000Z", "metadata": map[string]any{"size": 20, "mimetype": "application/pdf"}},
				{"name": "a.pdf", "id": "1", "created_at": "2025-03-01T10:00:00Z", "metadata": map[string]any{"size": 10}},
				{"name": "folder", "id": nil},
			})
		default:
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "unexpected"})
		}
	})
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "uploads/jane/a.pdf", []byte("%PDF"), "application/pdf"))
	req := fake.last()
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, "Bearer service-key", req.header.Get("Authorization"))
	assert.Equal(t, "false", req.header.Get("x-upsert"))
	assert.Equal(t, "application/pdf", req.header.Get("Content-Type"))
	assert.Equal(t, "%PDF", string(req.body))

	assert.ErrorIs(t, c.Put(ctx, "uploads/jane/dup.pdf", nil, "application/pdf"), objectstore.ErrExists)
	assert.ErrorIs(t, c.Put(ctx, "uploads/jane/other.pdf", nil, "application/pdf"), objectstore.ErrUnavailable)

	objs, err := c.List(ctx, "uploads/jane/", 200)
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "uploads/jane/b.pdf", objs[0].Path)
	assert.Equal(t, int64(20), objs[0].Size)
	assert.Equal(t, time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC), objs[1].CreatedAt)

	var sent listRequest
	require.NoError(t, json.Unmarshal(fake.last().body, &sent))
	assert.Equal(t, "uploads/jane", sent.Prefix)
	assert.Equal(t, 200, sent.Limit)
	assert.Equal(t, listSortBy{Column: "created_at", Order: "desc"}, sent.SortBy)
}

func TestVisibility(t *testing.T) {
	c, fake := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, []map[string]any{
				{"path": "uploads/jane/a.pdf", "hidden": true},
				{"path": "uploads/jane/b.pdf", "hidden": false},
			})
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	})
	ctx := context.Background()

	hidden, err := c.HiddenPaths(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"uploads/jane/a.pdf": true}, hidden)
	req := fake.last()
	assert.Equal(t, "/rest/v1/upload_visibility", req.path)
	assert.Contains(t, req.query, "user_id=eq.user-1")

	empty, err := c.HiddenPaths(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, empty)

	at := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, c.SetHidden(ctx, "user-1", "uploads/jane/a.pdf", true, at))
	req = fake.last()
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, "resolution=merge-duplicates", req.header.Get("Prefer"))
	var rows []visibilityRow
	require.NoError(t, json.Unmarshal(req.body, &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "user-1", rows[0].UserID)
	assert.True(t, rows[0].Hidden)

	require.NoError(t, c.SetHidden(ctx, "user-1", "uploads/jane/a.pdf", false, at))
	assert.Equal(t, http.MethodDelete, fake.last().method)
}
