package rest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jianluochat/jianluochat-sdk-go/jianluochat"
)

type countingTokenStore struct {
	token  string
	clears int
}

func (c *countingTokenStore) Token() (string, error) { return c.token, nil }
func (c *countingTokenStore) ClearToken() error {
	c.clears++
	c.token = ""
	return nil
}

func TestBearerTokenAttached(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithTokenStore(StaticToken("tok-1")))
	_, err := c.ListRooms(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-1", gotAuth)
}

func TestUnauthorizedClearsTokenAndFiresHookOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	ts := &countingTokenStore{token: "stale"}
	var hookCalls int
	c := NewClient(srv.URL,
		WithTokenStore(ts),
		WithAuthExpiredHook(func() { hookCalls++ }),
	)

	_, err := c.ListRooms(context.Background())

	require.Error(t, err)
	assert.True(t, jianluochat.IsAuthExpired(err))
	assert.Equal(t, 1, ts.clears, "token cleared exactly once per failing request")
	assert.Equal(t, 1, hookCalls, "hook fired exactly once per failing request")

	status, ok := jianluochat.HTTPStatus(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestIgnoreListExemptsSideEffects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	ts := &countingTokenStore{token: "keep-me"}
	var hookCalls int
	c := NewClient(srv.URL,
		WithTokenStore(ts),
		WithAuthExpiredHook(func() { hookCalls++ }),
		WithIgnoreURLSubstrings("/rooms"),
	)

	_, err := c.ListRooms(context.Background())

	// the caller still sees the failure, only the side effects are suppressed
	require.Error(t, err)
	assert.True(t, jianluochat.IsAuthExpired(err))
	assert.Zero(t, ts.clears)
	assert.Zero(t, hookCalls)
	assert.Equal(t, "keep-me", ts.token)
}

func TestHTTPErrorCarriesStatusAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"database down"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.ListRooms(context.Background())

	require.Error(t, err)
	assert.Equal(t, jianluochat.ErrorHTTP, jianluochat.CodeOf(err))
	status, ok := jianluochat.HTTPStatus(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Contains(t, err.Error(), "database down")
}

func TestTimeoutClassifiedAsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithHTTPClient(&http.Client{Timeout: 20 * time.Millisecond}))
	_, err := c.ListRooms(context.Background())

	require.Error(t, err)
	assert.Equal(t, jianluochat.ErrorTimeout, jianluochat.CodeOf(err))
	assert.True(t, jianluochat.IsNetworkError(err))
}

func TestGetMessagesPagination(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rooms/r1/messages", r.URL.Path)
		assert.Equal(t, "20", r.URL.Query().Get("limit"))
		assert.Equal(t, "m10", r.URL.Query().Get("before"))
		_, _ = w.Write([]byte(`[{"id":"m8","roomId":"r1","sender":"bob","content":"old","messageType":"text","timestamp":"2026-08-01T10:00:00Z"}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	msgs, err := c.GetMessages(context.Background(), "r1", 20, "m10")

	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m8", msgs[0].ID)
	assert.Equal(t, "bob", msgs[0].Sender)
}

func TestSendMessageDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rooms/r1/messages", r.URL.Path)
		_, _ = w.Write([]byte(`{"id":"srv-1","roomId":"r1","sender":"alice","content":"hey","messageType":"text","timestamp":"2026-08-01T10:00:00Z"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	msg, err := c.SendMessage(context.Background(), "r1", SendMessageRequest{Content: "hey", MessageType: "text"})

	require.NoError(t, err)
	assert.Equal(t, "srv-1", msg.ID)
	assert.Equal(t, "r1", msg.RoomID)
}
