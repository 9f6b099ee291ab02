package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeGetter is a minimal paramstore getter stub for use within this package.
type fakeGetter struct {
	val    string
	err    error
	onCall func()
}

func (f *fakeGetter) GetParameter(_ context.Context, _ string) (string, error) {
	if f.onCall != nil {
		f.onCall()
	}
	return f.val, f.err
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c, err := NewClient(
		&fakeGetter{val: `{"token":"12345:test-token"}`},
		"/telegram-agent",
		WithBaseURL(srv.URL),
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}),
	)
	require.NoError(t, err)
	return c
}

func TestNewClient_NilGetter(t *testing.T) {
	_, err := NewClient(nil, "/telegram-agent")
	require.Error(t, err)
	require.Contains(t, err.Error(), "nil")
}

func TestNewClient_EmptyPrefix(t *testing.T) {
	_, err := NewClient(&fakeGetter{}, "  ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "empty")
}

func TestSendMessageURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://api.telegram.org", "https://api.telegram.org/bottok/sendMessage"},
		{"https://api.telegram.org/", "https://api.telegram.org/bottok/sendMessage"},
		{"", "https://api.telegram.org/bottok/sendMessage"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, sendMessageURL(tc.base, "tok"), "base=%q", tc.base)
	}
}

func TestSendMessage_HappyPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/bot12345:test-token/sendMessage", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req sendMessageRequest
		require.NoError(t, json.Unmarshal(body, &req))
		require.Equal(t, int64(-456), req.ChatID)
		require.Equal(t, "hello there", req.Text)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":99}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	require.NoError(t, c.SendMessage(context.Background(), -456, "hello there"))
}

func TestSendMessage_TokenFetchedOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	calls := 0
	g := &fakeGetter{val: `{"token":"tok"}`}
	g.onCall = func() { calls++ }
	c, err := NewClient(g, "/telegram-agent", WithBaseURL(srv.URL))
	require.NoError(t, err)

	require.NoError(t, c.SendMessage(context.Background(), 1, "a"))
	require.NoError(t, c.SendMessage(context.Background(), 1, "b"))
	require.Equal(t, 1, calls, "SSM must only be called once per process lifetime")
}

func TestSendMessage_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(502)
		_, _ = w.Write([]byte(`bad gateway`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	err := c.SendMessage(context.Background(), 1, "hi")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unexpected status")
	require.Contains(t, err.Error(), "502")
	require.NotContains(t, err.Error(), "test-token", "token must not leak into errors")
}

func TestSendMessage_APIRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`{"ok":false,"description":"Bad Request: chat not found"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	err := c.SendMessage(context.Background(), 1, "hi")
	require.Error(t, err)
	require.Contains(t, err.Error(), "chat not found")
}

func TestSendMessage_MalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		_, _ = w.Write([]byte(`not-json`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	err := c.SendMessage(context.Background(), 1, "hi")
	require.Error(t, err)
	require.Contains(t, err.Error(), "decode response")
}

func TestSendMessage_NetworkError(t *testing.T) {
	c, err := NewClient(&fakeGetter{val: `{"token":"tok"}`}, "/telegram-agent")
	require.NoError(t, err)
	c.baseURL = "http://127.0.0.1:1"
	c.httpClient = &http.Client{Timeout: 100 * time.Millisecond}

	err = c.SendMessage(context.Background(), 1, "hi")
	require.Error(t, err)
	require.Contains(t, err.Error(), "request failed")
}

func TestSendMessage_InputValidation(t *testing.T) {
	c, err := NewClient(&fakeGetter{val: `{"token":"tok"}`}, "/telegram-agent")
	require.NoError(t, err)

	require.Error(t, c.SendMessage(context.Background(), 0, "hi"))
	require.Error(t, c.SendMessage(context.Background(), 1, "  "))
}

func TestSendMessage_TokenErrors(t *testing.T) {
	cases := []struct {
		name string
		g    *fakeGetter
		want string
	}{
		{name: "getter error", g: &fakeGetter{err: errors.New("ssm unavailable")}, want: "ssm unavailable"},
		{name: "malformed json", g: &fakeGetter{val: `{"broken`}, want: "unmarshal"},
		{name: "missing token field", g: &fakeGetter{val: `{"other":"value"}`}, want: "token is empty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := NewClient(tc.g, "/telegram-agent")
			require.NoError(t, err)
			err = c.SendMessage(context.Background(), 1, "hi")
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}
