package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingNotifier struct{ err error }

func (f failingNotifier) Send(context.Context, string, string) error { return f.err }

type countingNotifier struct{ calls int }

func (c *countingNotifier) Send(context.Context, string, string) error {
	c.calls++
	return nil
}

func TestMultiNotifierDeliversToAll(t *testing.T) {
	first := errors.New("first down")
	after := &countingNotifier{}
	m := NewMultiNotifier(failingNotifier{err: first}, after, &NoOpNotifier{})

	err := m.Send(context.Background(), "t", "b")
	assert.ErrorIs(t, err, first)
	assert.Equal(t, 1, after.calls)

	assert.NoError(t, NewMultiNotifier().Send(context.Background(), "t", "b"))
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(slog.New(slog.NewTextHandler(&buf, nil)))

	require.NoError(t, n.Send(context.Background(), "standup", "join the call"))
	assert.Contains(t, buf.String(), "title=standup")
	assert.Contains(t, buf.String(), `body="join the call"`)
}

func TestBarkNotifierPostsForm(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		got = r
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n, err := NewBarkNotifier(srv.URL + "/devicekey/")
	require.NoError(t, err)
	require.NoError(t, n.Send(context.Background(), "standup", "join the call"))

	require.NotNil(t, got)
	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, "/devicekey", got.URL.Path)
	assert.Equal(t, "standup", got.PostForm.Get("title"))
	assert.Equal(t, "join the call", got.PostForm.Get("body"))
	assert.Equal(t, "cronplan", got.PostForm.Get("group"))
}

func TestBarkNotifierErrors(t *testing.T) {
	_, err := NewBarkNotifier("  ")
	assert.Error(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n, err := NewBarkNotifier(srv.URL)
	require.NoError(t, err)
	assert.EqualError(t, n.Send(context.Background(), "t", "b"), "bark api returned status: 500")
}
