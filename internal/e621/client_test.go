package e621

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func postJSON(id int) string {
	return fmt.Sprintf(`{"id":%d,"created_at":"2020-01-02T03:04:05.000-05:00","rating":"s",`+
		`"file":{"ext":"png","size":10,"url":"https://static/%d.png"},`+
		`"score":{"up":3,"down":-1,"total":2},"fav_count":4,"flags":{"deleted":false},`+
		`"tags":{"artist":["someone"],"general":["cat"]},`+
		`"relationships":{"parent_id":null,"children":[]}}`, id, id)
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(Options{BaseURL: srv.URL, UserAgent: "get621-test"}, testLogger())
}

func TestSearchPageQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/posts.json", r.URL.Path)
		assert.Equal(t, "cat dog", r.URL.Query().Get("tags"))
		assert.Equal(t, "2", r.URL.Query().Get("limit"))
		assert.Equal(t, "b50", r.URL.Query().Get("page"))
		assert.Equal(t, "get621-test", r.Header.Get("User-Agent"))
		fmt.Fprintf(w, `{"posts":[%s,%s]}`, postJSON(49), postJSON(48))
	})

	posts, err := c.SearchPage(context.Background(), []string{"cat", "dog"}, 2, 50)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, 49, posts[0].ID)
	assert.Equal(t, 48, posts[1].ID)
}

func TestGetPostHTTPError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"success":false,"reason":"not found"}`)
	})

	_, err := c.GetPost(context.Background(), 7)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrHTTP))
	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, 404, e.Code)
	assert.Contains(t, err.Error(), "not found")
}

func TestGetPostSerializationError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"post":`)
	})

	_, err := c.GetPost(context.Background(), 7)
	assert.True(t, errors.Is(err, ErrSerialization))
}

func TestGetPostNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()
	c := NewClient(Options{BaseURL: srv.URL}, testLogger())

	_, err := c.GetPost(context.Background(), 7)
	assert.True(t, errors.Is(err, ErrNetwork))
}

func TestGetPostsKeepsRequestedOrder(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "id:3,1,2 status:any", r.URL.Query().Get("tags"))
		// newest first, as the api does
		fmt.Fprintf(w, `{"posts":[%s,%s]}`, postJSON(3), postJSON(1))
	})

	posts, err := c.GetPosts(context.Background(), []int{3, 1, 2})
	require.NoError(t, err)
	require.Len(t, posts, 2)
	assert.Equal(t, 3, posts[0].ID)
	assert.Equal(t, 1, posts[1].ID)
}

func TestGetPool(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("search[id]") == "42" {
			fmt.Fprint(w, `[{"id":42,"name":"comic","post_ids":[10,20,30],"post_count":3}]`)
			return
		}
		fmt.Fprint(w, `[]`)
	})

	pool, err := c.GetPool(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, []int{10, 20, 30}, pool.PostIDs)

	_, err = c.GetPool(context.Background(), 43)
	assert.True(t, errors.Is(err, ErrPoolNotFound))
}

func TestDownload(t *testing.T) {
	payload := strings.Repeat("x", 64*1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, "nope")
			return
		}
		fmt.Fprint(w, payload)
	}))
	defer srv.Close()
	c := NewClient(Options{}, testLogger())

	var buf bytes.Buffer
	n, err := c.Download(context.Background(), srv.URL+"/file.png", &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)
	assert.Equal(t, payload, buf.String())

	buf.Reset()
	_, err = c.Download(context.Background(), srv.URL+"/missing", &buf)
	var e *Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, KindHTTP, e.Kind)
	assert.Equal(t, 403, e.Code)
	assert.Zero(t, buf.Len(), "error bodies must not reach the sink")
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("broken pipe")
}

func TestDownloadWriteFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data")
	}))
	defer srv.Close()
	c := NewClient(Options{}, testLogger())

	_, err := c.Download(context.Background(), srv.URL, failingWriter{})
	assert.True(t, errors.Is(err, ErrFileSystem))
}

func TestAboveLimitMessage(t *testing.T) {
	err := AboveLimitError(400, ListHardLimit)
	assert.True(t, errors.Is(err, ErrAboveLimit))
	assert.Equal(t, 400, err.Requested)
	assert.Equal(t, 320, err.Max)
	assert.False(t, errors.Is(err, ErrHTTP))
}

func TestBasicAuth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, key, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "someone", user)
		assert.Equal(t, "secret", key)
		fmt.Fprintf(w, `{"post":%s}`, postJSON(1))
	}))
	t.Cleanup(srv.Close)
	c := NewClient(Options{BaseURL: srv.URL, Login: "someone", APIKey: "secret"}, testLogger())

	_, err := c.GetPost(context.Background(), 1)
	require.NoError(t, err)
}

func TestThrottleSpacesRequests(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"post":%s}`, postJSON(1))
	}))
	t.Cleanup(srv.Close)
	c := NewClient(Options{BaseURL: srv.URL, Interval: 50 * time.Millisecond}, testLogger())

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := c.GetPost(context.Background(), 1)
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestSharedThrottleSpansClients(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"post":%s}`, postJSON(1))
	}))
	t.Cleanup(srv.Close)
	throttle := Throttle(50 * time.Millisecond)
	a := NewClient(Options{BaseURL: srv.URL, Throttle: throttle}, testLogger())
	b := NewClient(Options{BaseURL: srv.URL, Throttle: throttle}, testLogger())

	start := time.Now()
	for _, c := range []*Client{a, b, a} {
		_, err := c.GetPost(context.Background(), 1)
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}
