package carrier

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, APIKey: "test-key", Timeout: 5 * time.Second}, zaptest.NewLogger(t))
}

func TestSendReturnsExternalID(t *testing.T) {
	t.Parallel()

	var gotAuth atomic.Value
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/messages", r.URL.Path)
		gotAuth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"SM123"}`))
	})

	res, err := c.Send(context.Background(), SendRequest{Channel: "sms", Recipient: "+34600000001", Body: "hola"})
	require.NoError(t, err)
	require.Equal(t, "SM123", res.ExternalID)
	require.Equal(t, "Bearer test-key", gotAuth.Load())
}

func TestSendClassifiesRejectionsAsPermanent(t *testing.T) {
	t.Parallel()

	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"invalid recipient"}`))
	})

	_, err := c.Send(context.Background(), SendRequest{Channel: "sms", Recipient: "junk", Body: "hola"})
	require.True(t, IsPermanent(err))
	require.Contains(t, err.Error(), "invalid recipient")
}

func TestSendServerErrorsAreTransient(t *testing.T) {
	t.Parallel()

	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.Send(context.Background(), SendRequest{Channel: "sms", Recipient: "+34600000001", Body: "hola"})
	require.Error(t, err)
	require.False(t, IsPermanent(err))
}

func TestSendRateLimitIsTransient(t *testing.T) {
	t.Parallel()

	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.Send(context.Background(), SendRequest{Channel: "sms", Recipient: "+34600000001", Body: "hola"})
	require.Error(t, err)
	require.False(t, IsPermanent(err))
}

func TestSendMissingIDIsAnError(t *testing.T) {
	t.Parallel()

	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})

	_, err := c.Send(context.Background(), SendRequest{Channel: "mail", Recipient: "a@example.com", Body: "hi"})
	require.Error(t, err)
	require.False(t, IsPermanent(err))
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	t.Parallel()

	var hits atomic.Int64
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	var lastErr error
	for i := 0; i < 10; i++ {
		_, lastErr = c.Send(context.Background(), SendRequest{Channel: "sms", Recipient: "+34600000001", Body: "x"})
		require.Error(t, lastErr)
	}

	require.Less(t, hits.Load(), int64(10), "breaker should stop forwarding requests")
	require.False(t, IsPermanent(lastErr), "an open breaker is a transient condition")
}
