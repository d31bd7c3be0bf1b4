package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	conversationsrepo "github.com/relaycore/courier/domains/conversations/be/repo"
	conversations "github.com/relaycore/courier/domains/conversations/be/service"
	"github.com/relaycore/courier/domains/dispatch/be/queue"
	"github.com/relaycore/courier/domains/dispatch/be/service"
	"github.com/relaycore/courier/platform/go/tenant"
)

type fixture struct {
	srv       *httptest.Server
	store     *conversations.Service
	analytics *service.AnalyticsRecorder
	processed chan queue.Job
}

// newFixture wires the handler behind an SMS-only router; mail and mms stay
// disabled so both send outcomes are reachable.
func newFixture(t *testing.T, tenantID uuid.UUID) fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := conversations.New(conversationsrepo.NewMemoryRepository())
	analytics := service.NewAnalyticsRecorder(rdb)

	processed := make(chan queue.Job, 4)
	router := queue.NewRouter(queue.RouterConfig{
		Queues: map[queue.Name]queue.Config{
			queue.SMS: {Enabled: true, Workers: 1, Buffer: 4},
		},
	}, map[queue.Name]queue.ProcessFunc{
		queue.SMS: func(ctx context.Context, job queue.Job) (queue.Result, error) {
			processed <- job
			return queue.Result{ExternalID: "SM1"}, nil
		},
	}, nil, zaptest.NewLogger(t), nil)
	router.Start()
	t.Cleanup(func() {
		queue.NewShutdownCoordinator(router, zaptest.NewLogger(t)).Shutdown(context.Background())
	})

	sender := service.NewSender(store, router, zaptest.NewLogger(t))

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := tenant.WithDescriptor(req.Context(), tenant.Descriptor{TenantID: tenantID})
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	New(sender, analytics, zaptest.NewLogger(t)).Register(r)
	r.Route("/admin", func(r chi.Router) {
		NewAdmin(router).Register(r)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return fixture{srv: srv, store: store, analytics: analytics, processed: processed}
}

func (f fixture) postSend(t *testing.T, body map[string]any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(f.srv.URL+"/messages/send", "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestSendQueuesMessage(t *testing.T) {
	t.Parallel()

	tenantID := uuid.New()
	f := newFixture(t, tenantID)

	c, err := f.store.CreateConversation(context.Background(), tenantID, "support")
	require.NoError(t, err)

	resp := f.postSend(t, map[string]any{
		"conversationId": c.ID,
		"channel":        "sms",
		"recipient":      "+34600000001",
		"body":           "hola",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out struct {
		Status    string    `json:"status"`
		MessageID uuid.UUID `json:"messageId"`
		Queue     string    `json:"queue"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, "queued", out.Status)
	require.Equal(t, "sms", out.Queue)

	select {
	case job := <-f.processed:
		require.Equal(t, out.MessageID, job.MessageID)
		require.Equal(t, tenantID, job.TenantID)
	case <-time.After(5 * time.Second):
		t.Fatal("job never reached the queue")
	}
}

func TestSendOnDisabledChannelReportsIt(t *testing.T) {
	t.Parallel()

	tenantID := uuid.New()
	f := newFixture(t, tenantID)

	c, err := f.store.CreateConversation(context.Background(), tenantID, "support")
	require.NoError(t, err)

	resp := f.postSend(t, map[string]any{
		"conversationId": c.ID,
		"channel":        "mail",
		"recipient":      "user@example.com",
		"body":           "hello",
	})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	var out struct {
		Status    string    `json:"status"`
		MessageID uuid.UUID `json:"messageId"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Equal(t, "channel_disabled", out.Status)

	// The message is stored pending even though nothing will send it.
	m, err := f.store.GetMessage(context.Background(), tenantID, out.MessageID)
	require.NoError(t, err)
	require.Equal(t, conversations.StatePending, m.DeliveryState)
}

func TestSendRejectsUnknownChannel(t *testing.T) {
	t.Parallel()

	f := newFixture(t, uuid.New())

	resp := f.postSend(t, map[string]any{
		"conversationId": uuid.New(),
		"channel":        "fax",
		"body":           "x",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestQueueStatsEndpoint(t *testing.T) {
	t.Parallel()

	f := newFixture(t, uuid.New())

	resp, err := http.Get(f.srv.URL + "/admin/queues")
	require.NoError(t, err)
	defer resp.Body.Close() // nolint:errcheck
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Queues map[string]struct {
			Enabled bool `json:"enabled"`
			Workers int  `json:"workers"`
		} `json:"queues"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.Len(t, out.Queues, 4)
	require.True(t, out.Queues["sms"].Enabled)
	require.False(t, out.Queues["mail"].Enabled)
}
