package webhooks

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"catersync/internal/logging"
	"catersync/internal/store"
)

type recordStore struct {
	*store.Memory
	mu    sync.Mutex
	marks []MarkRec
	fails []FailRec
}
type MarkRec struct {
	ID            string
	Success       bool
	Next          *time.Time
	Code, Latency int
	LastErr       string
}
type FailRec struct {
	ID            string
	Code, Latency int
	LastErr       string
}

func (r *recordStore) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.marks = append(r.marks, MarkRec{ID: id, Success: success, Next: nextAttemptAt, Code: responseCode, Latency: latencyMs, LastErr: lastError})
	r.mu.Unlock()
	return r.Memory.MarkWebhookDelivery(ctx, id, success, nextAttemptAt, lastError, responseCode, latencyMs)
}
func (r *recordStore) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
	r.mu.Lock()
	r.fails = append(r.fails, FailRec{ID: id, Code: responseCode, Latency: latencyMs, LastErr: lastError})
	r.mu.Unlock()
	return r.Memory.FailWebhookDelivery(ctx, id, lastError, responseCode, latencyMs)
}

func newTestWorker(s store.Store, client *http.Client, maxAttempts int) *Worker {
	return &Worker{
		Store:       s,
		HTTP:        client,
		Stop:        make(chan struct{}),
		MaxAttempts: maxAttempts,
		BackoffBase: time.Second,
		BackoffMax:  time.Minute,
		Log:         logging.Discard(),
		kick:        make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
}

func TestWorkerProcessOnce_SuccessAndSignature(t *testing.T) {
	var gotSig, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature")
		gotType = r.Header.Get("X-Event-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(200)
	}))
	defer srv.Close()

	rs := &recordStore{Memory: store.NewMemory()}
	w := newTestWorker(rs, srv.Client(), 3)
	payload := []byte(`{"id":"evt1","orderNumber":"CAT-000001"}`)
	id, err := rs.Memory.EnqueueWebhook(context.Background(), EventOrderStatus, srv.URL, "secret", payload)
	if err != nil || id == "" {
		t.Fatalf("enqueue failed: %v", err)
	}

	w.processOnce()

	if gotType != EventOrderStatus {
		t.Fatalf("missing event type header: %q", gotType)
	}
	if !VerifyHMAC("secret", gotBody, gotSig) {
		t.Fatalf("signature %q does not verify", gotSig)
	}
	if len(rs.marks) == 0 || !rs.marks[0].Success || rs.marks[0].Code != 200 {
		t.Fatalf("expected mark success, got: %+v", rs.marks)
	}
}

func TestWorkerProcessOnce_NoSecretNoSignature(t *testing.T) {
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get("X-Signature")
		w.WriteHeader(204)
	}))
	defer srv.Close()
	rs := &recordStore{Memory: store.NewMemory()}
	w := newTestWorker(rs, srv.Client(), 3)
	_, _ = rs.Memory.EnqueueWebhook(context.Background(), EventOrderStatus, srv.URL, "", []byte(`{"id":"evt2"}`))
	w.processOnce()
	if gotSig != "" {
		t.Fatalf("unexpected signature %q", gotSig)
	}
}

func TestWorkerProcessOnce_RetryThenDeadLetter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(500) }))
	defer srv.Close()

	now := time.Now()
	mem := store.NewMemory()
	mem.SetClock(func() time.Time { return now })
	rs := &recordStore{Memory: mem}
	w := newTestWorker(rs, srv.Client(), 2)
	_, _ = rs.Memory.EnqueueWebhook(context.Background(), EventOrderStatus, srv.URL, "", []byte(`{"id":"evt3"}`))

	w.processOnce()
	if len(rs.marks) != 1 || rs.marks[0].Success || rs.fails != nil {
		t.Fatalf("expected one retry mark, got marks=%+v fails=%+v", rs.marks, rs.fails)
	}
	if rs.marks[0].Next == nil || rs.marks[0].LastErr == "" {
		t.Fatalf("retry must carry next attempt and error: %+v", rs.marks[0])
	}

	// not due yet
	w.processOnce()
	if len(rs.marks)+len(rs.fails) != 1 {
		t.Fatalf("delivery retried before its backoff elapsed")
	}

	now = now.Add(time.Hour)
	w.processOnce()
	if len(rs.fails) != 1 || rs.fails[0].Code != 500 {
		t.Fatalf("expected dead-letter on final attempt, got %+v", rs.fails)
	}
	if got := mem.DLQ(); len(got) != 1 {
		t.Fatalf("expected one DLQ entry, got %d", len(got))
	}
}

func TestWorkerProcessOnce_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()
	rs := &recordStore{Memory: store.NewMemory()}
	w := newTestWorker(rs, &http.Client{Timeout: time.Second}, 1)
	_, _ = rs.Memory.EnqueueWebhook(context.Background(), EventOrderStatus, url, "", []byte(`{}`))
	w.processOnce()
	if len(rs.fails) != 1 || rs.fails[0].LastErr == "" || rs.fails[0].Code != 0 {
		t.Fatalf("expected transport failure recorded, got %+v", rs.fails)
	}
}

func TestWorkerStartNotifyClose(t *testing.T) {
	hit := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		select {
		case hit <- struct{}{}:
		default:
		}
	}))
	defer srv.Close()
	mem := store.NewMemory()
	w := newTestWorker(mem, srv.Client(), 3)
	w.PollInterval = time.Hour
	w.Start()
	defer w.Close()

	_, _ = mem.EnqueueWebhook(context.Background(), EventOrderStatus, srv.URL, "", []byte(`{"id":"evt4"}`))
	w.Notify()
	select {
	case <-hit:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify did not trigger a delivery")
	}
}

func TestNextBackoff(t *testing.T) {
	cases := []struct {
		attempts int
		want     time.Duration
	}{
		{0, 2 * time.Second},
		{1, 4 * time.Second},
		{3, 16 * time.Second},
		{20, 10 * time.Minute},
		{-1, 2 * time.Second},
	}
	for _, c := range cases {
		if got := nextBackoff(c.attempts, 2*time.Second, 10*time.Minute); got != c.want {
			t.Fatalf("attempts=%d: want %s got %s", c.attempts, c.want, got)
		}
	}
}
