package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"catersync/internal/auth"
	"catersync/internal/config"
	"catersync/internal/geo"
	"catersync/internal/logging"
	"catersync/internal/model"
	"catersync/internal/store"
	"catersync/internal/webhooks"
)

const (
	testKey    = "partner-secret"
	testSecret = "dispatch-secret"
)

var (
	testNow = time.Date(2030, 5, 1, 10, 0, 0, 0, time.UTC)
	evening = time.Date(2030, 5, 1, 18, 0, 0, 0, time.UTC)
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Partner.APIKey = testKey
	cfg.DispatchJWTSecret = testSecret
	cfg.Webhook.PollInterval = 20 * time.Millisecond
	cfg.Webhook.BackoffBase = 10 * time.Millisecond
	return &cfg
}

func newTestServer(t *testing.T, cfg *config.Config) (*Server, http.Handler) {
	t.Helper()
	s, err := NewServer(cfg, logging.Discard(), Options{
		Store:    store.NewMemory(),
		Distance: geo.FixedDistance(12),
		Now:      func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(func() {
		s.Shutdown()
		s.Close()
	})
	return s, NewRouter(s)
}

func draftBody(id string) []byte {
	b, _ := json.Marshal(map[string]any{
		"partnerOrderId":        id,
		"pickup":                map[string]any{"address": "1 Kitchen Way", "lat": 34.05, "lng": -118.25},
		"delivery":              map[string]any{"address": "2 Office Park", "lat": 34.10, "lng": -118.30},
		"headcount":             30,
		"requestedDeliveryTime": evening,
	})
	return b
}

func partnerReq(method, path string, body []byte) *http.Request {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(auth.HeaderPartner, "catermarket")
	req.Header.Set(auth.HeaderAPIKey, testKey)
	return req
}

func dispatchToken(t *testing.T, role string) string {
	t.Helper()
	tok, err := auth.Issue(testSecret, "dispatcher-1", role, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return tok
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeOrder(t *testing.T, rr *httptest.ResponseRecorder) orderView {
	t.Helper()
	var v orderView
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode order: %v (%s)", err, rr.Body.String())
	}
	return v
}

func draftAndConfirm(t *testing.T, h http.Handler, id string) orderView {
	t.Helper()
	if rr := serve(h, partnerReq(http.MethodPost, "/orders/draft", draftBody(id))); rr.Code != http.StatusCreated {
		t.Fatalf("draft: got %d %s", rr.Code, rr.Body.String())
	}
	rr := serve(h, partnerReq(http.MethodPost, "/orders/confirm", []byte(`{"partnerOrderId":"`+id+`"}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("confirm: got %d %s", rr.Code, rr.Body.String())
	}
	return decodeOrder(t, rr)
}

func transition(h http.Handler, token, orderNumber string, to model.Status, reason string) *httptest.ResponseRecorder {
	body, _ := json.Marshal(transitionRequest{Status: to, Reason: reason})
	req := httptest.NewRequest(http.MethodPost, "/internal/orders/"+orderNumber+"/status", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+token)
	return serve(h, req)
}

func TestHealthReady(t *testing.T) {
	_, h := newTestServer(t, testConfig())
	if rr := serve(h, httptest.NewRequest(http.MethodGet, "/healthz", nil)); rr.Code != http.StatusOK {
		t.Fatalf("health: got %d", rr.Code)
	}
	if rr := serve(h, httptest.NewRequest(http.MethodGet, "/readyz", nil)); rr.Code != http.StatusOK {
		t.Fatalf("ready: got %d", rr.Code)
	}
}

func TestDraftCreatesThenReplays(t *testing.T) {
	_, h := newTestServer(t, testConfig())

	rr := serve(h, partnerReq(http.MethodPost, "/orders/draft", draftBody("po-1")))
	if rr.Code != http.StatusCreated {
		t.Fatalf("draft: got %d %s", rr.Code, rr.Body.String())
	}
	first := decodeOrder(t, rr)
	if first.Status != model.StatusDraft || first.OrderNumber != "CAT-000001" {
		t.Fatalf("unexpected order: %+v", first)
	}
	if got := first.Pricing.Total.String(); got != "96.00" {
		t.Fatalf("total: got %s want 96.00", got)
	}
	if first.PartnerStatus != "" {
		t.Fatalf("draft must not carry a partner status, got %q", first.PartnerStatus)
	}

	rr = serve(h, partnerReq(http.MethodPost, "/orders/draft", draftBody("po-1")))
	if rr.Code != http.StatusOK {
		t.Fatalf("replayed draft: got %d", rr.Code)
	}
	if again := decodeOrder(t, rr); again.OrderNumber != first.OrderNumber {
		t.Fatalf("replay returned %s, want %s", again.OrderNumber, first.OrderNumber)
	}

	rr = serve(h, partnerReq(http.MethodGet, "/orders/"+first.OrderNumber, nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("get: got %d", rr.Code)
	}
}

func TestDraftRejectsInvalidInput(t *testing.T) {
	_, h := newTestServer(t, testConfig())
	rr := serve(h, partnerReq(http.MethodPost, "/orders/draft", []byte(`{"partnerOrderId":"po-1","headcount":0}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("got %d want 400", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Fatalf("content type: %q", ct)
	}
	rr = serve(h, partnerReq(http.MethodPost, "/orders/draft", []byte(`{not json`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("malformed body: got %d want 400", rr.Code)
	}
}

func TestPartnerAuthentication(t *testing.T) {
	s, h := newTestServer(t, testConfig())

	req := partnerReq(http.MethodPost, "/orders/draft", draftBody("po-1"))
	req.Header.Del(auth.HeaderAPIKey)
	if rr := serve(h, req); rr.Code != http.StatusUnauthorized {
		t.Fatalf("missing key: got %d want 401", rr.Code)
	}
	req = partnerReq(http.MethodPost, "/orders/draft", draftBody("po-1"))
	req.Header.Set(auth.HeaderAPIKey, "wrong")
	if rr := serve(h, req); rr.Code != http.StatusUnauthorized {
		t.Fatalf("wrong key: got %d want 401", rr.Code)
	}
	if _, err := s.Store.GetOrderByPartnerID(context.Background(), "catermarket", "po-1"); err != store.ErrNotFound {
		t.Fatalf("rejected request must not create an order, got %v", err)
	}
}

func TestRejectedMutationLeavesOrderUnaltered(t *testing.T) {
	s, h := newTestServer(t, testConfig())
	if rr := serve(h, partnerReq(http.MethodPost, "/orders/draft", draftBody("po-1"))); rr.Code != http.StatusCreated {
		t.Fatalf("draft: got %d", rr.Code)
	}
	before, err := s.Store.GetOrderByPartnerID(context.Background(), "catermarket", "po-1")
	if err != nil {
		t.Fatal(err)
	}

	update := partnerReq(http.MethodPost, "/orders/update", []byte(`{"partnerOrderId":"po-1","headcount":60}`))
	update.Header.Del(auth.HeaderAPIKey)
	if rr := serve(h, update); rr.Code != http.StatusUnauthorized {
		t.Fatalf("update without key: got %d want 401", rr.Code)
	}
	confirm := partnerReq(http.MethodPost, "/orders/confirm", []byte(`{"partnerOrderId":"po-1"}`))
	confirm.Header.Set(auth.HeaderAPIKey, "wrong")
	if rr := serve(h, confirm); rr.Code != http.StatusUnauthorized {
		t.Fatalf("confirm with wrong key: got %d want 401", rr.Code)
	}

	after, err := s.Store.GetOrderByPartnerID(context.Background(), "catermarket", "po-1")
	if err != nil {
		t.Fatal(err)
	}
	if after.Version != before.Version || after.Status != model.StatusDraft || after.Headcount != before.Headcount || after.Pricing != before.Pricing {
		t.Fatalf("order changed by rejected requests: before %+v after %+v", before, after)
	}
}

func TestPartnerAuthenticationFailsClosedWithoutKey(t *testing.T) {
	cfg := testConfig()
	cfg.Partner.APIKey = ""
	_, h := newTestServer(t, cfg)
	if rr := serve(h, partnerReq(http.MethodPost, "/orders/draft", draftBody("po-1"))); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("got %d want 503", rr.Code)
	}
}

func TestGetOrderUnknown(t *testing.T) {
	_, h := newTestServer(t, testConfig())
	if rr := serve(h, partnerReq(http.MethodGet, "/orders/CAT-999999", nil)); rr.Code != http.StatusNotFound {
		t.Fatalf("got %d want 404", rr.Code)
	}
}

func TestConfirmOutsideBusinessHours(t *testing.T) {
	_, h := newTestServer(t, testConfig())
	if rr := serve(h, partnerReq(http.MethodPost, "/orders/draft", draftBody("po-1"))); rr.Code != http.StatusCreated {
		t.Fatalf("draft: got %d", rr.Code)
	}
	late := time.Date(2030, 5, 1, 23, 30, 0, 0, time.UTC)
	body, _ := json.Marshal(map[string]any{"partnerOrderId": "po-1", "requestedDeliveryTime": late})
	rr := serve(h, partnerReq(http.MethodPost, "/orders/confirm", body))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("got %d want 400: %s", rr.Code, rr.Body.String())
	}
}

func TestConfirmCancelledOrderConflicts(t *testing.T) {
	s, h := newTestServer(t, testConfig())
	o := draftAndConfirm(t, h, "po-1")
	if o.Status != model.StatusConfirmed {
		t.Fatalf("status: %s", o.Status)
	}

	tok := dispatchToken(t, auth.RoleDispatch)
	if rr := transition(h, tok, o.OrderNumber, model.StatusCancelled, "kitchen closed"); rr.Code != http.StatusOK {
		t.Fatalf("cancel: got %d %s", rr.Code, rr.Body.String())
	}

	rr := serve(h, partnerReq(http.MethodPost, "/orders/confirm", []byte(`{"partnerOrderId":"po-1"}`)))
	if rr.Code != http.StatusConflict {
		t.Fatalf("confirm cancelled: got %d want 409", rr.Code)
	}
	got, err := s.Store.GetOrderByNumber(context.Background(), o.OrderNumber)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.StatusCancelled || got.CancelReason != "kitchen closed" {
		t.Fatalf("order changed: %+v", got)
	}
}

func TestUpdateAfterConfirmConflicts(t *testing.T) {
	_, h := newTestServer(t, testConfig())
	draftAndConfirm(t, h, "po-1")
	rr := serve(h, partnerReq(http.MethodPost, "/orders/update", []byte(`{"partnerOrderId":"po-1","headcount":60}`)))
	if rr.Code != http.StatusConflict {
		t.Fatalf("got %d want 409", rr.Code)
	}
}

func TestTransitionRequiresDispatchRole(t *testing.T) {
	_, h := newTestServer(t, testConfig())
	o := draftAndConfirm(t, h, "po-1")

	req := httptest.NewRequest(http.MethodPost, "/internal/orders/"+o.OrderNumber+"/status", strings.NewReader(`{"status":"ASSIGNED"}`))
	if rr := serve(h, req); rr.Code != http.StatusUnauthorized {
		t.Fatalf("no token: got %d want 401", rr.Code)
	}
	if rr := transition(h, "garbage", o.OrderNumber, model.StatusAssigned, ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: got %d want 401", rr.Code)
	}

	tok := dispatchToken(t, auth.RoleDispatch)
	if rr := transition(h, tok, o.OrderNumber, model.StatusCompleted, ""); rr.Code != http.StatusConflict {
		t.Fatalf("skip ahead: got %d want 409", rr.Code)
	}
	if rr := transition(h, tok, o.OrderNumber, model.StatusConfirmed, ""); rr.Code != http.StatusBadRequest {
		t.Fatalf("dispatch confirm: got %d want 400", rr.Code)
	}
	rr := transition(h, tok, o.OrderNumber, model.StatusAssigned, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("assign: got %d %s", rr.Code, rr.Body.String())
	}
	var out struct {
		Order   orderView `json:"order"`
		Changed bool      `json:"changed"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if !out.Changed || out.Order.PartnerStatus != model.PartnerConfirm {
		t.Fatalf("unexpected transition result: %+v", out)
	}
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	_, h := newTestServer(t, testConfig())
	req := httptest.NewRequest(http.MethodGet, "/admin/webhook-deliveries", nil)
	req.Header.Set("Authorization", "Bearer "+dispatchToken(t, auth.RoleDispatch))
	if rr := serve(h, req); rr.Code != http.StatusForbidden {
		t.Fatalf("dispatch role: got %d want 403", rr.Code)
	}

	admin := dispatchToken(t, auth.RoleAdmin)
	req = httptest.NewRequest(http.MethodGet, "/admin/webhook-deliveries?status=bogus", nil)
	req.Header.Set("Authorization", "Bearer "+admin)
	if rr := serve(h, req); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad status filter: got %d want 400", rr.Code)
	}
	req = httptest.NewRequest(http.MethodPost, "/admin/webhook-deliveries/nope/retry", nil)
	req.Header.Set("Authorization", "Bearer "+admin)
	if rr := serve(h, req); rr.Code != http.StatusNotFound {
		t.Fatalf("retry unknown: got %d want 404", rr.Code)
	}
}

func TestStatusChangeIsDeliveredToPartnerWebhook(t *testing.T) {
	var (
		mu     sync.Mutex
		events []webhooks.Event
		sigs   []string
	)
	partner := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		var ev webhooks.Event
		_ = json.Unmarshal(b, &ev)
		mu.Lock()
		events = append(events, ev)
		sigs = append(sigs, r.Header.Get("X-Signature"))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer partner.Close()

	cfg := testConfig()
	cfg.Partner.WebhookURL = partner.URL
	cfg.Partner.WebhookSecret = "hook-secret"
	s, h := newTestServer(t, cfg)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	o := draftAndConfirm(t, h, "po-1")
	if rr := transition(h, dispatchToken(t, auth.RoleDispatch), o.OrderNumber, model.StatusAssigned, ""); rr.Code != http.StatusOK {
		t.Fatalf("assign: got %d", rr.Code)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		n := len(events)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("webhook was not delivered")
		}
		time.Sleep(20 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 {
		t.Fatalf("confirm must not notify the partner; got %d events", len(events))
	}
	ev := events[0]
	if ev.Type != webhooks.EventOrderStatus || ev.Status != model.PartnerConfirm || ev.OrderNumber != o.OrderNumber {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if sigs[0] == "" {
		t.Fatal("signed webhook missing X-Signature")
	}
}

func TestStatusEndpoint(t *testing.T) {
	cfg := testConfig()
	cfg.Partner.WebhookURL = "http://partner.invalid/hook"
	_, h := newTestServer(t, cfg)
	rr := serve(h, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	var out statusResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if !out.Database.Connected || out.Database.Kind != "custom" {
		t.Fatalf("database: %+v", out.Database)
	}
	if !out.Partner.APIKeyConfigured || !out.Partner.WebhookConfigured || out.Partner.WebhookSigned {
		t.Fatalf("partner: %+v", out.Partner)
	}
	if len(out.StatusMap) != len(model.Statuses()) {
		t.Fatalf("status map has %d rows", len(out.StatusMap))
	}
	if out.Hours.Open != "07:00" || out.Hours.Close != "22:00" {
		t.Fatalf("hours: %+v", out.Hours)
	}
	if strings.Contains(rr.Body.String(), testKey) {
		t.Fatal("status leaked the partner API key")
	}
}

func TestRateLimitPerPartner(t *testing.T) {
	cfg := testConfig()
	cfg.RateRPS = 0.001
	cfg.RateBurst = 1
	_, h := newTestServer(t, cfg)
	if rr := serve(h, partnerReq(http.MethodGet, "/orders/CAT-000001", nil)); rr.Code != http.StatusNotFound {
		t.Fatalf("first: got %d", rr.Code)
	}
	rr := serve(h, partnerReq(http.MethodGet, "/orders/CAT-000001", nil))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second: got %d want 429", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Fatal("missing Retry-After")
	}
}

func TestDispatchSocketAcksTransitions(t *testing.T) {
	s, h := newTestServer(t, testConfig())
	o := draftAndConfirm(t, h, "po-1")
	srv := httptest.NewServer(h)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/internal/dispatch/ws?access_token=" + dispatchToken(t, auth.RoleDispatch)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	readUntil := func(typ string) wsMessage {
		t.Helper()
		for {
			var m wsMessage
			if err := conn.ReadJSON(&m); err != nil {
				t.Fatalf("read %s: %v", typ, err)
			}
			if m.Type == typ {
				return m
			}
		}
	}

	if err := conn.WriteJSON(wsMessage{Type: "ping"}); err != nil {
		t.Fatal(err)
	}
	readUntil("pong")

	if err := conn.WriteJSON(wsMessage{Type: "status", OrderNumber: o.OrderNumber, Status: model.StatusAssigned}); err != nil {
		t.Fatal(err)
	}
	ack := readUntil("ack")
	if ack.OrderNumber != o.OrderNumber || ack.Status != model.StatusAssigned || ack.Changed == nil || !*ack.Changed {
		t.Fatalf("unexpected ack: %+v", ack)
	}

	if err := conn.WriteJSON(wsMessage{Type: "status", OrderNumber: o.OrderNumber, Status: model.StatusCompleted}); err != nil {
		t.Fatal(err)
	}
	e := readUntil("error")
	if e.Code != http.StatusConflict {
		t.Fatalf("skip ahead over socket: %+v", e)
	}

	got, err := s.Store.GetOrderByNumber(context.Background(), o.OrderNumber)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.StatusAssigned {
		t.Fatalf("stored status %s", got.Status)
	}
}
