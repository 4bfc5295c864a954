package httpapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/planifyhq/relay/internal/config"
	"github.com/planifyhq/relay/internal/conversation"
	"github.com/planifyhq/relay/internal/moderation"
	"github.com/planifyhq/relay/internal/notify"
	"github.com/planifyhq/relay/internal/observability"
)

var metricsSeq atomic.Int64

func newTestMetrics() *observability.Metrics {
	// promauto registers globally, so every test needs its own namespace.
	return observability.NewMetrics(fmt.Sprintf("test_httpapi_%d", metricsSeq.Add(1)))
}

type stubCompleter struct {
	mu      sync.Mutex
	calls   int
	lastCtx []conversation.Turn
	reply   string
	err     error
}

func (c *stubCompleter) Complete(_ context.Context, turns []conversation.Turn) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.lastCtx = turns
	if c.err != nil {
		return "", c.err
	}
	return c.reply, nil
}

func (c *stubCompleter) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *stubCompleter) lastContext() []conversation.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCtx
}

func testConfig() config.Config {
	return config.Config{
		CompletionTimeout: 5 * time.Second,
		NotifyTimeout:     5 * time.Second,
		ContextWindow:     10,
		BlockThreshold:    3,
		SystemPrompt:      "Eres un asistente personal que organiza agendas.",
		TextRestricted:    "Tu acceso a Planify ha sido restringido debido al mal uso de la aplicación.",
		TextBlocked:       "Has sido bloqueado debido a múltiples mensajes inapropiados.",
		TextWarning:       "Advertencia: Tienes %d oportunidades restantes.",
		TextApology:       "Hubo un error procesando tu solicitud.",
	}
}

func newServerFor(t *testing.T, completer *stubCompleter, store conversation.Store, notifier notify.Channel) *httptest.Server {
	t.Helper()
	cfg := testConfig()
	manager := conversation.NewManager(store, moderation.NewFilter(nil), conversation.ManagerConfig{
		SystemPrompt:   cfg.SystemPrompt,
		WindowSize:     cfg.ContextWindow,
		BlockThreshold: cfg.BlockThreshold,
	}, zerolog.Nop())

	srv := New(cfg, manager, completer, notifier, newTestMetrics(), zerolog.Nop())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func newTestServer(t *testing.T, completer *stubCompleter) (*httptest.Server, *conversation.InMemoryStore, *notify.MockChannel) {
	t.Helper()
	store := conversation.NewInMemoryStore()
	notifier := notify.NewMockChannel()
	return newServerFor(t, completer, store, notifier), store, notifier
}

func postWebhookForm(t *testing.T, ts *httptest.Server, body, from string) *http.Response {
	t.Helper()
	form := url.Values{}
	if body != "" {
		form.Set("Body", body)
	}
	if from != "" {
		form.Set("From", from)
	}
	res, err := http.PostForm(ts.URL+"/webhook", form)
	if err != nil {
		t.Fatalf("POST /webhook error = %v", err)
	}
	return res
}

func TestWebhookRejectsMissingBody(t *testing.T) {
	ts, _, notifier := newTestServer(t, &stubCompleter{reply: "ok"})

	res := postWebhookForm(t, ts, "", "whatsapp:+15551234567")
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
	if got := len(notifier.Sent()); got != 0 {
		t.Fatalf("sent notifications = %d, want 0", got)
	}
}

func TestWebhookRejectsInvalidSender(t *testing.T) {
	ts, _, _ := newTestServer(t, &stubCompleter{reply: "ok"})

	res := postWebhookForm(t, ts, "hola", "not-a-number")
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestWebhookCleanMessageFlow(t *testing.T) {
	completer := &stubCompleter{reply: "Claro, agendo tu cita para mañana."}
	ts, store, notifier := newTestServer(t, completer)

	res := postWebhookForm(t, ts, "hola", "whatsapp:+15551234567")
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	payload, _ := io.ReadAll(res.Body)
	if len(bytes.TrimSpace(payload)) != 0 {
		t.Fatalf("response body = %q, want empty acknowledgment", payload)
	}

	if got := completer.callCount(); got != 1 {
		t.Fatalf("completion calls = %d, want 1", got)
	}
	if got := completer.lastContext(); len(got) != 2 {
		t.Fatalf("completion context = %d turns, want 2 (system + user)", len(got))
	}

	sent := notifier.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent notifications = %d, want 1", len(sent))
	}
	if sent[0].Recipient != "+15551234567" {
		t.Fatalf("recipient = %q, want normalized identity", sent[0].Recipient)
	}
	if sent[0].Body != completer.reply {
		t.Fatalf("notification body = %q, want the generated reply", sent[0].Body)
	}

	turns, err := store.RecentTurns(context.Background(), "+15551234567", 10)
	if err != nil {
		t.Fatalf("RecentTurns() error = %v", err)
	}
	tail := turns[len(turns)-1]
	if tail.Role != conversation.RoleAssistant || tail.Content != completer.reply {
		t.Fatalf("tail turn = %+v, want persisted assistant reply", tail)
	}
}

func TestWebhookWarningThenBlockSequence(t *testing.T) {
	completer := &stubCompleter{reply: "ok"}
	ts, store, notifier := newTestServer(t, completer)

	wantBodies := []string{
		"Advertencia: Tienes 2 oportunidades restantes.",
		"Advertencia: Tienes 1 oportunidades restantes.",
		"Has sido bloqueado debido a múltiples mensajes inapropiados.",
	}
	for i, want := range wantBodies {
		res := postWebhookForm(t, ts, "eres una puta", "whatsapp:+15551234567")
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("message %d status = %d, want %d", i+1, res.StatusCode, http.StatusOK)
		}
		sent := notifier.Sent()
		if len(sent) != i+1 {
			t.Fatalf("after message %d sent = %d, want %d", i+1, len(sent), i+1)
		}
		if sent[i].Body != want {
			t.Fatalf("message %d notification = %q, want %q", i+1, sent[i].Body, want)
		}
	}

	if got := completer.callCount(); got != 0 {
		t.Fatalf("completion calls = %d, want 0 for violating messages", got)
	}

	rec, _, err := store.FindByIdentity(context.Background(), "+15551234567")
	if err != nil {
		t.Fatalf("FindByIdentity() error = %v", err)
	}
	if rec.WarningCount != 3 || !rec.Blocked {
		t.Fatalf("record = %+v, want warnings 3 and blocked", rec)
	}
}

func TestWebhookBlockedSenderGetsRestrictedText(t *testing.T) {
	completer := &stubCompleter{reply: "ok"}
	ts, _, notifier := newTestServer(t, completer)

	for i := 0; i < 3; i++ {
		res := postWebhookForm(t, ts, "puta", "whatsapp:+15551234567")
		res.Body.Close()
	}

	res := postWebhookForm(t, ts, "hola, quiero agendar algo", "whatsapp:+15551234567")
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}

	sent := notifier.Sent()
	last := sent[len(sent)-1]
	if last.Body != "Tu acceso a Planify ha sido restringido debido al mal uso de la aplicación." {
		t.Fatalf("notification = %q, want the restricted-access text", last.Body)
	}
	if got := completer.callCount(); got != 0 {
		t.Fatalf("completion calls = %d, want 0 for a blocked sender", got)
	}
}

func TestWebhookCompletionFailureSendsApology(t *testing.T) {
	completer := &stubCompleter{err: errors.New("upstream quota exceeded")}
	ts, store, notifier := newTestServer(t, completer)

	res := postWebhookForm(t, ts, "hola", "whatsapp:+15551234567")
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d (downstream failure must not surface)", res.StatusCode, http.StatusOK)
	}

	sent := notifier.Sent()
	if len(sent) != 1 {
		t.Fatalf("sent notifications = %d, want 1", len(sent))
	}
	if sent[0].Body != "Hubo un error procesando tu solicitud." {
		t.Fatalf("notification = %q, want the apology text", sent[0].Body)
	}

	turns, err := store.RecentTurns(context.Background(), "+15551234567", 10)
	if err != nil {
		t.Fatalf("RecentTurns() error = %v", err)
	}
	tail := turns[len(turns)-1]
	if tail.Role != conversation.RoleUser {
		t.Fatalf("tail turn role = %q, want user (no assistant turn on failure)", tail.Role)
	}
}

type failingChannel struct{}

func (failingChannel) Send(context.Context, string, string) error {
	return errors.New("carrier unreachable")
}

func TestWebhookAcknowledgesWhenNotificationFails(t *testing.T) {
	completer := &stubCompleter{reply: "Claro, agendo tu cita."}
	store := conversation.NewInMemoryStore()
	ts := newServerFor(t, completer, store, failingChannel{})

	res := postWebhookForm(t, ts, "hola", "whatsapp:+15551234567")
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d (send failure is logged, never surfaced)", res.StatusCode, http.StatusOK)
	}
	payload, _ := io.ReadAll(res.Body)
	if len(bytes.TrimSpace(payload)) != 0 {
		t.Fatalf("response body = %q, want empty acknowledgment", payload)
	}

	// The reply was generated and persisted before the delivery attempt.
	turns, err := store.RecentTurns(context.Background(), "+15551234567", 10)
	if err != nil {
		t.Fatalf("RecentTurns() error = %v", err)
	}
	tail := turns[len(turns)-1]
	if tail.Role != conversation.RoleAssistant {
		t.Fatalf("tail turn role = %q, want assistant despite failed delivery", tail.Role)
	}
}

type failingStore struct {
	conversation.Store
}

func (failingStore) FindByIdentity(context.Context, string) (conversation.UserRecord, bool, error) {
	return conversation.UserRecord{}, false, errors.New("connection refused")
}

func TestWebhookStoreFailureReturnsServerError(t *testing.T) {
	completer := &stubCompleter{reply: "ok"}
	notifier := notify.NewMockChannel()
	ts := newServerFor(t, completer, failingStore{Store: conversation.NewInMemoryStore()}, notifier)

	res := postWebhookForm(t, ts, "hola", "whatsapp:+15551234567")
	defer res.Body.Close()
	if res.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusInternalServerError)
	}
	if got := len(notifier.Sent()); got != 0 {
		t.Fatalf("sent notifications = %d, want 0 when the store is unavailable", got)
	}
	if got := completer.callCount(); got != 0 {
		t.Fatalf("completion calls = %d, want 0 when the store is unavailable", got)
	}
}

func TestWebhookAcceptsJSONBody(t *testing.T) {
	completer := &stubCompleter{reply: "listo"}
	ts, _, notifier := newTestServer(t, completer)

	res, err := http.Post(ts.URL+"/webhook", "application/json",
		strings.NewReader(`{"Body":"hola","From":"whatsapp:+15551234567"}`))
	if err != nil {
		t.Fatalf("POST /webhook error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	if len(notifier.Sent()) != 1 {
		t.Fatalf("sent notifications = %d, want 1", len(notifier.Sent()))
	}
}

func TestHealthRoutes(t *testing.T) {
	ts, _, _ := newTestServer(t, &stubCompleter{reply: "ok"})

	for _, path := range []string{"/healthz", "/readyz"} {
		res, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d, want %d", path, res.StatusCode, http.StatusOK)
		}
	}
}
