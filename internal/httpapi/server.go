package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/planifyhq/relay/internal/completion"
	"github.com/planifyhq/relay/internal/config"
	"github.com/planifyhq/relay/internal/conversation"
	"github.com/planifyhq/relay/internal/notify"
	"github.com/planifyhq/relay/internal/observability"
)

// Server exposes the webhook intake endpoint and operational routes.
type Server struct {
	cfg       config.Config
	manager   *conversation.Manager
	completer completion.Adapter
	notifier  notify.Channel
	metrics   *observability.Metrics
	log       zerolog.Logger
	storeMode string
}

func New(cfg config.Config, manager *conversation.Manager, completer completion.Adapter, notifier notify.Channel, metrics *observability.Metrics, log zerolog.Logger) *Server {
	storeMode := "in-memory"
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		storeMode = "postgres"
	}
	return &Server{
		cfg:       cfg,
		manager:   manager,
		completer: completer,
		notifier:  notifier,
		metrics:   metrics,
		log:       log,
		storeMode: storeMode,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", observability.MetricsHandler())

	r.Post("/webhook", s.handleWebhook)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"store_mode": s.storeMode,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ready",
		"store_mode": s.storeMode,
	})
}

// handleWebhook orchestrates one inbound message end to end. Downstream
// failures never surface as transport errors: once dispatch is attempted the
// webhook answers 200 with an empty body, and the sender learns about
// degraded behavior only through the outbound notification itself.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, from, err := parseInbound(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(body) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "missing message body")
		return
	}

	outcome, err := s.manager.HandleInbound(r.Context(), from, body)
	if err != nil {
		if errors.Is(err, conversation.ErrInvalidSender) {
			respondError(w, http.StatusBadRequest, "invalid_sender", "sender address is missing or unparseable")
			return
		}
		// Moderation/persistence failures abort the request: a silently
		// dropped warning increment would weaken the only enforcement
		// mechanism the relay has.
		s.log.Error().Err(err).Str("from", from).Msg("inbound handling failed")
		respondError(w, http.StatusInternalServerError, "store_error", "failed to process message")
		return
	}

	s.metrics.InboundMessages.WithLabelValues(string(outcome.Kind)).Inc()

	var reply string
	switch outcome.Kind {
	case conversation.OutcomeBlocked:
		reply = s.cfg.TextRestricted
	case conversation.OutcomeNewlyBlocked:
		reply = s.cfg.TextBlocked
	case conversation.OutcomeWarned:
		reply = fmt.Sprintf(s.cfg.TextWarning, outcome.Remaining)
	case conversation.OutcomeReadyForCompletion:
		reply = s.completeAndRecord(r.Context(), outcome)
	}

	s.send(r.Context(), outcome.Identity, reply)
	w.WriteHeader(http.StatusOK)
}

// completeAndRecord invokes the completion capability and persists the
// assistant turn on success. Any failure degrades to the apology text; a
// failed turn is never persisted.
func (s *Server) completeAndRecord(ctx context.Context, outcome conversation.Outcome) string {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CompletionTimeout)
	defer cancel()

	start := time.Now()
	reply, err := s.completer.Complete(callCtx, outcome.Context)
	s.metrics.ObserveCompletionLatency(time.Since(start))
	if err != nil {
		var perr *completion.ProviderError
		if errors.As(err, &perr) {
			s.metrics.ProviderErrors.WithLabelValues(perr.Provider, perr.Code).Inc()
		} else {
			s.metrics.ProviderErrors.WithLabelValues("completion", "unknown").Inc()
		}
		s.log.Error().Err(err).Str("identity", outcome.Identity).Msg("completion failed")
		return s.cfg.TextApology
	}

	if err := s.manager.RecordAssistantReply(ctx, outcome.Identity, reply); err != nil {
		// The reply is already generated and will be delivered; losing the
		// stored assistant turn degrades history, not policy.
		s.log.Error().Err(err).Str("identity", outcome.Identity).Msg("assistant turn persist failed")
	}
	return reply
}

func (s *Server) send(ctx context.Context, recipient, body string) {
	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.NotifyTimeout)
	defer cancel()

	if err := s.notifier.Send(sendCtx, recipient, body); err != nil {
		s.metrics.NotificationSends.WithLabelValues("error").Inc()
		s.log.Error().Err(err).Str("recipient", recipient).Msg("notification send failed")
		return
	}
	s.metrics.NotificationSends.WithLabelValues("ok").Inc()
}

type inboundPayload struct {
	Body string `json:"Body"`
	From string `json:"From"`
}

// parseInbound accepts either a JSON document or a form-encoded body with
// Body and From fields, matching what messaging webhooks deliver.
func parseInbound(r *http.Request) (body, from string, err error) {
	ct := strings.ToLower(r.Header.Get("Content-Type"))
	if strings.Contains(ct, "application/json") {
		var payload inboundPayload
		if decodeErr := json.NewDecoder(r.Body).Decode(&payload); decodeErr != nil {
			return "", "", fmt.Errorf("malformed JSON body")
		}
		return payload.Body, payload.From, nil
	}

	if parseErr := r.ParseForm(); parseErr != nil {
		return "", "", fmt.Errorf("malformed form body")
	}
	return r.PostFormValue("Body"), r.PostFormValue("From"), nil
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
