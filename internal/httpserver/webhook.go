package httpserver

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gtmanfred/slackmgmt/pkg/sdk"
	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// webhook accepts Events API pushes. URL verification requests are answered
// with their challenge and never reach the dispatcher; every other request
// must carry an "event" object, which is queued as-is.
func (s *Server) webhook(w http.ResponseWriter, r *http.Request) {
	cfg := s.config()

	body, err := io.ReadAll(io.LimitReader(r.Body, cfg.Webhook.MaxBodySize+1))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	if int64(len(body)) > cfg.Webhook.MaxBodySize {
		http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		return
	}

	if secret := cfg.Slack.SigningSecret; secret != "" {
		if err := verifyRequest(r.Header, secret, body); err != nil {
			s.log.Warn("webhook signature rejected", zap.Error(err))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil || payload == nil {
		http.Error(w, "body must be a JSON object", http.StatusBadRequest)
		return
	}

	if challenge, ok := payload["challenge"]; ok {
		writeJSON(w, http.StatusOK, map[string]json.RawMessage{"challenge": challenge})
		return
	}

	raw, ok := payload["event"]
	if !ok {
		http.Error(w, "missing event", http.StatusBadRequest)
		return
	}
	ev, err := sdk.DecodeEvent(raw)
	if err != nil || ev == nil {
		http.Error(w, "event must be a JSON object", http.StatusBadRequest)
		return
	}

	s.deps.Inbound.Push(ev)
	if s.deps.Metrics != nil {
		s.deps.Metrics.EventsReceived.WithLabelValues("webhook").Inc()
	}
	s.log.Debug("webhook event queued", zap.String("type", ev.Type()))
	writeJSON(w, http.StatusOK, struct{}{})
}

// verifyRequest checks Slack's v0 request signature over the already
// size-limited body. Stale timestamps are rejected by the verifier.
func verifyRequest(h http.Header, secret string, body []byte) error {
	sv, err := slack.NewSecretsVerifier(h, secret)
	if err != nil {
		return err
	}
	if _, err := sv.Write(body); err != nil {
		return err
	}
	return sv.Ensure()
}
