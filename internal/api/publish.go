package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// publishCheckRequest stamps the check request with an issue time and
// publishes it to every subscription. Direct and roundrobin subscriptions
// ("direct:host-web" or "roundrobin:workers") address a single pipe through
// a direct exchange; plain subscriptions fan out. Publish failures are
// logged and do not abort the remaining subscriptions.
func (s *Server) publishCheckRequest(ctx context.Context, check map[string]any) {
	logger := LoggerFromContext(ctx)

	payload := make(map[string]any, len(check)+1)
	for key, value := range check {
		payload[key] = value
	}
	payload["issued"] = time.Now().Unix()

	message, err := json.Marshal(payload)
	if err != nil {
		logger.Error("failed to encode check request", "error", err)
		return
	}
	logger.Info("publishing check request", "payload", string(message))

	subscribers, _ := check["subscribers"].([]any)
	for _, subscriber := range subscribers {
		subscription, ok := subscriber.(string)
		if !ok {
			logger.Error("check subscriber is not a string", "subscriber", fmt.Sprint(subscriber))
			continue
		}

		exchangeType := "fanout"
		if scheme, _, found := strings.Cut(subscription, ":"); found && (scheme == "direct" || scheme == "roundrobin") {
			exchangeType = "direct"
		}
		if err := s.Transport.Publish(ctx, exchangeType, subscription, message); err != nil {
			logger.Error("failed to publish check request", "subscription", subscription, "error", err)
		}
	}
}

// publishCheckResult wraps a check result in the standard envelope and
// publishes it to the results pipe for processing.
func (s *Server) publishCheckResult(ctx context.Context, clientName string, check map[string]any) {
	logger := LoggerFromContext(ctx)

	now := time.Now().Unix()
	check["issued"] = now
	check["executed"] = now
	if check["status"] == nil {
		check["status"] = 0
	}

	message, err := json.Marshal(map[string]any{
		"client": clientName,
		"check":  check,
	})
	if err != nil {
		logger.Error("failed to encode check result", "error", err)
		return
	}
	logger.Info("publishing check result", "payload", string(message))

	if err := s.Transport.Publish(ctx, "direct", "results", message); err != nil {
		logger.Error("failed to publish check result", "error", err)
	}
}

// resolveEvent publishes a forced-OK result for the event's check, which
// clears the event once the pipeline processes it.
func (s *Server) resolveEvent(ctx context.Context, eventJSON string) error {
	var event struct {
		Client struct {
			Name string `json:"name"`
		} `json:"client"`
		Check map[string]any `json:"check"`
	}
	if err := json.Unmarshal([]byte(eventJSON), &event); err != nil {
		return fmt.Errorf("parse event: %w", err)
	}

	check := make(map[string]any, len(event.Check)+3)
	for key, value := range event.Check {
		check[key] = value
	}
	check["output"] = "Resolving on request of the API"
	check["status"] = 0
	check["force_resolve"] = true
	delete(check, "history")

	s.publishCheckResult(ctx, event.Client.Name, check)
	return nil
}
