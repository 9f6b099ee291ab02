package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"telegram-agent/internal/telegram"
	"telegram-agent/internal/usecase"
)

type Response struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
}

// TurnProcessor is the orchestrator surface consumed by the handler.
type TurnProcessor interface {
	Process(ctx context.Context, msg usecase.Message) error
}

// Handler acknowledges every Telegram webhook delivery with HTTP 200.
// Malformed payloads, irrelevant updates, and internal failures all take the
// same outward path; anything else would make Telegram redeliver the update
// and retry-storm the function on transient faults.
type Handler struct {
	turns TurnProcessor
}

func NewHandler(turns TurnProcessor) (*Handler, error) {
	if turns == nil {
		return nil, errors.New("handler: turn processor must not be nil")
	}
	return &Handler{turns: turns}, nil
}

type ackResponse struct {
	Status string `json:"status"`
}

func (h *Handler) Handle(ctx context.Context, event events.APIGatewayProxyRequest) (Response, error) {
	corrID := correlationID(event.Headers)
	log := slog.With("correlationId", corrID)

	in, ok, err := telegram.ParseIncoming([]byte(event.Body))
	if err != nil {
		// Same ack as an irrelevant update, but logged distinctly so a bad
		// upstream shows up in operator logs.
		log.Warn("drop malformed update", "err", err)
		return ack(corrID), nil
	}
	if !ok {
		log.Debug("drop non-actionable update")
		return ack(corrID), nil
	}

	if err := h.turns.Process(ctx, usecase.Message{
		ChatID:   in.ChatID,
		SenderID: in.SenderID,
		Handle:   in.Handle,
		Text:     in.Text,
	}); err != nil {
		log.Error("turn processing failed", "senderId", in.SenderID, "err", err)
	}
	return ack(corrID), nil
}

func ack(corrID string) Response {
	body, _ := json.Marshal(ackResponse{Status: "ok"})
	return Response{
		StatusCode: http.StatusOK,
		Headers: map[string]string{
			"content-type":     "application/json",
			"X-Correlation-Id": corrID,
		},
		Body: string(body),
	}
}

func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, "x-correlation-id") && strings.TrimSpace(v) != "" {
			return v
		}
	}
	return uuid.NewString()
}
