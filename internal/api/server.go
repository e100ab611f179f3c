package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgnsrekt/auracap/internal/relay"
	"github.com/dgnsrekt/auracap/internal/types"
)

// Dispatcher routes one message to its handler.
type Dispatcher interface {
	Dispatch(ctx context.Context, tabID string, msg types.Message) types.Response
	Types() []string
}

// HealthFunc reports daemon state for the health endpoint.
type HealthFunc func(ctx context.Context) Health

type Health struct {
	Status      string `json:"status"`
	Tabs        int    `json:"tabs"`
	Attached    int    `json:"attached"`
	Sessions    int    `json:"sessions"`
	StoredCalls int    `json:"storedCalls"`
	SSEClients  int    `json:"sseClients"`
}

type messageInput struct {
	TabID string `header:"X-Tab-ID" doc:"Originating tab id. Required for tab-scoped message types."`
	Body  struct {
		Type    string `json:"type" doc:"Message type, e.g. LIST_API_CALLS"`
		Payload any    `json:"payload,omitempty" doc:"Type-specific payload"`
	}
}

type messageOutput struct {
	Body types.Response
}

type healthOutput struct {
	Body Health
}

type messageTypesOutput struct {
	Body struct {
		Types []string `json:"types"`
	}
}

func NewServer(dispatcher Dispatcher, broker *relay.Broker, health HealthFunc) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("auracap API", "1.0.0")
	cfg.DocsPath = ""
	cfg.Info.Description = apiDescription(dispatcher.Types())
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	})
	router.Get("/api/v1/events", relay.SSEHandler(broker))
	router.Get("/ws", wsHandler(dispatcher, broker))

	huma.Register(api, huma.Operation{
		OperationID: "post-message",
		Method:      http.MethodPost,
		Path:        "/api/v1/messages",
		Summary:     "Send a message to the router",
		Tags:        []string{"Messages"},
	}, func(ctx context.Context, input *messageInput) (*messageOutput, error) {
		if strings.TrimSpace(input.Body.Type) == "" {
			return nil, huma.Error400BadRequest("message type is required")
		}
		msg := types.Message{Type: strings.TrimSpace(input.Body.Type)}
		if input.Body.Payload != nil {
			raw, err := json.Marshal(input.Body.Payload)
			if err != nil {
				return nil, huma.Error400BadRequest("invalid payload", err)
			}
			msg.Payload = raw
		}
		resp := dispatcher.Dispatch(ctx, strings.TrimSpace(input.TabID), msg)
		return &messageOutput{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-message-types",
		Method:      http.MethodGet,
		Path:        "/api/v1/messages/types",
		Summary:     "List accepted message types",
		Tags:        []string{"Messages"},
	}, func(ctx context.Context, input *struct{}) (*messageTypesOutput, error) {
		out := &messageTypesOutput{}
		out.Body.Types = dispatcher.Types()
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/api/v1/health",
		Summary:     "Daemon health",
		Tags:        []string{"Health"},
	}, func(ctx context.Context, input *struct{}) (*healthOutput, error) {
		h := Health{Status: "ok"}
		if health != nil {
			h = health(ctx)
			if h.Status == "" {
				h.Status = "ok"
			}
		}
		if broker != nil {
			h.SSEClients = broker.ClientCount()
		}
		return &healthOutput{Body: h}, nil
	})

	return router
}
