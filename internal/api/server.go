package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/dgnsrekt/reqlens/internal/core"
	"github.com/dgnsrekt/reqlens/internal/relay"
	"github.com/dgnsrekt/reqlens/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Service interface {
	Handle(ctx context.Context, msg types.Message) (any, error)
	Status(ctx context.Context) (core.Status, error)
}

type replyOutput struct {
	Body any
}

type requestsOutput struct {
	Body types.RequestsReply
}

// rawInput takes the JSON body unvalidated; DecodeMessage owns the checks.
type rawInput struct {
	RawBody []byte
}

func NewServer(svc Service, broker *relay.Broker) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)

	cfg := huma.DefaultConfig("reqlens API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(docsHTML)); err != nil {
			slog.Debug("Docs response write failed", "error", err)
		}
	})
	if broker != nil {
		router.Get("/api/v1/events", relay.SSEHandler(broker))
	}
	router.Get("/api/v1/bridge", bridgeHandler(svc))

	registerHealthHandlers(api, svc)
	registerMessageHandlers(api, svc)
	registerCaptureHandlers(api, svc)
	registerDiscoveryHandlers(api, svc)
	registerPreferenceHandlers(api, svc)

	return router
}

func registerHealthHandlers(api huma.API, svc Service) {
	type healthOutput struct {
		Body struct {
			Status string      `json:"status"`
			State  core.Status `json:"state"`
		}
	}

	huma.Register(api, huma.Operation{OperationID: "health", Method: http.MethodGet, Path: "/health", Summary: "Service health and in-memory counters", Tags: []string{"Health"}},
		func(ctx context.Context, input *struct{}) (*healthOutput, error) {
			st, err := svc.Status(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &healthOutput{}
			out.Body.Status = "ok"
			out.Body.State = st
			return out, nil
		})
}

func registerMessageHandlers(api huma.API, svc Service) {
	huma.Register(api, huma.Operation{OperationID: "dispatch-message", Method: http.MethodPost, Path: "/api/v1/messages", Summary: "Dispatch one tagged message ({\"action\": ...})", Tags: []string{"Messages"}},
		func(ctx context.Context, input *rawInput) (*replyOutput, error) {
			msg, err := types.DecodeMessage(input.RawBody, "")
			if err != nil {
				return nil, mapErr(err)
			}
			reply, err := svc.Handle(ctx, msg)
			if err != nil {
				return nil, mapErr(err)
			}
			return &replyOutput{Body: reply}, nil
		})
}

func registerCaptureHandlers(api huma.API, svc Service) {
	rawAction := func(id, method, path, summary string, action types.Action) {
		huma.Register(api, huma.Operation{OperationID: id, Method: method, Path: path, Summary: summary, Tags: []string{"Capture"}},
			func(ctx context.Context, input *rawInput) (*replyOutput, error) {
				reply, err := dispatchAction(ctx, svc, action, input.RawBody)
				if err != nil {
					return nil, mapErr(err)
				}
				return &replyOutput{Body: reply}, nil
			})
	}
	rawAction("capture-body", http.MethodPost, "/api/v1/capture/body", "Deliver an in-page request body", types.ActionCaptureBody)
	rawAction("capture-response", http.MethodPost, "/api/v1/capture/response", "Deliver an in-page response body", types.ActionCaptureResponse)
	rawAction("capture-document", http.MethodPost, "/api/v1/capture/document", "Deliver rendered document content", types.ActionCaptureDocument)
	rawAction("import-requests", http.MethodPost, "/api/v1/requests/import", "Replace the capture log with imported records", types.ActionImportHistory)

	huma.Register(api, huma.Operation{OperationID: "list-requests", Method: http.MethodGet, Path: "/api/v1/requests", Summary: "List captured requests within the message size ceiling", Tags: []string{"Capture"}},
		func(ctx context.Context, input *struct{}) (*requestsOutput, error) {
			return handleRequests(ctx, svc, types.GetRequests{})
		})

	huma.Register(api, huma.Operation{OperationID: "export-requests", Method: http.MethodGet, Path: "/api/v1/requests/export", Summary: "Export the full capture log", Tags: []string{"Capture"}},
		func(ctx context.Context, input *struct{}) (*requestsOutput, error) {
			return handleRequests(ctx, svc, types.GetRequestsForExport{})
		})

	huma.Register(api, huma.Operation{OperationID: "clear-requests", Method: http.MethodDelete, Path: "/api/v1/requests", Summary: "Clear captured requests and endpoint discovery", Tags: []string{"Capture"}},
		func(ctx context.Context, input *struct{}) (*replyOutput, error) {
			reply, err := svc.Handle(ctx, types.ClearRequests{})
			if err != nil {
				return nil, mapErr(err)
			}
			return &replyOutput{Body: reply}, nil
		})
}

func handleRequests(ctx context.Context, svc Service, msg types.Message) (*requestsOutput, error) {
	reply, err := svc.Handle(ctx, msg)
	if err != nil {
		return nil, mapErr(err)
	}
	requests, ok := reply.(types.RequestsReply)
	if !ok {
		return nil, huma.Error500InternalServerError(fmt.Sprintf("unexpected reply %T", reply))
	}
	if requests.Requests == nil {
		requests.Requests = []types.CapturedRequest{}
	}
	return &requestsOutput{Body: requests}, nil
}

func registerDiscoveryHandlers(api huma.API, svc Service) {
	type snapshotOutput struct {
		Body types.InterceptionSnapshot
	}

	huma.Register(api, huma.Operation{OperationID: "scan-script", Method: http.MethodPost, Path: "/api/v1/scripts/scan", Summary: "Queue a script for endpoint discovery", Tags: []string{"Discovery"}},
		func(ctx context.Context, input *rawInput) (*replyOutput, error) {
			reply, err := dispatchAction(ctx, svc, types.ActionScanScript, input.RawBody)
			if err != nil {
				return nil, mapErr(err)
			}
			return &replyOutput{Body: reply}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "list-endpoints", Method: http.MethodGet, Path: "/api/v1/tabs/{tab_id}/endpoints", Summary: "Endpoint catalog discovered for a tab", Tags: []string{"Discovery"}},
		func(ctx context.Context, input *struct {
			TabID string `path:"tab_id"`
		}) (*snapshotOutput, error) {
			reply, err := svc.Handle(ctx, types.GetInterceptionData{TabID: types.TabID(input.TabID)})
			if err != nil {
				return nil, mapErr(err)
			}
			snap, ok := reply.(types.InterceptionSnapshot)
			if !ok {
				return nil, huma.Error500InternalServerError(fmt.Sprintf("unexpected reply %T", reply))
			}
			return &snapshotOutput{Body: snap}, nil
		})
}

func registerPreferenceHandlers(api huma.API, svc Service) {
	huma.Register(api, huma.Operation{OperationID: "get-hide-static", Method: http.MethodGet, Path: "/api/v1/preferences/hide-static", Summary: "Get the static-resource filter", Tags: []string{"Preferences"}},
		func(ctx context.Context, input *struct{}) (*replyOutput, error) {
			reply, err := svc.Handle(ctx, types.GetHideStaticResources{})
			if err != nil {
				return nil, mapErr(err)
			}
			return &replyOutput{Body: reply}, nil
		})

	huma.Register(api, huma.Operation{OperationID: "set-hide-static", Method: http.MethodPut, Path: "/api/v1/preferences/hide-static", Summary: "Set the static-resource filter", Tags: []string{"Preferences"}},
		func(ctx context.Context, input *struct {
			Body struct {
				Enabled *bool `json:"enabled,omitempty" doc:"Hide static and framework resources. Omit to enable."`
			}
		}) (*replyOutput, error) {
			enabled := input.Body.Enabled == nil || *input.Body.Enabled
			reply, err := svc.Handle(ctx, types.SetHideStaticResources{Enabled: enabled})
			if err != nil {
				return nil, mapErr(err)
			}
			return &replyOutput{Body: reply}, nil
		})
}

// dispatchAction wraps a route body as the data of an action message, so
// routes and the raw message endpoint decode identically.
func dispatchAction(ctx context.Context, svc Service, action types.Action, body []byte) (any, error) {
	body = bytes.TrimSpace(body)
	if action == types.ActionImportHistory && len(body) > 0 && body[0] == '[' {
		body = append(append([]byte(`{"requests":`), body...), '}')
	}
	env := struct {
		Action types.Action    `json:"action"`
		Data   json.RawMessage `json:"data,omitempty"`
	}{Action: action, Data: body}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, types.NewError(types.CodeValidation, "request body is not valid JSON", err)
	}
	msg, err := types.DecodeMessage(raw, "")
	if err != nil {
		return nil, err
	}
	return svc.Handle(ctx, msg)
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *types.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case types.CodeValidation, types.CodeUnknownAction:
			return huma.Error400BadRequest(coded.Message)
		case types.CodeUnavailable:
			return huma.Error503ServiceUnavailable(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return huma.Error503ServiceUnavailable(err.Error())
	}
	return huma.Error500InternalServerError(err.Error())
}
