package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgnsrekt/boxoffice_relay/internal/admission"
	"github.com/dgnsrekt/boxoffice_relay/internal/cache"
	"github.com/dgnsrekt/boxoffice_relay/internal/metrics"
	"github.com/dgnsrekt/boxoffice_relay/internal/protocol"
)

const boxOfficePath = "/api/v1/boxoffice"

// Source is the cache-aware read behind the polling fallback.
type Source interface {
	Load(ctx context.Context, key string) (cache.Entry, bool)
	Stats() cache.Stats
}

// Options wires the HTTP surface. Nil Limiter, Metrics or Process disable
// their part; a nil WebSocket leaves /ws unrouted.
type Options struct {
	Source         Source
	Limiter        *admission.Limiter
	Metrics        *metrics.Metrics
	Process        *metrics.ProcessSampler
	WebSocket      http.Handler
	DefaultMovieID string
}

type boxOfficeInput struct {
	MovieID string `query:"movieId" doc:"Movie id. Omit to read the default movie."`
}

type boxOfficeOutput struct {
	ContentType    string `header:"Content-Type"`
	CacheStatus    string `header:"X-Cache" doc:"HIT when served from a fresh cache entry"`
	UpstreamStatus string `header:"X-Upstream-Status" doc:"failed when the payload records an upstream failure"`
	Body           []byte
}

type metricsOutput struct {
	Body struct {
		Connections metrics.Snapshot     `json:"connections"`
		Cache       cache.Stats          `json:"cache"`
		Process     metrics.ProcessStats `json:"process"`
	}
}

func NewServer(opts Options) http.Handler {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.Heartbeat("/healthz"))
	router.Use(allowAnyOrigin)
	if opts.Limiter != nil {
		router.Use(gatePath(boxOfficePath, opts.Limiter.Middleware))
	}

	cfg := huma.DefaultConfig("Box Office Relay API", "1.0.0")
	cfg.DocsPath = ""
	api := humachi.New(router, cfg)

	router.Get("/docs", htmlPage(docsHTML))
	router.Get("/docs/relay", htmlPage(relayDocsHTML))
	if opts.WebSocket != nil {
		router.Get("/ws", opts.WebSocket.ServeHTTP)
	}

	registerBoxOfficeHandlers(api, opts)
	registerMetricsHandlers(api, opts)

	return router
}

func registerBoxOfficeHandlers(api huma.API, opts Options) {
	huma.Register(api, huma.Operation{OperationID: "get-boxoffice", Method: http.MethodGet, Path: boxOfficePath, Summary: "Read the cached or freshly fetched payload for a movie", Tags: []string{"Box Office"}},
		func(ctx context.Context, input *boxOfficeInput) (*boxOfficeOutput, error) {
			key := strings.TrimSpace(input.MovieID)
			if key == "" {
				key = opts.DefaultMovieID
			}
			if key == "" {
				return nil, mapErr(protocol.NewError(protocol.CodeMissingMovieID, "movieId is required", nil))
			}
			if opts.Source == nil {
				return nil, mapErr(protocol.NewError(protocol.CodeUpstream, "no upstream source configured", nil))
			}
			entry, hit := opts.Source.Load(ctx, key)
			out := &boxOfficeOutput{ContentType: "application/json", CacheStatus: "MISS", Body: entry.Payload}
			if hit {
				out.CacheStatus = "HIT"
			}
			if entry.Failed {
				out.UpstreamStatus = "failed"
			}
			return out, nil
		})
}

func registerMetricsHandlers(api huma.API, opts Options) {
	huma.Register(api, huma.Operation{OperationID: "get-metrics", Method: http.MethodGet, Path: "/api/v1/metrics", Summary: "Connection, cache and process counters", Tags: []string{"Metrics"}},
		func(ctx context.Context, input *struct{}) (*metricsOutput, error) {
			out := &metricsOutput{}
			if opts.Metrics != nil {
				out.Body.Connections = opts.Metrics.Snapshot()
			}
			if opts.Source != nil {
				out.Body.Cache = opts.Source.Stats()
			}
			out.Body.Process = opts.Process.Sample()
			return out, nil
		})
}

func htmlPage(page string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		if _, err := w.Write([]byte(page)); err != nil {
			slog.Debug("docs response write failed", "error", err)
		}
	}
}

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var coded *protocol.CodedError
	if errors.As(err, &coded) {
		switch coded.Code {
		case protocol.CodeMissingMovieID, protocol.CodeMalformed, protocol.CodeUnknownType:
			return huma.Error400BadRequest(coded.Message)
		case protocol.CodeRateLimited:
			return huma.Error429TooManyRequests(coded.Message)
		case protocol.CodeUpstream:
			return huma.Error502BadGateway(coded.Message)
		default:
			return huma.Error500InternalServerError(fmt.Sprintf("%s: %s", coded.Code, coded.Message))
		}
	}
	return huma.Error500InternalServerError(err.Error())
}
