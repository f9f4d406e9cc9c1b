package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mohammed-shakir/exec-insight-cache/internal/core/model"
	"github.com/mohammed-shakir/exec-insight-cache/internal/core/observability"
	"github.com/mohammed-shakir/exec-insight-cache/internal/insight"
	"github.com/mohammed-shakir/exec-insight-cache/internal/insight/schema"
	"github.com/mohammed-shakir/exec-insight-cache/internal/ops"
)

const (
	RouteInsight  = "/api/insights/executive"
	RouteOpsState = "/api/ops/insight-status"

	maxBodyBytes = 64 << 10
)

// serves the executive insight for one request
type InsightService interface {
	GetInsight(ctx context.Context, in model.Input, opts insight.Options) (model.Response, error)
}

type StatusReporter interface {
	Status(ctx context.Context) ops.Snapshot
}

type errorBody struct {
	Error  string `json:"error"`
	Rule   string `json:"rule,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// validates the request body and calls the service
func HandleInsight(logger *slog.Logger, svc InsightService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		defer func() {
			observability.ObserveHTTP(r.Method, RouteInsight, sw.code, time.Since(start).Seconds())
		}()

		in, opts, err := ParseInsightRequest(r)
		if err != nil {
			writeJSON(sw, http.StatusBadRequest, errorBody{Error: "invalid_input", Detail: err.Error()})
			return
		}

		resp, err := svc.GetInsight(r.Context(), in, opts)
		if err != nil {
			code, body := mapError(err)
			logger.WarnContext(r.Context(), "insight request failed",
				"status", code, "region", in.Region, "brand", in.Brand, "err", err)
			writeJSON(sw, code, body)
			return
		}
		writeJSON(sw, http.StatusOK, resp)
	}
}

// HandleOpsStatus answers 503 with the zeroed snapshot when the store is
// unreachable so monitors can alert on the status code alone.
func HandleOpsStatus(rep StatusReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}

		snap := rep.Status(r.Context())
		code := http.StatusOK
		if !snap.StoreOK {
			code = http.StatusServiceUnavailable
		}
		writeJSON(sw, code, snap)
		observability.ObserveHTTP(r.Method, RouteOpsState, sw.code, time.Since(start).Seconds())
	}
}

func mapError(err error) (int, errorBody) {
	var ge *model.GenerationError
	switch {
	case errors.Is(err, model.ErrInvalidInput):
		return http.StatusBadRequest, errorBody{Error: "invalid_input", Detail: err.Error()}
	case errors.Is(err, model.ErrConfiguration):
		return http.StatusServiceUnavailable, errorBody{Error: "insight_not_configured"}
	case errors.As(err, &ge):
		body := errorBody{Error: "insight_generation_failed"}
		var ve *schema.ValidationError
		if errors.As(err, &ve) {
			body.Rule = ve.Rule
		}
		return http.StatusBadGateway, body
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errorBody{Error: "timeout"}
	default:
		return http.StatusInternalServerError, errorBody{Error: "internal_error"}
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// ParseInsightRequest decodes the JSON body and the refresh query flag.
func ParseInsightRequest(r *http.Request) (model.Input, insight.Options, error) {
	var opts insight.Options
	if raw := strings.TrimSpace(r.URL.Query().Get("refresh")); raw != "" {
		force, err := strconv.ParseBool(raw)
		if err != nil {
			return model.Input{}, opts, fmt.Errorf("invalid refresh flag %q", raw)
		}
		opts.ForceRefresh = force
	}

	if r.Body == nil {
		return model.Input{}, opts, errors.New("missing request body")
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	var in model.Input
	if err := dec.Decode(&in); err != nil {
		if errors.Is(err, io.EOF) {
			return model.Input{}, opts, errors.New("missing request body")
		}
		return model.Input{}, opts, fmt.Errorf("decode body: %w", err)
	}
	in.Region = strings.TrimSpace(in.Region)
	in.Brand = strings.TrimSpace(in.Brand)
	in.Date = strings.TrimSpace(in.Date)
	in.Mode = model.Mode(strings.ToUpper(strings.TrimSpace(string(in.Mode))))

	if err := in.Validate(); err != nil {
		return model.Input{}, opts, err
	}
	return in, opts, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
