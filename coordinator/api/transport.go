package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/go-chi/chi/v5"
	kithttp "github.com/go-kit/kit/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Abhishek-yadav04/agis-flow-test/coordinator"
	pkgerrors "github.com/Abhishek-yadav04/agis-flow-test/pkg/errors"
	"github.com/Abhishek-yadav04/agis-flow-test/pkg/fl"
	"github.com/Abhishek-yadav04/agis-flow-test/pkg/privacy"
	"github.com/Abhishek-yadav04/agis-flow-test/registry"
)

const (
	defListLimit  = 100
	defRoundLimit = 50
)

// MakeHandler wires the coordinator and registry into the HTTP surface.
func MakeHandler(svc coordinator.Service, reg *registry.Service, hub *StreamHub, logger *slog.Logger) http.Handler {
	opts := []kithttp.ServerOption{
		kithttp.ServerErrorEncoder(encodeError),
	}

	mux := chi.NewRouter()

	mux.Get("/status", kithttp.NewServer(
		makeStatusEndpoint(svc),
		decodeEmptyRequest,
		encodeJSONResponse,
		opts...,
	).ServeHTTP)

	mux.Post("/start", kithttp.NewServer(
		makeStartEndpoint(svc),
		decodeEmptyRequest,
		encodeJSONResponse,
		opts...,
	).ServeHTTP)

	mux.Post("/stop", kithttp.NewServer(
		makeStopEndpoint(svc),
		decodeEmptyRequest,
		encodeJSONResponse,
		opts...,
	).ServeHTTP)

	mux.Route("/clients", func(r chi.Router) {
		r.Get("/", kithttp.NewServer(
			makeListClientsEndpoint(reg),
			decodeListClientsRequest,
			encodeJSONResponse,
			opts...,
		).ServeHTTP)
		r.Post("/register", kithttp.NewServer(
			makeRegisterClientEndpoint(reg),
			decodeRegisterClientRequest,
			encodeJSONResponse,
			opts...,
		).ServeHTTP)
		r.Post("/{client_id}/heartbeat", kithttp.NewServer(
			makeHeartbeatEndpoint(reg),
			decodeHeartbeatRequest,
			encodeJSONResponse,
			opts...,
		).ServeHTTP)
	})

	mux.Route("/updates", func(r chi.Router) {
		r.Post("/", kithttp.NewServer(
			makeSubmitUpdateEndpoint(svc),
			decodeSubmitUpdateRequest,
			encodeJSONResponse,
			opts...,
		).ServeHTTP)
		r.Post("/cbor", kithttp.NewServer(
			makeSubmitUpdateEndpoint(svc),
			decodeSubmitUpdateCBORRequest,
			encodeJSONResponse,
			opts...,
		).ServeHTTP)
	})

	mux.Get("/models/{version}", kithttp.NewServer(
		makeGetModelEndpoint(svc),
		decodeGetModelRequest,
		encodeJSONResponse,
		opts...,
	).ServeHTTP)

	mux.Get("/rounds", kithttp.NewServer(
		makeListRoundsEndpoint(svc),
		decodeListRoundsRequest,
		encodeJSONResponse,
		opts...,
	).ServeHTTP)

	if hub != nil {
		mux.Get("/ws", hub.ServeHTTP)
	}

	mux.Handle("/metrics", promhttp.Handler())

	return otelhttp.NewHandler(mux, "agisflow-coordinator")
}

func decodeEmptyRequest(_ context.Context, _ *http.Request) (interface{}, error) {
	return nil, nil
}

func decodeRegisterClientRequest(_ context.Context, r *http.Request) (interface{}, error) {
	if !strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		return nil, errUnsupportedContentType
	}

	var req registerClientReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Join(pkgerrors.ErrInvalidData, err)
	}

	return req, nil
}

func decodeHeartbeatRequest(_ context.Context, r *http.Request) (interface{}, error) {
	return heartbeatReq{ClientID: chi.URLParam(r, "client_id")}, nil
}

func decodeSubmitUpdateRequest(_ context.Context, r *http.Request) (interface{}, error) {
	if !strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		return nil, errUnsupportedContentType
	}

	var req submitUpdateReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Join(pkgerrors.ErrInvalidData, err)
	}

	return req, nil
}

// decodeSubmitUpdateCBORRequest keeps high-dimension parameter vectors off
// the JSON hot path.
func decodeSubmitUpdateCBORRequest(_ context.Context, r *http.Request) (interface{}, error) {
	if !strings.Contains(r.Header.Get("Content-Type"), "application/cbor") {
		return nil, errUnsupportedContentType
	}

	var req submitUpdateReq
	if err := cbor.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errors.Join(pkgerrors.ErrInvalidData, err)
	}

	return req, nil
}

func decodeListClientsRequest(_ context.Context, r *http.Request) (interface{}, error) {
	req := listClientsReq{Limit: defListLimit}
	if v := r.URL.Query().Get("offset"); v != "" {
		offset, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, errors.Join(pkgerrors.ErrInvalidData, err)
		}
		req.Offset = offset
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, errors.Join(pkgerrors.ErrInvalidData, err)
		}
		req.Limit = limit
	}

	return req, nil
}

func decodeGetModelRequest(_ context.Context, r *http.Request) (interface{}, error) {
	version, err := strconv.ParseUint(chi.URLParam(r, "version"), 10, 64)
	if err != nil {
		return nil, errors.Join(pkgerrors.ErrInvalidData, err)
	}

	return getModelReq{Version: version}, nil
}

func decodeListRoundsRequest(_ context.Context, r *http.Request) (interface{}, error) {
	req := listRoundsReq{Limit: defRoundLimit}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return nil, errors.Join(pkgerrors.ErrInvalidData, err)
		}
		req.Limit = limit
	}

	return req, nil
}

func encodeJSONResponse(_ context.Context, w http.ResponseWriter, response interface{}) error {
	w.Header().Set("Content-Type", "application/json")

	return json.NewEncoder(w).Encode(response)
}

var errUnsupportedContentType = errors.New("unsupported content type")

func encodeError(_ context.Context, err error, w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")

	switch {
	case errors.Is(err, registry.ErrUnknownClient),
		errors.Is(err, pkgerrors.ErrNotFound),
		errors.Is(err, coordinator.ErrNoPersistedState):
		w.WriteHeader(http.StatusNotFound)
	case errors.Is(err, registry.ErrDuplicateClient),
		errors.Is(err, coordinator.ErrDuplicateUpdate):
		w.WriteHeader(http.StatusConflict)
	case errors.Is(err, coordinator.ErrNotSelected):
		w.WriteHeader(http.StatusForbidden)
	case errors.Is(err, coordinator.ErrRoundExpired),
		errors.Is(err, coordinator.ErrRoundNotOpen):
		w.WriteHeader(http.StatusGone)
	case errors.Is(err, privacy.ErrBudgetExhausted):
		w.WriteHeader(http.StatusTooManyRequests)
	case errors.Is(err, pkgerrors.ErrInvalidData),
		errors.Is(err, fl.ErrDimensionMismatch),
		errors.Is(err, fl.ErrZeroSamples),
		errors.Is(err, errUnsupportedContentType):
		w.WriteHeader(http.StatusBadRequest)
	default:
		w.WriteHeader(http.StatusInternalServerError)
	}

	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
