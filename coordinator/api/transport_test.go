package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"

	"github.com/Abhishek-yadav04/agis-flow-test/coordinator"
	"github.com/Abhishek-yadav04/agis-flow-test/metrics"
	"github.com/Abhishek-yadav04/agis-flow-test/pkg/fl"
	"github.com/Abhishek-yadav04/agis-flow-test/pkg/privacy"
	"github.com/Abhishek-yadav04/agis-flow-test/pkg/storage"
	"github.com/Abhishek-yadav04/agis-flow-test/registry"
)

func newTestServer(t *testing.T) (*httptest.Server, coordinator.Service, *registry.Service) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.NewService(storage.NewInMemoryStorage(), time.Minute, logger)

	cfg := coordinator.DefaultConfig()
	cfg.ModelDimension = 2
	cfg.Mode = privacy.ModeOff

	agg, err := fl.NewAggregatorForPolicy(cfg.Policy)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pub := metrics.NewPublisher(cfg.Mode, cfg.Policy.Policy, 1.0, 10, 0.3)

	svc, err := coordinator.NewService(cfg, reg, agg, nil, nil, nil, pub, nil, logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	hub := NewStreamHub(logger)
	svc.AddEventSink(hub)

	srv := httptest.NewServer(MakeHandler(svc, reg, hub, logger))
	t.Cleanup(srv.Close)

	return srv, svc, reg
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	res, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	return res
}

func TestStatusEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	res, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}

	var snap metrics.Snapshot
	if err := json.NewDecoder(res.Body).Decode(&snap); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.TrainingActive {
		t.Error("expected training inactive at startup")
	}
	if snap.ModelVersion != 0 {
		t.Errorf("expected model version 0, got %d", snap.ModelVersion)
	}
}

func TestStartIdempotent(t *testing.T) {
	srv, _, _ := newTestServer(t)

	first := postJSON(t, srv.URL+"/start", nil)
	defer first.Body.Close()
	if first.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", first.StatusCode)
	}

	second := postJSON(t, srv.URL+"/start", nil)
	defer second.Body.Close()
	if second.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for repeated start, got %d", second.StatusCode)
	}
	var state sessionStateRes
	if err := json.NewDecoder(second.Body).Decode(&state); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !state.TrainingActive {
		t.Error("expected training active after repeated start")
	}

	stop := postJSON(t, srv.URL+"/stop", nil)
	defer stop.Body.Close()
	if stop.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", stop.StatusCode)
	}
}

func TestRegisterClient(t *testing.T) {
	srv, _, _ := newTestServer(t)

	res := postJSON(t, srv.URL+"/clients/register", map[string]any{
		"client_id":    "client-1",
		"dataset_size": 500,
	})
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}

	var body registerClientRes
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body.Client.ID != "client-1" || body.Client.Name == "" {
		t.Errorf("unexpected client %+v", body.Client)
	}

	dup := postJSON(t, srv.URL+"/clients/register", map[string]any{
		"client_id":    "client-1",
		"dataset_size": 500,
	})
	defer dup.Body.Close()
	if dup.StatusCode != http.StatusConflict {
		t.Errorf("expected 409 for duplicate, got %d", dup.StatusCode)
	}
}

func TestRegisterClientValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)

	res := postJSON(t, srv.URL+"/clients/register", map[string]any{"client_id": "x"})
	defer res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for missing dataset_size, got %d", res.StatusCode)
	}

	// Missing client_id gets a generated one.
	anon := postJSON(t, srv.URL+"/clients/register", map[string]any{"dataset_size": 500})
	defer anon.Body.Close()
	if anon.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 for anonymous registration, got %d", anon.StatusCode)
	}
	var body registerClientRes
	if err := json.NewDecoder(anon.Body).Decode(&body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body.Client.ID == "" {
		t.Error("expected a generated client id")
	}
}

func TestHeartbeatUnknownClient(t *testing.T) {
	srv, _, _ := newTestServer(t)

	res := postJSON(t, srv.URL+"/clients/ghost/heartbeat", nil)
	defer res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", res.StatusCode)
	}
}

func TestListClients(t *testing.T) {
	srv, _, reg := newTestServer(t)
	ctx := t.Context()

	for _, id := range []string{"a", "b", "c"} {
		if _, err := reg.Register(ctx, id, 100); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	res, err := http.Get(srv.URL + "/clients?limit=2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer res.Body.Close()

	var page registry.ClientPage
	if err := json.NewDecoder(res.Body).Decode(&page); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.Total != 3 || len(page.Clients) != 2 {
		t.Errorf("expected total 3 limit 2, got %+v", page)
	}
}

func TestSubmitUpdateWithoutRound(t *testing.T) {
	srv, _, _ := newTestServer(t)

	res := postJSON(t, srv.URL+"/updates", map[string]any{
		"client_id":   "client-1",
		"round_id":    1,
		"parameters":  []float64{1, 2},
		"num_samples": 10,
	})
	defer res.Body.Close()
	if res.StatusCode != http.StatusGone {
		t.Errorf("expected 410 with no open round, got %d", res.StatusCode)
	}
}

func TestSubmitUpdateCBOR(t *testing.T) {
	srv, _, _ := newTestServer(t)

	data, err := cbor.Marshal(submitUpdateReq{
		ClientID:   "client-1",
		RoundID:    1,
		Parameters: []float64{1, 2},
		NumSamples: 10,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := http.Post(srv.URL+"/updates/cbor", "application/cbor", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer res.Body.Close()
	// Decoded fine, rejected by round logic.
	if res.StatusCode != http.StatusGone {
		t.Errorf("expected 410, got %d", res.StatusCode)
	}

	bad, err := http.Post(srv.URL+"/updates/cbor", "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for wrong content type, got %d", bad.StatusCode)
	}
}

func TestGetModel(t *testing.T) {
	srv, svc, _ := newTestServer(t)

	res, err := http.Get(srv.URL + "/models/0")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}

	var body modelRes
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body.Version != svc.CurrentModel().Version {
		t.Errorf("unexpected version %d", body.Version)
	}

	missing, err := http.Get(srv.URL + "/models/99")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", missing.StatusCode)
	}
}

func TestListRoundsEmpty(t *testing.T) {
	srv, _, _ := newTestServer(t)

	res, err := http.Get(srv.URL + "/rounds")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}

	var rounds []coordinator.Round
	if err := json.NewDecoder(res.Body).Decode(&rounds); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rounds) != 0 {
		t.Errorf("expected no rounds, got %d", len(rounds))
	}
}

func TestWebsocketPush(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	hub := NewStreamHub(logger)

	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, res, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res != nil {
		res.Body.Close()
	}
	defer conn.Close()

	// Subscription registers asynchronously with the upgrade.
	deadline := time.Now().Add(2 * time.Second)
	go func() {
		for time.Now().Before(deadline) {
			hub.RoundCompleted(metrics.Snapshot{CurrentRound: 4, GlobalAccuracy: 0.91})
			time.Sleep(10 * time.Millisecond)
		}
	}()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var snap metrics.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.CurrentRound != 4 {
		t.Errorf("expected round 4, got %d", snap.CurrentRound)
	}
}
