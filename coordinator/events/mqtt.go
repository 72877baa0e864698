// Package events bridges the coordinator to an MQTT broker: round broadcasts
// go out as retained-free JSON messages, and client lifecycle plus update
// submissions come back in on the control topics.
package events

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Abhishek-yadav04/agis-flow-test/coordinator"
	"github.com/Abhishek-yadav04/agis-flow-test/metrics"
	"github.com/Abhishek-yadav04/agis-flow-test/pkg/crypto"
	"github.com/Abhishek-yadav04/agis-flow-test/pkg/fl"
	"github.com/Abhishek-yadav04/agis-flow-test/pkg/mqtt"
	"github.com/Abhishek-yadav04/agis-flow-test/registry"
)

const (
	TopicRoundStart     = "agisflow/coordinator/round/start"
	TopicRoundModel     = "agisflow/coordinator/round/model"
	TopicRoundCompleted = "agisflow/coordinator/round/completed"
	TopicClientRegister = "agisflow/control/client/create"
	TopicClientAlive    = "agisflow/control/client/alive"
	TopicUpdateSubmit   = "agisflow/control/client/update"
)

// MQTTBroadcaster publishes round starts and the current global model.
type MQTTBroadcaster struct {
	pubsub mqtt.PubSub
}

func NewMQTTBroadcaster(pubsub mqtt.PubSub) *MQTTBroadcaster {
	return &MQTTBroadcaster{pubsub: pubsub}
}

func (b *MQTTBroadcaster) BroadcastModel(ctx context.Context, round coordinator.Round, model fl.GlobalModel) error {
	start := map[string]any{
		"round_id":         round.ID,
		"selected_clients": round.Selected,
		"started_at":       round.StartedAt,
	}
	if err := b.pubsub.Publish(ctx, TopicRoundStart, start); err != nil {
		return fmt.Errorf("failed to announce round %d: %w", round.ID, err)
	}

	payload := map[string]any{
		"round_id":      round.ID,
		"model_version": model.Version,
		"parameters":    model.Parameters,
	}
	if err := b.pubsub.Publish(ctx, TopicRoundModel, payload); err != nil {
		return fmt.Errorf("failed to broadcast model for round %d: %w", round.ID, err)
	}

	return nil
}

// Listener subscribes to the client-facing control topics and feeds them into
// the registry and the coordinator. When updateKey is set, submissions may
// arrive as AES-GCM sealed envelopes instead of plaintext JSON.
type Listener struct {
	pubsub      mqtt.PubSub
	registry    *registry.Service
	coordinator coordinator.Service
	updateKey   []byte
	logger      *slog.Logger
}

func NewListener(pubsub mqtt.PubSub, reg *registry.Service, coord coordinator.Service, updateKey []byte, logger *slog.Logger) *Listener {
	return &Listener{
		pubsub:      pubsub,
		registry:    reg,
		coordinator: coord,
		updateKey:   updateKey,
		logger:      logger,
	}
}

func (l *Listener) Subscribe(ctx context.Context) error {
	if err := l.pubsub.Subscribe(ctx, TopicClientRegister, l.handleRegister); err != nil {
		return fmt.Errorf("failed to subscribe to client registrations: %w", err)
	}
	if err := l.pubsub.Subscribe(ctx, TopicClientAlive, l.handleAlive); err != nil {
		return fmt.Errorf("failed to subscribe to client liveness: %w", err)
	}
	if err := l.pubsub.Subscribe(ctx, TopicUpdateSubmit, l.handleUpdate); err != nil {
		return fmt.Errorf("failed to subscribe to update submissions: %w", err)
	}

	return nil
}

func (l *Listener) handleRegister(topic string, msg map[string]interface{}) error {
	clientID, ok := msg["client_id"].(string)
	if !ok || clientID == "" {
		return errors.New("registration without client_id")
	}
	datasetSize, ok := msg["dataset_size"].(float64)
	if !ok || datasetSize <= 0 {
		return fmt.Errorf("client %s registration with invalid dataset_size", clientID)
	}

	client, err := l.registry.Register(context.Background(), clientID, uint64(datasetSize))
	if err != nil {
		return fmt.Errorf("failed to register client %s: %w", clientID, err)
	}

	l.logger.Info("client registered over MQTT", "client_id", client.ID, "name", client.Name)

	return nil
}

func (l *Listener) handleAlive(topic string, msg map[string]interface{}) error {
	clientID, ok := msg["client_id"].(string)
	if !ok || clientID == "" {
		return errors.New("liveness message without client_id")
	}

	ctx := context.Background()
	if status, ok := msg["status"].(string); ok && status == "offline" {
		// Broker LWT fired for a dropped connection.
		return l.registry.MarkOffline(ctx, clientID)
	}

	return l.registry.Heartbeat(ctx, clientID, time.Now())
}

func (l *Listener) handleUpdate(topic string, msg map[string]interface{}) error {
	update, err := l.decodeUpdate(msg)
	if err != nil {
		return err
	}

	if err := l.coordinator.SubmitUpdate(context.Background(), update); err != nil {
		l.logger.Warn("rejected MQTT update",
			"client_id", update.ClientID,
			"round_id", update.RoundID,
			"error", err)

		return err
	}

	return nil
}

func (l *Listener) decodeUpdate(msg map[string]interface{}) (fl.ModelUpdate, error) {
	if sealed, ok := msg["sealed"].(string); ok {
		if len(l.updateKey) == 0 {
			return fl.ModelUpdate{}, errors.New("sealed update received but no update key configured")
		}
		envelope, err := base64.StdEncoding.DecodeString(sealed)
		if err != nil {
			return fl.ModelUpdate{}, fmt.Errorf("failed to decode sealed envelope: %w", err)
		}

		return crypto.OpenUpdate(envelope, l.updateKey)
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		return fl.ModelUpdate{}, fmt.Errorf("failed to re-encode update message: %w", err)
	}
	var update fl.ModelUpdate
	if err := json.Unmarshal(raw, &update); err != nil {
		return fl.ModelUpdate{}, fmt.Errorf("failed to decode model update: %w", err)
	}

	return update, nil
}

// Sink mirrors completed-round snapshots onto the broker for dashboard
// consumers that cannot hold a websocket open.
type Sink struct {
	pubsub mqtt.PubSub
	logger *slog.Logger
}

func NewSink(pubsub mqtt.PubSub, logger *slog.Logger) *Sink {
	return &Sink{pubsub: pubsub, logger: logger}
}

func (s *Sink) RoundCompleted(snapshot metrics.Snapshot) {
	if err := s.pubsub.Publish(context.Background(), TopicRoundCompleted, snapshot); err != nil {
		s.logger.Warn("failed to publish round completion", "error", err)
	}
}
