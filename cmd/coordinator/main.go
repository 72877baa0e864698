package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"golang.org/x/sync/errgroup"

	agisflow "github.com/Abhishek-yadav04/agis-flow-test"
	"github.com/Abhishek-yadav04/agis-flow-test/coordinator"
	"github.com/Abhishek-yadav04/agis-flow-test/coordinator/api"
	"github.com/Abhishek-yadav04/agis-flow-test/coordinator/events"
	"github.com/Abhishek-yadav04/agis-flow-test/coordinator/store"
	"github.com/Abhishek-yadav04/agis-flow-test/metrics"
	"github.com/Abhishek-yadav04/agis-flow-test/pkg/crypto"
	"github.com/Abhishek-yadav04/agis-flow-test/pkg/fl"
	"github.com/Abhishek-yadav04/agis-flow-test/pkg/mqtt"
	"github.com/Abhishek-yadav04/agis-flow-test/pkg/privacy"
	"github.com/Abhishek-yadav04/agis-flow-test/pkg/storage"
	"github.com/Abhishek-yadav04/agis-flow-test/registry"
)

const svcName = "agisflow-coordinator"

type envConfig struct {
	HTTPAddr     string        `env:"AGISFLOW_HTTP_ADDR"      envDefault:":8080"`
	ConfigPath   string        `env:"AGISFLOW_CONFIG_PATH"    envDefault:""`
	DBPath       string        `env:"AGISFLOW_DB_PATH"        envDefault:"agisflow.db"`
	LogLevel     string        `env:"AGISFLOW_LOG_LEVEL"      envDefault:"info"`
	MQTTAddress  string        `env:"AGISFLOW_MQTT_ADDRESS"   envDefault:""`
	MQTTUsername string        `env:"AGISFLOW_MQTT_USERNAME"  envDefault:""`
	MQTTPassword string        `env:"AGISFLOW_MQTT_PASSWORD"  envDefault:""`
	MQTTQoS      byte          `env:"AGISFLOW_MQTT_QOS"       envDefault:"2"`
	MQTTTimeout  time.Duration `env:"AGISFLOW_MQTT_TIMEOUT"   envDefault:"30s"`
	UpdateKey    string        `env:"AGISFLOW_UPDATE_KEY"     envDefault:""`
	AutoStart    bool          `env:"AGISFLOW_AUTO_START"     envDefault:"false"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ec := envConfig{}
	if err := env.Parse(&ec); err != nil {
		return fmt.Errorf("failed to load %s configuration: %w", svcName, err)
	}

	logger := configureLogger(ec.LogLevel)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	profile := defaultProfile()
	if ec.ConfigPath != "" {
		loaded, err := agisflow.LoadConfig(ec.ConfigPath)
		if err != nil {
			return fmt.Errorf("failed to load session profile: %w", err)
		}
		profile = loaded
	}

	cfg := sessionConfig(profile)

	staleAfter := time.Duration(profile.Registry.StaleAfterSeconds) * time.Second
	if staleAfter <= 0 {
		staleAfter = 3 * cfg.RoundTimeout
	}
	reg := registry.NewService(storage.NewInMemoryStorage(), staleAfter, logger)

	aggregator, err := fl.NewAggregatorForPolicy(cfg.Policy)
	if err != nil {
		return err
	}

	var sanitizer *privacy.Sanitizer
	var accountant *privacy.Accountant
	if cfg.Mode != privacy.ModeOff {
		sanitizer, err = privacy.NewSanitizer(profile.Privacy.NoiseMultiplier, profile.Privacy.ClipNorm, cfg.Seed)
		if err != nil {
			return err
		}
		accountant, err = privacy.NewAccountant(profile.Privacy.EpsilonTotal, profile.Privacy.NoiseMultiplier)
		if err != nil {
			return err
		}
	}
	if cfg.Mode == privacy.ModeSecure {
		masking := privacy.NewPairwiseMasking([]byte(profile.Privacy.MaskSecret))
		aggregator = privacy.NewMaskedFedAvg(masking)
	}

	stateStore, err := store.NewSQLiteStore(ec.DBPath)
	if err != nil {
		return err
	}
	defer stateStore.Close()

	window := profile.Convergence.Window
	if window <= 0 {
		window = 10
	}
	smoothing := profile.Convergence.Smoothing
	if smoothing <= 0 {
		smoothing = 0.3
	}
	publisher := metrics.NewPublisher(cfg.Mode, cfg.Policy.Policy, profile.Privacy.EpsilonTotal, window, smoothing)

	var broadcaster coordinator.Broadcaster
	var pubsub mqtt.PubSub
	if ec.MQTTAddress != "" {
		pubsub, err = mqtt.NewPubSub(ec.MQTTAddress, ec.MQTTQoS, svcName, ec.MQTTUsername, ec.MQTTPassword, false, ec.MQTTTimeout, "", "", "", logger)
		if err != nil {
			return fmt.Errorf("failed to connect to MQTT broker: %w", err)
		}
		defer pubsub.Disconnect(context.Background())

		broadcaster = events.NewMQTTBroadcaster(pubsub)
	}

	svc, err := coordinator.NewService(cfg, reg, aggregator, sanitizer, accountant, stateStore, publisher, broadcaster, logger)
	if err != nil {
		return err
	}

	hub := api.NewStreamHub(logger)
	svc.AddEventSink(hub)

	if pubsub != nil {
		var updateKey []byte
		if ec.UpdateKey != "" {
			updateKey, err = hex.DecodeString(ec.UpdateKey)
			if err != nil || len(updateKey) != crypto.KeySize {
				return fmt.Errorf("update key must be %d hex-encoded bytes", crypto.KeySize)
			}
		}
		listener := events.NewListener(pubsub, reg, svc, updateKey, logger)
		if err := listener.Subscribe(ctx); err != nil {
			return err
		}
		svc.AddEventSink(events.NewSink(pubsub, logger))
	}

	if ec.AutoStart {
		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("failed to start training session: %w", err)
		}
	}

	server := &http.Server{
		Addr:    ec.HTTPAddr,
		Handler: api.MakeHandler(svc, reg, hub, logger),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return reg.RunSweeper(ctx, staleAfter/2, publisher.SetActiveClients)
	})
	g.Go(func() error {
		logger.InfoContext(ctx, "HTTP server listening", "addr", ec.HTTPAddr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.InfoContext(ctx, "shutting down")

		stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer stopCancel()
		if err := svc.Stop(stopCtx); err != nil {
			logger.WarnContext(ctx, "failed to stop session cleanly", "error", err)
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("%s service terminated: %w", svcName, err)
	}

	return nil
}

func defaultProfile() *agisflow.Config {
	return &agisflow.Config{
		Session: agisflow.SessionConfig{
			ModelDimension:         41,
			TargetFraction:         0.8,
			MinClients:             2,
			MinRequiredFraction:    0.6,
			RoundTimeoutSeconds:    60,
			RoundIntervalSeconds:   30,
			RetryBackoffSeconds:    10,
			MaxConsecutiveFailures: 5,
			Policy:                 fl.PolicyConfig{Policy: fl.PolicyFedAvg},
		},
		Privacy: agisflow.PrivacyConfig{
			Mode:            privacy.ModeCentral,
			EpsilonTotal:    1.0,
			EpsilonRound:    0.1,
			NoiseMultiplier: 1.1,
			ClipNorm:        1.0,
		},
		Convergence: agisflow.ConvergenceConfig{Window: 10, Smoothing: 0.3},
	}
}

func sessionConfig(profile *agisflow.Config) coordinator.Config {
	cfg := coordinator.DefaultConfig()

	s := profile.Session
	if s.ModelDimension > 0 {
		cfg.ModelDimension = s.ModelDimension
	}
	if s.TargetFraction > 0 {
		cfg.TargetFraction = s.TargetFraction
	}
	if s.MinClients > 0 {
		cfg.MinClients = s.MinClients
	}
	if s.MinRequiredFraction > 0 {
		cfg.MinRequiredFraction = s.MinRequiredFraction
	}
	if s.RoundTimeoutSeconds > 0 {
		cfg.RoundTimeout = time.Duration(s.RoundTimeoutSeconds) * time.Second
	}
	if s.RoundIntervalSeconds > 0 {
		cfg.RoundInterval = time.Duration(s.RoundIntervalSeconds) * time.Second
	}
	if s.RetryBackoffSeconds > 0 {
		cfg.RetryBackoff = time.Duration(s.RetryBackoffSeconds) * time.Second
	}
	if s.MaxConsecutiveFailures > 0 {
		cfg.MaxConsecutiveFailures = s.MaxConsecutiveFailures
	}
	cfg.Seed = s.Seed
	if s.Policy.Policy != "" {
		cfg.Policy = s.Policy
	}
	if profile.Privacy.Mode != "" {
		cfg.Mode = profile.Privacy.Mode
	}
	if profile.Privacy.EpsilonRound > 0 {
		cfg.EpsilonRound = profile.Privacy.EpsilonRound
	}

	return cfg
}

func configureLogger(level string) *slog.Logger {
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(level)); err != nil {
		log.Printf("Invalid log level: %s. Defaulting to info.\n", level)
		logLevel = slog.LevelInfo
	}

	logHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})

	return slog.New(logHandler)
}
