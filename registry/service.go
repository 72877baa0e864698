package registry

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/0x6flab/namegenerator"
	"github.com/google/uuid"

	pkgerrors "github.com/Abhishek-yadav04/agis-flow-test/pkg/errors"
	"github.com/Abhishek-yadav04/agis-flow-test/pkg/storage"
)

const (
	defOffset = 0
	defLimit  = 100
)

var (
	// ErrDuplicateClient indicates a registration for an ID that is already
	// registered and not offline.
	ErrDuplicateClient = errors.New("client already registered")

	// ErrUnknownClient indicates an operation on an unregistered client.
	ErrUnknownClient = errors.New("unknown client")

	// ErrInsufficientClients indicates that fewer eligible clients exist
	// than a round's minimum participant count.
	ErrInsufficientClients = errors.New("insufficient eligible clients")

	namegen = namegenerator.NewGenerator()
)

// Service is the single source of truth for client liveness and membership.
// Heartbeats are delivered to it by the transport layer; it performs no
// network I/O itself.
type Service struct {
	clientsDB  storage.Storage
	staleAfter time.Duration
	logger     *slog.Logger
}

func NewService(clientsDB storage.Storage, staleAfter time.Duration, logger *slog.Logger) *Service {
	return &Service{
		clientsDB:  clientsDB,
		staleAfter: staleAfter,
		logger:     logger,
	}
}

// Register adds a client. An empty clientID gets a generated one.
// Re-registration is allowed when the previous record went offline or its
// heartbeat lapsed, in which case the record is refreshed in place. An
// excluded client stays excluded.
func (svc *Service) Register(ctx context.Context, clientID string, datasetSize uint64) (Client, error) {
	if datasetSize == 0 {
		return Client{}, pkgerrors.ErrInvalidData
	}
	if clientID == "" {
		clientID = uuid.NewString()
	}

	now := time.Now()

	existing, err := svc.Get(ctx, clientID)
	switch {
	case err == nil:
		if existing.Status == StatusExcluded || existing.Eligible(now, svc.staleAfter) {
			return Client{}, ErrDuplicateClient
		}

		existing.Status = StatusRegistered
		existing.DatasetSize = datasetSize
		existing.LastHeartbeat = now
		if err := svc.clientsDB.Update(ctx, clientID, existing); err != nil {
			return Client{}, err
		}
		svc.logger.InfoContext(ctx, "client re-registered", "client_id", clientID, "dataset_size", datasetSize)

		return existing, nil
	case errors.Is(err, ErrUnknownClient):
	default:
		return Client{}, err
	}

	c := Client{
		ID:            clientID,
		Name:          namegen.Generate(),
		Status:        StatusRegistered,
		DatasetSize:   datasetSize,
		LastHeartbeat: now,
		RegisteredAt:  now,
	}
	if err := svc.clientsDB.Create(ctx, clientID, c); err != nil {
		if errors.Is(err, pkgerrors.ErrEntityExists) {
			return Client{}, ErrDuplicateClient
		}

		return Client{}, err
	}

	svc.logger.InfoContext(ctx, "client registered", "client_id", clientID, "name", c.Name, "dataset_size", datasetSize)

	return c, nil
}

func (svc *Service) Get(ctx context.Context, clientID string) (Client, error) {
	data, err := svc.clientsDB.Get(ctx, clientID)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrNotFound) {
			return Client{}, ErrUnknownClient
		}

		return Client{}, err
	}

	c, ok := data.(Client)
	if !ok {
		return Client{}, pkgerrors.ErrInvalidData
	}

	return c, nil
}

// Heartbeat refreshes a client's liveness timestamp. A heartbeat from an
// offline client brings it back to Registered.
func (svc *Service) Heartbeat(ctx context.Context, clientID string, at time.Time) error {
	c, err := svc.Get(ctx, clientID)
	if err != nil {
		return err
	}

	c.LastHeartbeat = at
	if c.Status == StatusOffline {
		c.Status = StatusRegistered
	}

	return svc.clientsDB.Update(ctx, clientID, c)
}

// SetStatus transitions a client's lifecycle state.
func (svc *Service) SetStatus(ctx context.Context, clientID string, status Status) error {
	c, err := svc.Get(ctx, clientID)
	if err != nil {
		return err
	}

	c.Status = status

	return svc.clientsDB.Update(ctx, clientID, c)
}

// RecordAccuracy stores the locally reported accuracy from a round
// contribution.
func (svc *Service) RecordAccuracy(ctx context.Context, clientID string, accuracy float64) error {
	c, err := svc.Get(ctx, clientID)
	if err != nil {
		return err
	}

	c.LocalAccuracy = accuracy
	c.Status = StatusUploaded

	return svc.clientsDB.Update(ctx, clientID, c)
}

// MarkOffline transitions a client to Offline. Idempotent.
func (svc *Service) MarkOffline(ctx context.Context, clientID string) error {
	c, err := svc.Get(ctx, clientID)
	if err != nil {
		return err
	}
	if c.Status == StatusOffline {
		return nil
	}

	c.Status = StatusOffline

	return svc.clientsDB.Update(ctx, clientID, c)
}

func (svc *Service) List(ctx context.Context, offset, limit uint64) (ClientPage, error) {
	data, total, err := svc.clientsDB.List(ctx, offset, limit)
	if err != nil {
		return ClientPage{}, err
	}

	clients := make([]Client, 0, len(data))
	for i := range data {
		c, ok := data[i].(Client)
		if !ok {
			return ClientPage{}, pkgerrors.ErrInvalidData
		}
		clients = append(clients, c)
	}

	return ClientPage{
		Offset:  offset,
		Limit:   limit,
		Total:   total,
		Clients: clients,
	}, nil
}

// ActiveCount returns the number of clients currently eligible for selection.
func (svc *Service) ActiveCount(ctx context.Context) (int, error) {
	eligible, err := svc.eligibleClients(ctx, time.Now())
	if err != nil {
		return 0, err
	}

	return len(eligible), nil
}

// SelectParticipants picks a pseudo-random subset of eligible clients for a
// round. The subset size is max(minClients, round(targetFraction * eligible)).
// Selection is deterministic for a given seed and round ID.
func (svc *Service) SelectParticipants(ctx context.Context, roundID uint64, targetFraction float64, minClients int, seed int64) ([]string, error) {
	eligible, err := svc.eligibleClients(ctx, time.Now())
	if err != nil {
		return nil, err
	}
	if len(eligible) < minClients {
		return nil, ErrInsufficientClients
	}

	n := int(math.Round(targetFraction * float64(len(eligible))))
	if n < minClients {
		n = minClients
	}
	if n > len(eligible) {
		n = len(eligible)
	}

	ids := make([]string, 0, len(eligible))
	for i := range eligible {
		ids = append(ids, eligible[i].ID)
	}
	sort.Strings(ids)

	rng := rand.New(rand.NewSource(seed + int64(roundID)))
	rng.Shuffle(len(ids), func(i, j int) {
		ids[i], ids[j] = ids[j], ids[i]
	})

	selected := ids[:n]
	sort.Strings(selected)

	return selected, nil
}

// SweepStale marks clients offline whose last heartbeat fell outside the
// staleness window. Returns the IDs transitioned.
func (svc *Service) SweepStale(ctx context.Context, now time.Time) ([]string, error) {
	page, err := svc.List(ctx, defOffset, uint64(math.MaxUint32))
	if err != nil {
		return nil, err
	}

	var swept []string
	for _, c := range page.Clients {
		if c.Status == StatusOffline || c.Status == StatusExcluded {
			continue
		}
		if now.Sub(c.LastHeartbeat) > svc.staleAfter {
			if err := svc.MarkOffline(ctx, c.ID); err != nil {
				return swept, err
			}
			swept = append(swept, c.ID)
			svc.logger.InfoContext(ctx, "client marked offline", "client_id", c.ID, "last_heartbeat", c.LastHeartbeat)
		}
	}

	return swept, nil
}

// RunSweeper drives SweepStale on a fixed cadence until ctx is cancelled.
// After each pass the eligible-client count is pushed through report when it
// is non-nil.
func (svc *Service) RunSweeper(ctx context.Context, interval time.Duration, report func(int)) error {
	if interval <= 0 {
		interval = svc.staleAfter / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if _, err := svc.SweepStale(ctx, now); err != nil {
				svc.logger.WarnContext(ctx, "staleness sweep failed", "error", err)

				continue
			}
			if report == nil {
				continue
			}
			count, err := svc.ActiveCount(ctx)
			if err != nil {
				svc.logger.WarnContext(ctx, "failed to count active clients", "error", err)

				continue
			}
			report(count)
		}
	}
}

func (svc *Service) eligibleClients(ctx context.Context, now time.Time) ([]Client, error) {
	page, err := svc.List(ctx, defOffset, uint64(math.MaxUint32))
	if err != nil {
		return nil, err
	}

	eligible := make([]Client, 0, len(page.Clients))
	for _, c := range page.Clients {
		if c.Eligible(now, svc.staleAfter) {
			eligible = append(eligible, c)
		}
	}

	return eligible, nil
}
