// Package store persists coordinator state in SQLite so a session survives
// restarts. The pure-Go driver keeps deployment a single binary.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Abhishek-yadav04/agis-flow-test/coordinator"
	"github.com/Abhishek-yadav04/agis-flow-test/pkg/fl"
	"github.com/Abhishek-yadav04/agis-flow-test/pkg/privacy"
)

const schema = `
	CREATE TABLE IF NOT EXISTS models (
		version INTEGER PRIMARY KEY,
		parameters BLOB NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rounds (
		id INTEGER PRIMARY KEY,
		state TEXT NOT NULL,
		detail BLOB NOT NULL,
		started_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS budget (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		epsilon_total REAL NOT NULL,
		epsilon_spent REAL NOT NULL,
		noise_multiplier REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_rounds_started ON rounds(started_at);
`

// SQLiteStore implements coordinator.StateStore on a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path and prepares the
// schema. WAL mode keeps writers from blocking status reads.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = "agisflow.db"
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to initialize state schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveModel(ctx context.Context, model fl.GlobalModel) error {
	params, err := json.Marshal(model.Parameters)
	if err != nil {
		return fmt.Errorf("failed to encode model parameters: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO models (version, parameters, created_at)
		VALUES (?, ?, ?)
	`, model.Version, params, model.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to persist model version %d: %w", model.Version, err)
	}

	return nil
}

func (s *SQLiteStore) LoadModel(ctx context.Context, version uint64) (fl.GlobalModel, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT version, parameters, created_at FROM models WHERE version = ?
	`, version)

	return scanModel(row)
}

func (s *SQLiteStore) LoadLatestModel(ctx context.Context) (fl.GlobalModel, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT version, parameters, created_at FROM models
		ORDER BY version DESC LIMIT 1
	`)

	return scanModel(row)
}

func scanModel(row *sql.Row) (fl.GlobalModel, error) {
	var (
		model     fl.GlobalModel
		params    []byte
		createdAt int64
	)
	err := row.Scan(&model.Version, &params, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fl.GlobalModel{}, coordinator.ErrNoPersistedState
	}
	if err != nil {
		return fl.GlobalModel{}, fmt.Errorf("failed to read model: %w", err)
	}

	if err := json.Unmarshal(params, &model.Parameters); err != nil {
		return fl.GlobalModel{}, fmt.Errorf("failed to decode model parameters: %w", err)
	}
	model.CreatedAt = time.Unix(0, createdAt)

	return model, nil
}

func (s *SQLiteStore) ListModelVersions(ctx context.Context) ([]uint64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM models ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("failed to list model versions: %w", err)
	}
	defer rows.Close()

	var versions []uint64
	for rows.Next() {
		var v uint64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan model version: %w", err)
		}
		versions = append(versions, v)
	}

	return versions, rows.Err()
}

func (s *SQLiteStore) SaveRound(ctx context.Context, round coordinator.Round) error {
	detail, err := json.Marshal(round)
	if err != nil {
		return fmt.Errorf("failed to encode round %d: %w", round.ID, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO rounds (id, state, detail, started_at)
		VALUES (?, ?, ?, ?)
	`, round.ID, string(round.State), detail, round.StartedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to persist round %d: %w", round.ID, err)
	}

	return nil
}

func (s *SQLiteStore) ListRounds(ctx context.Context, limit uint64) ([]coordinator.Round, error) {
	if limit == 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT detail FROM rounds ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list rounds: %w", err)
	}
	defer rows.Close()

	var rounds []coordinator.Round
	for rows.Next() {
		var detail []byte
		if err := rows.Scan(&detail); err != nil {
			return nil, fmt.Errorf("failed to scan round: %w", err)
		}
		var round coordinator.Round
		if err := json.Unmarshal(detail, &round); err != nil {
			return nil, fmt.Errorf("failed to decode round: %w", err)
		}
		rounds = append(rounds, round)
	}

	return rounds, rows.Err()
}

func (s *SQLiteStore) LastRoundID(ctx context.Context) (uint64, error) {
	var id uint64
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0) FROM rounds`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to read last round id: %w", err)
	}
	if id == 0 {
		return 0, coordinator.ErrNoPersistedState
	}

	return id, nil
}

func (s *SQLiteStore) SaveBudget(ctx context.Context, budget privacy.Budget) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO budget (id, epsilon_total, epsilon_spent, noise_multiplier)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			epsilon_total = excluded.epsilon_total,
			epsilon_spent = excluded.epsilon_spent,
			noise_multiplier = excluded.noise_multiplier
	`, budget.EpsilonTotal, budget.EpsilonSpent, budget.NoiseMultiplier)
	if err != nil {
		return fmt.Errorf("failed to persist privacy budget: %w", err)
	}

	return nil
}

func (s *SQLiteStore) LoadBudget(ctx context.Context) (privacy.Budget, error) {
	var budget privacy.Budget
	err := s.db.QueryRowContext(ctx, `
		SELECT epsilon_total, epsilon_spent, noise_multiplier FROM budget WHERE id = 1
	`).Scan(&budget.EpsilonTotal, &budget.EpsilonSpent, &budget.NoiseMultiplier)
	if errors.Is(err, sql.ErrNoRows) {
		return privacy.Budget{}, coordinator.ErrNoPersistedState
	}
	if err != nil {
		return privacy.Budget{}, fmt.Errorf("failed to read privacy budget: %w", err)
	}

	return budget, nil
}
