package cloudstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"

	"github.com/eds331/musclepro-app/services/profile"
)

var postgresTracer = otel.Tracer("musclepro.cloudstore.postgres")

// profilesSchema creates the sync-record table on first use. payload is
// the whole serialized aggregate; updated_at mirrors its syncTimestamp
// for server-side inspection.
const profilesSchema = `
CREATE TABLE IF NOT EXISTS musclepro_profiles (
    owner_key  TEXT PRIMARY KEY,
    payload    JSONB NOT NULL,
    updated_at BIGINT NOT NULL
)`

// PostgresStore keeps one row per owner in a hosted relational backend.
// The owner key is the primary key, so it doubles as the record ref and
// can never go stale.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the DSN in cfg.EndpointURL and ensures
// the sync-record table exists. cfg.Credential, when set, overrides the
// password in the DSN.
func NewPostgresStore(ctx context.Context, cfg Config) (*PostgresStore, error) {
	if cfg.EndpointURL == "" {
		return nil, errors.New("cloudstore: postgres provider requires a connection DSN")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.EndpointURL)
	if err != nil {
		return nil, fmt.Errorf("cloudstore: parse postgres DSN: %w", err)
	}
	if enc := cfg.credentialEnclave(); enc != nil {
		buf, err := enc.Open()
		if err != nil {
			return nil, fmt.Errorf("cloudstore: open credential: %w", err)
		}
		poolCfg.ConnConfig.Password = buf.String()
		buf.Destroy()
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("cloudstore: connect postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, profilesSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("cloudstore: ensure profiles table: %w", err)
	}

	slog.Info("Initializing postgres store", "host", poolCfg.ConnConfig.Host)
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Provider() Provider { return ProviderPostgres }

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Fetch implements the CloudStore interface.
func (s *PostgresStore) Fetch(ctx context.Context, ownerKey, _ string) (Record, error) {
	ctx, span := postgresTracer.Start(ctx, "PostgresStore.Fetch")
	defer span.End()

	key := DiscoveryKey(ownerKey)
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM musclepro_profiles WHERE owner_key = $1`,
		key).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Record{}, &TransportError{Op: "postgres.fetch", Err: err}
	}

	var u profile.User
	if err := json.Unmarshal(payload, &u); err != nil {
		return Record{}, &DecodeError{Op: "postgres.fetch", Err: err}
	}
	return Record{Ref: key, User: &u}, nil
}

// Upsert implements the CloudStore interface.
func (s *PostgresStore) Upsert(ctx context.Context, ownerKey string,
	u *profile.User, _ string) (string, error) {

	ctx, span := postgresTracer.Start(ctx, "PostgresStore.Upsert")
	defer span.End()

	payload, err := json.Marshal(u)
	if err != nil {
		return "", fmt.Errorf("cloudstore: encode postgres payload: %w", err)
	}

	key := DiscoveryKey(ownerKey)
	_, err = s.pool.Exec(ctx, `
		INSERT INTO musclepro_profiles (owner_key, payload, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (owner_key)
		DO UPDATE SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`,
		key, payload, u.SyncTimestamp)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", &TransportError{Op: "postgres.upsert", Err: err}
	}
	return key, nil
}
