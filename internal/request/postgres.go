package request

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/example/nurse-dispatch/internal/models"
)

// PostgresStore persists requests in the service_requests table. The
// conditional UPDATE on (id, version) is the compare-and-swap that backs
// the Transition contract.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return NewPostgresStoreFromDB(db), nil
}

// NewPostgresStoreFromDB wraps an existing handle; callers own its lifecycle.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (p *PostgresStore) Create(ctx context.Context, patientID string, origin models.Coordinate) (models.ServiceRequest, error) {
	now := p.now()
	r := models.ServiceRequest{
		ID:        uuid.NewString(),
		PatientID: patientID,
		Origin:    origin,
		State:     models.StatePending,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO service_requests(id, patient_id, assigned_nurse_id, origin_lat, origin_lng, state, created_at, updated_at, version)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		r.ID, r.PatientID, nullable(r.AssignedNurseID), r.Origin.Lat, r.Origin.Lng, string(r.State), r.CreatedAt, r.UpdatedAt, r.Version)
	if err != nil {
		return models.ServiceRequest{}, fmt.Errorf("insert request: %w", err)
	}
	return r, nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (models.ServiceRequest, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT id, patient_id, assigned_nurse_id, origin_lat, origin_lng, state, created_at, updated_at, version
		 FROM service_requests WHERE id = $1`, id)
	return scanRequest(row)
}

func (p *PostgresStore) Transition(ctx context.Context, id string, expectedVersion int64, mutate Mutator) (models.ServiceRequest, error) {
	cur, err := p.Get(ctx, id)
	if err != nil {
		return models.ServiceRequest{}, err
	}
	if cur.Version != expectedVersion {
		return models.ServiceRequest{}, ErrConcurrentModification
	}
	next, err := mutate(cur)
	if err != nil {
		return models.ServiceRequest{}, err
	}
	next.ID = cur.ID
	next.Version = cur.Version + 1
	next.UpdatedAt = p.now()

	res, err := p.db.ExecContext(ctx,
		`UPDATE service_requests
		 SET assigned_nurse_id = $1, state = $2, updated_at = $3, version = $4
		 WHERE id = $5 AND version = $6`,
		nullable(next.AssignedNurseID), string(next.State), next.UpdatedAt, next.Version, id, expectedVersion)
	if err != nil {
		return models.ServiceRequest{}, fmt.Errorf("update request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return models.ServiceRequest{}, fmt.Errorf("update request: %w", err)
	}
	if n == 0 {
		// the row moved between our read and the conditional write
		return models.ServiceRequest{}, ErrConcurrentModification
	}
	return next, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (models.ServiceRequest, error) {
	var (
		r        models.ServiceRequest
		assignee sql.NullString
		state    string
	)
	err := row.Scan(&r.ID, &r.PatientID, &assignee, &r.Origin.Lat, &r.Origin.Lng, &state, &r.CreatedAt, &r.UpdatedAt, &r.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ServiceRequest{}, ErrNotFound
	}
	if err != nil {
		return models.ServiceRequest{}, fmt.Errorf("scan request: %w", err)
	}
	r.AssignedNurseID = assignee.String
	r.State = models.RequestState(state)
	return r, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
