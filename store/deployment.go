package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/graphflow/common/models"
)

// DeploymentRepo handles database operations for deployments.
type DeploymentRepo struct {
	db *DB
}

// NewDeploymentRepo creates a new deployment repository.
func NewDeploymentRepo(db *DB) *DeploymentRepo {
	return &DeploymentRepo{db: db}
}

// Upsert registers a deployment or refreshes an existing one by name.
func (r *DeploymentRepo) Upsert(ctx context.Context, d *models.Deployment) error {
	metadata, err := json.Marshal(d.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	// ON CONFLICT syntax is shared by sqlite and postgres
	query := r.db.rebind(`
		INSERT INTO deployment (deployment_id, name, workflow_name, metadata, last_heartbeat, ttl_seconds, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (name) DO UPDATE SET
			workflow_name = excluded.workflow_name,
			metadata = excluded.metadata,
			last_heartbeat = excluded.last_heartbeat,
			ttl_seconds = excluded.ttl_seconds
	`)
	return r.db.write(ctx, "upsert deployment", func() error {
		_, err := r.db.ExecContext(ctx, query,
			d.DeploymentID.String(), d.Name, d.WorkflowName, string(metadata),
			d.LastHeartbeat, d.TTLSeconds, d.CreatedAt,
		)
		return err
	})
}

// Heartbeat refreshes a deployment's liveness timestamp.
func (r *DeploymentRepo) Heartbeat(ctx context.Context, name string, at time.Time) error {
	query := r.db.rebind(`UPDATE deployment SET last_heartbeat = $2 WHERE name = $1`)
	return r.db.write(ctx, "deployment heartbeat", func() error {
		_, err := r.db.ExecContext(ctx, query, name, at)
		return err
	})
}

const deploymentColumns = `deployment_id, name, workflow_name, metadata, last_heartbeat, ttl_seconds, created_at`

// GetByName retrieves a deployment.
func (r *DeploymentRepo) GetByName(ctx context.Context, name string) (*models.Deployment, error) {
	query := r.db.rebind(`SELECT ` + deploymentColumns + ` FROM deployment WHERE name = $1`)
	d, err := scanDeployment(r.db.QueryRowContext(ctx, query, name))
	if err != nil {
		return nil, fmt.Errorf("get deployment: %w", err)
	}
	return d, nil
}

// List retrieves all deployments, newest first.
func (r *DeploymentRepo) List(ctx context.Context) ([]*models.Deployment, error) {
	query := `SELECT ` + deploymentColumns + ` FROM deployment ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list deployments: %w", err)
	}
	defer rows.Close()

	var out []*models.Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan deployment: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deployments: %w", err)
	}
	return out, nil
}

func scanDeployment(row rowScanner) (*models.Deployment, error) {
	var (
		d        models.Deployment
		id       string
		metadata string
	)
	err := row.Scan(&id, &d.Name, &d.WorkflowName, &metadata, &d.LastHeartbeat, &d.TTLSeconds, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	if d.DeploymentID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse deployment_id: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &d.Metadata); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	return &d, nil
}
