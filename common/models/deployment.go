package models

import (
	"time"

	"github.com/google/uuid"
)

// Deployment is a registered serving endpoint for a workflow. The core
// only reads and associates; lifecycle is owned by the deployment tooling.
// Maps to: deployment table
type Deployment struct {
	DeploymentID uuid.UUID `db:"deployment_id" json:"deployment_id"`

	Name         string `db:"name" json:"name"`
	WorkflowName string `db:"workflow_name" json:"workflow_name"`

	// Flexible metadata (JSONB), e.g. {"host": "...", "image": "..."}
	Metadata map[string]any `db:"metadata" json:"metadata,omitempty"`

	LastHeartbeat time.Time `db:"last_heartbeat" json:"last_heartbeat"`
	TTLSeconds    int       `db:"ttl_seconds" json:"ttl_seconds"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Alive reports whether the deployment heartbeat is within its TTL.
func (d *Deployment) Alive(now time.Time) bool {
	if d.TTLSeconds <= 0 {
		return true
	}
	return now.Sub(d.LastHeartbeat) <= time.Duration(d.TTLSeconds)*time.Second
}
