// Copyright 2025 LoadGate
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package controlplane

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Cluster is a managed load balancer cluster record. Cluster management is
// plain data access; the admission pipeline in front of it is where the
// protocol complexity lives.
type Cluster struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Address     string     `json:"address"`
	Enabled     bool       `json:"enabled"`
	CreatedAt   time.Time  `json:"created_at"`
	LastApplied *time.Time `json:"last_applied,omitempty"`
}

// ClusterRepository handles cluster persistence
type ClusterRepository struct {
	db *sql.DB
}

// NewClusterRepository creates a repository around an open database handle
func NewClusterRepository(db *sql.DB) *ClusterRepository {
	return &ClusterRepository{db: db}
}

// List returns all clusters, newest first.
func (r *ClusterRepository) List(ctx context.Context) ([]Cluster, error) {
	query := `
		SELECT id, name, address, enabled, created_at, last_applied
		FROM clusters
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list clusters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var clusters []Cluster
	for rows.Next() {
		var c Cluster
		var lastApplied sql.NullTime
		if err := rows.Scan(&c.ID, &c.Name, &c.Address, &c.Enabled, &c.CreatedAt, &lastApplied); err != nil {
			return nil, fmt.Errorf("failed to scan cluster: %w", err)
		}
		if lastApplied.Valid {
			c.LastApplied = &lastApplied.Time
		}
		clusters = append(clusters, c)
	}
	return clusters, rows.Err()
}

// Create inserts a new cluster record and returns it with its generated id.
func (r *ClusterRepository) Create(ctx context.Context, name, address string) (*Cluster, error) {
	c := Cluster{
		ID:        uuid.New().String(),
		Name:      name,
		Address:   address,
		Enabled:   true,
		CreatedAt: time.Now().UTC(),
	}

	query := `
		INSERT INTO clusters (id, name, address, enabled, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := r.db.ExecContext(ctx, query, c.ID, c.Name, c.Address, c.Enabled, c.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to create cluster: %w", err)
	}
	return &c, nil
}

// Delete removes a cluster record.
func (r *ClusterRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM clusters WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete cluster: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check deletion: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkApplied records a configuration apply on the cluster.
func (r *ClusterRepository) MarkApplied(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `UPDATE clusters SET last_applied = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark cluster applied: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check apply: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
