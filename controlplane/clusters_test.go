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
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClusterRepositoryList(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	repo := NewClusterRepository(db)

	applied := time.Now().Add(-time.Hour).UTC()
	rows := sqlmock.NewRows([]string{"id", "name", "address", "enabled", "created_at", "last_applied"}).
		AddRow("c-2", "edge", "10.0.0.2:443", true, time.Now().UTC(), applied).
		AddRow("c-1", "core", "10.0.0.1:443", false, time.Now().Add(-24*time.Hour).UTC(), nil)
	mock.ExpectQuery("SELECT id, name, address, enabled, created_at, last_applied").
		WillReturnRows(rows)

	clusters, err := repo.List(context.Background())

	require.NoError(t, err)
	require.Len(t, clusters, 2)
	assert.Equal(t, "edge", clusters[0].Name)
	require.NotNil(t, clusters[0].LastApplied)
	assert.Nil(t, clusters[1].LastApplied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClusterRepositoryCreate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	repo := NewClusterRepository(db)

	mock.ExpectExec("INSERT INTO clusters").
		WithArgs(sqlmock.AnyArg(), "edge", "10.0.0.2:443", true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	cluster, err := repo.Create(context.Background(), "edge", "10.0.0.2:443")

	require.NoError(t, err)
	require.NotNil(t, cluster)
	assert.NotEmpty(t, cluster.ID)
	assert.True(t, cluster.Enabled)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClusterRepositoryDeleteMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	repo := NewClusterRepository(db)

	mock.ExpectExec("DELETE FROM clusters").
		WithArgs("c-404").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = repo.Delete(context.Background(), "c-404")

	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClusterRepositoryMarkApplied(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	repo := NewClusterRepository(db)

	mock.ExpectExec("UPDATE clusters SET last_applied").
		WithArgs("c-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, repo.MarkApplied(context.Background(), "c-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
