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
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivitySinkFlushesOnClose(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS activity_log").
		WillReturnResult(sqlmock.NewResult(0, 0))

	mock.ExpectBegin()
	prepared := mock.ExpectPrepare("INSERT INTO activity_log")
	prepared.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	prepared.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	sink := NewActivitySink(db)
	sink.Record(42, "cluster.create", "cluster", "c-1", map[string]interface{}{"name": "edge"}, "203.0.113.5", "curl/8.0")
	sink.Record(42, "cluster.delete", "cluster", "c-2", nil, "203.0.113.5", "curl/8.0")
	sink.Close()

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActivitySinkNilDBIsNoOp(t *testing.T) {
	sink := NewActivitySink(nil)

	// Neither call may panic or block.
	sink.Record(1, "user.login", "session", "", nil, "203.0.113.5", "")
	sink.Close()

	records, err := sink.Search(context.Background(), ActivitySearch{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestActivitySinkRecordNeverBlocksWhenQueueFull(t *testing.T) {
	sink := &ActivitySink{
		queue:        make(chan *ActivityRecord, 1),
		batchSize:    100,
		shutdownChan: make(chan struct{}),
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			sink.Record(1, "user.login", "session", "", nil, "203.0.113.5", "")
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Record blocked on a full queue")
	}
}

func TestActivitySearchBuildsFilters(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	sink := &ActivitySink{db: db}

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "timestamp", "user_id", "action", "resource_type", "resource_id",
		"details", "ip", "user_agent",
	}).AddRow("rec-1", now, 42, "cluster.apply", "cluster", "c-1", []byte(`{"node":"edge-01"}`), "203.0.113.5", "curl/8.0")

	mock.ExpectQuery("SELECT id, timestamp, user_id, action, resource_type, resource_id").
		WithArgs(int64(42), "cluster.apply").
		WillReturnRows(rows)

	records, err := sink.Search(context.Background(), ActivitySearch{
		UserID: 42,
		Action: "cluster.apply",
		Limit:  50,
	})

	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "rec-1", records[0].ID)
	assert.Equal(t, int64(42), records[0].UserID)
	assert.Equal(t, "edge-01", records[0].Details["node"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActivitySinkCloseIsIdempotent(t *testing.T) {
	sink := NewActivitySink(nil)
	sink.Close()
	sink.Close()
}
