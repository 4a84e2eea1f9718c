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
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ActivitySink persists activity records for successful requests. Records
// are dispatched to a background writer and never awaited by the request
// path: a slow or failing activity write must not add latency to a response
// or cause a request to fail.
type ActivitySink struct {
	db           *sql.DB
	queue        chan *ActivityRecord
	batchSize    int
	wg           sync.WaitGroup
	shutdownChan chan struct{}
	closeOnce    sync.Once
}

// ActivityRecord is one audit row.
type ActivityRecord struct {
	ID           string                 `json:"id"`
	Timestamp    time.Time              `json:"timestamp"`
	UserID       int64                  `json:"user_id"`
	Action       string                 `json:"action"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id"`
	Details      map[string]interface{} `json:"details,omitempty"`
	IP           string                 `json:"ip"`
	UserAgent    string                 `json:"user_agent"`
}

// NewActivitySink creates a sink writing to the given database. A nil db
// yields a no-op sink that drains its queue, so callers never need a nil
// check before Record.
func NewActivitySink(db *sql.DB) *ActivitySink {
	s := &ActivitySink{
		db:           db,
		queue:        make(chan *ActivityRecord, 10000),
		batchSize:    100,
		shutdownChan: make(chan struct{}),
	}

	if db != nil {
		if err := createActivityTable(db); err != nil {
			log.Printf("Failed to create activity table: %v", err)
		}
	}

	s.wg.Add(1)
	go s.processQueue()

	return s
}

// Record enqueues an activity record. It never blocks and never returns an
// error; when the queue is full the record is dropped with a log line.
func (s *ActivitySink) Record(userID int64, action, resourceType, resourceID string, details map[string]interface{}, ip, userAgent string) {
	record := &ActivityRecord{
		ID:           uuid.New().String(),
		Timestamp:    time.Now().UTC(),
		UserID:       userID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      details,
		IP:           ip,
		UserAgent:    userAgent,
	}

	select {
	case s.queue <- record:
	default:
		log.Printf("Activity queue full, dropping record %s (%s %s)", record.ID, action, resourceType)
	}
}

// processQueue batches queued records and flushes on size or interval.
func (s *ActivitySink) processQueue() {
	defer s.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	batch := make([]*ActivityRecord, 0, s.batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := s.writeBatch(batch); err != nil {
			log.Printf("Failed to write activity batch of %d: %v", len(batch), err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case record := <-s.queue:
			batch = append(batch, record)
			if len(batch) >= s.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-s.shutdownChan:
			// Drain whatever is already queued, then flush once
			for {
				select {
				case record := <-s.queue:
					batch = append(batch, record)
				default:
					flush()
					return
				}
			}
		}
	}
}

func (s *ActivitySink) writeBatch(records []*ActivityRecord) error {
	if s.db == nil {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO activity_log (
			id, timestamp, user_id, action, resource_type, resource_id,
			details, ip, user_agent
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	for _, record := range records {
		detailsJSON, _ := json.Marshal(record.Details)
		if _, err := stmt.Exec(
			record.ID,
			record.Timestamp,
			record.UserID,
			record.Action,
			record.ResourceType,
			record.ResourceID,
			detailsJSON,
			record.IP,
			record.UserAgent,
		); err != nil {
			log.Printf("Failed to insert activity record %s: %v", record.ID, err)
		}
	}

	return tx.Commit()
}

// ActivitySearch filters for the activity query endpoint.
type ActivitySearch struct {
	UserID       int64
	Action       string
	ResourceType string
	Since        time.Time
	Limit        int
}

// Search returns matching activity records, newest first.
func (s *ActivitySink) Search(ctx context.Context, criteria ActivitySearch) ([]*ActivityRecord, error) {
	if s.db == nil {
		return []*ActivityRecord{}, nil
	}

	query := `
		SELECT id, timestamp, user_id, action, resource_type, resource_id,
		       details, ip, user_agent
		FROM activity_log
		WHERE 1=1
	`
	args := []interface{}{}
	argIndex := 1

	if criteria.UserID != 0 {
		query += fmt.Sprintf(" AND user_id = $%d", argIndex)
		args = append(args, criteria.UserID)
		argIndex++
	}
	if criteria.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", argIndex)
		args = append(args, criteria.Action)
		argIndex++
	}
	if criteria.ResourceType != "" {
		query += fmt.Sprintf(" AND resource_type = $%d", argIndex)
		args = append(args, criteria.ResourceType)
		argIndex++
	}
	if !criteria.Since.IsZero() {
		query += fmt.Sprintf(" AND timestamp >= $%d", argIndex)
		args = append(args, criteria.Since)
		argIndex++
	}

	query += " ORDER BY timestamp DESC"
	if criteria.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", criteria.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var records []*ActivityRecord
	for rows.Next() {
		record := &ActivityRecord{}
		var detailsJSON []byte
		if err := rows.Scan(
			&record.ID,
			&record.Timestamp,
			&record.UserID,
			&record.Action,
			&record.ResourceType,
			&record.ResourceID,
			&detailsJSON,
			&record.IP,
			&record.UserAgent,
		); err != nil {
			log.Printf("Error scanning activity record: %v", err)
			continue
		}
		_ = json.Unmarshal(detailsJSON, &record.Details)
		records = append(records, record)
	}

	return records, rows.Err()
}

// Close flushes pending records and stops the background writer.
func (s *ActivitySink) Close() {
	s.closeOnce.Do(func() {
		close(s.shutdownChan)
		s.wg.Wait()
	})
}

// createActivityTable creates the activity table if it doesn't exist
func createActivityTable(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS activity_log (
		id VARCHAR(255) PRIMARY KEY,
		timestamp TIMESTAMP NOT NULL,
		user_id BIGINT NOT NULL,
		action VARCHAR(100) NOT NULL,
		resource_type VARCHAR(100) NOT NULL,
		resource_id VARCHAR(255),
		details JSONB,
		ip VARCHAR(64),
		user_agent TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_activity_log_timestamp ON activity_log(timestamp);
	CREATE INDEX IF NOT EXISTS idx_activity_log_user_id ON activity_log(user_id);
	CREATE INDEX IF NOT EXISTS idx_activity_log_action ON activity_log(action);
	`

	_, err := db.Exec(query)
	return err
}
