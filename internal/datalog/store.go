package datalog

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const (
	flushInterval = 30 * time.Second
	flushBatchMax = 256
	sweepInterval = time.Hour
)

// Store persists sensor readings to a SQLite history database. Writes are
// batched; a periodic sweep enforces the retention window.
type Store struct {
	db        *sql.DB
	retention time.Duration

	mu      sync.Mutex
	pending []Reading
	closed  bool
	done    chan struct{}
}

// OpenStore opens (and if needed initializes) the history database at path.
func OpenStore(path string, retentionDays int) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("datalog: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	const schema = `
create table if not exists readings (
	sensor text not null,
	value real not null,
	at integer not null
);
create index if not exists readings_sensor_at on readings (sensor, at);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("datalog: init schema: %w", err)
	}

	if retentionDays <= 0 {
		retentionDays = 30
	}
	s := &Store{
		db:        db,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		done:      make(chan struct{}),
	}
	go s.loop()
	return s, nil
}

// Record queues readings for the next batch write.
func (s *Store) Record(rs []Reading) {
	if len(rs) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pending = append(s.pending, rs...)
	if len(s.pending) >= flushBatchMax {
		batch := s.pending
		s.pending = nil
		go s.flush(batch)
	}
}

func (s *Store) loop() {
	flushTicker := time.NewTicker(flushInterval)
	sweepTicker := time.NewTicker(sweepInterval)
	defer flushTicker.Stop()
	defer sweepTicker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-flushTicker.C:
			s.mu.Lock()
			batch := s.pending
			s.pending = nil
			s.mu.Unlock()
			s.flush(batch)
		case <-sweepTicker.C:
			s.sweep()
		}
	}
}

func (s *Store) flush(batch []Reading) {
	if len(batch) == 0 {
		return
	}
	tx, err := s.db.Begin()
	if err != nil {
		log.Printf("[datalog] history write failed: %v", err)
		return
	}
	stmt, err := tx.Prepare("insert into readings (sensor, value, at) values (?, ?, ?)")
	if err != nil {
		tx.Rollback()
		log.Printf("[datalog] history write failed: %v", err)
		return
	}
	for _, r := range batch {
		if _, err := stmt.Exec(r.Sensor, r.Value, r.At.Unix()); err != nil {
			stmt.Close()
			tx.Rollback()
			log.Printf("[datalog] history write failed: %v", err)
			return
		}
	}
	stmt.Close()
	if err := tx.Commit(); err != nil {
		log.Printf("[datalog] history commit failed: %v", err)
	}
}

func (s *Store) sweep() {
	cutoff := time.Now().Add(-s.retention).Unix()
	if _, err := s.db.Exec("delete from readings where at < ?", cutoff); err != nil {
		log.Printf("[datalog] history sweep failed: %v", err)
	}
}

// Query returns the readings for sensor in [from, to], oldest first.
func (s *Store) Query(sensor string, from, to time.Time) ([]Reading, error) {
	rows, err := s.db.Query(
		"select sensor, value, at from readings where sensor = ? and at between ? and ? order by at",
		sensor, from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("datalog: query: %w", err)
	}
	defer rows.Close()

	var out []Reading
	for rows.Next() {
		var r Reading
		var at int64
		if err := rows.Scan(&r.Sensor, &r.Value, &at); err != nil {
			return nil, fmt.Errorf("datalog: scan: %w", err)
		}
		r.At = time.Unix(at, 0)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close flushes pending readings and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	batch := s.pending
	s.pending = nil
	s.mu.Unlock()

	close(s.done)
	s.flush(batch)
	return s.db.Close()
}
