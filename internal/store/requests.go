package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Request is one audit row per logical completion request: how it resolved,
// how many attempts it took, and which credential served it (hint only,
// never the secret).
type Request struct {
	ID           string
	Timestamp    string
	Model        string
	Tier         int
	Attempts     int
	Outcome      string
	TokensIn     int64
	TokensOut    int64
	LatencyMs    int64
	KeyHint      string
	CacheHit     bool
	ErrorMessage string
}

// RequestStats holds aggregate statistics for a range of requests.
type RequestStats struct {
	TotalRequests  int64
	Succeeded      int64
	Exhausted      int64
	Invalid        int64
	TotalAttempts  int64
	TotalTokensIn  int64
	TotalTokensOut int64
	CacheHits      int64
	AvgLatencyMs   float64
}

// InsertRequest stores a new audit row. The caller is responsible for
// providing a unique ID (typically a UUID).
func (s *Store) InsertRequest(r *Request) error {
	cacheHitInt := 0
	if r.CacheHit {
		cacheHitInt = 1
	}

	_, err := s.writer.Exec(`
		INSERT INTO requests (
			id, timestamp, model, tier, attempts, outcome,
			tokens_in, tokens_out, latency_ms, key_hint,
			cache_hit, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Timestamp, r.Model, r.Tier, r.Attempts, r.Outcome,
		r.TokensIn, r.TokensOut, r.LatencyMs, r.KeyHint,
		cacheHitInt, r.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("store: insert request: %w", err)
	}
	return nil
}

// GetRequest retrieves a single audit row by its ID.
// Returns sql.ErrNoRows (wrapped) if the row does not exist.
func (s *Store) GetRequest(id string) (*Request, error) {
	r := &Request{}
	var cacheHitInt int

	err := s.reader.QueryRow(`
		SELECT id, timestamp, model, tier, attempts, outcome,
		       tokens_in, tokens_out, latency_ms, key_hint,
		       cache_hit, error_message
		FROM requests WHERE id = ?`, id,
	).Scan(
		&r.ID, &r.Timestamp, &r.Model, &r.Tier, &r.Attempts, &r.Outcome,
		&r.TokensIn, &r.TokensOut, &r.LatencyMs, &r.KeyHint,
		&cacheHitInt, &r.ErrorMessage,
	)
	if err != nil {
		return nil, fmt.Errorf("store: get request %s: %w", id, err)
	}

	r.CacheHit = cacheHitInt != 0
	return r, nil
}

// ListRequests returns a page of audit rows ordered by timestamp descending.
func (s *Store) ListRequests(limit, offset int) ([]*Request, error) {
	rows, err := s.reader.Query(`
		SELECT id, timestamp, model, tier, attempts, outcome,
		       tokens_in, tokens_out, latency_ms, key_hint,
		       cache_hit, error_message
		FROM requests
		ORDER BY timestamp DESC
		LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list requests: %w", err)
	}
	defer rows.Close()

	var results []*Request
	for rows.Next() {
		r := &Request{}
		var cacheHitInt int
		if err := rows.Scan(
			&r.ID, &r.Timestamp, &r.Model, &r.Tier, &r.Attempts, &r.Outcome,
			&r.TokensIn, &r.TokensOut, &r.LatencyMs, &r.KeyHint,
			&cacheHitInt, &r.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("store: scan request row: %w", err)
		}
		r.CacheHit = cacheHitInt != 0
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list requests iteration: %w", err)
	}
	return results, nil
}

// GetRequestStats computes aggregate statistics for all requests whose
// timestamp is >= since.
func (s *Store) GetRequestStats(since time.Time) (*RequestStats, error) {
	sinceStr := since.UTC().Format(time.RFC3339)
	stats := &RequestStats{}

	err := s.reader.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN outcome = 'success' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = 'exhausted' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN outcome = 'invalid_request' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(attempts), 0),
			COALESCE(SUM(tokens_in), 0),
			COALESCE(SUM(tokens_out), 0),
			COALESCE(SUM(CASE WHEN cache_hit = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(latency_ms), 0.0)
		FROM requests
		WHERE timestamp >= ?`, sinceStr,
	).Scan(
		&stats.TotalRequests,
		&stats.Succeeded,
		&stats.Exhausted,
		&stats.Invalid,
		&stats.TotalAttempts,
		&stats.TotalTokensIn,
		&stats.TotalTokensOut,
		&stats.CacheHits,
		&stats.AvgLatencyMs,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return stats, nil
		}
		return nil, fmt.Errorf("store: get request stats: %w", err)
	}

	return stats, nil
}
