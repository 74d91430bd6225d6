// Package store persists trained reducer and cluster models in SQLite so a
// later run can assign new wind samples to the same characteristic
// profiles.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/windprofile/internal/kmeans"
	"github.com/banshee-data/windprofile/internal/pca"
)

// ErrRunNotFound is returned when no training run matches the request.
var ErrRunNotFound = errors.New("training run not found")

// Run is one persisted training run: the models plus the context needed to
// apply them to new data.
type Run struct {
	RunID      string
	CreatedAt  time.Time
	Source     string
	NumSamples int
	NumSkipped int
	Altitudes  []float64
	ParamsJSON json.RawMessage

	Reducer  *pca.Model
	Clusters *kmeans.Model

	// Index-aligned with the centroids of Clusters.
	Counts      []int
	Frequencies []float64
}

// RunSummary is the listing shape of a Run.
type RunSummary struct {
	RunID              string
	CreatedAt          time.Time
	Source             string
	NumSamples         int
	NumComponents      int
	NumClusters        int
	CumulativeVariance float64
	Dispersion         float64
}

// Store wraps the SQLite handle.
type Store struct {
	db *sql.DB
}

// connPragmas are applied by the driver to every new connection.
var connPragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"foreign_keys(1)",
}

// dsn appends connPragmas to path as _pragma query parameters.
func dsn(path string) string {
	q := url.Values{"_pragma": connPragmas}
	return path + "?" + q.Encode()
}

// Open opens (creating if needed) the database at path with connPragmas in
// force and migrates the schema to the latest version.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// SQLite has a single writer.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	s := &Store{db: db}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun writes run and its models in one transaction. An empty RunID is
// filled with a new UUID and a zero CreatedAt with the current time.
func (s *Store) SaveRun(ctx context.Context, run *Run) error {
	if run.Reducer == nil || run.Clusters == nil {
		return fmt.Errorf("save run: reducer and cluster models are required")
	}
	if len(run.Counts) != run.Clusters.NumClusters() || len(run.Frequencies) != run.Clusters.NumClusters() {
		return fmt.Errorf("save run: %d clusters but %d counts and %d frequencies",
			run.Clusters.NumClusters(), len(run.Counts), len(run.Frequencies))
	}
	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now()
	}

	altitudes, err := json.Marshal(run.Altitudes)
	if err != nil {
		return fmt.Errorf("encode altitudes: %w", err)
	}
	reducer, err := json.Marshal(run.Reducer.Snapshot())
	if err != nil {
		return fmt.Errorf("encode reducer: %w", err)
	}
	clusters, err := json.Marshal(run.Clusters.Snapshot())
	if err != nil {
		return fmt.Errorf("encode clusters: %w", err)
	}
	cum := run.Reducer.CumulativeVarianceRatio()

	err = retryOnBusy(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO training_runs (
				run_id, created_at, source, n_samples, n_skipped, altitudes_json, params_json
			) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, run.CreatedAt.UnixNano(), nullStr(run.Source), run.NumSamples, run.NumSkipped,
			string(altitudes), nullJSON(run.ParamsJSON),
		); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO reducer_models (
				run_id, n_components, n_features, cumulative_variance, model_json
			) VALUES (?, ?, ?, ?, ?)`,
			run.RunID, run.Reducer.NumComponents(), run.Reducer.NumFeatures(), cum[len(cum)-1], string(reducer),
		); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO cluster_models (
				run_id, n_clusters, dispersion, converged, model_json
			) VALUES (?, ?, ?, ?, ?)`,
			run.RunID, run.Clusters.NumClusters(), run.Clusters.Dispersion(), run.Clusters.Converged(), string(clusters),
		); err != nil {
			return err
		}
		for k := range run.Counts {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO cluster_frequencies (run_id, cluster, sample_count, frequency)
				VALUES (?, ?, ?, ?)`,
				run.RunID, k, run.Counts[k], run.Frequencies[k],
			); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return fmt.Errorf("saving run %s: %w", run.RunID, err)
	}
	return nil
}

// LoadRun returns the run with the given ID.
func (s *Store) LoadRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT t.run_id, t.created_at, t.source, t.n_samples, t.n_skipped, t.altitudes_json, t.params_json,
		       r.model_json, c.model_json
		FROM training_runs t
		JOIN reducer_models r ON r.run_id = t.run_id
		JOIN cluster_models c ON c.run_id = t.run_id
		WHERE t.run_id = ?`, runID)
	run, err := s.scanRun(ctx, row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return run, err
}

// LatestRun returns the most recently created run.
func (s *Store) LatestRun(ctx context.Context) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT t.run_id, t.created_at, t.source, t.n_samples, t.n_skipped, t.altitudes_json, t.params_json,
		       r.model_json, c.model_json
		FROM training_runs t
		JOIN reducer_models r ON r.run_id = t.run_id
		JOIN cluster_models c ON c.run_id = t.run_id
		ORDER BY t.created_at DESC, t.rowid DESC
		LIMIT 1`)
	run, err := s.scanRun(ctx, row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: store is empty", ErrRunNotFound)
	}
	return run, err
}

func (s *Store) scanRun(ctx context.Context, row *sql.Row) (*Run, error) {
	var (
		run                                     Run
		createdAt                               int64
		source, params                          sql.NullString
		altitudesJSON, reducerJSON, clusterJSON string
	)
	if err := row.Scan(&run.RunID, &createdAt, &source, &run.NumSamples, &run.NumSkipped,
		&altitudesJSON, &params, &reducerJSON, &clusterJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan run: %w", err)
	}
	run.CreatedAt = time.Unix(0, createdAt)
	run.Source = source.String
	if params.Valid {
		run.ParamsJSON = json.RawMessage(params.String)
	}

	if err := json.Unmarshal([]byte(altitudesJSON), &run.Altitudes); err != nil {
		return nil, fmt.Errorf("run %s: decode altitudes: %w", run.RunID, err)
	}
	var rs pca.Snapshot
	if err := json.Unmarshal([]byte(reducerJSON), &rs); err != nil {
		return nil, fmt.Errorf("run %s: decode reducer: %w", run.RunID, err)
	}
	reducer, err := pca.FromSnapshot(rs)
	if err != nil {
		return nil, fmt.Errorf("run %s: rebuild reducer: %w", run.RunID, err)
	}
	var cs kmeans.Snapshot
	if err := json.Unmarshal([]byte(clusterJSON), &cs); err != nil {
		return nil, fmt.Errorf("run %s: decode clusters: %w", run.RunID, err)
	}
	clusters, err := kmeans.FromSnapshot(cs)
	if err != nil {
		return nil, fmt.Errorf("run %s: rebuild clusters: %w", run.RunID, err)
	}
	run.Reducer, run.Clusters = reducer, clusters

	if err := s.loadFrequencies(ctx, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *Store) loadFrequencies(ctx context.Context, run *Run) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cluster, sample_count, frequency
		FROM cluster_frequencies
		WHERE run_id = ?
		ORDER BY cluster`, run.RunID)
	if err != nil {
		return fmt.Errorf("query frequencies: %w", err)
	}
	defer rows.Close()

	k := run.Clusters.NumClusters()
	run.Counts = make([]int, k)
	run.Frequencies = make([]float64, k)
	for rows.Next() {
		var (
			cluster, count int
			freq           float64
		)
		if err := rows.Scan(&cluster, &count, &freq); err != nil {
			return fmt.Errorf("scan frequency: %w", err)
		}
		if cluster < 0 || cluster >= k {
			return fmt.Errorf("run %s: frequency row for cluster %d of %d", run.RunID, cluster, k)
		}
		run.Counts[cluster], run.Frequencies[cluster] = count, freq
	}
	return rows.Err()
}

// ListRuns returns summaries of all runs, newest first.
func (s *Store) ListRuns(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.run_id, t.created_at, t.source, t.n_samples,
		       r.n_components, r.cumulative_variance, c.n_clusters, c.dispersion
		FROM training_runs t
		JOIN reducer_models r ON r.run_id = t.run_id
		JOIN cluster_models c ON c.run_id = t.run_id
		ORDER BY t.created_at DESC, t.rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			r         RunSummary
			createdAt int64
			source    sql.NullString
		)
		if err := rows.Scan(&r.RunID, &createdAt, &source, &r.NumSamples,
			&r.NumComponents, &r.CumulativeVariance, &r.NumClusters, &r.Dispersion); err != nil {
			return nil, fmt.Errorf("scan run summary: %w", err)
		}
		r.CreatedAt = time.Unix(0, createdAt)
		r.Source = source.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteRun removes a run and its models.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	var affected int64
	err := retryOnBusy(func() error {
		result, err := s.db.ExecContext(ctx, `DELETE FROM training_runs WHERE run_id = ?`, runID)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("deleting run %s: %w", runID, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return nil
}

func nullStr(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullJSON(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
