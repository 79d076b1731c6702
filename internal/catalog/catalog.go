package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/cubeforge/cubeforge/internal/cube"
	"github.com/cubeforge/cubeforge/internal/errors"
	"github.com/cubeforge/cubeforge/internal/sketch"
	"github.com/cubeforge/cubeforge/pkg/types"
)

// Catalog stores cube descriptors and per-split build statistics.
type Catalog interface {
	// SaveCube stores or replaces a cube descriptor.
	SaveCube(ctx context.Context, desc *cube.Desc) error

	// GetCube retrieves a cube descriptor by name.
	GetCube(ctx context.Context, name string) (*cube.Desc, error)

	// ListCubes returns the names of all stored cubes.
	ListCubes(ctx context.Context) ([]string, error)

	// RecordSplitStats stores the cuboid statistics produced by one split.
	RecordSplitStats(ctx context.Context, jobID, splitID string, stats []CuboidStat) error

	// SplitStats returns all statistics rows for a job ordered by cuboid
	// then split.
	SplitStats(ctx context.Context, jobID string) ([]*SplitStatRecord, error)

	// CuboidEstimates merges each cuboid's registers across every split
	// of the job and returns the job-wide estimates.
	CuboidEstimates(ctx context.Context, jobID string) (*JobEstimates, error)

	// RegisterSegment records a durably published shuffle segment.
	RegisterSegment(ctx context.Context, seg *SegmentRecord) error

	// ListSegments returns the published segments of a job.
	ListSegments(ctx context.Context, jobID string) ([]*SegmentRecord, error)

	// DeleteSplit removes every statistics and segment row of one split.
	DeleteSplit(ctx context.Context, jobID, splitID string) error

	// Close closes the catalog database connections.
	Close() error
}

// CuboidStat is one cuboid's statistics from a single split.
type CuboidStat struct {
	CuboidID  types.CuboidID
	IsTotal   bool
	Estimate  int64
	Registers []byte
}

// SplitStatRecord is a stored statistics row.
type SplitStatRecord struct {
	JobID     string
	SplitID   string
	CuboidID  types.CuboidID
	IsTotal   bool
	Estimate  int64
	Registers []byte
	CreatedAt time.Time
}

// CuboidEstimate is one cuboid's job-wide cardinality estimate.
type CuboidEstimate struct {
	CuboidID types.CuboidID
	Estimate uint64
}

// JobEstimates summarizes a job's statistics after merging each cuboid's
// registers across all of its splits. Estimates cannot be summed across
// splits; only a register merge gives the job-wide cardinality.
type JobEstimates struct {
	SplitCount int
	Cuboids    []CuboidEstimate // descending cuboid id
	Total      uint64
	HasTotal   bool
}

// SegmentRecord describes a published shuffle segment. A split that fans
// out across several shuffle partitions publishes one segment per
// partition.
type SegmentRecord struct {
	JobID       string
	SplitID     string
	Partition   int
	ObjectPath  string
	RecordCount int64
	SizeBytes   int64
	CreatedAt   time.Time
}

// SQLiteCatalog implements Catalog using SQLite.
type SQLiteCatalog struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool (concurrent readers)
	dbPath string
	mu     sync.Mutex // Write-only lock (reads don't need this)

	insertStatStmt *sql.Stmt
}

// NewCatalog opens (creating if necessary) a SQLite-backed catalog.
func NewCatalog(dbPath string) (*SQLiteCatalog, error) {
	// Write connection: single writer with WAL mode
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.NewCatalogError(errors.CodeMigration, "open catalog database", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Read connection pool: concurrent readers via read-only mode
	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&mode=ro")
	if err != nil {
		db.Close()
		return nil, errors.NewCatalogError(errors.CodeMigration, "open catalog read pool", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	c := &SQLiteCatalog{
		db:     db,
		readDB: readDB,
		dbPath: dbPath,
	}

	if err := c.initSchema(); err != nil {
		readDB.Close()
		db.Close()
		return nil, errors.NewCatalogError(errors.CodeMigration, "initialize catalog schema", err)
	}

	insertStmt, err := db.Prepare(`
		INSERT OR REPLACE INTO split_stats (
			job_id, split_id, cuboid_id, is_total, estimate, registers, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		readDB.Close()
		db.Close()
		return nil, errors.NewCatalogError(errors.CodeMigration, "prepare insert statement", err)
	}
	c.insertStatStmt = insertStmt

	return c, nil
}

// initSchema creates all required tables and indexes.
func (c *SQLiteCatalog) initSchema() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, stmt := range AllSchemaSQL() {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// SaveCube stores or replaces a cube descriptor.
func (c *SQLiteCatalog) SaveCube(ctx context.Context, desc *cube.Desc) error {
	if err := desc.Validate(); err != nil {
		return err
	}

	body, err := json.Marshal(desc)
	if err != nil {
		return errors.NewCatalogError(errors.CodeUnexpected, "marshal cube descriptor", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().Unix()
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO cubes (name, descriptor, dimension_count, sketch_precision, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			descriptor = excluded.descriptor,
			dimension_count = excluded.dimension_count,
			sketch_precision = excluded.sketch_precision,
			updated_at = excluded.updated_at`,
		desc.Name, string(body), desc.DimensionCount(), desc.SketchPrecision, now, now,
	)
	if err != nil {
		return errors.NewCatalogError(errors.CodeUnexpected,
			fmt.Sprintf("save cube %s", desc.Name), err)
	}
	return nil
}

// GetCube retrieves a cube descriptor by name.
func (c *SQLiteCatalog) GetCube(ctx context.Context, name string) (*cube.Desc, error) {
	var body string
	err := c.readDB.QueryRowContext(ctx,
		"SELECT descriptor FROM cubes WHERE name = ?", name,
	).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, errors.NewCatalogError(errors.CodeCubeNotFound,
			fmt.Sprintf("cube %s not found", name), nil)
	}
	if err != nil {
		return nil, errors.NewCatalogError(errors.CodeUnexpected,
			fmt.Sprintf("load cube %s", name), err)
	}

	var desc cube.Desc
	if err := json.Unmarshal([]byte(body), &desc); err != nil {
		return nil, errors.NewCatalogError(errors.CodeUnexpected,
			fmt.Sprintf("decode cube %s descriptor", name), err)
	}
	desc.ApplyDefaults()
	return &desc, nil
}

// ListCubes returns the names of all stored cubes.
func (c *SQLiteCatalog) ListCubes(ctx context.Context) ([]string, error) {
	rows, err := c.readDB.QueryContext(ctx, "SELECT name FROM cubes ORDER BY name")
	if err != nil {
		return nil, errors.NewCatalogError(errors.CodeUnexpected, "list cubes", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.NewCatalogError(errors.CodeUnexpected, "scan cube name", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewCatalogError(errors.CodeUnexpected, "iterate cubes", err)
	}
	return names, nil
}

// RecordSplitStats stores the cuboid statistics produced by one split
// atomically: either every cuboid row of the split lands or none do.
func (c *SQLiteCatalog) RecordSplitStats(ctx context.Context, jobID, splitID string, stats []CuboidStat) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewCatalogError(errors.CodeUnexpected, "begin statistics transaction", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	stmt := tx.StmtContext(ctx, c.insertStatStmt)
	for _, s := range stats {
		isTotal := 0
		if s.IsTotal {
			isTotal = 1
		}
		if _, err := stmt.ExecContext(ctx,
			jobID, splitID, int64(s.CuboidID), isTotal, s.Estimate, s.Registers, now,
		); err != nil {
			return errors.NewCatalogError(errors.CodeUnexpected,
				fmt.Sprintf("insert statistics for cuboid %s", s.CuboidID), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.NewCatalogError(errors.CodeUnexpected, "commit statistics transaction", err)
	}
	return nil
}

// SplitStats returns all statistics rows for a job ordered by cuboid then
// split, with each split's total row last.
func (c *SQLiteCatalog) SplitStats(ctx context.Context, jobID string) ([]*SplitStatRecord, error) {
	rows, err := c.readDB.QueryContext(ctx, `
		SELECT job_id, split_id, cuboid_id, is_total, estimate, registers, created_at
		FROM split_stats
		WHERE job_id = ?
		ORDER BY is_total, cuboid_id, split_id`, jobID)
	if err != nil {
		return nil, errors.NewCatalogError(errors.CodeUnexpected,
			fmt.Sprintf("query statistics for job %s", jobID), err)
	}
	defer rows.Close()

	var records []*SplitStatRecord
	for rows.Next() {
		var rec SplitStatRecord
		var cuboidID, isTotal, createdAtUnix int64
		if err := rows.Scan(&rec.JobID, &rec.SplitID, &cuboidID, &isTotal,
			&rec.Estimate, &rec.Registers, &createdAtUnix); err != nil {
			return nil, errors.NewCatalogError(errors.CodeUnexpected, "scan statistics row", err)
		}
		rec.CuboidID = types.CuboidID(cuboidID)
		rec.IsTotal = isTotal != 0
		rec.CreatedAt = time.Unix(createdAtUnix, 0)
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewCatalogError(errors.CodeUnexpected, "iterate statistics rows", err)
	}
	return records, nil
}

// CuboidEstimates merges each cuboid's registers across every split of
// the job and returns the merged estimates, totals merged separately.
func (c *SQLiteCatalog) CuboidEstimates(ctx context.Context, jobID string) (*JobEstimates, error) {
	records, err := c.SplitStats(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.NewCatalogError(errors.CodeStatsNotFound,
			fmt.Sprintf("no statistics recorded for job %s", jobID), nil)
	}

	merged := make(map[types.CuboidID]*sketch.HyperLogLog)
	var total *sketch.HyperLogLog
	splits := make(map[string]bool)

	for _, rec := range records {
		splits[rec.SplitID] = true
		sk, err := sketch.ReadRegisters(rec.Registers)
		if err != nil {
			return nil, errors.NewCatalogError(errors.CodeUnexpected,
				fmt.Sprintf("decode registers for split %s cuboid %s", rec.SplitID, rec.CuboidID), err)
		}
		if rec.IsTotal {
			if total == nil {
				total = sk
			} else if err := total.Merge(sk); err != nil {
				return nil, err
			}
			continue
		}
		if cur, ok := merged[rec.CuboidID]; ok {
			if err := cur.Merge(sk); err != nil {
				return nil, err
			}
		} else {
			merged[rec.CuboidID] = sk
		}
	}

	est := &JobEstimates{SplitCount: len(splits)}
	ids := make([]types.CuboidID, 0, len(merged))
	for id := range merged {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
	for _, id := range ids {
		est.Cuboids = append(est.Cuboids, CuboidEstimate{
			CuboidID: id,
			Estimate: merged[id].Estimate(),
		})
	}
	if total != nil {
		est.Total = total.Estimate()
		est.HasTotal = true
	}
	return est, nil
}

// RegisterSegment records a durably published shuffle segment.
func (c *SQLiteCatalog) RegisterSegment(ctx context.Context, seg *SegmentRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	createdAt := seg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO segments (job_id, split_id, partition_id, object_path, record_count, size_bytes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		seg.JobID, seg.SplitID, seg.Partition, seg.ObjectPath, seg.RecordCount, seg.SizeBytes, createdAt.Unix(),
	)
	if err != nil {
		return errors.NewCatalogError(errors.CodeUnexpected,
			fmt.Sprintf("register segment %s/%s", seg.JobID, seg.SplitID), err)
	}
	return nil
}

// ListSegments returns the published segments of a job ordered by split
// then partition.
func (c *SQLiteCatalog) ListSegments(ctx context.Context, jobID string) ([]*SegmentRecord, error) {
	rows, err := c.readDB.QueryContext(ctx, `
		SELECT job_id, split_id, partition_id, object_path, record_count, size_bytes, created_at
		FROM segments
		WHERE job_id = ?
		ORDER BY split_id, partition_id`, jobID)
	if err != nil {
		return nil, errors.NewCatalogError(errors.CodeUnexpected,
			fmt.Sprintf("query segments for job %s", jobID), err)
	}
	defer rows.Close()

	var records []*SegmentRecord
	for rows.Next() {
		var rec SegmentRecord
		var createdAtUnix int64
		if err := rows.Scan(&rec.JobID, &rec.SplitID, &rec.Partition, &rec.ObjectPath,
			&rec.RecordCount, &rec.SizeBytes, &createdAtUnix); err != nil {
			return nil, errors.NewCatalogError(errors.CodeUnexpected, "scan segment row", err)
		}
		rec.CreatedAt = time.Unix(createdAtUnix, 0)
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewCatalogError(errors.CodeUnexpected, "iterate segment rows", err)
	}
	return records, nil
}

// DeleteSplit removes every statistics and segment row of one split in a
// single transaction. Deleting a split with no rows is a no-op, so a
// rollback can call it without checking what was registered first.
func (c *SQLiteCatalog) DeleteSplit(ctx context.Context, jobID, splitID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewCatalogError(errors.CodeUnexpected, "begin split delete transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM split_stats WHERE job_id = ? AND split_id = ?", jobID, splitID); err != nil {
		return errors.NewCatalogError(errors.CodeUnexpected,
			fmt.Sprintf("delete statistics for split %s/%s", jobID, splitID), err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM segments WHERE job_id = ? AND split_id = ?", jobID, splitID); err != nil {
		return errors.NewCatalogError(errors.CodeUnexpected,
			fmt.Sprintf("delete segments for split %s/%s", jobID, splitID), err)
	}

	if err := tx.Commit(); err != nil {
		return errors.NewCatalogError(errors.CodeUnexpected, "commit split delete transaction", err)
	}
	return nil
}

// RunAnalyze runs ANALYZE to update SQLite query planner statistics.
// Should be called after bulk inserts to keep index statistics current.
func (c *SQLiteCatalog) RunAnalyze(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, AnalyzeSQL)
	if err != nil {
		return errors.NewCatalogError(errors.CodeUnexpected, "run ANALYZE", err)
	}
	return nil
}

// Close closes the catalog database connections.
func (c *SQLiteCatalog) Close() error {
	if c.insertStatStmt != nil {
		c.insertStatStmt.Close()
	}
	// Close read connection first, then write connection
	if err := c.readDB.Close(); err != nil {
		c.db.Close()
		return err
	}
	return c.db.Close()
}
