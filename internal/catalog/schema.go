// Package catalog provides the statistics catalog for cube build jobs.
package catalog

// Schema contains the SQL schema definitions for the statistics catalog
// (catalog.db). The catalog is a SQLite database that serves as the source
// of truth for cube descriptors and per-split build statistics.

// CreateCubesTableSQL creates the cube descriptor table. Descriptors are
// stored as JSON so that schema evolution of the descriptor does not
// require catalog migrations.
const CreateCubesTableSQL = `
CREATE TABLE IF NOT EXISTS cubes (
    name TEXT PRIMARY KEY,
    descriptor TEXT NOT NULL,
    dimension_count INTEGER NOT NULL,
    sketch_precision INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
)`

// CreateSplitStatsTableSQL creates the per-split cuboid statistics table.
// Each row holds the serialized sketch registers for one cuboid of one
// input split; the total row (is_total = 1) carries the merged registers
// across every cuboid the split visited.
const CreateSplitStatsTableSQL = `
CREATE TABLE IF NOT EXISTS split_stats (
    job_id TEXT NOT NULL,
    split_id TEXT NOT NULL,
    cuboid_id INTEGER NOT NULL,
    is_total INTEGER NOT NULL DEFAULT 0,
    estimate INTEGER NOT NULL,
    registers BLOB NOT NULL,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (job_id, split_id, cuboid_id, is_total)
)`

// CreateSegmentsTableSQL creates the published segments table. A segment
// row is written only after the segment object is durably stored, so the
// table never references a partially written segment.
const CreateSegmentsTableSQL = `
CREATE TABLE IF NOT EXISTS segments (
    job_id TEXT NOT NULL,
    split_id TEXT NOT NULL,
    partition_id INTEGER NOT NULL DEFAULT 0,
    object_path TEXT NOT NULL,
    record_count INTEGER NOT NULL,
    size_bytes INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    PRIMARY KEY (job_id, split_id, partition_id)
)`

// CreateCatalogIndexesSQL creates indexes for the common read patterns.
var CreateCatalogIndexesSQL = []string{
	// Index for per-job statistics reads ordered by cuboid
	`CREATE INDEX IF NOT EXISTS idx_split_stats_job ON split_stats(job_id, cuboid_id)`,

	// Index for per-job segment listings
	`CREATE INDEX IF NOT EXISTS idx_segments_job ON segments(job_id)`,
}

// AnalyzeSQL runs ANALYZE to keep the SQLite query planner informed about
// index statistics.
const AnalyzeSQL = `ANALYZE`

// AllSchemaSQL returns all SQL statements needed to initialize the catalog.
func AllSchemaSQL() []string {
	statements := []string{
		CreateCubesTableSQL,
		CreateSplitStatsTableSQL,
		CreateSegmentsTableSQL,
	}
	statements = append(statements, CreateCatalogIndexesSQL...)
	return statements
}
