package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"photosweep/internal/models"
)

// ErrNotFound is returned when a cache row does not exist
var ErrNotFound = errors.New("record not found")

// Cache persists per-asset scan state so re-scans only hash what changed.
// Writes are expected from a single goroutine at a time.
type Cache struct {
	db     *sql.DB
	dbPath string
}

// NewCache opens (creating if needed) the cache database at dbPath
func NewCache(dbPath string) (*Cache, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps foreign key enforcement and transactions simple.
	db.SetMaxOpenConns(1)

	c := &Cache{db: db, dbPath: dbPath}
	if err := c.init(); err != nil {
		db.Close()
		return nil, err
	}

	return c, nil
}

// Current schema version
const schemaVersion = 2

// migrations defines all schema migrations. Each must be idempotent.
var migrations = []struct {
	version     int
	description string
	up          string
}{
	{
		version:     1,
		description: "Initial schema",
		up:          "", // Handled by base schema creation
	},
	{
		version:     2,
		description: "Index issues by kind",
		up:          `CREATE INDEX IF NOT EXISTS idx_issues_kind ON issues(kind);`,
	},
}

func (c *Cache) init() error {
	_, err := c.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS assets (
		asset_id TEXT PRIMARY KEY,
		filename TEXT NOT NULL DEFAULT '',
		pixel_width INTEGER NOT NULL DEFAULT 0,
		pixel_height INTEGER NOT NULL DEFAULT 0,
		creation_date INTEGER,
		byte_count INTEGER NOT NULL DEFAULT 0,
		resources TEXT NOT NULL DEFAULT '[]',
		subtypes INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'scanned', 'failed')),
		exact_hash TEXT,
		perceptual INTEGER,
		has_perceptual INTEGER NOT NULL DEFAULT 0,
		measured_bytes INTEGER NOT NULL DEFAULT 0,
		failure_reason TEXT,
		last_scanned_at INTEGER,
		CHECK (status != 'scanned' OR exact_hash IS NOT NULL)
	);

	CREATE INDEX IF NOT EXISTS idx_assets_status ON assets(status);

	CREATE TABLE IF NOT EXISTS issues (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		asset_id TEXT NOT NULL REFERENCES assets(asset_id) ON DELETE CASCADE,
		kind TEXT NOT NULL,
		severity TEXT NOT NULL,
		byte_size INTEGER NOT NULL DEFAULT 0,
		message TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_issues_asset_id ON issues(asset_id);

	CREATE TABLE IF NOT EXISTS duplicate_groups (
		group_id TEXT PRIMARY KEY,
		original_id TEXT NOT NULL,
		similarity REAL NOT NULL,
		exact INTEGER NOT NULL DEFAULT 0,
		savings INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS group_members (
		group_id TEXT NOT NULL REFERENCES duplicate_groups(group_id) ON DELETE CASCADE,
		asset_id TEXT NOT NULL REFERENCES assets(asset_id) ON DELETE CASCADE,
		position INTEGER NOT NULL,
		PRIMARY KEY (group_id, asset_id)
	);

	CREATE TABLE IF NOT EXISTS sync_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS scan_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		generation INTEGER NOT NULL,
		scanned_at INTEGER NOT NULL,
		mode TEXT NOT NULL,
		total_assets INTEGER NOT NULL,
		processed INTEGER NOT NULL,
		total_issues INTEGER NOT NULL,
		total_groups INTEGER NOT NULL,
		total_duplicates INTEGER NOT NULL
	);
	`

	if _, err := c.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	if err := c.migrate(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// migrate runs pending schema migrations
func (c *Cache) migrate() error {
	currentVersion := c.getSchemaVersion()

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if m.up != "" {
			if _, err := c.db.Exec(m.up); err != nil {
				return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.description, err)
			}
		}
		if err := c.setSchemaVersion(m.version); err != nil {
			return err
		}
	}

	return nil
}

func (c *Cache) getSchemaVersion() int {
	var version int
	err := c.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)
	if err != nil {
		return 0
	}
	return version
}

func (c *Cache) setSchemaVersion(version int) error {
	_, err := c.db.Exec(`INSERT OR REPLACE INTO schema_version (version) VALUES (?)`, version)
	return err
}

// Close closes the database connection
func (c *Cache) Close() error {
	return c.db.Close()
}

// Path returns the database file path
func (c *Cache) Path() string {
	return c.dbPath
}

// KnownIDs returns every asset id in the cache
func (c *Cache) KnownIDs(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT asset_id FROM assets ORDER BY asset_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query asset ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// InsertPending adds new assets as pending rows. An id that already exists
// only has its metadata refreshed; its scan state is kept.
func (c *Cache) InsertPending(ctx context.Context, metas []models.AssetMetadata) error {
	if len(metas) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO assets (asset_id, filename, pixel_width, pixel_height, creation_date, byte_count, resources, subtypes, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'pending')
		ON CONFLICT(asset_id) DO UPDATE SET
			filename = excluded.filename,
			pixel_width = excluded.pixel_width,
			pixel_height = excluded.pixel_height,
			creation_date = excluded.creation_date,
			byte_count = excluded.byte_count,
			resources = excluded.resources,
			subtypes = excluded.subtypes
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, m := range metas {
		resources, err := json.Marshal(m.Resources)
		if err != nil {
			return fmt.Errorf("failed to encode resources for %s: %w", m.ID, err)
		}
		_, err = stmt.ExecContext(ctx, m.ID, m.Filename, m.PixelWidth, m.PixelHeight,
			nullableTime(m.CreationDate), m.ByteCount, string(resources), int64(m.Subtypes))
		if err != nil {
			return fmt.Errorf("failed to insert asset %s: %w", m.ID, err)
		}
	}

	return tx.Commit()
}

// Delete removes assets and, by cascade, their issues and group memberships
func (c *Cache) Delete(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `DELETE FROM assets WHERE asset_id = ?`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	var deleted int64
	for _, id := range ids {
		res, err := stmt.ExecContext(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("failed to delete asset %s: %w", id, err)
		}
		n, _ := res.RowsAffected()
		deleted += n
	}

	// A group whose original is gone has nothing left to keep
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM duplicate_groups WHERE original_id NOT IN (SELECT asset_id FROM assets)
	`); err != nil {
		return 0, fmt.Errorf("failed to prune groups: %w", err)
	}

	// Groups left with fewer than two members are no longer duplicates
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM duplicate_groups WHERE group_id IN (
			SELECT g.group_id FROM duplicate_groups g
			LEFT JOIN group_members m ON m.group_id = g.group_id
			GROUP BY g.group_id HAVING COUNT(m.asset_id) < 2
		)
	`); err != nil {
		return 0, fmt.Errorf("failed to prune groups: %w", err)
	}

	return deleted, tx.Commit()
}

const recordColumns = `asset_id, filename, pixel_width, pixel_height, creation_date, byte_count, resources, subtypes,
	status, exact_hash, perceptual, has_perceptual, measured_bytes, failure_reason, last_scanned_at`

// Records returns cache rows ordered by asset id, optionally filtered by status
func (c *Cache) Records(ctx context.Context, statuses ...models.ScanStatus) ([]models.CacheRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM assets`
	args := make([]any, len(statuses))
	if len(statuses) > 0 {
		placeholders := make([]string, len(statuses))
		for i, s := range statuses {
			placeholders[i] = "?"
			args[i] = string(s)
		}
		query += ` WHERE status IN (` + strings.Join(placeholders, ", ") + `)`
	}
	query += ` ORDER BY asset_id`

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query assets: %w", err)
	}
	defer rows.Close()

	var records []models.CacheRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Record returns the row for one asset
func (c *Cache) Record(ctx context.Context, id string) (models.CacheRecord, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM assets WHERE asset_id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.CacheRecord{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (models.CacheRecord, error) {
	var (
		rec           models.CacheRecord
		created       sql.NullInt64
		resources     string
		subtypes      int64
		status        string
		exactHash     sql.NullString
		perceptual    sql.NullInt64
		hasPerceptual int
		measured      int64
		failure       sql.NullString
		scannedAt     sql.NullInt64
	)
	m := &rec.Metadata
	err := row.Scan(&m.ID, &m.Filename, &m.PixelWidth, &m.PixelHeight, &created, &m.ByteCount,
		&resources, &subtypes, &status, &exactHash, &perceptual, &hasPerceptual, &measured,
		&failure, &scannedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("failed to scan row: %w", err)
	}

	m.CreationDate = timeFromNullable(created)
	m.Subtypes = models.MediaSubtype(subtypes)
	if err := json.Unmarshal([]byte(resources), &m.Resources); err != nil {
		return rec, fmt.Errorf("failed to decode resources for %s: %w", m.ID, err)
	}

	rec.Status = models.ScanStatus(status)
	rec.FailureReason = failure.String
	rec.LastScannedAt = timeFromNullable(scannedAt)
	if exactHash.Valid {
		rec.Signature = &models.AssetSignature{
			ExactHash:         exactHash.String,
			Perceptual:        uint64(perceptual.Int64),
			HasPerceptual:     hasPerceptual == 1,
			MeasuredByteCount: measured,
		}
	}
	return rec, nil
}

// Outcome is the completed work for one asset in a pass. Signature nil with
// a FailureReason marks the asset failed.
type Outcome struct {
	Metadata      models.AssetMetadata
	Signature     *models.AssetSignature
	FailureReason string
	Issues        []models.Issue
	ScannedAt     time.Time
}

// Commit is everything a completed pass persists
type Commit struct {
	Mode       models.ScanMode
	Outcomes   []Outcome
	Groups     []models.DuplicateGroup
	Result     *models.ScanResult
	FinishedAt time.Time
}

// CommitScan applies a completed pass atomically: per-asset status
// transitions, issue replacement, the duplicate group snapshot, the history
// row and the generation bump. It returns the new generation.
func (c *Cache) CommitScan(ctx context.Context, commit Commit) (int64, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := applyOutcomes(ctx, tx, commit.Outcomes); err != nil {
		return 0, err
	}
	if err := replaceGroups(ctx, tx, commit.Groups); err != nil {
		return 0, err
	}

	generation, err := readGeneration(ctx, tx)
	if err != nil {
		return 0, err
	}
	generation++
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO sync_state (key, value) VALUES ('generation', ?)`,
		strconv.FormatInt(generation, 10)); err != nil {
		return 0, fmt.Errorf("failed to update generation: %w", err)
	}

	if commit.FinishedAt.IsZero() {
		commit.FinishedAt = time.Now()
	}
	if r := commit.Result; r != nil {
		duplicates := 0
		for _, g := range r.DuplicateGroups {
			duplicates += g.DuplicateCount()
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO scan_history (generation, scanned_at, mode, total_assets, processed, total_issues, total_groups, total_duplicates)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, generation, commit.FinishedAt.UnixNano(), string(commit.Mode), r.TotalPhotos, r.Processed,
			len(r.Issues), len(r.DuplicateGroups), duplicates)
		if err != nil {
			return 0, fmt.Errorf("failed to record scan: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit scan: %w", err)
	}
	return generation, nil
}

func applyOutcomes(ctx context.Context, tx *sql.Tx, outcomes []Outcome) error {
	if len(outcomes) == 0 {
		return nil
	}

	scanned, err := tx.PrepareContext(ctx, `
		UPDATE assets SET filename = ?, pixel_width = ?, pixel_height = ?, creation_date = ?, byte_count = ?,
			resources = ?, subtypes = ?, status = 'scanned', exact_hash = ?, perceptual = ?, has_perceptual = ?,
			measured_bytes = ?, failure_reason = NULL, last_scanned_at = ?
		WHERE asset_id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer scanned.Close()

	failed, err := tx.PrepareContext(ctx, `
		UPDATE assets SET status = 'failed', exact_hash = NULL, perceptual = NULL, has_perceptual = 0,
			measured_bytes = 0, failure_reason = ?, last_scanned_at = ?
		WHERE asset_id = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer failed.Close()

	clearIssues, err := tx.PrepareContext(ctx, `DELETE FROM issues WHERE asset_id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer clearIssues.Close()

	addIssue, err := tx.PrepareContext(ctx, `
		INSERT INTO issues (asset_id, kind, severity, byte_size, message) VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer addIssue.Close()

	for _, o := range outcomes {
		m := o.Metadata
		var res sql.Result
		if o.Signature != nil && o.Signature.ExactHash != "" {
			resources, err := json.Marshal(m.Resources)
			if err != nil {
				return fmt.Errorf("failed to encode resources for %s: %w", m.ID, err)
			}
			hasPerceptual := 0
			if o.Signature.HasPerceptual {
				hasPerceptual = 1
			}
			res, err = scanned.ExecContext(ctx, m.Filename, m.PixelWidth, m.PixelHeight, nullableTime(m.CreationDate),
				m.ByteCount, string(resources), int64(m.Subtypes), o.Signature.ExactHash,
				int64(o.Signature.Perceptual), hasPerceptual, o.Signature.MeasuredByteCount,
				o.ScannedAt.UnixNano(), m.ID)
			if err != nil {
				return fmt.Errorf("failed to mark %s scanned: %w", m.ID, err)
			}
		} else {
			reason := o.FailureReason
			if reason == "" {
				reason = "no signature"
			}
			res, err = failed.ExecContext(ctx, reason, o.ScannedAt.UnixNano(), m.ID)
			if err != nil {
				return fmt.Errorf("failed to mark %s failed: %w", m.ID, err)
			}
		}

		// Rows purged by a concurrent sync are skipped
		if n, _ := res.RowsAffected(); n == 0 {
			continue
		}

		if _, err := clearIssues.ExecContext(ctx, m.ID); err != nil {
			return fmt.Errorf("failed to clear issues for %s: %w", m.ID, err)
		}
		for _, issue := range o.Issues {
			if issue.Kind == models.IssueDuplicate {
				continue
			}
			if _, err := addIssue.ExecContext(ctx, issue.AssetID, string(issue.Kind), string(issue.Severity),
				issue.ByteSize, issue.Message); err != nil {
				return fmt.Errorf("failed to insert issue for %s: %w", m.ID, err)
			}
		}
	}
	return nil
}

// replaceGroups stores groups in place of the previous snapshot. Members whose
// asset row was purged while the pass ran are left out, and groups that lose
// their original or drop below two members are not stored.
func replaceGroups(ctx context.Context, tx *sql.Tx, groups []models.DuplicateGroup) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM duplicate_groups`); err != nil {
		return fmt.Errorf("failed to reset groups: %w", err)
	}

	exists, err := tx.PrepareContext(ctx, `SELECT COUNT(*) FROM assets WHERE asset_id = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer exists.Close()

	for _, g := range groups {
		members := g.MemberIDs[:0:0]
		for _, id := range g.MemberIDs {
			var n int
			if err := exists.QueryRowContext(ctx, id).Scan(&n); err != nil {
				return fmt.Errorf("failed to look up asset %s: %w", id, err)
			}
			if n > 0 {
				members = append(members, id)
			}
		}
		g.MemberIDs = members
		if !g.HasOriginal() {
			continue
		}

		exact := 0
		if g.Exact {
			exact = 1
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO duplicate_groups (group_id, original_id, similarity, exact, savings) VALUES (?, ?, ?, ?, ?)
		`, g.ID, g.OriginalID, g.Similarity, exact, g.PotentialSavingsBytes); err != nil {
			return fmt.Errorf("failed to insert group %s: %w", g.ID, err)
		}
		for pos, id := range g.MemberIDs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO group_members (group_id, asset_id, position) VALUES (?, ?, ?)
			`, g.ID, id, pos); err != nil {
				return fmt.Errorf("failed to insert member %s of group %s: %w", id, g.ID, err)
			}
		}
	}
	return nil
}

func readGeneration(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}) (int64, error) {
	var value string
	err := q.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = 'generation'`).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read generation: %w", err)
	}
	return strconv.ParseInt(value, 10, 64)
}

// SyncToken returns the generation of the last completed pass (0 if none)
func (c *Cache) SyncToken(ctx context.Context) (int64, error) {
	return readGeneration(ctx, c.db)
}

// Issues returns every persisted issue ordered by asset id
func (c *Cache) Issues(ctx context.Context) ([]models.Issue, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT asset_id, kind, severity, byte_size, message FROM issues ORDER BY asset_id, kind, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query issues: %w", err)
	}
	defer rows.Close()

	var issues []models.Issue
	for rows.Next() {
		var issue models.Issue
		var kind, severity string
		if err := rows.Scan(&issue.AssetID, &kind, &severity, &issue.ByteSize, &issue.Message); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		issue.Kind = models.IssueKind(kind)
		issue.Severity = models.Severity(severity)
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

// DuplicateGroups returns the group snapshot of the last completed pass.
// Groups that lost members to a later sync are reported with what remains,
// as long as the original and one copy are still there.
func (c *Cache) DuplicateGroups(ctx context.Context) ([]models.DuplicateGroup, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT g.group_id, g.original_id, g.similarity, g.exact, m.asset_id,
			CASE WHEN m.asset_id = g.original_id THEN 0
				ELSE COALESCE(NULLIF(a.measured_bytes, 0), NULLIF(a.byte_count, 0),
					CAST(a.pixel_width * a.pixel_height * 0.4 AS INTEGER)) END
		FROM duplicate_groups g
		JOIN group_members m ON m.group_id = g.group_id
		JOIN assets a ON a.asset_id = m.asset_id
		ORDER BY g.group_id, m.position
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	defer rows.Close()

	var groups []models.DuplicateGroup
	for rows.Next() {
		var (
			id, original, member string
			similarity           float64
			exact                int
			bytes                int64
		)
		if err := rows.Scan(&id, &original, &similarity, &exact, &member, &bytes); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if len(groups) == 0 || groups[len(groups)-1].ID != id {
			groups = append(groups, models.DuplicateGroup{
				ID:         id,
				OriginalID: original,
				Similarity: similarity,
				Exact:      exact == 1,
			})
		}
		g := &groups[len(groups)-1]
		g.MemberIDs = append(g.MemberIDs, member)
		g.PotentialSavingsBytes += bytes
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := groups[:0]
	for _, g := range groups {
		if g.HasOriginal() {
			out = append(out, g)
		}
	}
	return out, nil
}

// LastResult rebuilds the result of the last completed pass from the cache
func (c *Cache) LastResult(ctx context.Context) (*models.ScanResult, error) {
	history, err := c.History(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, ErrNotFound
	}

	issues, err := c.Issues(ctx)
	if err != nil {
		return nil, err
	}
	groups, err := c.DuplicateGroups(ctx)
	if err != nil {
		return nil, err
	}

	for _, g := range groups {
		issues = append(issues, g.Issues()...)
	}

	return &models.ScanResult{
		TotalPhotos:     history[0].TotalAssets,
		Processed:       history[0].Processed,
		Issues:          issues,
		DuplicateGroups: groups,
		ScannedAt:       history[0].ScannedAt,
		Generation:      history[0].Generation,
	}, nil
}

// HistoryEntry is one completed pass
type HistoryEntry struct {
	Generation      int64           `json:"generation"`
	ScannedAt       time.Time       `json:"scanned_at"`
	Mode            models.ScanMode `json:"mode"`
	TotalAssets     int             `json:"total_assets"`
	Processed       int             `json:"processed"`
	TotalIssues     int             `json:"total_issues"`
	TotalGroups     int             `json:"total_groups"`
	TotalDuplicates int             `json:"total_duplicates"`
}

// History returns the most recent passes, newest first. limit <= 0 means all.
func (c *Cache) History(ctx context.Context, limit int) ([]HistoryEntry, error) {
	query := `
		SELECT generation, scanned_at, mode, total_assets, processed, total_issues, total_groups, total_duplicates
		FROM scan_history ORDER BY id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var scannedAt int64
		var mode string
		if err := rows.Scan(&e.Generation, &scannedAt, &mode, &e.TotalAssets, &e.Processed,
			&e.TotalIssues, &e.TotalGroups, &e.TotalDuplicates); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		e.ScannedAt = time.Unix(0, scannedAt).UTC()
		e.Mode = models.ScanMode(mode)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func timeFromNullable(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}
