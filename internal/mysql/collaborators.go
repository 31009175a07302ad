package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nethalo/queryguard/internal/cost"
	"github.com/nethalo/queryguard/internal/gwerrors"
)

// TableStatsProvider adapts a live MySQL connection into the gateway's
// cost.TableStatsFn with a pair of targeted information_schema lookups,
// the same style UploadTableExistenceChecker.Exists uses below, rather
// than a full DDL/metadata walk the cost estimator has no use for.
type TableStatsProvider struct {
	DB       *sql.DB
	Database string
}

// Stats looks up rowCount/indexCount/sizeKB for table. The method value
// TableStatsProvider.Stats satisfies cost.TableStatsFn directly.
func (p *TableStatsProvider) Stats(table string) (cost.TableStats, error) {
	var rowCount, dataLength, indexLength int64
	err := p.DB.QueryRowContext(context.Background(), `
		SELECT IFNULL(TABLE_ROWS, 0), IFNULL(DATA_LENGTH, 0), IFNULL(INDEX_LENGTH, 0)
		FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
	`, p.Database, table).Scan(&rowCount, &dataLength, &indexLength)
	if err != nil {
		if err == sql.ErrNoRows {
			return cost.TableStats{}, fmt.Errorf("table %s.%s not found", p.Database, table)
		}
		return cost.TableStats{}, fmt.Errorf("querying table stats for %q: %w", table, err)
	}

	var indexCount int
	err = p.DB.QueryRowContext(context.Background(), `
		SELECT COUNT(DISTINCT INDEX_NAME)
		FROM information_schema.STATISTICS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
	`, p.Database, table).Scan(&indexCount)
	if err != nil {
		return cost.TableStats{}, fmt.Errorf("querying index count for %q: %w", table, err)
	}

	return cost.TableStats{
		RowCount:   rowCount,
		IndexCount: indexCount,
		SizeKB:     (dataLength + indexLength) / 1024,
	}, nil
}

// UploadTableExistenceChecker adapts a live MySQL connection into the
// gateway's validator.UploadTableExistsFn: a tenant's upload table exists
// iff a table named tableName is present in the tenant's database, checked
// with a single targeted information_schema.TABLES lookup.
type UploadTableExistenceChecker struct {
	DB *sql.DB
}

// Exists reports whether tableName exists in tenantID's database. tenantID
// is expected to already be a validated schema name (the gateway's caller
// is responsible for the identity → database-name mapping); this function
// only guards against SQL injection in the identifier itself.
func (c *UploadTableExistenceChecker) Exists(tableName, tenantID string) (bool, error) {
	var count int
	err := c.DB.QueryRowContext(context.Background(), `
		SELECT COUNT(*)
		FROM information_schema.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
	`, tenantID, tableName).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking upload table %q for tenant %q: %w", tableName, tenantID, err)
	}
	return count > 0, nil
}

// Execute runs governedSQL to completion or until ctx is cancelled,
// scanning every row into a map keyed by column name. It matches the
// gateway's DatabaseExecuteFn signature.
func Execute(ctx context.Context, db *sql.DB, governedSQL, tenantID, workflowMode string) ([]map[string]any, int, error) {
	// tenantID/workflowMode are already baked into governedSQL by the
	// governor's tenant-filter rewrite; kept as parameters only to satisfy
	// the gateway's DatabaseExecuteFn shape.
	rows, err := db.QueryContext(ctx, governedSQL)
	if err != nil {
		return nil, 0, &gwerrors.ExecutionFailedError{Underlying: err}
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, 0, &gwerrors.ExecutionFailedError{Underlying: err}
	}

	var result []map[string]any
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return result, len(result), err
		}

		values := make([]any, len(cols))
		scanTargets := make([]any, len(cols))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, 0, &gwerrors.ExecutionFailedError{Underlying: err}
		}

		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = normalizeScanValue(values[i])
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return result, len(result), &gwerrors.ExecutionFailedError{Underlying: err}
	}
	return result, len(result), nil
}

// normalizeScanValue converts the driver's []byte representation (used for
// most textual/decimal MySQL types) into a string so audit/output layers
// never have to special-case raw byte slices.
func normalizeScanValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
