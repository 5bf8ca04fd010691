package plugins

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/automaxhq/automax/pkg/plugin"

	// Database drivers selectable through the driver param.
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// driverNames maps the plugin-facing driver param onto registered
// database/sql driver names.
var driverNames = map[string]string{
	"postgres": "pgx",
	"sqlite":   "sqlite",
}

// DatabaseQuery runs a SQL statement against a PostgreSQL or SQLite database.
type DatabaseQuery struct{}

// Metadata implements plugin.Plugin.
func (p *DatabaseQuery) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:           "database_query",
		Description:    "Run a SQL statement against a database",
		Required:       []string{"driver", "dsn", "query"},
		Optional:       []string{"args", "fetch"},
		DefaultTimeout: time.Minute,
	}
}

// ValidateConfig implements plugin.Plugin.
func (p *DatabaseQuery) ValidateConfig(params map[string]any) error {
	if err := plugin.CheckRequired(p.Metadata(), params); err != nil {
		return err
	}
	driver, err := plugin.StringParam("database_query", params, "driver")
	if err != nil {
		return err
	}
	if _, ok := driverNames[driver]; !ok {
		return plugin.NewConfigError("database_query", "driver", fmt.Sprintf("unsupported driver %q, use postgres or sqlite", driver))
	}
	fetch, err := plugin.OptionalString("database_query", params, "fetch", "all")
	if err != nil {
		return err
	}
	switch fetch {
	case "all", "one", "none":
		return nil
	default:
		return plugin.NewConfigError("database_query", "fetch", "must be all, one or none")
	}
}

// Execute implements plugin.Plugin.
func (p *DatabaseQuery) Execute(ctx context.Context, params map[string]any) (map[string]any, error) {
	driver, err := plugin.StringParam("database_query", params, "driver")
	if err != nil {
		return nil, err
	}
	dsn, err := plugin.StringParam("database_query", params, "dsn")
	if err != nil {
		return nil, err
	}
	query, err := plugin.StringParam("database_query", params, "query")
	if err != nil {
		return nil, err
	}
	fetch, err := plugin.OptionalString("database_query", params, "fetch", "all")
	if err != nil {
		return nil, err
	}
	var args []any
	if raw, ok := params["args"]; ok {
		list, ok := raw.([]any)
		if !ok {
			return nil, plugin.NewConfigError("database_query", "args", "must be a list")
		}
		args = list
	}

	db, err := sql.Open(driverNames[driver], dsn)
	if err != nil {
		return nil, plugin.NewConfigError("database_query", "dsn", err.Error())
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return nil, plugin.NewTransientError("connecting to database", err).WithPlugin("database_query")
	}

	if fetch == "none" {
		res, err := db.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, plugin.NewFatalError("executing statement", err).WithPlugin("database_query")
		}
		affected, _ := res.RowsAffected()
		return map[string]any{"rows_affected": affected}, nil
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, plugin.NewFatalError("executing query", err).WithPlugin("database_query")
	}
	defer rows.Close()

	records, err := scanRows(rows)
	if err != nil {
		return nil, plugin.NewFatalError("scanning rows", err).WithPlugin("database_query")
	}

	if fetch == "one" {
		if len(records) == 0 {
			return nil, plugin.NewFatalError("query returned no rows", sql.ErrNoRows).WithPlugin("database_query")
		}
		return map[string]any{"row": records[0], "row_count": 1}, nil
	}
	return map[string]any{"rows": records, "row_count": len(records)}, nil
}

// scanRows materializes a result set as a list of column-keyed maps.
func scanRows(rows *sql.Rows) ([]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var records []any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		record := make(map[string]any, len(cols))
		for i, col := range cols {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			record[col] = v
		}
		records = append(records, record)
	}
	return records, rows.Err()
}
