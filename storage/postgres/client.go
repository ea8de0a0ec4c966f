// Copyright (C) 2019 Crowdtiles Authors.
// See LICENSE for copying information.

// Package postgres implements the durable relational store. Groups, tasks
// and results always arrive through a staged bulk load: row-by-row inserts
// are too slow at typical task counts.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/lib/pq"
	"github.com/zeebo/errs"
	monkit "gopkg.in/spacemonkeygo/monkit.v2"

	"github.com/crowdtiles/crowdtiles/pkg/project"
)

var (
	// Error is the errs class for relational store failures.
	Error = errs.Class("postgres error")

	mon = monkit.Package()
)

// Client is the entrypoint into the relational store.
type Client struct {
	URL string
	db  *sql.DB
}

// New instantiates a relational store client given a db URL and prepares
// the schema.
func New(dbURL string) (*Client, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if err := db.Ping(); err != nil {
		return nil, Error.Wrap(errs.Combine(err, db.Close()))
	}
	if _, err := db.Exec(schemaDDL); err != nil {
		return nil, Error.Wrap(errs.Combine(err, db.Close()))
	}
	return &Client{URL: dbURL, db: db}, nil
}

// Close closes the client.
func (client *Client) Close() error {
	return client.db.Close()
}

// SaveImport records a pending import draft.
func (client *Client) SaveImport(ctx context.Context, draft *project.Draft) (err error) {
	defer mon.Task()(&ctx)(&err)

	info, err := json.Marshal(draft)
	if err != nil {
		return Error.Wrap(err)
	}
	err = retry(ctx, func() error {
		_, err := client.db.ExecContext(ctx, `
			INSERT INTO imports (import_id, project_id, complete, info)
				VALUES ($1, $2, FALSE, $3)
				ON CONFLICT (import_id) DO UPDATE SET info = EXCLUDED.info
		`, draft.ID, draft.ID, string(info))
		return err
	})
	return Error.Wrap(err)
}

// SetImportComplete marks an import as finished.
func (client *Client) SetImportComplete(ctx context.Context, importID string) (err error) {
	defer mon.Task()(&ctx)(&err)

	err = retry(ctx, func() error {
		_, err := client.db.ExecContext(ctx,
			`UPDATE imports SET complete = TRUE WHERE import_id = $1`, importID)
		return err
	})
	return Error.Wrap(err)
}

// SaveProject writes the project row.
func (client *Client) SaveProject(ctx context.Context, p *project.Project) (err error) {
	defer mon.Task()(&ctx)(&err)

	tileServer, err := json.Marshal(p.TileServer)
	if err != nil {
		return Error.Wrap(err)
	}
	_, err = client.db.ExecContext(ctx, `
		INSERT INTO projects (
			project_id, name, project_type, look_for, project_details,
			zoom_level, group_size, verification_count, state,
			progress, contributor_count, extent, tile_server
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, p.ID, p.Name, int(p.Type), p.LookFor, p.ProjectDetails,
		p.ZoomLevel, p.GroupSize, p.VerificationCount, int(p.State),
		p.Progress, p.ContributorCount, p.ExtentWKT, string(tileServer))
	return Error.Wrap(err)
}

// BulkLoadGroups stages the groups into a temp table with COPY and moves
// them into the permanent table in the same transaction.
func (client *Client) BulkLoadGroups(ctx context.Context, groups []project.Group) (err error) {
	defer mon.Task()(&ctx)(&err)

	return client.bulkLoad(ctx, "groups",
		[]string{"project_id", "group_id", "number_of_tasks", "finished_count", "required_count", "x_min", "x_max", "y_min", "y_max"},
		len(groups),
		func(i int) []interface{} {
			g := groups[i]
			return []interface{}{g.ProjectID, g.GroupID, g.NumberOfTasks, g.FinishedCount, g.RequiredCount, g.XMin, g.XMax, g.YMin, g.YMax}
		})
}

// BulkLoadTasks stages the tasks into a temp table with COPY and moves them
// into the permanent table in the same transaction.
func (client *Client) BulkLoadTasks(ctx context.Context, tasks []project.Task) (err error) {
	defer mon.Task()(&ctx)(&err)

	return client.bulkLoad(ctx, "tasks",
		[]string{"project_id", "group_id", "task_id", "geometry", "url", "url_b"},
		len(tasks),
		func(i int) []interface{} {
			t := tasks[i]
			return []interface{}{t.ProjectID, t.GroupID, t.TaskID, t.GeometryWKT, t.URL, t.URLB}
		})
}

// bulkLoad copies rows into a session temp table shaped like the target
// table and moves them over in one INSERT ... SELECT. The temp table drops
// with the transaction, so concurrent runs cannot interfere.
func (client *Client) bulkLoad(ctx context.Context, table string, columns []string, n int, row func(int) []interface{}) (err error) {
	if n == 0 {
		return nil
	}

	tx, err := client.db.BeginTx(ctx, nil)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() {
		if err != nil {
			err = Error.Wrap(errs.Combine(err, tx.Rollback()))
		}
	}()

	staging := table + "_staging"
	_, err = tx.ExecContext(ctx,
		`CREATE TEMP TABLE `+staging+` (LIKE `+table+` INCLUDING DEFAULTS) ON COMMIT DROP`)
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(staging, columns...))
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		if _, err = stmt.ExecContext(ctx, row(i)...); err != nil {
			return errs.Combine(err, stmt.Close())
		}
	}
	if _, err = stmt.ExecContext(ctx); err != nil {
		return errs.Combine(err, stmt.Close())
	}
	if err = stmt.Close(); err != nil {
		return err
	}

	cols := joinColumns(columns)
	_, err = tx.ExecContext(ctx,
		`INSERT INTO `+table+` (`+cols+`) SELECT `+cols+` FROM `+staging+` ON CONFLICT DO NOTHING`)
	if err != nil {
		return err
	}
	return Error.Wrap(tx.Commit())
}

func joinColumns(columns []string) string {
	out := ""
	for i, c := range columns {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}

// MergeResults stages contribution records and merges them into the results
// table keyed by (task, user, project). A fresh key inserts; a colliding key
// increments the duplicates counter. Duplicate submissions are expected from
// retried client writes and must be counted, never dropped.
func (client *Client) MergeResults(ctx context.Context, results []project.Result) (fresh, duplicates int64, err error) {
	defer mon.Task()(&ctx)(&err)

	if len(results) == 0 {
		return 0, 0, nil
	}

	tx, err := client.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, Error.Wrap(err)
	}
	defer func() {
		if err != nil {
			err = Error.Wrap(errs.Combine(err, tx.Rollback()))
		}
	}()

	_, err = tx.ExecContext(ctx,
		`CREATE TEMP TABLE results_staging (LIKE results INCLUDING DEFAULTS) ON COMMIT DROP`)
	if err != nil {
		return 0, 0, err
	}

	stmt, err := tx.PrepareContext(ctx,
		pq.CopyIn("results_staging", "task_id", "user_id", "project_id", "group_id", "timestamp", "result"))
	if err != nil {
		return 0, 0, err
	}
	for _, r := range results {
		if _, err = stmt.ExecContext(ctx, r.TaskID, r.UserID, r.ProjectID, r.GroupID, r.Timestamp, r.Result); err != nil {
			return 0, 0, errs.Combine(err, stmt.Close())
		}
	}
	if _, err = stmt.ExecContext(ctx); err != nil {
		return 0, 0, errs.Combine(err, stmt.Close())
	}
	if err = stmt.Close(); err != nil {
		return 0, 0, err
	}

	// The staging batch itself may carry the same key more than once, so it
	// is collapsed first; extra copies count as duplicates too.
	rows, err := tx.QueryContext(ctx, `
		INSERT INTO results (task_id, user_id, project_id, group_id, "timestamp", result, duplicates)
			SELECT task_id, user_id, project_id,
				MAX(group_id), MAX("timestamp"), MAX(result), COUNT(*) - 1
			FROM results_staging
			GROUP BY task_id, user_id, project_id
		ON CONFLICT (task_id, user_id, project_id)
			DO UPDATE SET duplicates = results.duplicates + EXCLUDED.duplicates + 1
		RETURNING (xmax = 0) AS inserted
	`)
	if err != nil {
		return 0, 0, err
	}
	for rows.Next() {
		var inserted bool
		if err = rows.Scan(&inserted); err != nil {
			return 0, 0, errs.Combine(err, rows.Close())
		}
		if inserted {
			fresh++
		} else {
			duplicates++
		}
	}
	if err = errs.Combine(rows.Err(), rows.Close()); err != nil {
		return 0, 0, err
	}

	if err = tx.Commit(); err != nil {
		return 0, 0, Error.Wrap(err)
	}
	return fresh, duplicates, nil
}

// CountContributors returns the number of distinct users with results for
// the project.
func (client *Client) CountContributors(ctx context.Context, projectID string) (count int, err error) {
	defer mon.Task()(&ctx)(&err)

	err = retry(ctx, func() error {
		return client.db.QueryRowContext(ctx,
			`SELECT COUNT(DISTINCT user_id) FROM results WHERE project_id = $1`, projectID).Scan(&count)
	})
	return count, Error.Wrap(err)
}

// UpdateProjectStats writes derived progress and contributor count back to
// the project row.
func (client *Client) UpdateProjectStats(ctx context.Context, projectID string, progress, contributors int) (err error) {
	defer mon.Task()(&ctx)(&err)

	err = retry(ctx, func() error {
		_, err := client.db.ExecContext(ctx,
			`UPDATE projects SET progress = $2, contributor_count = $3 WHERE project_id = $1`,
			projectID, progress, contributors)
		return err
	})
	return Error.Wrap(err)
}

// DeleteProject cascades a delete across results, tasks, groups, the import
// record and the project row in one transaction.
func (client *Client) DeleteProject(ctx context.Context, projectID string) (err error) {
	defer mon.Task()(&ctx)(&err)

	tx, err := client.db.BeginTx(ctx, nil)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() {
		if err != nil {
			err = Error.Wrap(errs.Combine(err, tx.Rollback()))
		}
	}()

	for _, q := range []string{
		`DELETE FROM results WHERE project_id = $1`,
		`DELETE FROM tasks WHERE project_id = $1`,
		`DELETE FROM groups WHERE project_id = $1`,
		`DELETE FROM imports WHERE project_id = $1`,
		`DELETE FROM projects WHERE project_id = $1`,
	} {
		if _, err = tx.ExecContext(ctx, q, projectID); err != nil {
			return err
		}
	}
	return Error.Wrap(tx.Commit())
}
