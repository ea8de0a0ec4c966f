// Copyright (C) 2019 Crowdtiles Authors.
// See LICENSE for copying information.

package postgres

// schemaDDL holds the durable relational schema. Staging tables are not
// listed here: they are session temp tables scoped to a single run.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS projects (
	project_id TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	project_type INTEGER NOT NULL,
	look_for TEXT NOT NULL DEFAULT '',
	project_details TEXT NOT NULL DEFAULT '',
	zoom_level INTEGER NOT NULL DEFAULT 0,
	group_size INTEGER NOT NULL DEFAULT 0,
	verification_count INTEGER NOT NULL DEFAULT 3,
	state INTEGER NOT NULL DEFAULT 0,
	progress INTEGER NOT NULL DEFAULT 0,
	contributor_count INTEGER NOT NULL DEFAULT 0,
	extent TEXT NOT NULL DEFAULT '',
	tile_server TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (project_id)
);

CREATE TABLE IF NOT EXISTS groups (
	project_id TEXT NOT NULL,
	group_id INTEGER NOT NULL,
	number_of_tasks INTEGER NOT NULL DEFAULT 0,
	finished_count INTEGER NOT NULL DEFAULT 0,
	required_count INTEGER NOT NULL DEFAULT 0,
	x_min INTEGER NOT NULL DEFAULT 0,
	x_max INTEGER NOT NULL DEFAULT 0,
	y_min INTEGER NOT NULL DEFAULT 0,
	y_max INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (project_id, group_id)
);

CREATE TABLE IF NOT EXISTS tasks (
	project_id TEXT NOT NULL,
	group_id INTEGER NOT NULL,
	task_id TEXT NOT NULL,
	geometry TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	url_b TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (project_id, group_id, task_id)
);

CREATE TABLE IF NOT EXISTS results (
	task_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	project_id TEXT NOT NULL,
	group_id INTEGER NOT NULL DEFAULT 0,
	"timestamp" TIMESTAMPTZ,
	result INTEGER NOT NULL DEFAULT 0,
	duplicates INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (task_id, user_id, project_id)
);

CREATE INDEX IF NOT EXISTS results_project_user ON results (project_id, user_id);

CREATE TABLE IF NOT EXISTS imports (
	import_id TEXT NOT NULL,
	project_id TEXT NOT NULL DEFAULT '',
	complete BOOLEAN NOT NULL DEFAULT FALSE,
	info TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (import_id)
);
`
