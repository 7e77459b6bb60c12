// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sessionstore

// migrations is append-only. See sqlitepool.Config.Migrations.
var migrations = []string{
	`
CREATE TABLE sessions (
	id                  TEXT PRIMARY KEY,
	product             TEXT NOT NULL,
	application         TEXT NOT NULL,
	application_version TEXT NOT NULL DEFAULT '',
	host_name           TEXT NOT NULL DEFAULT '',
	user_name           TEXT NOT NULL DEFAULT '',
	status              INTEGER NOT NULL,
	critical_count      INTEGER NOT NULL DEFAULT 0,
	error_count         INTEGER NOT NULL DEFAULT 0,
	warning_count       INTEGER NOT NULL DEFAULT 0,
	message_count       INTEGER NOT NULL DEFAULT 0,
	start_time          INTEGER NOT NULL,
	end_time            INTEGER NOT NULL,
	last_sequence       INTEGER NOT NULL,
	is_read             INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX sessions_by_start ON sessions (start_time, id);

CREATE TABLE fragments (
	file_id    TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	sequence   INTEGER NOT NULL,
	name       TEXT NOT NULL,
	length     INTEGER NOT NULL
);
CREATE INDEX fragments_by_session ON fragments (session_id, sequence);
`,
}

// summaryColumns is the column list shared by every summary query.
// scanSummary depends on the order.
const summaryColumns = `id, product, application, application_version, host_name, user_name,
	status, critical_count, error_count, warning_count, message_count,
	start_time, end_time, is_read`

const upsertSession = `
INSERT INTO sessions (id, product, application, application_version, host_name, user_name,
	status, critical_count, error_count, warning_count, message_count,
	start_time, end_time, last_sequence)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
	product = excluded.product,
	application = excluded.application,
	application_version = excluded.application_version,
	host_name = excluded.host_name,
	user_name = excluded.user_name,
	status = excluded.status,
	critical_count = excluded.critical_count,
	error_count = excluded.error_count,
	warning_count = excluded.warning_count,
	message_count = excluded.message_count,
	start_time = excluded.start_time,
	end_time = excluded.end_time,
	last_sequence = excluded.last_sequence
WHERE excluded.last_sequence >= sessions.last_sequence`
