// Copyright (c) 2025 The PixMint developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package gendb

const generationTableSchema = `CREATE TABLE IF NOT EXISTS generation (
	id TEXT PRIMARY KEY,
	owner TEXT NOT NULL,
	operation TEXT NOT NULL,
	prompt TEXT NOT NULL,
	meta TEXT NOT NULL,
	status TEXT NOT NULL,
	progress INTEGER NOT NULL DEFAULT 0,
	tokens_charged INTEGER NOT NULL DEFAULT 0,
	outputs TEXT,
	error TEXT,
	created_at INTEGER NOT NULL,
	started_at INTEGER,
	completed_at INTEGER,
	processing_ms INTEGER
);
CREATE INDEX IF NOT EXISTS generation_owner_time ON generation(owner, created_at DESC, id DESC);`

const uploadTableSchema = `CREATE TABLE IF NOT EXISTS upload (
	id TEXT PRIMARY KEY,
	owner TEXT NOT NULL,
	purpose TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	size_bytes INTEGER NOT NULL,
	storage_key TEXT NOT NULL,
	public_url TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS upload_owner ON upload(owner, created_at DESC);`

const opTypeTableSchema = `CREATE TABLE IF NOT EXISTS operation_type (
	name TEXT PRIMARY KEY,
	tokens_per_op INTEGER NOT NULL CHECK (tokens_per_op > 0),
	active INTEGER NOT NULL DEFAULT 1
);`
