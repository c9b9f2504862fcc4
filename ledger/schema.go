// Copyright (c) 2025 The PixMint developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package ledger

const accountTableSchema = `CREATE TABLE IF NOT EXISTS token_account (
	owner TEXT PRIMARY KEY,
	balance INTEGER NOT NULL DEFAULT 0 CHECK (balance >= 0),
	total_earned INTEGER NOT NULL DEFAULT 0,
	total_spent INTEGER NOT NULL DEFAULT 0
);`

const txTableSchema = `CREATE TABLE IF NOT EXISTS token_tx (
	id TEXT PRIMARY KEY,
	owner TEXT NOT NULL,
	kind TEXT NOT NULL,
	amount INTEGER NOT NULL CHECK (amount > 0),
	balance_after INTEGER NOT NULL,
	reason TEXT NOT NULL,
	ref_kind TEXT,
	ref_id TEXT,
	idem_key TEXT,
	actor_type TEXT NOT NULL,
	actor_id TEXT,
	meta TEXT,
	created_at INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS token_tx_idem ON token_tx(owner, idem_key) WHERE idem_key IS NOT NULL;
CREATE INDEX IF NOT EXISTS token_tx_owner_time ON token_tx(owner, created_at DESC, id DESC);`
