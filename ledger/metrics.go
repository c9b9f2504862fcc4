// Copyright (c) 2025 The PixMint developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package ledger

import "github.com/pixmint/pixmint/metrics"

var (
	meterOps = metrics.LazyLoad(func() metrics.CountVecMeter {
		return metrics.CounterVec("ledger_tx_count", []string{"kind", "reason"})
	})
	meterIdempotentHits = metrics.LazyLoad(func() metrics.CountMeter {
		return metrics.Counter("ledger_idempotent_replay_count")
	})
)
