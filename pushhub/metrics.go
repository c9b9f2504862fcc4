// Copyright (c) 2025 The PixMint developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package pushhub

import "github.com/pixmint/pixmint/metrics"

var (
	meterConnections = metrics.LazyLoad(func() metrics.GaugeMeter {
		return metrics.Gauge("pushhub_connection_count")
	})
	meterDropped = metrics.LazyLoad(func() metrics.CountMeter {
		return metrics.Counter("pushhub_dropped_event_count")
	})
)
