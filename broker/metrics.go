// Copyright (c) 2025 The PixMint developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package broker

import "github.com/pixmint/pixmint/metrics"

var (
	meterEnqueued = metrics.LazyLoad(func() metrics.CountVecMeter {
		return metrics.CounterVec("broker_enqueued_count", []string{"queue", "kind"})
	})
	meterOutcomes = metrics.LazyLoad(func() metrics.CountVecMeter {
		return metrics.CounterVec("broker_job_outcome_count", []string{"queue", "outcome"})
	})
	meterQueueDepth = metrics.LazyLoad(func() metrics.GaugeMeter {
		return metrics.Gauge("broker_queue_depth")
	})
)
