// Copyright (c) 2025 The PixMint developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package gen

import "github.com/pixmint/pixmint/metrics"

var (
	meterImages = metrics.LazyLoad(func() metrics.HistogramVecMeter {
		return metrics.HistogramVec("worker_image_duration_ms", []string{"operation"}, metrics.BucketModelCalls)
	})
	meterGenerations = metrics.LazyLoad(func() metrics.CountVecMeter {
		return metrics.CounterVec("worker_generation_count", []string{"outcome", "operation"})
	})
)
