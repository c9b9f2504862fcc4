// Copyright (c) 2025 The PixMint developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package tempfile

import "github.com/pixmint/pixmint/metrics"

var meterRegistrySize = metrics.LazyLoad(func() metrics.GaugeMeter {
	return metrics.Gauge("tempfile_registry_size")
})
