// Copyright (c) 2025 The PixMint developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package scheduler

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixmint/pixmint/pix"
	"github.com/pixmint/pixmint/tempfile"
)

func TestParseCron(t *testing.T) {
	s, err := ParseCron("*/5 * * * *")
	require.NoError(t, err)
	assert.True(t, s.minutes[0])
	assert.True(t, s.minutes[55])
	assert.False(t, s.minutes[3])

	s, err = ParseCron("0,30 * * * *")
	require.NoError(t, err)
	assert.True(t, s.minutes[0])
	assert.True(t, s.minutes[30])
	assert.False(t, s.minutes[15])

	s, err = ParseCron("* * * * *")
	require.NoError(t, err)
	assert.True(t, s.minutes[59])

	for _, bad := range []string{
		"", "* * *", "*/0 * * * *", "*/x * * * *", "61 * * * *", "* 2 * * *",
	} {
		_, err := ParseCron(bad)
		assert.Error(t, err, "expr %q", bad)
	}
}

func TestScheduleNext(t *testing.T) {
	s, err := ParseCron("*/15 * * * *")
	require.NoError(t, err)

	at := time.Date(2025, 6, 1, 10, 7, 30, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 6, 1, 10, 15, 0, 0, time.UTC), s.Next(at))

	// a matching minute still advances to the next slot
	at = time.Date(2025, 6, 1, 10, 45, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC), s.Next(at))
}

func TestSweepOnStart(t *testing.T) {
	temps, err := tempfile.New(filepath.Join(t.TempDir(), "tmp"), time.Minute)
	require.NoError(t, err)

	id, err := temps.StoreBytes([]byte("x"), tempfile.Meta{Owner: pix.NewID()}, time.Millisecond)
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	s, err := New(temps, "")
	require.NoError(t, err)
	s.Start()
	defer s.Stop()

	_, _, ok := temps.GetPath(id)
	assert.False(t, ok)
	assert.Equal(t, 0, temps.Len())
}
