package hls

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourusername/rtsp2web/internal/process"
)

func newTestController(t *testing.T, outputDir string) *Controller {
	t.Helper()

	sup := process.NewSupervisor(process.Config{
		Name:         "test/hls",
		Binary:       "/bin/sh",
		Args:         []string{"-c", "sleep 5"},
		RestartDelay: 50 * time.Millisecond,
		Logger:       zap.NewNop(),
	})

	return NewController(Config{
		StreamID:   "cam1",
		OutputDir:  outputDir,
		Supervisor: sup,
		Logger:     zap.NewNop(),
	})
}

func TestStartCreatesOutputDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "cam1")
	c := newTestController(t, dir)
	defer c.Stop()

	require.NoError(t, c.Start())

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.True(t, c.Running())

	// idempotent
	require.NoError(t, c.Start())
}

func TestStartFailsWhenDirectoryCannotBeCreated(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "occupied")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	c := newTestController(t, filepath.Join(blocker, "cam1"))

	err := c.Start()
	require.Error(t, err)
	assert.False(t, c.Running())
}

func TestStopLeavesSegmentsOnDisk(t *testing.T) {
	dir := t.TempDir()
	c := newTestController(t, dir)

	require.NoError(t, c.Start())

	segment := filepath.Join(dir, "cam1_000.ts")
	require.NoError(t, os.WriteFile(segment, []byte("seg"), 0o644))

	c.Stop()
	c.Stop() // idempotent

	_, err := os.Stat(segment)
	assert.NoError(t, err)
}

func TestPlaylistPath(t *testing.T) {
	c := newTestController(t, "/var/streams/cam1")
	assert.Equal(t, filepath.Join("/var/streams/cam1", "cam1.m3u8"), c.PlaylistPath())
}

func TestTranscodeArgs(t *testing.T) {
	args := TranscodeArgs("rtsp://cam/1", "tcp", "/out/cam1", "cam1", 2, 6)

	assert.Contains(t, args, "-hls_time")
	assert.Contains(t, args, "2")
	assert.Contains(t, args, "-hls_list_size")
	assert.Contains(t, args, "6")
	assert.Contains(t, args, "delete_segments")
	assert.Equal(t, filepath.Join("/out/cam1", "cam1.m3u8"), args[len(args)-1])
}

func TestReadWindow(t *testing.T) {
	dir := t.TempDir()
	playlist := filepath.Join(dir, "cam1.m3u8")

	content := `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:2
#EXT-X-MEDIA-SEQUENCE:12
#EXTINF:2.000,
cam1_012.ts
#EXTINF:2.000,
cam1_013.ts
#EXTINF:2.000,
cam1_014.ts
`
	require.NoError(t, os.WriteFile(playlist, []byte(content), 0o644))

	info, err := ReadWindow(playlist)
	require.NoError(t, err)

	assert.Equal(t, 3, info.SegmentCount)
	assert.Equal(t, float64(2), info.TargetDuration)
	assert.Equal(t, uint64(12), info.MediaSequence)
	assert.Equal(t, []string{"cam1_012.ts", "cam1_013.ts", "cam1_014.ts"}, info.Segments)
}

func TestReadWindowMissingPlaylist(t *testing.T) {
	_, err := ReadWindow(filepath.Join(t.TempDir(), "absent.m3u8"))
	assert.Error(t, err)
}
