package hls

import (
	"path/filepath"
	"strconv"
)

// TranscodeArgs builds the ffmpeg invocation that writes a rotating
// window of transport-stream segments plus an index file to outputDir.
// Segments falling out of the window are deleted by the subprocess.
func TranscodeArgs(sourceURL, transport, outputDir, streamID string, segmentSeconds, windowSize int) []string {
	return []string{
		"-rtsp_transport", transport,
		"-i", sourceURL,
		"-c:v", "copy",
		"-an",
		"-f", "hls",
		"-hls_time", strconv.Itoa(segmentSeconds),
		"-hls_list_size", strconv.Itoa(windowSize),
		"-hls_flags", "delete_segments",
		"-hls_segment_filename", filepath.Join(outputDir, streamID+"_%03d.ts"),
		filepath.Join(outputDir, streamID+".m3u8"),
	}
}
