package broadcast

import (
	"fmt"
	"strconv"
)

// TranscodeArgs builds the ffmpeg invocation that turns an RTSP source
// into an MPEG1 transport stream on stdout, the format the websocket
// clients decode.
func TranscodeArgs(sourceURL, transport string, width, height int, bitrate string, frameRate int) []string {
	args := []string{
		"-rtsp_transport", transport,
		"-i", sourceURL,
		"-f", "mpegts",
		"-codec:v", "mpeg1video",
	}

	if width > 0 && height > 0 {
		args = append(args, "-s", fmt.Sprintf("%dx%d", width, height))
	}
	if bitrate != "" {
		args = append(args, "-b:v", bitrate)
	}
	if frameRate > 0 {
		args = append(args, "-r", strconv.Itoa(frameRate))
	}

	// no B-frames, no audio: decoder latency stays minimal
	args = append(args, "-bf", "0", "-an", "-")
	return args
}
