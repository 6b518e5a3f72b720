package capturecmd

import "strings"

// DefaultRTSPTransport is the transport ffmpeg is told to use for rtsp:// sources.
const DefaultRTSPTransport = "tcp"

// FFmpegSnapshot returns the argv that grabs exactly one video frame from
// streamURL into outPath, overwriting it:
//
//	ffmpeg -y [-rtsp_transport tcp] -i <url> -frames:v 1 <out>
//
// transport is emitted only for rtsp sources; empty means DefaultRTSPTransport.
func FFmpegSnapshot(bin, streamURL, outPath, transport string) []string {
	if bin == "" {
		bin = "ffmpeg"
	}
	if transport == "" {
		transport = DefaultRTSPTransport
	}

	b := NewBuilder(bin).WithString("-y")
	if isRTSP(streamURL) {
		b.WithStringFlag("-rtsp_transport", transport)
	}
	return b.
		WithStringFlag("-i", streamURL).
		WithIntFlag("-frames:v", 1).
		WithString(outPath).
		BuildArgv()
}

func isRTSP(u string) bool {
	return strings.HasPrefix(strings.ToLower(u), "rtsp")
}
