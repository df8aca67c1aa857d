package transcode

import (
	"strconv"
	"strings"
)

// Encoding is the closed set of parameters a transcoder is started with.
type Encoding struct {
	AudioCodec   string // live output codec, e.g. aac
	AudioBitrate string // e.g. 128k
	SampleRate   int
	Channels     int

	// playlist retention: segment length in seconds and the sliding window size
	SegmentDuration int
	PlaylistSize    int

	// archival output, only used when a recording path is set
	RecordingCodec  string
	RecordingFormat string
}

// Outputs are the resolved destinations of one session.
type Outputs struct {
	Playlist  string // rolling playlist file
	Segments  string // segment file pattern
	Recording string // optional
	Relay     string // optional outbound url, e.g. rtmp://host/live/<id>
}

// Plan builds the transcoder argument list. Input is read from stdin, or
// pulled from source if set.
func Plan(enc Encoding, source string, out Outputs) []string {
	args := []string{
		"-hide_banner",
		"-nostats",
	}
	if source != "" {
		args = append(args, "-nostdin", "-i", source)
	} else {
		args = append(args,
			"-re",
			"-fflags", "+igndts",
			"-i", "pipe:0",
		)
	}

	// live segmented output, always produced
	args = append(args, audioArgs(enc.AudioCodec, enc)...)
	args = append(args,
		"-f", "hls",
		"-hls_time", strconv.Itoa(enc.SegmentDuration),
		"-hls_list_size", strconv.Itoa(enc.PlaylistSize),
		"-hls_flags", "delete_segments+append_list",
		"-hls_segment_filename", out.Segments,
		out.Playlist,
	)

	if out.Recording != "" {
		args = append(args, audioArgs(enc.RecordingCodec, enc)...)
		args = append(args, "-f", enc.RecordingFormat, out.Recording)
	}

	if out.Relay != "" {
		args = append(args, audioArgs(enc.AudioCodec, enc)...)
		args = append(args, "-f", "flv")
		if strings.HasPrefix(out.Relay, "rtmp") {
			args = append(args, "-rtmp_buffer", "8192", "-rtmp_live", "live")
		}
		args = append(args, out.Relay)
	}
	return args
}

func audioArgs(codec string, enc Encoding) []string {
	args := []string{"-map", "0:a", "-c:a", codec}
	if enc.AudioBitrate != "" {
		args = append(args, "-b:a", enc.AudioBitrate)
	}
	return append(args,
		"-ar", strconv.Itoa(enc.SampleRate),
		"-ac", strconv.Itoa(enc.Channels),
	)
}
