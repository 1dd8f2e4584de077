package audio

import (
	"strconv"
	"strings"
	"time"
)

// FormatInfo is the decoded form of a provider output format string such as
// "mp3_44100_128", "pcm_16000" or "ulaw_8000".
type FormatInfo struct {
	Codec      string
	SampleRate int
	// Bitrate in kbit/s. Only set for compressed codecs.
	Bitrate int
}

// ParseFormat decodes a "<codec>_<rate>[_<kbps>]" format string. Unknown or
// malformed parts are left zero.
func ParseFormat(format string) FormatInfo {
	parts := strings.Split(strings.ToLower(format), "_")
	info := FormatInfo{Codec: parts[0]}
	if len(parts) > 1 {
		info.SampleRate, _ = strconv.Atoi(parts[1])
	}
	if len(parts) > 2 {
		info.Bitrate, _ = strconv.Atoi(parts[2])
	}
	return info
}

// Extension returns a file extension (without dot) for the format.
func (f FormatInfo) Extension() string {
	switch f.Codec {
	case "mp3":
		return "mp3"
	case "pcm":
		return "pcm"
	case "ulaw":
		return "ulaw"
	default:
		return "bin"
	}
}

// EstimateDuration derives the playback length of n bytes in format.
//
// PCM is 16-bit mono, so duration = n / (2 * rate). μ-law is 8-bit mono.
// MP3 uses the constant bitrate. Zero is returned when the format carries
// too little information.
func EstimateDuration(format string, n int) time.Duration {
	if n <= 0 {
		return 0
	}
	f := ParseFormat(format)

	var bytesPerSecond int
	switch f.Codec {
	case "pcm":
		bytesPerSecond = f.SampleRate * 2
	case "ulaw":
		bytesPerSecond = f.SampleRate
	case "mp3", "opus":
		bytesPerSecond = f.Bitrate * 1000 / 8
	}
	if bytesPerSecond <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bytesPerSecond))
}
