package converter

import (
	"fmt"
	"strconv"

	"github.com/ah-its-andy/mediaconv/internal/media"
)

// RegisterBuiltinOperations registers the video conversion and audio
// extraction operations.
func RegisterBuiltinOperations() {
	Register(videoOperation{})
	Register(audioOperation{})
}

type videoOperation struct{}

func (videoOperation) Kind() media.OperationKind { return media.OperationVideo }

func (videoOperation) Formats() []string { return media.Formats(media.OperationVideo) }

// CodecArgs re-encodes mp4 with libx264 and webm/mkv with libvpx-vp9, using a
// CRF that falls as quality rises. Quality 10 and every other container are
// remuxed without re-encoding.
func (videoOperation) CodecArgs(format string, quality int) []string {
	if quality >= media.MaxQuality {
		return []string{"-c", "copy"}
	}
	switch format {
	case "mp4":
		return []string{"-c:v", "libx264", "-crf", strconv.Itoa(x264CRF(quality))}
	case "webm", "mkv":
		return []string{"-c:v", "libvpx-vp9", "-crf", strconv.Itoa(vp9CRF(quality))}
	}
	return []string{"-c", "copy"}
}

func x264CRF(quality int) int { return 23 - quality*2 }

func vp9CRF(quality int) int { return 31 - quality*3 }

type audioOperation struct{}

func (audioOperation) Kind() media.OperationKind { return media.OperationAudio }

func (audioOperation) Formats() []string { return media.Formats(media.OperationAudio) }

// audioCopyQuality is the lowest quality at which non-mp3/flac targets keep
// the source stream as is.
const audioCopyQuality = 8

func (audioOperation) CodecArgs(format string, quality int) []string {
	args := []string{"-vn"}
	switch format {
	case "mp3":
		return append(args, "-acodec", "libmp3lame", "-q:a", strconv.Itoa(mp3VBR(quality)))
	case "flac":
		return append(args, "-acodec", "flac", "-compression_level", strconv.Itoa(media.ClampQuality(quality, 0, 12)))
	}
	if quality >= audioCopyQuality {
		return append(args, "-acodec", "copy")
	}
	codec := "aac"
	if format == "ogg" {
		codec = "libvorbis"
	}
	return append(args, "-acodec", codec, "-b:a", fmt.Sprintf("%dk", audioBitrateKbps(quality)))
}

// mp3VBR maps quality 1..10 onto lame's inverted 9..0 VBR scale.
func mp3VBR(quality int) int {
	return 9 - media.ClampQuality(quality-1, 0, 9)
}

func audioBitrateKbps(quality int) int { return 64 + quality*16 }
