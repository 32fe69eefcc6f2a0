package monitor

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

var sizeUnits = []string{"B", "KB", "MB", "GB", "TB"}

// FormatSize renders a byte count with 1024 steps and two decimals,
// e.g. 1536 -> "1.50 KB".
func FormatSize(bytes int64) string {
	size := float64(bytes)
	unit := 0
	for size >= 1024 && unit < len(sizeUnits)-1 {
		size /= 1024
		unit++
	}
	return fmt.Sprintf("%.2f %s", size, sizeUnits[unit])
}

// SizeInfo is the result of size resolution for one event.
type SizeInfo struct {
	TotalSize       int64
	IncrementalSize int64
	// AudioSize is set for products shipping audio as a separate package;
	// TotalSize then covers the game package alone.
	AudioSize      int64
	PatchVersion   string
	HasTotal       bool
	HasIncremental bool
	HasAudio       bool
}

// FormattedTotal returns the formatted total or "" when unknown.
func (s SizeInfo) FormattedTotal() string {
	if !s.HasTotal {
		return ""
	}
	return FormatSize(s.TotalSize)
}

// FormattedAudio returns the formatted audio package size or "" when unknown.
func (s SizeInfo) FormattedAudio() string {
	if !s.HasAudio {
		return ""
	}
	return FormatSize(s.AudioSize)
}

// FormattedDownload returns the whole download, game and audio together,
// or "" when unknown.
func (s SizeInfo) FormattedDownload() string {
	if !s.HasTotal {
		return ""
	}
	return FormatSize(s.TotalSize + s.AudioSize)
}

// FormattedIncremental returns the formatted incremental size or "" when unknown.
func (s SizeInfo) FormattedIncremental() string {
	if !s.HasIncremental {
		return ""
	}
	return FormatSize(s.IncrementalSize)
}

// ByteCount decodes sizes that upstream sends either as JSON numbers or as
// decimal strings.
type ByteCount int64

func (b *ByteCount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if string(data) == "null" {
		*b = 0
		return nil
	}
	s := strings.Trim(string(data), `"`)
	if s == "" {
		*b = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return fmt.Errorf("invalid byte count %q", s)
		}
		n = int64(f)
	}
	*b = ByteCount(n)
	return nil
}
