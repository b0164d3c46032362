package stats

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// Snapshot is an immutable view of the counters at one instant.
type Snapshot struct {
	MaxSize int `json:"max_size"`
	Size    int `json:"size"`

	CacheHits   int64 `json:"cache_hits"`
	CacheMisses int64 `json:"cache_misses"`
	DiskHits    int64 `json:"disk_hits"`
	DiskMisses  int64 `json:"disk_misses"`

	DownloadCount       int64 `json:"download_count"`
	TotalDownloadSize   int64 `json:"total_download_size"`
	AverageDownloadSize int64 `json:"average_download_size"`

	OriginalBitmapCount       int64 `json:"original_bitmap_count"`
	TotalOriginalBitmapSize   int64 `json:"total_original_bitmap_size"`
	AverageOriginalBitmapSize int64 `json:"average_original_bitmap_size"`

	TransformedBitmapCount       int64 `json:"transformed_bitmap_count"`
	TotalTransformedBitmapSize   int64 `json:"total_transformed_bitmap_size"`
	AverageTransformedBitmapSize int64 `json:"average_transformed_bitmap_size"`

	Timestamp time.Time `json:"timestamp"`
}

// Dump writes a human readable report, used for fatal diagnostics.
func (s Snapshot) Dump(w io.Writer) error {
	var b strings.Builder
	b.WriteString("===============BEGIN IMAGE LOADER STATS ===============\n")
	b.WriteString("Memory Cache Stats\n")
	fmt.Fprintf(&b, "  Max Cache Size: %d\n", s.MaxSize)
	fmt.Fprintf(&b, "  Cache Size: %d\n", s.Size)
	fmt.Fprintf(&b, "  Cache Hits: %d\n", s.CacheHits)
	fmt.Fprintf(&b, "  Cache Misses: %d\n", s.CacheMisses)
	b.WriteString("Secondary Cache Stats\n")
	fmt.Fprintf(&b, "  Disk Hits: %d\n", s.DiskHits)
	fmt.Fprintf(&b, "  Disk Misses: %d\n", s.DiskMisses)
	b.WriteString("Network Stats\n")
	fmt.Fprintf(&b, "  Download Count: %d\n", s.DownloadCount)
	fmt.Fprintf(&b, "  Total Download Size: %d\n", s.TotalDownloadSize)
	fmt.Fprintf(&b, "  Average Download Size: %d\n", s.AverageDownloadSize)
	b.WriteString("Bitmap Stats\n")
	fmt.Fprintf(&b, "  Total Bitmaps Decoded: %d\n", s.OriginalBitmapCount)
	fmt.Fprintf(&b, "  Total Bitmap Size: %d\n", s.TotalOriginalBitmapSize)
	fmt.Fprintf(&b, "  Total Transformed Bitmaps: %d\n", s.TransformedBitmapCount)
	fmt.Fprintf(&b, "  Total Transformed Bitmap Size: %d\n", s.TotalTransformedBitmapSize)
	fmt.Fprintf(&b, "  Average Bitmap Size: %d\n", s.AverageOriginalBitmapSize)
	fmt.Fprintf(&b, "  Average Transformed Bitmap Size: %d\n", s.AverageTransformedBitmapSize)
	b.WriteString("===============END IMAGE LOADER STATS ===============\n")

	_, err := io.WriteString(w, b.String())
	return err
}

// String returns Dump's output.
func (s Snapshot) String() string {
	var b strings.Builder
	_ = s.Dump(&b)
	return b.String()
}
