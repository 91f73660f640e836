// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Image constants
const (
	// FastFormatMaxSize is the maximum dimension (width or height) of thumbnails
	// produced for the fast image quality.
	FastFormatMaxSize = 256

	// ThumbnailJPEGQuality is the JPEG quality used when re-encoding thumbnails
	ThumbnailJPEGQuality = 85
)

// Similarity index constants
const (
	// HNSWNeighbors is the maximum number of neighbors per node in the HNSW graph
	HNSWNeighbors = 16

	// HNSWEfSearch is the candidate list size used during HNSW search
	HNSWEfSearch = 64
)

// Processing constants
const (
	// DefaultClusterWorkers is the number of goroutines building tentative groups
	// in the concurrent clustering strategy when none is configured
	DefaultClusterWorkers = 4

	// DefaultClusterBatchSize is the anchor batch size of the concurrent clustering strategy
	DefaultClusterBatchSize = 64
)

// Event channel constants
const (
	// EventChannelBuffer is the buffer size for event channels
	EventChannelBuffer = 100
)

// ImageExtensions lists the file extensions discovered by directory walks.
var ImageExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tif", ".tiff", ".webp"}
