// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

import "time"

// Face matching constants
const (
	// DefaultResidentTolerance is the maximum Euclidean distance for a resident match.
	// Lower values = stricter matching
	DefaultResidentTolerance = 0.5

	// DefaultVisitorTolerance is the maximum Euclidean distance for re-identifying
	// an already-seen visitor
	DefaultVisitorTolerance = 0.5

	// DefaultEmbeddingDim is the dimensionality of dlib/face_recognition encodings
	DefaultEmbeddingDim = 128
)

// Visitor lifecycle constants
const (
	// DefaultVisitorTTL is how long a visitor may stay unseen before it expires
	DefaultVisitorTTL = 30 * time.Minute

	// DefaultCooldown is the minimum interval between two logged events for the same subject
	DefaultCooldown = 30 * time.Second

	// DefaultSweepInterval is how often the expiry sweeper runs
	DefaultSweepInterval = 2 * time.Minute

	// DefaultCropRetention is the age after which orphaned crop files are removed
	DefaultCropRetention = 7 * 24 * time.Hour
)

// Processing constants
const (
	// DefaultProcessEveryN processes one frame out of every N received
	DefaultProcessEveryN = 3

	// DefaultPersistTimeout bounds a single durable write issued by the engine
	DefaultPersistTimeout = 5 * time.Second

	// MaxDetectionsPerFrame caps the number of detections accepted in one frame
	MaxDetectionsPerFrame = 32
)

// Reporting constants
const (
	// DefaultEventLimit is the default number of access events returned by listings
	DefaultEventLimit = 100

	// DefaultReportDays is the default window for the visits-per-day report
	DefaultReportDays = 30

	// DefaultTopResidents is the default number of residents in the most-active report
	DefaultTopResidents = 10

	// DefaultPurgeDays is the default retention for access events
	DefaultPurgeDays = 90
)

// HNSW index parameters for 128-dim face encodings
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the search candidate pool size
	HNSWEfSearch = 64

	// HNSWSearchCandidates is how many candidates are pulled from HNSW before
	// exact re-scoring
	HNSWSearchCandidates = 8

	// HNSWMinResidents is the snapshot size from which the HNSW graph is built.
	// Below it a linear scan is exact and fast enough.
	HNSWMinResidents = 256
)
