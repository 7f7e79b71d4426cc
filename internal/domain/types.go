package domain

import "time"

// WorkflowState is the single source of truth for which UI actions are enabled.
type WorkflowState string

const (
	StateEmpty              WorkflowState = "empty"
	StateInsufficientImages WorkflowState = "insufficient_images"
	StateReadyToMerge       WorkflowState = "ready_to_merge"
	StateMerging            WorkflowState = "merging"
	StateMergeSucceeded     WorkflowState = "merge_succeeded"
	StateMergeFailed        WorkflowState = "merge_failed"
)

// ImageFormat is the decoded format tag of a source image.
type ImageFormat string

const (
	FormatJPEG  ImageFormat = "jpeg"
	FormatPNG   ImageFormat = "png"
	FormatTIFF  ImageFormat = "tiff"
	FormatOther ImageFormat = "other"
)

// WorkingImage is one validated source image held by the working set.
type WorkingImage struct {
	ID          string      `json:"id"`
	SourcePath  string      `json:"sourcePath"`
	PreviewPath string      `json:"previewPath"`
	Format      ImageFormat `json:"format"`
	Width       int         `json:"width"`
	Height      int         `json:"height"`
}

// HasGeneratedPreview reports whether the preview is a transient artifact.
func (w WorkingImage) HasGeneratedPreview() bool {
	return w.PreviewPath != "" && w.PreviewPath != w.SourcePath
}

// FailureCategory is the closed set of user-actionable failure kinds.
type FailureCategory string

const (
	CategoryBadImage              FailureCategory = "bad_image"
	CategoryStitchingFailed       FailureCategory = "stitching_failed"
	CategoryUnwritableDestination FailureCategory = "unwritable_destination"
	CategoryIOFailure             FailureCategory = "io_failure"
)

// CategorizedFailure is a normalized failure ready for display.
type CategorizedFailure struct {
	Category FailureCategory `json:"category"`
	Message  string          `json:"message"`
	Path     string          `json:"path,omitempty"`
}

// Compensator selects the exposure compensation used by the stitching engine.
type Compensator string

const (
	CompensatorNone          Compensator = "no"
	CompensatorGain          Compensator = "gain"
	CompensatorGainBlocks    Compensator = "gain_blocks"
	CompensatorChannel       Compensator = "channel"
	CompensatorChannelBlocks Compensator = "channel_blocks"
)

// StitchOptions are handed unchanged to the stitching engine.
type StitchOptions struct {
	Crop        bool        `json:"crop"`
	Compensator Compensator `json:"compensator"`
}

// ResultSummary describes the live merge result without exposing its pixels.
type ResultSummary struct {
	ID          string    `json:"id"`
	PreviewPath string    `json:"previewPath"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	SourceIDs   []string  `json:"sourceIds"`
	ProducedAt  time.Time `json:"producedAt"`
	Dirty       bool      `json:"dirty"`
}

// Snapshot is everything the presentation layer renders against.
type Snapshot struct {
	State       WorkflowState       `json:"state"`
	Size        int                 `json:"size"`
	CanMerge    bool                `json:"canMerge"`
	Images      []WorkingImage      `json:"images"`
	Result      *ResultSummary      `json:"result,omitempty"`
	LastFailure *CategorizedFailure `json:"lastFailure,omitempty"`
}

// Settings contains persisted user preferences and engine options.
type Settings struct {
	LastUsedFolder   string      `json:"lastUsedFolder" toml:"last_used_folder"`
	LastExportFolder string      `json:"lastExportFolder" toml:"last_export_folder"`
	Crop             bool        `json:"crop" toml:"crop"`
	Compensator      Compensator `json:"compensator" toml:"compensator"`
	PreviewMaxEdge   int         `json:"previewMaxEdge" toml:"preview_max_edge"`
	StitchCommand    string      `json:"stitchCommand" toml:"stitch_command"`
	LogLevel         string      `json:"logLevel" toml:"log_level"`
	LogFormat        string      `json:"logFormat" toml:"log_format"`
}

// StitchOptions extracts the engine options from settings.
func (s Settings) StitchOptions() StitchOptions {
	return StitchOptions{Crop: s.Crop, Compensator: s.Compensator}
}
