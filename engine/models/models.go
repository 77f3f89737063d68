// Package models defines the data entities shared across the crawl engine:
// the records written to the archive, the checkpoint snapshot, and the
// sentinel errors every component reports through.
package models

import (
	"errors"
	"time"
)

// Sentinel domain errors. Recoverable per-page failures are never returned
// up the call stack as these — they are converted to ErrorRecord values —
// but the scheduler and its collaborators use these to classify a failure
// before making that conversion.
var (
	ErrRobotsBlocked    = errors.New("robots: disallowed by robots.txt")
	ErrChallengeFailed  = errors.New("render: challenge page did not resolve")
	ErrInvalidState     = errors.New("engine: invalid state transition")
	ErrAlreadyRunning   = errors.New("engine: crawl already running")
	ErrNotRunning       = errors.New("engine: no crawl running")
	ErrMaxBytesExceeded = errors.New("render: max bytes per page exceeded")
	ErrNavTimeout       = errors.New("render: navigation timeout")
)

// RenderMode selects which of the three rendering pipelines produced a
// page's stored DOM.
type RenderMode string

const (
	RenderModeRaw       RenderMode = "raw"
	RenderModePrerender RenderMode = "prerender"
	RenderModeFull      RenderMode = "full"
)

// NavEndReason records why a navigation/fetch ended.
type NavEndReason string

const (
	NavEndFetch NavEndReason = "fetch"
	NavEndLoad  NavEndReason = "load"
	NavEndError NavEndReason = "error"
)

// NoindexSurface summarizes where a page declared noindex, if anywhere.
type NoindexSurface string

const (
	NoindexNone   NoindexSurface = "none"
	NoindexMeta   NoindexSurface = "meta"
	NoindexHeader NoindexSurface = "header"
	NoindexBoth   NoindexSurface = "both"
)

// Phase identifies which component produced an ErrorRecord.
type Phase string

const (
	PhaseFetch   Phase = "fetch"
	PhaseRobots  Phase = "robots"
	PhaseRender  Phase = "render"
	PhaseExtract Phase = "extract"
	PhaseWrite   Phase = "write"
)

// CompletionReason is recorded in the manifest describing why the crawl
// stopped producing new pages.
type CompletionReason string

const (
	CompletionFinished    CompletionReason = "finished"
	CompletionCapped      CompletionReason = "capped"
	CompletionErrorBudget CompletionReason = "error_budget"
	CompletionManual      CompletionReason = "manual"
	CompletionNone        CompletionReason = ""
)

// Heading is one entry in a page's document-order heading sequence.
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// HreflangPair is a single rel=alternate hreflang declaration.
type HreflangPair struct {
	Lang string `json:"lang"`
	Href string `json:"href"`
}

// SecurityHeaders captures a subset of response headers relevant to a
// security/SEO audit. All fields are optional (empty string = absent).
type SecurityHeaders struct {
	StrictTransportSecurity string `json:"strictTransportSecurity,omitempty"`
	ContentSecurityPolicy   string `json:"contentSecurityPolicy,omitempty"`
	XFrameOptions           string `json:"xFrameOptions,omitempty"`
	XContentTypeOptions     string `json:"xContentTypeOptions,omitempty"`
	ReferrerPolicy          string `json:"referrerPolicy,omitempty"`
}

// Performance holds the full-mode browser-performance capture.
type Performance struct {
	LCPMs  float64 `json:"lcpMs"`
	CLS    float64 `json:"cls"`
	TBTMs  float64 `json:"tbtMs"`
	FCPMs  float64 `json:"fcpMs"`
	TTFBMs float64 `json:"ttfbMs"`
}

// MediaPaths records where full-mode screenshots were written, relative to
// the archive root.
type MediaPaths struct {
	ScreenshotDesktop string `json:"screenshotDesktop,omitempty"`
	ScreenshotMobile  string `json:"screenshotMobile,omitempty"`
}

// StructuredDataItem is a tagged-variant sum over the structured-data kinds
// a page may carry.
type StructuredDataItem struct {
	Kind string `json:"kind"` // "json-ld" | "microdata" | "opengraph" | "twittercard"
	Data any    `json:"data"`
}

// TechStack is a sorted, de-duplicated list of detected technology names.
type TechStack []string

// PageRecord is the single record produced for every successfully
// fetched-and-rendered page. Immutable once written; see invariant §3(1):
// a urlKey has exactly one PageRecord xor at least one ErrorRecord, never
// both.
type PageRecord struct {
	URLKey      string `json:"urlKey"`
	URL         string `json:"url"`
	FinalURL    string `json:"finalUrl"`
	StatusCode  int    `json:"statusCode"`
	ContentType string `json:"contentType"`

	FetchedAt  time.Time `json:"fetchedAt"`
	RenderedAt time.Time `json:"renderedAt"`

	RenderMode   RenderMode   `json:"renderMode"`
	NavEndReason NavEndReason `json:"navEndReason"`

	RawHTMLHash string `json:"rawHtmlHash"`
	DOMHash     string `json:"domHash"`

	Title             string         `json:"title"`
	MetaDescription   string         `json:"metaDescription"`
	FirstH1           string         `json:"firstH1"`
	Headings          []Heading      `json:"headings"`
	CanonicalRaw      string         `json:"canonicalRaw,omitempty"`
	CanonicalResolved string         `json:"canonicalResolved,omitempty"`
	MetaRobots        string         `json:"metaRobots,omitempty"`
	XRobotsTag        string         `json:"xRobotsTag,omitempty"`
	NoindexSurface    NoindexSurface `json:"noindexSurface"`
	Hreflang          []HreflangPair `json:"hreflang,omitempty"`
	TextSample        string         `json:"textSample"`
	FaviconURL        string         `json:"faviconUrl,omitempty"`

	LinksInternalCount int `json:"linksInternalCount"`
	LinksExternalCount int `json:"linksExternalCount"`
	MediaCount         int `json:"mediaCount"`
	MissingAltCount    int `json:"missingAltCount"`

	MediaAssetsCount     int  `json:"mediaAssetsCount"`
	MediaAssetsTruncated bool `json:"mediaAssetsTruncated"`

	DiscoveryParent string `json:"discoveryParent,omitempty"`
	Depth           int    `json:"depth"`
	Section         string `json:"section,omitempty"`

	ChallengeCaptured bool `json:"challengeCaptured,omitempty"`

	SecurityHeaders *SecurityHeaders     `json:"securityHeaders,omitempty"`
	Performance     *Performance         `json:"performance,omitempty"`
	Media           *MediaPaths          `json:"media,omitempty"`
	StructuredData  []StructuredDataItem `json:"structuredData,omitempty"`
	TechStack       TechStack            `json:"techStack,omitempty"`

	Error string `json:"error,omitempty"`
}

// EdgeRecord is one discovered hyperlink. Deduped by the
// (SourceURL, TargetURL, SelectorHint) triple.
type EdgeRecord struct {
	SourceURL    string `json:"sourceUrl"`
	TargetURL    string `json:"targetUrl"`
	SelectorHint string `json:"selectorHint"`
	Nofollow     bool   `json:"nofollow"`
	Sponsored    bool   `json:"sponsored"`
	UGC          bool   `json:"ugc"`
	External     bool   `json:"external"`
	Location     string `json:"location"` // nav|header|footer|aside|main|unknown
}

// AssetKind enumerates the two asset types the extractors recognize.
type AssetKind string

const (
	AssetImage AssetKind = "image"
	AssetVideo AssetKind = "video"
)

// AssetRecord is one discovered image/video asset. At most 1000 are
// retained per page (invariant §3(3)).
type AssetRecord struct {
	PageURL         string    `json:"pageUrl"`
	AssetURL        string    `json:"assetUrl"`
	Type            AssetKind `json:"type"`
	AltPresent      bool      `json:"altPresent"`
	NaturalWidth    int       `json:"naturalWidth,omitempty"`
	NaturalHeight   int       `json:"naturalHeight,omitempty"`
	DisplayedWidth  int       `json:"displayedWidth,omitempty"`
	DisplayedHeight int       `json:"displayedHeight,omitempty"`
	Loading         string    `json:"loading,omitempty"`
	Visible         bool      `json:"visible"`
	InViewport      bool      `json:"inViewport"`
}

// ErrorRecord is written whenever a phase fails in a recoverable way. It
// can exist without a corresponding PageRecord.
type ErrorRecord struct {
	URL        string    `json:"url"`
	Origin     string    `json:"origin"`
	Host       string    `json:"host"`
	OccurredAt time.Time `json:"occurredAt"`
	Phase      Phase     `json:"phase"`
	Code       string    `json:"code"`
	Message    string    `json:"message"`
}

// FormLabelIssue describes one unlabeled or mislabeled form control,
// captured in prerender+ accessibility audits.
type FormLabelIssue struct {
	Selector string `json:"selector"`
	Reason   string `json:"reason"`
}

// FocusOrderEntry is one focusable element in document tab order.
type FocusOrderEntry struct {
	Selector string `json:"selector"`
	TabIndex int    `json:"tabIndex"`
}

// ContrastViolation is one element failing WCAG AA contrast, captured in
// full-mode accessibility audits.
type ContrastViolation struct {
	Selector   string  `json:"selector"`
	Foreground string  `json:"foreground"`
	Background string  `json:"background"`
	Ratio      float64 `json:"ratio"`
	Required   float64 `json:"required"`
}

// AccessibilityRecord is created during extraction, at most one per page,
// when accessibility collection is enabled.
type AccessibilityRecord struct {
	PageURL            string              `json:"pageUrl"`
	Lang               string              `json:"lang,omitempty"`
	MissingAltCount    int                 `json:"missingAltCount"`
	MissingAltSources  []string            `json:"missingAltSources,omitempty"`
	HeadingSequence    []Heading           `json:"headingSequence"`
	LandmarkNav        bool                `json:"landmarkNav"`
	LandmarkHeader     bool                `json:"landmarkHeader"`
	LandmarkFooter     bool                `json:"landmarkFooter"`
	LandmarkMain       bool                `json:"landmarkMain"`
	RoleHistogram      map[string]int      `json:"roleHistogram,omitempty"`
	FormLabelIssues    []FormLabelIssue    `json:"formLabelIssues,omitempty"`
	FocusOrder         []FocusOrderEntry   `json:"focusOrder,omitempty"`
	ContrastViolations []ContrastViolation `json:"contrastViolations,omitempty"`
	WCAGData           map[string]any      `json:"wcagData,omitempty"`
}

// ConsoleRecord captures one page-originated console message, full mode
// only.
type ConsoleRecord struct {
	PageURL    string    `json:"pageUrl"`
	Level      string    `json:"level"`
	Text       string    `json:"text"`
	OccurredAt time.Time `json:"occurredAt"`
}

// ComputedTextNodeRecord captures the resolved style of one text node,
// full mode only.
type ComputedTextNodeRecord struct {
	PageURL    string  `json:"pageUrl"`
	Selector   string  `json:"selector"`
	FontSize   float64 `json:"fontSize"`
	FontWeight string  `json:"fontWeight"`
	Foreground string  `json:"foreground"`
	Background string  `json:"background"`
	LineHeight float64 `json:"lineHeight"`
}

// DatasetStats is the manifest's per-dataset rollup.
type DatasetStats struct {
	PartCount   int   `json:"partCount"`
	RecordCount int   `json:"recordCount"`
	Bytes       int64 `json:"bytes"`
}

// Capabilities describes what the crawl actually exercised.
type Capabilities struct {
	RenderModes []RenderMode `json:"renderModes"`
	ModesUsed   []RenderMode `json:"modesUsed"`
	SpecLevel   int          `json:"specLevel"`
	DataSets    []string     `json:"dataSets"`
	Robots      RobotsNote   `json:"robots"`
}

// RobotsNote records whether robots.txt was respected/overridden.
type RobotsNote struct {
	RespectsRobotsTxt bool `json:"respectsRobotsTxt"`
	OverrideUsed      bool `json:"overrideUsed"`
}

// Manifest is written once, on finalize, after summary.json.
type Manifest struct {
	AtlasVersion     string                  `json:"atlasVersion"`
	Owner            ManifestOwner           `json:"owner"`
	Consumers        []string                `json:"consumers,omitempty"`
	Hashing          HashingInfo             `json:"hashing"`
	Parts            map[string][]string     `json:"parts"`
	Schemas          map[string]string       `json:"schemas"`
	Datasets         map[string]DatasetStats `json:"datasets"`
	Capabilities     Capabilities            `json:"capabilities"`
	Notes            []string                `json:"notes,omitempty"`
	Integrity        IntegrityInfo           `json:"integrity"`
	CreatedAt        time.Time               `json:"createdAt"`
	Generator        string                  `json:"generator"`
	Incomplete       bool                    `json:"incomplete"`
	CompletionReason CompletionReason        `json:"completionReason"`
}

// ManifestOwner identifies who produced/owns the archive.
type ManifestOwner struct {
	Name string `json:"name"`
}

// HashingInfo names the hashing algorithms in use. Per spec: content
// integrity hashing is sha256; the url key algorithm is sha1 (160-bit,
// matching §3's "160-bit hash" identifier definition).
type HashingInfo struct {
	Algorithm  string `json:"algorithm"`
	URLKeyAlgo string `json:"urlKeyAlgo"`
}

// IntegrityInfo maps every non-manifest archive file to its SHA-256 hash.
type IntegrityInfo struct {
	Files map[string]string `json:"files"`
}

// Summary is written before the manifest (so the manifest can embed
// accurate counts) — see §9's "cyclic references" design note.
type Summary struct {
	Seeds               []string         `json:"seeds"`
	PrimaryOrigin       string           `json:"primaryOrigin"`
	Domain              string           `json:"domain"`
	SpecLevel           int              `json:"specLevel"`
	CompletionReason    CompletionReason `json:"completionReason"`
	TotalPages          int              `json:"totalPages"`
	TotalEdges          int              `json:"totalEdges"`
	TotalAssets         int              `json:"totalAssets"`
	TotalErrors         int              `json:"totalErrors"`
	StatusCodeHistogram map[string]int   `json:"statusCodeHistogram"`
	RenderModeHistogram map[string]int   `json:"renderModeHistogram"`
	AvgRenderMs         float64          `json:"avgRenderMs"`
	MaxDepthReached     int              `json:"maxDepthReached"`
	StartedAt           time.Time        `json:"startedAt"`
	CompletedAt         time.Time        `json:"completedAt"`
	DurationMs          int64            `json:"durationMs"`
}

// FrontierItem is one pending URL in the checkpointed BFS frontier.
type FrontierItem struct {
	URL            string `json:"url"`
	Depth          int    `json:"depth"`
	DiscoveredFrom string `json:"discoveredFrom,omitempty"`
}

// PartPointer records a writer's resume position for one dataset.
type PartPointer struct {
	Dataset    string `json:"dataset"`
	PartIndex  int    `json:"partIndex"`
	ByteOffset int64  `json:"byteOffset"`
}

// Checkpoint is the state.json payload; visited.idx and frontier.json are
// written alongside it as separate files per spec.md §4.8.
type Checkpoint struct {
	CrawlID           string        `json:"crawlId"`
	VisitedCount      int           `json:"visitedCount"`
	EnqueuedCount     int           `json:"enqueuedCount"`
	QueueDepth        int           `json:"queueDepth"`
	VisitedIndexPath  string        `json:"visitedIndexPath"`
	FrontierPath      string        `json:"frontierPath"`
	PartPointers      []PartPointer `json:"partPointers"`
	RSSBytesAtCapture uint64        `json:"rssBytesAtCapture"`
	Timestamp         time.Time     `json:"timestamp"`
	ResumeOf          string        `json:"resumeOf,omitempty"`
	GracefulShutdown  bool          `json:"gracefulShutdown"`
}

// RateLimitConfig configures the per-host token bucket (C3) and the global
// serial RPS limiter.
type RateLimitConfig struct {
	PerHostRPS float64 `yaml:"perHostRps"`
	GlobalRPS  float64 `yaml:"globalRps"`
	Burst      float64 `yaml:"burst"`
}

// ParamPolicy selects C1's query-parameter retention strategy.
type ParamPolicy string

const (
	ParamPolicyKeep   ParamPolicy = "keep"
	ParamPolicyStrip  ParamPolicy = "strip"
	ParamPolicySample ParamPolicy = "sample"
)
