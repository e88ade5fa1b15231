package store

import (
	"strings"
	"time"
)

// State represents the lifecycle of an episode.
type State string

const (
	StateUnassigned         State = "unassigned"
	StatePathwayAssigned    State = "pathway_assigned"
	StateAttempting         State = "attempting"
	StateRetryWait          State = "retry_wait"
	StateNeedsTranscription State = "needs_transcription"
	StateFetched            State = "fetched"
	StateFailedPermanent    State = "failed_permanent"
)

var allStates = []State{
	StateUnassigned,
	StatePathwayAssigned,
	StateAttempting,
	StateRetryWait,
	StateNeedsTranscription,
	StateFetched,
	StateFailedPermanent,
}

var stateSet = func() map[State]struct{} {
	set := make(map[State]struct{}, len(allStates))
	for _, state := range allStates {
		set[state] = struct{}{}
	}
	return set
}()

// openStates are the states counted as unfinished work by the watchdog.
var openStates = []State{StatePathwayAssigned, StateAttempting, StateNeedsTranscription}

// AllStates returns the ordered list of known states.
func AllStates() []State {
	cp := make([]State, len(allStates))
	copy(cp, allStates)
	return cp
}

// ParseState converts a string into a known State.
func ParseState(value string) (State, bool) {
	normalized := State(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := stateSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a state ends processing for an episode.
func (s State) IsTerminal() bool {
	return s == StateFetched || s == StateFailedPermanent
}

// Pathway is the primary resolution strategy assigned once per show.
type Pathway string

const (
	PathwayWebsiteDirect      Pathway = "website_direct"
	PathwayNetworkArchive     Pathway = "network_archive"
	PathwayAggregator         Pathway = "aggregator"
	PathwayVideoCaptions      Pathway = "video_captions"
	PathwayLocalTranscription Pathway = "local_transcription"
	PathwayUnresolved         Pathway = "unresolved"
)

var allPathways = []Pathway{
	PathwayWebsiteDirect,
	PathwayNetworkArchive,
	PathwayAggregator,
	PathwayVideoCaptions,
	PathwayLocalTranscription,
	PathwayUnresolved,
}

// AllPathways returns the ordered list of known pathways.
func AllPathways() []Pathway {
	cp := make([]Pathway, len(allPathways))
	copy(cp, allPathways)
	return cp
}

// ParsePathway converts a string into a known Pathway.
func ParsePathway(value string) (Pathway, bool) {
	normalized := Pathway(strings.ToLower(strings.TrimSpace(value)))
	for _, p := range allPathways {
		if p == normalized {
			return p, true
		}
	}
	return "", false
}

// Show is a content series whose episodes share one resolution pathway.
type Show struct {
	ID                string
	DisplayName       string
	FeedURL           string
	Pathway           Pathway
	PathwayReason     string
	PathwayAssignedAt *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Episode is one unit of resolution work.
type Episode struct {
	ID               string
	ShowID           string
	Title            string
	PublishTime      *time.Time
	AudioURL         string
	AudioLocalPath   string
	State            State
	AttemptCount     int
	LastSourceID     string
	LastErrorClass   string
	TranscriptPath   string
	ResolvedSourceID string
	NextAttemptAt    *time.Time
	ClaimedBy        string
	LastHeartbeat    *time.Time
	ResolvedAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HasAudio reports whether any audio locator is known for the episode.
func (e Episode) HasAudio() bool {
	return strings.TrimSpace(e.AudioURL) != "" || strings.TrimSpace(e.AudioLocalPath) != ""
}

// LocalAudioOnly reports whether the episode's only audio locator is a
// locally stored file, which marks paywalled or private content.
func (e Episode) LocalAudioOnly() bool {
	return strings.TrimSpace(e.AudioLocalPath) != "" && strings.TrimSpace(e.AudioURL) == ""
}

// Source is a transcript provider definition. Sources are never deleted,
// only disabled, to preserve attempt-history provenance.
type Source struct {
	ID               string
	DisplayName      string
	Pathway          Pathway
	ShowPattern      string
	TitlePattern     string
	AudioHostPattern string
	BaseURL          string
	Enabled          bool
	Priority         int
	RequiresAuth     bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// AttemptOutcome distinguishes attempt results in the audit trail.
type AttemptOutcome string

const (
	OutcomeSuccess AttemptOutcome = "success"
	OutcomeFailure AttemptOutcome = "failure"
)

// ResolutionAttempt is an immutable audit record of one fetch attempt.
type ResolutionAttempt struct {
	ID            int64
	EpisodeID     string
	SourceID      string
	AttemptedAt   time.Time
	Outcome       AttemptOutcome
	ErrorClass    string
	ContentLength int
	CorrelationID string
}

// TranscriptionJob routes one episode to the remote transcription worker.
type TranscriptionJob struct {
	ID           string
	EpisodeID    string
	AudioPath    string
	StagedAt     *time.Time
	AckedAt      *time.Time
	CompletedAt  *time.Time
	OutputPath   string
	RestageCount int
	ArchivedAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AuditEvent records administrative and automatic state changes that affect
// many episodes at once (pathway reassignment, source disables, re-opens).
type AuditEvent struct {
	ID         int64
	OccurredAt time.Time
	Kind       string
	SubjectID  string
	Detail     string
}

// Audit event kinds.
const (
	AuditPathwayAssigned   = "pathway_assigned"
	AuditPathwayReassigned = "pathway_reassigned"
	AuditSourceDisabled    = "source_disabled"
	AuditSourceEnabled     = "source_enabled"
	AuditEpisodeReopened   = "episode_reopened"
	AuditSweepReopened     = "sweep_reopened"
)

// ShowStateCount is one row of the per-show status report.
type ShowStateCount struct {
	ShowID string
	State  State
	Count  int
}

// StatusReport aggregates episode counts for the status query and watchdog.
type StatusReport struct {
	PerState   map[State]int
	PerPathway map[Pathway]int
	PerShow    []ShowStateCount
}
