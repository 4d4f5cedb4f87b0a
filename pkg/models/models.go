// Package models defines the data-model entities stored in the relational
// store and mirrored into the vector store.
package models

// SessionStatus is the lifecycle state of a Session row.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// Session is one user conversation. ContentSessionID is assigned by the
// editor side; MemorySessionID is the memory agent's own provider-side
// session identifier and is always distinct from ContentSessionID.
type Session struct {
	ID               int64
	ContentSessionID string
	MemorySessionID  *string
	Project          string
	UserPrompt       string
	CustomTitle      *string
	StartedAtEpoch   int64
	CompletedAtEpoch *int64
	Status           SessionStatus
	WorkerPort       int
	PromptCounter    int
}

// ObservationScope controls cross-project visibility.
type ObservationScope string

const (
	ScopeProject ObservationScope = "project"
	ScopeGlobal  ObservationScope = "global"
)

// Observation is a structured record extracted from a single tool
// invocation — the atomic unit of memory.
type Observation struct {
	ID                   int64
	MemorySessionID      string
	Project              string
	Scope                ObservationScope
	Type                 string
	Title                string
	Subtitle             string
	Facts                []string
	Narrative            string
	Concepts             []string
	FilesRead            []string
	FilesModified        []string
	PromptNumber         int
	DiscoveryTokens      int
	ContentHash          string
	CreatedAtEpoch       int64
	ImportanceScore      float64
	RetrievalCount       int
	LastRetrievedAtEpoch *int64
}

// SessionSummary captures the state of a session at a point in time; unlike
// Observation it is not deduplicated and may recur per session.
type SessionSummary struct {
	ID              int64
	MemorySessionID string
	Project         string
	Scope           ObservationScope
	Request         string
	Investigated    string
	Learned         string
	Completed       string
	NextSteps       string
	FilesRead       []string
	FilesEdited     []string
	Notes           string
	PromptNumber    int
	DiscoveryTokens int
	CreatedAtEpoch  int64
}

// UserPrompt records one raw user prompt within a content session.
type UserPrompt struct {
	ID               int64
	ContentSessionID string
	PromptNumber     int
	PromptText       string
	CreatedAtEpoch   int64
}

// PendingMessageType distinguishes the two kinds of queued work.
type PendingMessageType string

const (
	MessageTypeObservation PendingMessageType = "observation"
	MessageTypeSummarize   PendingMessageType = "summarize"
)

// PendingMessageStatus is the claim-confirm lifecycle state.
type PendingMessageStatus string

const (
	StatusPending    PendingMessageStatus = "pending"
	StatusProcessing PendingMessageStatus = "processing"
	StatusProcessed  PendingMessageStatus = "processed"
	StatusFailed     PendingMessageStatus = "failed"
)

// PendingMessage is one durable queue entry awaiting an agent turn.
type PendingMessage struct {
	ID                     int64
	SessionDBID            int64
	ContentSessionID       string
	MessageType            PendingMessageType
	ToolName               string
	ToolInput              string // JSON text; nulled on confirm
	ToolResponse           string // JSON text; nulled on confirm
	CWD                    string
	LastAssistantMessage   string
	PromptNumber           int
	Status                 PendingMessageStatus
	RetryCount             int
	CreatedAtEpoch         int64
	StartedProcessingEpoch *int64
	CompletedAtEpoch       *int64
	FailedAtEpoch          *int64
}
