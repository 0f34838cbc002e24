package store

import "time"

// Test run statuses
const (
	RunStatusPending   = "pending"
	RunStatusAnnounced = "announced"
	RunStatusAborted   = "aborted"
)

// TestRun records a started test run
type TestRun struct {
	ID                     string // UUID assigned when the run starts
	Status                 string // "pending", "announced", "aborted"
	ArtifactID             string
	ArtifactIdentity       string
	SuiteNames             string // comma-separated suite names
	SuiteCount             int
	IUTProvider            string
	ExecutionSpaceProvider string
	LogAreaProvider        string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// ProviderRecord stores a registered provider document
type ProviderRecord struct {
	ID        int64
	Type      string // "iut", "execution-space", "log-area"
	Name      string
	Document  string // JSON provider document
	CreatedAt time.Time
	UpdatedAt time.Time
}
