// Package types provides common type definitions for the scouting sync system.
package types

// SyncStatus represents the lifecycle state of an offline observation
type SyncStatus string

const (
	// SyncStatusPending represents an entry waiting for its first drain pass
	SyncStatusPending SyncStatus = "pending"
	// SyncStatusSyncing represents an entry currently being pushed to the remote store
	SyncStatusSyncing SyncStatus = "syncing"
	// SyncStatusSynced represents an entry whose observation exists remotely
	SyncStatusSynced SyncStatus = "synced"
	// SyncStatusFailed represents an entry whose last attempt failed
	SyncStatusFailed SyncStatus = "failed"
)

// DefaultMaxRetryAttempts is the number of failed attempts after which an
// entry is no longer picked up by automatic drain passes.
const DefaultMaxRetryAttempts = 3

// IsValid reports whether s is one of the known statuses
func (s SyncStatus) IsValid() bool {
	switch s {
	case SyncStatusPending, SyncStatusSyncing, SyncStatusSynced, SyncStatusFailed:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether moving from s to next is allowed.
// pending -> syncing, failed -> syncing, syncing -> synced | failed.
func (s SyncStatus) CanTransitionTo(next SyncStatus) bool {
	switch s {
	case SyncStatusPending, SyncStatusFailed:
		return next == SyncStatusSyncing
	case SyncStatusSyncing:
		return next == SyncStatusSynced || next == SyncStatusFailed
	default:
		return false
	}
}

// UnsyncedStatuses are the statuses counted by the pending badge
var UnsyncedStatuses = []SyncStatus{SyncStatusPending, SyncStatusFailed}

// ObservationSource represents where an observation came from
type ObservationSource string

const (
	SourceScouting      ObservationSource = "scouting"
	SourceReferral      ObservationSource = "referral"
	SourceApplication   ObservationSource = "application"
	SourceTrainerReport ObservationSource = "trainer_report"
	SourceScoutReport   ObservationSource = "scout_report"
	SourceVideoAnalysis ObservationSource = "video_analysis"
	SourceTournament    ObservationSource = "tournament"
	SourceTraining      ObservationSource = "training"
)

// IsValid reports whether the source is recognised
func (s ObservationSource) IsValid() bool {
	switch s {
	case SourceScouting, SourceReferral, SourceApplication, SourceTrainerReport,
		SourceScoutReport, SourceVideoAnalysis, SourceTournament, SourceTraining:
		return true
	default:
		return false
	}
}

// DominantFoot represents a player's preferred foot
type DominantFoot string

const (
	FootLeft  DominantFoot = "left"
	FootRight DominantFoot = "right"
	FootBoth  DominantFoot = "both"
)

// IsValid reports whether the foot value is recognised
func (f DominantFoot) IsValid() bool {
	return f == FootLeft || f == FootRight || f == FootBoth
}

// SyncProgress reports how far the current drain pass has advanced
type SyncProgress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	return e.Message
}
