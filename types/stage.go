// Package types defines core domain types for Frostband pipelines.
//
//nolint:revive // types is a common Go package naming convention
package types

// PipelineKind identifies which workflow a run executes.
type PipelineKind string

const (
	// PipelinePullPurge is the verified bulk pull-and-purge workflow.
	PipelinePullPurge PipelineKind = "pull_purge"
	// PipelineDirectUpload is the per-file direct upload-and-purge workflow.
	PipelineDirectUpload PipelineKind = "direct_upload"
	// PipelineLocalUpload uploads selected local captures.
	PipelineLocalUpload PipelineKind = "local_upload"
)

// Stage is a pipeline state. Stages of both remote workflows share one
// namespace so observers can render them uniformly.
type Stage string

// Shared stages.
const (
	StageIdle             Stage = "idle"
	StageStoppingProducer Stage = "stopping_producer"
	StageComplete         Stage = "complete"
	StageFailed           Stage = "failed"
)

// Pull-and-purge stages.
const (
	StageBuildingManifest Stage = "building_manifest"
	StagePackaging        Stage = "packaging"
	StageTransferring     Stage = "transferring"
	StageExtracting       Stage = "extracting"
	StageVerifying        Stage = "verifying"
	StageDeleting         Stage = "deleting"
)

// Direct upload stages.
const (
	StageCheckingCredential Stage = "checking_credential"
	StageListing            Stage = "listing"
	StageDownloading        Stage = "downloading"
	StageUploading          Stage = "uploading"
	StageRecording          Stage = "recording"
	StageCleanupDeleting    Stage = "cleanup_deleting"
)

// IsTerminal reports whether no further transitions follow this stage.
func (s Stage) IsTerminal() bool {
	return s == StageComplete || s == StageFailed
}

// IsDestructive reports whether the stage may remove data on the remote device.
func (s Stage) IsDestructive() bool {
	return s == StageDeleting || s == StageCleanupDeleting
}
