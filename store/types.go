package store

import (
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Status is a run's lifecycle state. It only moves forward, from running to
// one of the terminal states.
type Status string

const (
	StatusRunning    Status = "running"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
	StatusIncomplete Status = "incomplete"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusError, StatusIncomplete:
		return true
	}
	return false
}

// Run is one pipeline execution.
type Run struct {
	ID             string         `db:"id" json:"id"`
	Reference      string         `db:"reference" json:"reference"`
	ExperimentName string         `db:"experiment_name" json:"experiment_name"`
	RunNumber      int64          `db:"run_number" json:"run_number"`
	Timestamp      time.Time      `db:"timestamp" json:"timestamp"`
	Commit         string         `db:"commit" json:"commit"`
	WorkdirDirty   bool           `db:"workdir_dirty" json:"workdir_dirty"`
	ParamFiles     types.JSONText `db:"param_files" json:"param_files"`
	Params         types.JSONText `db:"params" json:"params"`
	FullStore      bool           `db:"full_store" json:"full_store"`
	Status         Status         `db:"status" json:"status"`
	CLI            string         `db:"cli" json:"cli"`
	Hostname       string         `db:"hostname" json:"hostname"`
	User           string         `db:"user" json:"user"`
	Notes          string         `db:"notes" json:"notes"`
	EndTime        *time.Time     `db:"end_time" json:"end_time,omitempty"`
	Exception      *string        `db:"exception" json:"exception,omitempty"`
	ExceptionStack *string        `db:"exception_stack" json:"exception_stack,omitempty"`
}

// NewRun describes a run to create. Environment fields are opaque strings
// supplied by the caller.
type NewRun struct {
	ExperimentName string
	Commit         string
	WorkdirDirty   bool
	ParamFiles     []string

	// Params maps a parameter file name to its [param set name, hash] pairs.
	Params map[string][][2]string

	FullStore bool
	CLI       string
	Hostname  string
	User      string
	Notes     string
}

// Outcome is the final state of a run.
type Outcome struct {
	Status Status

	// Exception and ExceptionStack are stored only for StatusError.
	Exception      string
	ExceptionStack string
}

// Stage is one stage invocation. A row is shared by every run whose stage
// had the same hash; RunID names the run that first recorded it.
type Stage struct {
	ID          string         `db:"id" json:"id"`
	RunID       string         `db:"run_id" json:"run_id"`
	FuncName    string         `db:"func_name" json:"func_name"`
	FuncModule  string         `db:"func_module" json:"func_module"`
	StartTime   *time.Time     `db:"start_time" json:"start_time,omitempty"`
	EndTime     *time.Time     `db:"end_time" json:"end_time,omitempty"`
	Params      types.JSONText `db:"params" json:"params"`
	Hash        string         `db:"hash" json:"hash"`
	HashDetails types.JSONText `db:"hash_details" json:"hash_details"`
}

// NewStage describes a stage invocation to record. Params and HashDetails
// are stored as JSON.
type NewStage struct {
	FuncName    string
	FuncModule  string
	Params      any
	Hash        string
	HashDetails any
}

// ArtifactRecord is the persisted form of an artifact.
type ArtifactRecord struct {
	ID            string         `db:"id" json:"id"`
	StageID       *string        `db:"stage_id" json:"stage_id,omitempty"`
	Name          string         `db:"name" json:"name"`
	Hash          string         `db:"hash" json:"hash"`
	GeneratedTime time.Time      `db:"generated_time" json:"generated_time"`
	ArtifactType  string         `db:"artifact_type" json:"artifact_type"`
	CacherType    string         `db:"cacher_type" json:"cacher_type"`
	CacherModule  string         `db:"cacher_module" json:"cacher_module"`
	CacherParams  types.JSONText `db:"cacher_params" json:"cacher_params"`
	Reportable    bool           `db:"reportable" json:"reportable"`
	ExtraMetadata types.JSONText `db:"extra_metadata" json:"extra_metadata"`
	Repr          string         `db:"repr" json:"repr"`
	IsList        bool           `db:"is_list" json:"is_list"`
}

// NewArtifact describes an artifact to record. An empty StageID stores NULL.
type NewArtifact struct {
	StageID       string
	Name          string
	Hash          string
	ArtifactType  string
	CacherType    string
	CacherModule  string
	CacherParams  map[string]any
	Reportable    bool
	ExtraMetadata map[string]any
	Repr          string
	IsList        bool
}

// StageInput links a stage to an artifact it consumed.
type StageInput struct {
	StageID    string `db:"stage_id" json:"stage_id"`
	ArtifactID string `db:"artifact_id" json:"artifact_id"`
	ArgIndex   int    `db:"arg_index" json:"arg_index"`
	ArgName    string `db:"arg_name" json:"arg_name"`

	// StageDependencyID is the stage that produced the artifact, if any.
	StageDependencyID *string `db:"stage_dependency_id" json:"stage_dependency_id,omitempty"`
}

// ListItem links a list artifact to the artifact at one of its positions.
type ListItem struct {
	ListID   string `db:"list_id" json:"list_id"`
	ItemID   string `db:"item_id" json:"item_id"`
	Position int    `db:"position" json:"position"`
}

// LineageNode is one artifact in an upstream traversal. Stage and Inputs
// are set for stage outputs, Items for list artifacts.
type LineageNode struct {
	Depth    int            `json:"depth"`
	Artifact ArtifactRecord `json:"artifact"`
	Stage    *Stage         `json:"stage,omitempty"`
	Inputs   []StageInput   `json:"inputs,omitempty"`
	Items    []ListItem     `json:"items,omitempty"`
}
