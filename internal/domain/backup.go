package domain

import (
	"path/filepath"
	"time"
)

// Stage names one step of a target's pipeline run.
type Stage string

const (
	StageDump     Stage = "dump"
	StageMerge    Stage = "merge"
	StageCompress Stage = "compress"
	StageUpload   Stage = "upload"
	StageCleanup  Stage = "cleanup"
)

// Stages lists pipeline stages in execution order.
var Stages = []Stage{StageDump, StageMerge, StageCompress, StageUpload, StageCleanup}

// BackupTarget identifies one database server (or container) backed up as a unit.
type BackupTarget struct {
	Name      string
	Container string
	WorkDir   string
}

// DumpPath is the uncompressed artifact location for the target.
func (t BackupTarget) DumpPath() string {
	return filepath.Join(t.WorkDir, t.Name+".sql")
}

// CompressedPath is the gzip sibling of DumpPath.
func (t BackupTarget) CompressedPath() string {
	return t.DumpPath() + ".gz"
}

// StageTiming is the wall-clock span of one stage.
type StageTiming struct {
	Stage    Stage
	Started  time.Time
	Finished time.Time
}

func (s StageTiming) Duration() time.Duration {
	return s.Finished.Sub(s.Started)
}

// RunReport describes one pipeline attempt for one target.
type RunReport struct {
	Target         string
	StartedAt      time.Time
	Timings        []StageTiming
	DumpSize       int64
	CompressedSize int64
	Objects        []string
	Err            error
}

// Total is the span from the first stage start to the last stage end.
func (r *RunReport) Total() time.Duration {
	if len(r.Timings) == 0 {
		return 0
	}
	return r.Timings[len(r.Timings)-1].Finished.Sub(r.StartedAt)
}

// Succeeded reports whether the run reached the end without error.
func (r *RunReport) Succeeded() bool {
	return r.Err == nil
}

// StageDuration returns the recorded duration for stage, or zero.
func (r *RunReport) StageDuration(stage Stage) time.Duration {
	for _, t := range r.Timings {
		if t.Stage == stage {
			return t.Duration()
		}
	}
	return 0
}

// MB converts a byte count to mebibytes.
func MB(size int64) float64 {
	return float64(size) / (1024 * 1024)
}
