package types

// Stage is a candidate's position in the pipeline state machine.
type Stage string

const (
	StageRaw             Stage = "raw"
	StageValidated       Stage = "validated"
	StageScored          Stage = "scored"
	StageRanked          Stage = "ranked"
	StageExecuted        Stage = "executed"
	StagePendingApproval Stage = "pending_approval"
	StageDropped         Stage = "dropped"
)

var stageNext = map[Stage][]Stage{
	StageRaw:       {StageValidated, StageDropped},
	StageValidated: {StageScored, StageDropped},
	StageScored:    {StageRanked, StageDropped},
	StageRanked:    {StageExecuted, StagePendingApproval, StageDropped},
	// approval resolves to execution or a drop
	StagePendingApproval: {StageExecuted, StageDropped},
}

// CanTransition reports whether from -> to is a legal edge. No stage can be skipped.
func CanTransition(from, to Stage) bool {
	for _, s := range stageNext[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s ends a candidate's life in the loop.
func (s Stage) Terminal() bool {
	switch s {
	case StageExecuted, StagePendingApproval, StageDropped:
		return true
	}
	return false
}
