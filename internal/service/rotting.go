package service

import (
	"time"

	"github.com/straye-as/pipeline-engine/internal/domain"
)

// wholeDays returns the number of complete 24h periods between from and now
func wholeDays(from, now time.Time) int {
	return int(now.Sub(from).Hours() / 24)
}

// DaysInStage returns the whole days an opportunity has spent in its current stage
func DaysInStage(stageEnteredAt, now time.Time) int {
	d := wholeDays(stageEnteredAt, now)
	if d < 0 {
		return 0
	}
	return d
}

// IsRotting reports whether an opportunity in stage is stale at now, either by time in
// stage or by time since its last activity. Terminal stages and stages without a
// threshold never rot.
func IsRotting(stage *domain.PipelineStage, stageEnteredAt time.Time, lastActivityAt *time.Time, now time.Time) bool {
	if stage == nil || stage.IsTerminal() {
		return false
	}
	if stage.DefaultDaysToRot <= 0 {
		return false
	}

	daysInStage := wholeDays(stageEnteredAt, now)
	if daysInStage > stage.DefaultDaysToRot {
		return true
	}
	return lastActivityAt != nil && wholeDays(*lastActivityAt, now) > stage.DefaultDaysToRot
}

// isOpportunityRotting applies IsRotting to an open opportunity; closed ones never rot
func isOpportunityRotting(opp *domain.Opportunity, stage *domain.PipelineStage, now time.Time) bool {
	if opp.Status != domain.OpportunityStatusOpen {
		return false
	}
	return IsRotting(stage, opp.StageEnteredAt, opp.LastActivityAt, now)
}
