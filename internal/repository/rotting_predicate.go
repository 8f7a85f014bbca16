package repository

import (
	"strings"
	"time"

	"github.com/straye-as/pipeline-engine/internal/domain"
)

const day = 24 * time.Hour

// RottingCutoff is the latest timestamp that counts as stale for a stage threshold.
// Whole elapsed days d satisfy d > daysToRot exactly when t <= now - (daysToRot+1) days.
func RottingCutoff(daysToRot int, now time.Time) time.Time {
	return now.Add(-time.Duration(daysToRot+1) * day)
}

// RottingPredicate builds a SQL condition that holds for opportunities sitting in one
// of the given stages longer than the stage threshold, by stage entry or by last activity.
// Terminal stages and stages without a threshold never match. The caller adds the open
// status condition.
func RottingPredicate(stages []domain.PipelineStage, now time.Time) (string, []interface{}) {
	var parts []string
	var args []interface{}
	for i := range stages {
		stage := &stages[i]
		if stage.IsTerminal() || stage.DefaultDaysToRot <= 0 {
			continue
		}
		cutoff := RottingCutoff(stage.DefaultDaysToRot, now)
		parts = append(parts, "(stage_id = ? AND (stage_entered_at <= ? OR (last_activity_at IS NOT NULL AND last_activity_at <= ?)))")
		args = append(args, stage.ID, cutoff, cutoff)
	}
	if len(parts) == 0 {
		return "1 = 0", nil
	}
	return "(" + strings.Join(parts, " OR ") + ")", args
}
