package executor

import (
	"context"
	"fmt"

	"vpo/internal/policy"
)

// ApplyPlanEdits applies pending flag and language changes with
// mkvpropedit. Header edits are in-place and cheap; the phase backup is
// the undo mechanism.
func (t *ToolSet) ApplyPlanEdits(ctx context.Context, path string, plan *policy.Plan) error {
	args := flagEditArgs(path, plan.FlagChanges, plan.LanguageChanges)
	if args == nil {
		return nil
	}
	return t.run(ctx, t.Mkvpropedit, args)
}

// flagEditArgs builds the mkvpropedit invocation for a set of pending
// changes, or nil when there is nothing to do. mkvpropedit numbers tracks
// from 1 in container order.
func flagEditArgs(path string, flags []policy.FlagChange, langs []policy.LanguageChange) []string {
	if len(flags) == 0 && len(langs) == 0 {
		return nil
	}
	args := []string{path}
	for _, change := range flags {
		args = append(args,
			"--edit", fmt.Sprintf("track:%d", change.TrackIndex+1),
			"--set", fmt.Sprintf("flag-%s=%d", change.Flag, boolFlag(change.Value)),
		)
	}
	for _, change := range langs {
		args = append(args,
			"--edit", fmt.Sprintf("track:%d", change.TrackIndex+1),
			"--set", fmt.Sprintf("language=%s", change.Language),
		)
	}
	return args
}

func boolFlag(v bool) int {
	if v {
		return 1
	}
	return 0
}
