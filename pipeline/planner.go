package pipeline

import (
	"context"
	"fmt"

	"github.com/jeff4444/autoduty-backend/model"
)

// ExecPlanner verifies self-contained fixes by executing the affected file
// itself: the pre-fix content is expected to crash and the post-fix content
// to exit cleanly. It picks the edit matching the incident's source file,
// falling back to the first edit.
type ExecPlanner struct{}

func (ExecPlanner) Plan(_ context.Context, inc *model.Incident, edits []model.FileEdit) (string, string, error) {
	if len(edits) == 0 {
		return "", "", fmt.Errorf("incident %s has no edits to verify", inc.ID)
	}
	target := edits[0]
	for _, e := range edits {
		if e.Path == inc.SourceFile {
			target = e
			break
		}
	}
	reproduce := target.OriginalContent
	if inc.OriginalCode != "" {
		reproduce = inc.OriginalCode
	}
	return reproduce, target.NewContent, nil
}
