package policy

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/iamwavecut/langwarden/internal/detect"
)

// Matcher decides whether a fragment of text violates a group's language
// policy for a category. Detection only runs when the category is enabled and
// scoped to at least one language, so disabled categories are free.
type Matcher struct {
	policies *Store
	detector detect.Detector
}

func NewMatcher(policies *Store, detector detect.Detector) *Matcher {
	return &Matcher{policies: policies, detector: detector}
}

// MatchLanguage detects the fragment's language and reports whether it falls
// inside the category's restricted set. Empty or whitespace-only text never
// matches.
func (m *Matcher) MatchLanguage(ctx context.Context, groupID int64, category Category, text string) (detect.Code, bool, error) {
	if strings.TrimSpace(text) == "" {
		return detect.None, false, nil
	}
	entry := m.policies.Entry(ctx, groupID, category)
	if !entry.Enabled || len(entry.Languages) == 0 {
		return detect.None, false, nil
	}
	code, err := m.detector.Detect(ctx, text)
	if err != nil {
		return detect.None, false, errors.WithMessage(err, "cant detect language")
	}
	if code == detect.None {
		return detect.None, false, nil
	}
	for _, lang := range entry.Languages {
		if strings.EqualFold(lang, string(code)) {
			return code, true, nil
		}
	}
	return code, false, nil
}

// Enabled reports whether the category is switched on for the group.
func (m *Matcher) Enabled(ctx context.Context, groupID int64, category Category) bool {
	return m.policies.Entry(ctx, groupID, category).Enabled
}
