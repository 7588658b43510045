package services

import "strings"

// ProgressRule maps worker log keywords to a coarse progress milestone
type ProgressRule struct {
	Keywords []string // matched case-insensitively as substrings
	Progress int
}

// ProgressRules is an ordered rule list; the first matching rule wins for a line
type ProgressRules []ProgressRule

// DefaultProgressRules mirrors the log lines printed by the DeepSeek OCR scripts
func DefaultProgressRules() ProgressRules {
	return ProgressRules{
		{Keywords: []string{"loading"}, Progress: 10},
		{Keywords: []string{"pre-processed"}, Progress: 30},
		{Keywords: []string{"generate"}, Progress: 60},
		{Keywords: []string{"save results"}, Progress: 90},
		{Keywords: []string{"result_with_boxes", "complete"}, Progress: 100},
	}
}

// Match returns the milestone of the first rule matching line.
// A match replaces the current progress even when it is lower.
func (r ProgressRules) Match(line string) (int, bool) {
	lower := strings.ToLower(line)
	for _, rule := range r {
		for _, keyword := range rule.Keywords {
			if strings.Contains(lower, strings.ToLower(keyword)) {
				return rule.Progress, true
			}
		}
	}
	return 0, false
}
