package outbound

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/width"
)

// ReplyPrefix is prepended to subjects that do not already carry a reply marker.
const ReplyPrefix = "Re: "

// replyMarkers are compared against the width-narrowed, case-folded subject.
var replyMarkers = []string{
	"re:",
	"回复:",
	"答复:",
	"aw:",
	"sv:",
	"antw:",
}

var folder = cases.Fold()

// HasReplyMarker reports whether subject already starts with a reply marker.
// Full-width forms such as "Ｒｅ：" and "回复：" are recognised.
func HasReplyMarker(subject string) bool {
	normalized := folder.String(width.Narrow.String(strings.TrimSpace(subject)))
	for _, marker := range replyMarkers {
		if strings.HasPrefix(normalized, marker) {
			return true
		}
	}
	return false
}

// ReplySubject derives the reply subject. Applying it twice yields the same
// result as applying it once.
func ReplySubject(original string) string {
	if HasReplyMarker(original) {
		return original
	}
	return ReplyPrefix + strings.TrimSpace(original)
}
