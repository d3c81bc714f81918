package outbound

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReplySubject(t *testing.T) {
	tests := []struct {
		name     string
		original string
		want     string
	}{
		{"plain", "Quarterly report", "Re: Quarterly report"},
		{"already re", "Re: Quarterly report", "Re: Quarterly report"},
		{"lowercase re", "re: hello", "re: hello"},
		{"uppercase re", "RE: hello", "RE: hello"},
		{"fullwidth colon", "Re：你好", "Re：你好"},
		{"fullwidth letters", "ＲＥ：你好", "ＲＥ：你好"},
		{"chinese marker", "回复：会议安排", "回复：会议安排"},
		{"chinese answer marker", "答复: 会议安排", "答复: 会议安排"},
		{"german marker", "AW: Termin", "AW: Termin"},
		{"re inside word", "Review needed", "Re: Review needed"},
		{"surrounding space", "  hello  ", "Re: hello"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ReplySubject(tt.original))
		})
	}
}

func TestReplySubjectIdempotent(t *testing.T) {
	for _, s := range []string{"hello", "Re: hello", "回复：hi", "(no subject)", ""} {
		once := ReplySubject(s)
		assert.Equal(t, once, ReplySubject(once), "subject %q", s)
	}
}
