package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseFindings_ExtractsPrefixedLines(t *testing.T) {
	text := `Looked at the repo.
[fact] the server listens on :8080
some chatter
[blocker] missing migration for the new column
[hypothesis] the flake is caused by a race in the dispatcher
not a finding line`

	findings := ParseFindings(text)
	assert.Len(t, findings, 3)
	assert.Equal(t, "fact", findings[0].Kind)
	assert.Equal(t, "the server listens on :8080", findings[0].Content)
	assert.Equal(t, "blocker", findings[1].Kind)
	assert.Equal(t, "hypothesis", findings[2].Kind)
}

func TestParseFindings_NoMatchesReturnsEmpty(t *testing.T) {
	findings := ParseFindings("nothing interesting here")
	assert.Empty(t, findings)
}
