// Package node implements the three node-executor kinds (spec §4.5): single,
// parallel, and swarm. Each renders a prompt, invokes an executor.Strategy
// (or, for swarm, fans out onto the Blackboard), and parses structured
// findings from the agent's output text.
package node

import (
	"bufio"
	"strings"

	"github.com/jobctl/jobctl/runtime/conductor"
)

// findingPrefixes maps the spec §4.5 line-prefix convention to a finding
// kind. "question" is accepted as an alias people actually type even though
// §3's blackboard finding kind enum doesn't name it; it's folded into
// "hypothesis" so downstream consumers see only the canonical kinds.
var findingPrefixes = map[string]string{
	"[fact]":       "fact",
	"[hypothesis]": "hypothesis",
	"[blocker]":    "blocker",
	"[question]":   "hypothesis",
	"[discovery]":  "discovery",
	"[warning]":    "warning",
	"[decision]":   "decision",
}

// ParseFindings scans text line by line for the bracketed-prefix convention
// and returns one Finding per matching line, in file order.
func ParseFindings(text string) []conductor.Finding {
	var findings []conductor.Finding
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		for prefix, kind := range findingPrefixes {
			if !strings.HasPrefix(strings.ToLower(line), prefix) {
				continue
			}
			content := strings.TrimSpace(line[len(prefix):])
			findings = append(findings, conductor.Finding{
				Kind:    kind,
				Content: content,
			})
			break
		}
	}
	return findings
}
