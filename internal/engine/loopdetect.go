package engine

import (
	"fmt"

	"github.com/ospreyhq/osprey/internal/provider"
)

// callIdentifier normalizes a tool call for repetition tracking. Map
// formatting is key-sorted, so identical argument sets always produce the
// same identifier.
func callIdentifier(call provider.ToolCall) string {
	return fmt.Sprintf("%s:%v", call.Name, call.Args)
}

// detectLoop reports whether the chronological call identifiers show the
// model stuck repeating itself: the most recent three or more calls are
// identical, or one identifier fills the last five, or appears at least
// eight times in the last ten. Fewer than three calls total never trigger.
func detectLoop(ids []string) bool {
	n := len(ids)
	if n < 3 {
		return false
	}

	last := ids[n-1]
	if ids[n-2] == last && ids[n-3] == last {
		return true
	}

	if dominantCount(ids, 5) >= 5 {
		return true
	}
	return dominantCount(ids, 10) >= 8
}

// dominantCount returns the highest identifier frequency within the trailing
// window, or zero when fewer calls than the window exist.
func dominantCount(ids []string, window int) int {
	if len(ids) < window {
		return 0
	}
	counts := make(map[string]int, window)
	most := 0
	for _, id := range ids[len(ids)-window:] {
		counts[id]++
		if counts[id] > most {
			most = counts[id]
		}
	}
	return most
}
