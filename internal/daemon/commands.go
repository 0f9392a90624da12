package daemon

import "strings"

// KnownCommands is the complete command taxonomy from spec.md §4.7/§6.
var KnownCommands = []string{
	"daemon.status",
	"daemon.stop",
	"quote.snapshot",
	"market.capabilities",
	"market.history",
	"market.chain",
	"portfolio.positions",
	"portfolio.balance",
	"portfolio.pnl",
	"portfolio.exposure",
	"portfolio.snapshot",
	"order.place",
	"order.bracket",
	"order.status",
	"orders.list",
	"order.cancel",
	"orders.cancel_all",
	"fills.list",
	"risk.check",
	"risk.limits",
	"risk.set",
	"risk.halt",
	"risk.resume",
	"risk.override",
	"runtime.keepalive",
	"events.subscribe",
	"audit.commands",
	"audit.orders",
	"audit.risk",
	"audit.export",
	"schema.get",
}

var knownCommandSet = func() map[string]bool {
	set := make(map[string]bool, len(KnownCommands))
	for _, c := range KnownCommands {
		set[c] = true
	}
	return set
}()

// SuggestCommand finds the closest known command to an unrecognized one, by
// Levenshtein distance, mirroring Python's difflib.get_close_matches. No
// fuzzy string-matching library appears anywhere in the example pack, so
// this is a small hand-rolled edit-distance helper rather than a dependency.
func SuggestCommand(command string) string {
	best := ""
	bestDist := 0
	for _, candidate := range KnownCommands {
		d := levenshtein(command, candidate)
		// cutoff: don't suggest wildly distant commands (more than 40% of the
		// longer string edited, i.e. below difflib's default 0.6 similarity)
		if float64(d) > 0.4*float64(max(len(command), len(candidate))) {
			continue
		}
		if best == "" || d < bestDist {
			bestDist = d
			best = candidate
		}
	}
	return best
}

func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

func normalizeTopics(raw []string) map[string]bool {
	out := map[string]bool{}
	for _, t := range raw {
		out[strings.ToLower(strings.TrimSpace(t))] = true
	}
	return out
}
