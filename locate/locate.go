// Package locate maps a solver query to the site key describing the
// conditional-branch observation point it most likely corresponds to.
package locate

import (
	"regexp"

	"github.com/roxaw/EVP-KLEE"
)

// Sentinel is returned when no constraint or goal carries a recognizable
// location tag.
const Sentinel = "loc:0"

var tagRe = regexp.MustCompile(`loc:(\d+)(?::branch:([01]))?`)

// Site returns the site key best associated with q, scanning the printed
// form of each constraint and then the goal for the first loc:<N>
// [:branch:<B>] tag. Returns Sentinel if nothing matches.
func Site(q vase.Query) string {
	for _, expr := range q.Exprs() {
		if key, ok := scan(expr); ok {
			return key
		}
	}
	return Sentinel
}

func scan(expr vase.Expr) (string, bool) {
	if expr == nil {
		return "", false
	}
	m := tagRe.FindStringSubmatch(expr.String())
	if m == nil {
		return "", false
	}
	if m[2] != "" {
		return "loc:" + m[1] + ":branch:" + m[2], true
	}
	return "loc:" + m[1], true
}
