// Package router classifies an incoming query into a fast or slow
// processing path before any retrieval happens.
package router

// Path is the processing path chosen for a turn.
type Path string

const (
	PathFast Path = "fast"
	PathSlow Path = "slow"
)

// QueryRoute is the per-turn routing decision. It is computed once and may
// be upgraded from fast to slow at most once.
type QueryRoute struct {
	Path                   Path   `json:"path"`
	SkipRephrasing         bool   `json:"skipRephrasing"`
	SkipIterativeRetrieval bool   `json:"skipIterativeRetrieval"`
	Reason                 string `json:"reason"`
	Upgraded               bool   `json:"upgraded"`
}

// Upgrade flips a fast route to slow and re-enables iterative retrieval.
// It reports whether the route changed.
func (r *QueryRoute) Upgrade(reason string) bool {
	if r.Path != PathFast || r.Upgraded {
		return false
	}
	r.Path = PathSlow
	r.SkipIterativeRetrieval = false
	r.Upgraded = true
	r.Reason = r.Reason + "; upgraded: " + reason
	return true
}

// Rule maps a predicate over QueryFeatures to a path.
type Rule struct {
	Name  string
	Match func(f QueryFeatures) bool
	Path  Path
}

const (
	maxShortQueryWords     = 3
	maxSimpleFactualWords  = 10
	maxFollowUpMarkerWords = 8
)

// DefaultRules are evaluated in order; the first match wins.
var DefaultRules = []Rule{
	{
		Name:  "greeting",
		Match: func(f QueryFeatures) bool { return f.IsGreeting },
		Path:  PathFast,
	},
	{
		Name:  "pronoun refers to earlier turns",
		Match: func(f QueryFeatures) bool { return f.HasPronoun && f.HistoryLength > 0 },
		Path:  PathSlow,
	},
	{
		Name:  "short query",
		Match: func(f QueryFeatures) bool { return f.WordCount > 0 && f.WordCount <= maxShortQueryWords },
		Path:  PathFast,
	},
	{
		Name: "simple factual pattern",
		Match: func(f QueryFeatures) bool {
			return f.IsSimpleFactual && !f.HasPronoun && f.WordCount <= maxSimpleFactualWords
		},
		Path: PathFast,
	},
	{
		Name: "low-ambiguity follow-up",
		Match: func(f QueryFeatures) bool {
			return !f.IsFirstMessage && f.HasFollowUpMarker && !f.HasPronoun && f.WordCount <= maxFollowUpMarkerWords
		},
		Path: PathFast,
	},
}

const defaultReason = "complex or ambiguous query"

// ClassifyWith applies rules to f. It is pure: equal inputs give equal routes.
func ClassifyWith(rules []Rule, f QueryFeatures) QueryRoute {
	for _, rule := range rules {
		if rule.Match(f) {
			return newRoute(rule.Path, rule.Name)
		}
	}
	return newRoute(PathSlow, defaultReason)
}

// Classify applies DefaultRules.
func Classify(f QueryFeatures) QueryRoute {
	return ClassifyWith(DefaultRules, f)
}

func newRoute(path Path, reason string) QueryRoute {
	fast := path == PathFast
	return QueryRoute{
		Path:                   path,
		SkipRephrasing:         fast,
		SkipIterativeRetrieval: fast,
		Reason:                 reason,
	}
}
