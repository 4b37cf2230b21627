package scenario

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/sahilm/fuzzy"

	"github.com/studiowebux/difyload/internal/executor"
)

// Surface is the host a domain talks to
type Surface int

const (
	SurfaceAPI Surface = iota
	SurfaceSandbox
)

func (s Surface) String() string {
	if s == SurfaceSandbox {
		return "sandbox"
	}
	return "api"
}

// Definition describes how to build and pace the virtual users of a domain
type Definition struct {
	Name    string
	Aliases []string
	Surface Surface
	// KeyVar is the environment variable holding the credential, empty when
	// the domain calls the host without one
	KeyVar  string
	Auth    executor.AuthScheme
	WaitMin time.Duration
	WaitMax time.Duration
	New     func(deps Deps) Domain
}

// KeywordAll selects every domain except health and chatflow_sandbox
const KeywordAll = "all"

var definitions = []Definition{
	{
		Name:    "chat",
		Aliases: []string{"chatflow"},
		Surface: SurfaceAPI,
		KeyVar:  "CHATFLOW_API_KEY",
		Auth:    executor.AuthBearer,
		WaitMin: time.Second,
		WaitMax: 3 * time.Second,
		New:     func(deps Deps) Domain { return NewChat(deps) },
	},
	{
		Name:    "workflow",
		Surface: SurfaceAPI,
		KeyVar:  "WORKFLOW_API_KEY",
		Auth:    executor.AuthBearer,
		WaitMin: time.Second,
		WaitMax: 3 * time.Second,
		New:     func(deps Deps) Domain { return NewWorkflow(deps) },
	},
	{
		Name:    "file",
		Surface: SurfaceAPI,
		KeyVar:  "CHATFLOW_API_KEY",
		Auth:    executor.AuthBearer,
		WaitMin: time.Second,
		WaitMax: 3 * time.Second,
		New:     func(deps Deps) Domain { return NewFile(deps) },
	},
	{
		Name:    "knowledge",
		Surface: SurfaceAPI,
		KeyVar:  "KNOWLEDGE_API_KEY",
		Auth:    executor.AuthBearer,
		WaitMin: time.Second,
		WaitMax: 3 * time.Second,
		New:     func(deps Deps) Domain { return NewKnowledge(deps) },
	},
	{
		Name:    "sandbox",
		Surface: SurfaceSandbox,
		KeyVar:  "SANDBOX_API_KEY",
		Auth:    executor.AuthAPIKey,
		WaitMin: time.Second,
		WaitMax: 2 * time.Second,
		New:     func(deps Deps) Domain { return NewSandbox(deps) },
	},
	{
		Name:    "chatflow_sandbox",
		Surface: SurfaceAPI,
		KeyVar:  "CHATFLOW_SANDBOX_API_KEY",
		Auth:    executor.AuthBearer,
		WaitMin: time.Second,
		WaitMax: 3 * time.Second,
		New:     func(deps Deps) Domain { return NewChatflowSandbox(deps) },
	},
	{
		Name:    "health",
		Surface: SurfaceAPI,
		Auth:    executor.AuthNone,
		WaitMin: time.Second,
		WaitMax: 3 * time.Second,
		New:     func(deps Deps) Domain { return NewHealth(deps) },
	},
}

// Definitions returns every known domain
func Definitions() []Definition {
	return slices.Clone(definitions)
}

// Keywords returns the accepted scenario keywords
func Keywords() []string {
	keywords := []string{KeywordAll}
	for _, d := range definitions {
		keywords = append(keywords, d.Name)
		keywords = append(keywords, d.Aliases...)
	}
	return keywords
}

// Resolve maps a scenario keyword to the domains it runs. Unknown keywords
// produce an error with the closest known keyword.
func Resolve(keyword string) ([]Definition, error) {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if keyword == "" || keyword == KeywordAll {
		var all []Definition
		for _, d := range definitions {
			if d.Name != "health" && d.Name != "chatflow_sandbox" {
				all = append(all, d)
			}
		}
		return all, nil
	}

	for _, d := range definitions {
		if d.Name == keyword || slices.Contains(d.Aliases, keyword) {
			return []Definition{d}, nil
		}
	}

	if suggestion := Suggest(keyword); suggestion != "" {
		return nil, fmt.Errorf("unknown scenario %q, did you mean %q?", keyword, suggestion)
	}
	return nil, fmt.Errorf("unknown scenario %q (expected one of: %s)", keyword, strings.Join(Keywords(), ", "))
}

// Suggest returns the known keyword closest to input, or "" when nothing is
// close. A shared prefix of two or more runes wins over a fuzzy match.
func Suggest(input string) string {
	keywords := Keywords()

	best, bestLen := "", 0
	for _, k := range keywords {
		n := commonPrefix(input, k)
		if n > bestLen {
			best, bestLen = k, n
		}
	}
	if bestLen >= 2 {
		return best
	}

	if matches := fuzzy.Find(input, keywords); len(matches) > 0 {
		return matches[0].Str
	}
	return ""
}

func commonPrefix(a, b string) int {
	n := 0
	for n < len(a) && n < len(b) && a[n] == b[n] {
		n++
	}
	return n
}
