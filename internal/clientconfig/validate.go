// ABOUTME: Validation of generated client configuration sets
// ABOUTME: Errors block export; warnings flag defaults and missing auth

package clientconfig

import (
	"fmt"
	"net/url"
	"sort"
)

// Result is the outcome of validating a descriptor set. Errors make the
// set unusable; warnings note assumptions a client will fall back on.
type Result struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// Validate checks a descriptor set for problems. An empty set and
// missing or unparseable URLs are errors; a missing type or missing auth
// is a warning.
func Validate(set Set) Result {
	res := Result{Errors: []string{}, Warnings: []string{}}

	if len(set) == 0 {
		res.Errors = append(res.Errors, "no servers configured")
		return res
	}

	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		d := set[name]
		if d.URL == "" {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: missing url", name))
		} else if u, err := url.Parse(d.URL); err != nil || u.Scheme == "" || u.Host == "" {
			res.Errors = append(res.Errors, fmt.Sprintf("%s: invalid url %q", name, d.URL))
		}
		if d.Type == "" {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: no type set, clients will assume sse", name))
		}
		if d.Auth == "" && d.Headers["Authorization"] == "" {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: no auth configured", name))
		}
	}

	res.Valid = len(res.Errors) == 0
	return res
}
