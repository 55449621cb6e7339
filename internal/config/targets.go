package config

import (
	"fmt"
	"strings"
)

// Overrides are run-level values from the command line. They fill repo
// fields that the config leaves empty; they never replace configured values.
type Overrides struct {
	Repos     []string
	SinceRef  string
	UntilRef  string
	SinceDate string
	Outfile   string
	Format    string
}

// ParseRepo splits "owner/name".
func ParseRepo(s string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("invalid repository %q (want owner/name)", s)
	}
	return owner, name, nil
}

// Targets returns the repositories to collect with their effective
// boundaries. Command-line repos replace the configured list. Every target
// needs an until ref or a since date.
func (c *Config) Targets(o Overrides) ([]Repo, error) {
	repos := c.Repos
	if len(o.Repos) > 0 {
		repos = nil
		for _, s := range o.Repos {
			owner, name, err := ParseRepo(s)
			if err != nil {
				return nil, &ConfigError{Field: "--repo", Msg: err.Error()}
			}
			repos = append(repos, Repo{Owner: owner, Name: name})
		}
	}
	if len(repos) == 0 {
		return nil, &ConfigError{Field: "repos", Msg: "no repositories configured"}
	}

	sinceRef := firstNonEmpty(o.SinceRef, c.Release.SinceRef)
	untilRef := firstNonEmpty(o.UntilRef, c.Release.UntilRef)

	out := make([]Repo, len(repos))
	for i, r := range repos {
		if r.SinceRef == "" {
			r.SinceRef = sinceRef
		}
		if r.UntilRef == "" {
			r.UntilRef = untilRef
		}
		if r.SinceDate == "" {
			r.SinceDate = o.SinceDate
		}
		if r.UntilRef == "" && r.SinceDate == "" {
			return nil, &ConfigError{Field: r.FullName(), Msg: "an until ref or a since date is required"}
		}
		out[i] = r
	}
	return out, nil
}

// Outfile returns the effective output path.
func (c *Config) Outfile(o Overrides) string {
	return firstNonEmpty(o.Outfile, c.Render.Outfile)
}

// Format returns the effective output format, "md" or "html".
func (c *Config) Format(o Overrides) string {
	f := strings.ToLower(firstNonEmpty(o.Format, c.Render.Format))
	if f == "markdown" {
		return "md"
	}
	return f
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
