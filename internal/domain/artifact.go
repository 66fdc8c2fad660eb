package domain

import "strings"

// Artifact is one generated source file.
type Artifact struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

// Artifacts is an ordered set of artifacts produced by one run.
type Artifacts []Artifact

// Dedupe returns the artifacts with unique filenames, keeping the first
// occurrence of each and preserving order. Empty filenames are dropped.
func (a Artifacts) Dedupe() (Artifacts, []string) {
	seen := make(map[string]bool, len(a))
	out := make(Artifacts, 0, len(a))
	var dropped []string
	for _, art := range a {
		name := strings.TrimSpace(art.Filename)
		if name == "" {
			dropped = append(dropped, art.Filename)
			continue
		}
		if seen[name] {
			dropped = append(dropped, name)
			continue
		}
		seen[name] = true
		art.Filename = name
		out = append(out, art)
	}
	return out, dropped
}

// Find returns the first artifact whose filename ends with suffix.
func (a Artifacts) Find(suffix string) (Artifact, bool) {
	for _, art := range a {
		if strings.HasSuffix(art.Filename, suffix) {
			return art, true
		}
	}
	return Artifact{}, false
}

// Filenames lists the artifact filenames in order.
func (a Artifacts) Filenames() []string {
	names := make([]string, len(a))
	for i, art := range a {
		names[i] = art.Filename
	}
	return names
}
