package repository

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/google/go-github/v66/github"

	"github.com/xiaot623/lazarus/internal/domain"
)

// Snapshot is the part of a legacy repository handed to the model.
type Snapshot struct {
	Ref           Ref
	DefaultBranch string
	Description   string
	Languages     []string
	Tree          []string
	Files         domain.Artifacts
	// Truncated is set when files were skipped to stay within budget.
	Truncated bool
}

var sourceExtensions = map[string]bool{
	".py": true, ".js": true, ".jsx": true, ".ts": true, ".tsx": true,
	".php": true, ".rb": true, ".java": true, ".go": true, ".cs": true,
	".html": true, ".htm": true, ".css": true, ".vue": true, ".sql": true,
	".json": true, ".yml": true, ".yaml": true, ".toml": true, ".xml": true,
	".md": true, ".txt": true, ".sh": true, ".cfg": true, ".ini": true,
}

var skippedDirs = []string{"node_modules/", "vendor/", "dist/", "build/", ".git/", "__pycache__/"}

func isSource(p string) bool {
	for _, dir := range skippedDirs {
		if strings.HasPrefix(p, dir) || strings.Contains(p, "/"+dir) {
			return false
		}
	}
	base := path.Base(p)
	switch base {
	case "Dockerfile", "Makefile", "Procfile":
		return true
	}
	return sourceExtensions[strings.ToLower(path.Ext(base))]
}

// Fetch reads repository metadata, the file tree and a bounded set of
// source files. Every failure wraps domain.ErrSourceUnreachable.
func (c *Client) Fetch(ctx context.Context, repoURL string) (*Snapshot, error) {
	ref, err := ParseURL(repoURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSourceUnreachable, err)
	}

	repo, _, err := c.gh.Repositories.Get(ctx, ref.Owner, ref.Name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrSourceUnreachable, ref, err)
	}
	snap := &Snapshot{
		Ref:           ref,
		DefaultBranch: repo.GetDefaultBranch(),
		Description:   repo.GetDescription(),
	}
	if snap.DefaultBranch == "" {
		snap.DefaultBranch = c.baseBranch()
	}

	tree, _, err := c.gh.Git.GetTree(ctx, ref.Owner, ref.Name, snap.DefaultBranch, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: tree: %v", domain.ErrSourceUnreachable, ref, err)
	}
	snap.Truncated = tree.GetTruncated()

	var candidates []*github.TreeEntry
	for _, entry := range tree.Entries {
		if entry.GetType() != "blob" {
			continue
		}
		snap.Tree = append(snap.Tree, entry.GetPath())
		if isSource(entry.GetPath()) && entry.GetSize() <= c.cfg.MaxFileBytes {
			candidates = append(candidates, entry)
		}
	}

	total := 0
	for _, entry := range candidates {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if len(snap.Files) >= c.cfg.MaxFiles || total+entry.GetSize() > c.cfg.MaxBytes {
			snap.Truncated = true
			break
		}
		file, _, _, err := c.gh.Repositories.GetContents(ctx, ref.Owner, ref.Name, entry.GetPath(), &github.RepositoryContentGetOptions{Ref: snap.DefaultBranch})
		if err != nil || file == nil {
			c.logger.Debug().Err(err).Str("path", entry.GetPath()).Msg("skipping unreadable file")
			continue
		}
		content, err := file.GetContent()
		if err != nil {
			continue
		}
		total += len(content)
		snap.Files = append(snap.Files, domain.Artifact{Filename: entry.GetPath(), Content: content})
	}

	langs, _, err := c.gh.Repositories.ListLanguages(ctx, ref.Owner, ref.Name)
	if err == nil {
		snap.Languages = rankLanguages(langs)
	}

	c.logger.Info().
		Str("repo", ref.String()).
		Int("tree", len(snap.Tree)).
		Int("files", len(snap.Files)).
		Bool("truncated", snap.Truncated).
		Msg("fetched repository snapshot")
	return snap, nil
}

func rankLanguages(langs map[string]int) []string {
	names := make([]string, 0, len(langs))
	for name := range langs {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if langs[names[i]] != langs[names[j]] {
			return langs[names[i]] > langs[names[j]]
		}
		return names[i] < names[j]
	})
	return names
}

// Summary renders the snapshot as prompt text.
func (s *Snapshot) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Repository: %s (default branch %s)\n", s.Ref, s.DefaultBranch)
	if s.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", s.Description)
	}
	if len(s.Languages) > 0 {
		fmt.Fprintf(&b, "Languages: %s\n", strings.Join(s.Languages, ", "))
	}
	fmt.Fprintf(&b, "\nFile tree (%d files):\n", len(s.Tree))
	for _, p := range s.Tree {
		b.WriteString("  ")
		b.WriteString(p)
		b.WriteByte('\n')
	}
	for _, f := range s.Files {
		fmt.Fprintf(&b, "\n--- %s ---\n%s\n", f.Filename, f.Content)
	}
	if s.Truncated {
		b.WriteString("\n(snapshot truncated)\n")
	}
	return b.String()
}
