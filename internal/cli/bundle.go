package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xiaot623/lazarus/internal/domain"
)

// Bundle is the on-disk form of a run result, consumed by deploy.
type Bundle struct {
	RepositoryURL string              `json:"repo_url"`
	Status        domain.ResultStatus `json:"status"`
	Artifacts     domain.Artifacts    `json:"artifacts"`
	PreviewURL    string              `json:"preview_url,omitempty"`
	Logs          string              `json:"logs,omitempty"`
}

func newBundle(repoURL string, res domain.ResultEvent) Bundle {
	return Bundle{
		RepositoryURL: repoURL,
		Status:        res.Status,
		Artifacts:     res.Artifacts,
		PreviewURL:    res.PreviewURL,
		Logs:          res.Logs,
	}
}

func writeBundle(path string, b Bundle) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal bundle: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write bundle: %w", err)
	}
	return nil
}

func readBundle(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle: %w", err)
	}
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("invalid bundle %s: %w", path, err)
	}
	return &b, nil
}
