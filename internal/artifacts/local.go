package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/casedesk/casedesk/pkg/models"
	"github.com/rs/zerolog/log"
)

// LocalStore renders brief documents to the local filesystem. Used when no
// artifact bucket is configured.
type LocalStore struct {
	dir string
}

// NewLocalStore creates a LocalStore rooted at dir.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, "briefs"), 0755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	return &LocalStore{dir: dir}, nil
}

func (s *LocalStore) Render(_ context.Context, brief *models.Brief) (string, error) {
	doc, err := renderDocument(brief)
	if err != nil {
		return "", err
	}

	path := filepath.Join(s.dir, filepath.FromSlash(ArtifactKey(brief)))
	if err := os.WriteFile(path, doc, 0644); err != nil {
		return "", fmt.Errorf("write brief artifact: %w", err)
	}

	url := "file://" + path
	log.Info().Str("client", brief.ClientID).Str("audience", string(brief.Audience)).Str("path", path).Msg("Brief artifact written")
	return url, nil
}
