package retention

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/casedesk/casedesk/pkg/models"

	"github.com/rs/zerolog/log"
)

// LocalFileArchiver writes expired cases as JSONL files to a local
// directory. This is the default archive backend for local development.
//
// Directory structure:
//
//	{basePath}/cases/2026-02-20T15-04-05Z.jsonl[.gz]
type LocalFileArchiver struct {
	basePath string
	compress bool
}

// NewLocalFileArchiver creates a file-based archiver. If basePath is empty,
// it defaults to "~/.casedesk/archive".
func NewLocalFileArchiver(basePath string, compress bool) *LocalFileArchiver {
	if basePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			basePath = "/tmp/casedesk/archive"
		} else {
			basePath = filepath.Join(home, ".casedesk", "archive")
		}
	}
	return &LocalFileArchiver{basePath: basePath, compress: compress}
}

func (a *LocalFileArchiver) Kind() string { return "local" }

func (a *LocalFileArchiver) ArchiveCases(_ context.Context, cases []models.Case) (string, error) {
	dir := filepath.Join(a.basePath, "cases")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	filename := time.Now().UTC().Format("2006-01-02T15-04-05Z") + ".jsonl"
	if a.compress {
		filename += ".gz"
	}
	fpath := filepath.Join(dir, filename)

	f, err := os.Create(fpath)
	if err != nil {
		return "", fmt.Errorf("create archive file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	if a.compress {
		gw := gzip.NewWriter(f)
		defer gw.Close()
		enc = json.NewEncoder(gw)
	}

	for _, c := range cases {
		if err := enc.Encode(c); err != nil {
			return "", fmt.Errorf("encode case %s: %w", c.CaseID, err)
		}
	}

	log.Debug().
		Str("path", fpath).
		Int("count", len(cases)).
		Msg("Archived cases to local file")

	return fpath, nil
}

func (a *LocalFileArchiver) HealthCheck(_ context.Context) error {
	// Verify we can write to the base path
	if err := os.MkdirAll(a.basePath, 0o755); err != nil {
		return fmt.Errorf("archive path not writable: %w", err)
	}
	testFile := filepath.Join(a.basePath, ".healthcheck")
	if err := os.WriteFile(testFile, []byte("ok"), 0o644); err != nil {
		return fmt.Errorf("archive path not writable: %w", err)
	}
	os.Remove(testFile)
	return nil
}
