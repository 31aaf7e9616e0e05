// Package artifacts renders briefs into shareable document artifacts.
// Production uses S3; local development and tests write to the data dir.
package artifacts

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/casedesk/casedesk/pkg/models"
)

// Renderer turns a brief into a stored document and returns its URL.
type Renderer interface {
	Render(ctx context.Context, brief *models.Brief) (url string, err error)
}

// ArtifactKey returns the object key for a brief document.
func ArtifactKey(brief *models.Brief) string {
	return fmt.Sprintf("briefs/brief_%s_%s.pdf", brief.ClientID, brief.Audience)
}

// renderDocument produces the document body for a brief. Content keys are
// emitted in sorted order so regeneration is byte-stable.
func renderDocument(brief *models.Brief) ([]byte, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s brief — %s\n\n", brief.Audience, brief.ClientID)
	fmt.Fprintf(&b, "Template: %s\n\n", brief.Template)

	keys := make([]string, 0, len(brief.Content))
	for k := range brief.Content {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v, err := json.MarshalIndent(brief.Content[k], "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode brief field %s: %w", k, err)
		}
		fmt.Fprintf(&b, "## %s\n%s\n\n", k, v)
	}
	return []byte(b.String()), nil
}
