package guide

import (
	"encoding/base64"
	"fmt"
	"os"
)

// FileScreenshotSource loads screenshots from local file paths, the way the
// desktop client hands them over.
type FileScreenshotSource struct{}

// Load reads the file at ref and returns it base64 encoded.
func (FileScreenshotSource) Load(ref string) (string, error) {
	data, err := os.ReadFile(ref)
	if err != nil {
		return "", fmt.Errorf("failed to read screenshot %s: %w", ref, err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
