// internal/request/loader.go
package request

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const maxManifestSize = 4 * 1024 * 1024 // 4MB

// Load reads and parses a work-request manifest. Parsing errors fail fast;
// semantic problems are left to Validate so every violation is reported
// together.
func Load(path string) (*Request, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat manifest: %w", err)
	}
	if info.Size() > maxManifestSize {
		return nil, fmt.Errorf("manifest too large: %d bytes (max %d)", info.Size(), maxManifestSize)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return Parse(content)
}

// Parse parses manifest bytes.
func Parse(content []byte) (*Request, error) {
	var req Request
	if err := yaml.Unmarshal(content, &req); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &req, nil
}
