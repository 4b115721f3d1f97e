package secrets

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

// loadFallbackFile reads KEY=VALUE lines. Keys are secret references, optionally with a
// version, or bare secret names. Blank lines and # comments are skipped. A missing file
// yields an empty set.
func loadFallbackFile(path string) (map[string]string, error) {
	values := map[string]string{}
	path = strings.TrimSpace(path)
	if path == "" {
		return values, nil
	}

	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return values, nil
		}
		return values, fmt.Errorf("secrets: open fallback file %s: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return values, fmt.Errorf("secrets: %s:%d: expected KEY=VALUE", path, lineNo)
		}
		if !strings.Contains(key, "://") {
			key = "secret://" + key
		}
		ref, err := ParseReference(key)
		if err != nil {
			return values, fmt.Errorf("secrets: %s:%d: %w", path, lineNo, err)
		}
		values[fallbackKey(ref.URI(), ref.Version)] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		return values, fmt.Errorf("secrets: read fallback file %s: %w", path, err)
	}
	return values, nil
}

func fallbackKey(uri, version string) string {
	if version == "" || version == latestVersion {
		return uri
	}
	return uri + "#" + version
}
