package preprocess

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned by DirProvider when no directory holds the file.
var ErrNotFound = errors.New("file not found")

// DirProvider resolves import paths against dirs in order. Absolute paths
// and paths escaping a directory are refused.
func DirProvider(dirs ...string) FileProvider {
	return func(path string) (string, error) {
		rel := filepath.Clean(filepath.FromSlash(strings.ReplaceAll(path, `\`, "/")))
		if filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("%q: path outside the include directories", path)
		}
		for _, dir := range dirs {
			b, err := os.ReadFile(filepath.Join(dir, rel))
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return "", err
			}
			return string(b), nil
		}
		return "", fmt.Errorf("%q: %w", path, ErrNotFound)
	}
}
