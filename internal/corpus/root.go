package corpus

import (
	"errors"
	"io/fs"
	"path/filepath"
	"strings"

	amanerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

// ResolveWithin resolves path against root and returns the absolute result.
// Relative paths are taken relative to root. The result, after following
// symlinks that exist, must be root itself or lie beneath it; anything else
// fails with ErrCodeInvalidPath. An empty root rejects every path.
func ResolveWithin(root, path string) (string, error) {
	if strings.TrimSpace(root) == "" {
		return "", amanerrors.New(amanerrors.ErrCodeInvalidPath,
			"remote indexing is disabled: no corpus root is configured", nil).
			WithSuggestion("Set corpus.root or start the server with --watch <dir>")
	}
	if strings.TrimSpace(path) == "" {
		return "", amanerrors.New(amanerrors.ErrCodeInvalidPath, "path is required", nil)
	}

	absRoot, err := canonical(root)
	if err != nil {
		return "", amanerrors.Wrap(amanerrors.ErrCodeInvalidPath, err)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(absRoot, path)
	}
	absPath, err := canonical(path)
	if err != nil {
		return "", amanerrors.Wrap(amanerrors.ErrCodeInvalidPath, err)
	}

	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", amanerrors.New(amanerrors.ErrCodeInvalidPath,
			"path is outside the corpus root", nil).
			WithSuggestion("Submit a path under " + absRoot)
	}
	return absPath, nil
}

// canonical returns the absolute, symlink-free form of p. A missing path
// resolves its nearest existing ancestor so the loader can still report it
// as not found.
func canonical(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			dir := filepath.Dir(abs)
			if dir == abs {
				return abs, nil
			}
			parent, err := canonical(dir)
			if err != nil {
				return "", err
			}
			return filepath.Join(parent, filepath.Base(abs)), nil
		}
		return "", err
	}
	return resolved, nil
}
