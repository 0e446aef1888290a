// Package fileutil resolves artifact references against the artifact
// directory.
package fileutil

import (
	"net/url"
	"path/filepath"
	"strings"
)

var remoteSchemes = map[string]struct{}{
	"http":  {},
	"https": {},
	"s3":    {},
	"gs":    {},
}

// IsRemote reports whether ref points at object storage or a URL rather
// than the local filesystem.
func IsRemote(ref string) bool {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil || u.Scheme == "" {
		return false
	}
	_, ok := remoteSchemes[strings.ToLower(u.Scheme)]
	return ok
}

// ResolveLocal turns a local reference into a cleaned path. Relative paths
// and file:// references without a leading slash resolve under dir.
func ResolveLocal(dir, ref string) string {
	path := strings.TrimPrefix(strings.TrimSpace(ref), "file://")
	if !filepath.IsAbs(path) && dir != "" {
		path = filepath.Join(dir, path)
	}
	return filepath.Clean(path)
}

// Within reports whether path lies strictly inside dir.
func Within(dir, path string) bool {
	if dir == "" {
		return false
	}
	rel, err := filepath.Rel(filepath.Clean(dir), filepath.Clean(path))
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return !filepath.IsAbs(rel)
}

// ContainedArtifact resolves ref and returns it only when it is a local
// file inside dir. Remote references and anything that escapes dir are
// rejected.
func ContainedArtifact(dir, ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" || dir == "" {
		return "", false
	}
	if u, err := url.Parse(ref); err == nil && u.Scheme != "" && u.Scheme != "file" {
		return "", false
	}
	path := ResolveLocal(dir, ref)
	if !Within(dir, path) {
		return "", false
	}
	return path, true
}
