package testsupport

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"stride/internal/config"
	"stride/internal/fileutil"
)

// mp4Header is an ISO base media "ftyp" box, enough for sniffing tools to
// treat the file as video.
var mp4Header = []byte{0, 0, 0, 0x18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm', 0, 0, 2, 0, 'i', 's', 'o', 'm', 'm', 'p', '4', '1'}

// WriteArtifact creates a placeholder video of size bytes at ref, resolved the
// same way the pipeline resolves local artifact references, and returns the
// absolute path.
func WriteArtifact(t testing.TB, cfg *config.Config, ref string, size int) string {
	t.Helper()

	path := fileutil.ResolveLocal(cfg.Paths.ArtifactDir, ref)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	data := mp4Header
	if size > len(data) {
		data = append(bytes.Clone(mp4Header), bytes.Repeat([]byte{0}, size-len(mp4Header))...)
	} else if size > 0 {
		data = mp4Header[:size]
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
