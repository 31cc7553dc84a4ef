package store

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/ShayCichocki/automaker/pkg/models"
)

// relocateImages moves every referenced image that is not already inside the
// feature's images directory into it, rewriting the paths on the record.
// Collisions get a -N suffix before the extension. Missing source files are
// tolerated with a warning so a record never fails to persist over a stale
// attachment reference.
func relocateImages(projectPath string, f *models.Feature) {
	if len(f.ImagePaths) == 0 {
		return
	}

	imagesDir := ImagesDir(projectPath, f.ID)

	for i := range f.ImagePaths {
		src := f.ImagePaths[i].Path
		if src == "" {
			continue
		}
		if !filepath.IsAbs(src) {
			src = filepath.Join(projectPath, src)
		}
		if insideDir(imagesDir, src) {
			f.ImagePaths[i].Path = src
			continue
		}

		if _, err := os.Stat(src); err != nil {
			log.Printf("[store] image %s for feature %s not found, leaving reference as-is", src, f.ID)
			continue
		}

		if err := os.MkdirAll(imagesDir, 0755); err != nil {
			log.Printf("[store] create images dir for feature %s: %v", f.ID, err)
			continue
		}

		dst := collisionFreePath(filepath.Join(imagesDir, filepath.Base(src)))
		if err := os.Rename(src, dst); err != nil {
			log.Printf("[store] relocate image %s for feature %s: %v", src, f.ID, err)
			continue
		}
		f.ImagePaths[i].Path = dst
	}
}

// insideDir reports whether path is lexically inside dir.
func insideDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// collisionFreePath returns path unchanged when free, otherwise appends -N
// before the extension until an unused name is found.
func collisionFreePath(path string) string {
	if _, err := os.Stat(path); err != nil {
		return path
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	for n := 1; ; n++ {
		candidate := fmt.Sprintf("%s-%d%s", base, n, ext)
		if _, err := os.Stat(candidate); err != nil {
			return candidate
		}
	}
}
