// Package asset stores uploaded images for image objects and resolves them
// for server-side rendering.
package asset

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gogpu/gg"
	"github.com/gogpu/gg/cache"

	"github.com/printdesk/editor/internal/typeid"
)

// URLPrefix is the path assets are served under.
const URLPrefix = "/assets/"

const defaultDecoded = 32

// Library is a directory of PNG assets with an LRU of decoded images.
type Library struct {
	dir     string
	decoded *cache.ShardedCache[string, *gg.ImageBuf]
	logger  *slog.Logger
}

// NewLibrary opens dir, creating it if needed. capacity bounds the number
// of decoded images kept in memory.
func NewLibrary(dir string, capacity int, logger *slog.Logger) (*Library, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create asset dir: %w", err)
	}
	if capacity <= 0 {
		capacity = defaultDecoded
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Library{
		dir:     dir,
		decoded: cache.NewSharded[string, *gg.ImageBuf](capacity, cache.StringHasher),
		logger:  logger,
	}, nil
}

// Dir returns the storage directory.
func (l *Library) Dir() string { return l.dir }

// Image resolves an asset URL such as /assets/asset_xxx.png. URLs outside
// the library resolve to nothing.
func (l *Library) Image(url string) (*gg.ImageBuf, bool) {
	name, ok := strings.CutPrefix(url, URLPrefix)
	if !ok || !isAssetFile(name) {
		return nil, false
	}
	if img, ok := l.decoded.Get(name); ok {
		return img, true
	}
	img, err := gg.LoadImage(filepath.Join(l.dir, name))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			l.logger.Warn("decode asset failed", "asset", name, "error", err)
		}
		return nil, false
	}
	l.decoded.Set(name, img)
	return img, true
}

// Delete removes an asset file and its decoded copy.
func (l *Library) Delete(assetID string) error {
	name := assetID + ".png"
	if !isAssetFile(name) {
		return fmt.Errorf("invalid asset id %q", assetID)
	}
	l.decoded.Delete(name)
	if err := os.Remove(filepath.Join(l.dir, name)); err != nil {
		return fmt.Errorf("asset not found: %s: %w", assetID, err)
	}
	return nil
}

func isAssetFile(name string) bool {
	id, ok := strings.CutSuffix(name, ".png")
	return ok && typeid.Validate(id, typeid.PrefixAsset) == nil
}
