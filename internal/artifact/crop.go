// Package artifact stores the face crops taken when a new visitor is created.
package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	"go.uber.org/zap"

	"github.com/NicoCuadrado/Barrio-seguro/internal/facematch"
	"github.com/NicoCuadrado/Barrio-seguro/internal/logging"
)

var (
	// ErrEmptyRegion means the detection region has no overlap with the frame.
	ErrEmptyRegion = errors.New("crop region is empty")
	// ErrNoFrame means no image was supplied with the detection.
	ErrNoFrame = errors.New("no frame image")
)

const (
	cropPrefix    = "visita_"
	cropExt       = ".jpg"
	cropQuality   = 85
	defaultMaxDim = 512
)

// CropStore writes visitor crops as JPEG files named visita_<token>.jpg.
type CropStore struct {
	dir    string
	maxDim int
	logger *zap.Logger
}

// Option configures a CropStore.
type Option func(*CropStore)

// WithMaxDim bounds the longest side of a stored crop. Larger crops are downscaled.
func WithMaxDim(n int) Option {
	return func(c *CropStore) { c.maxDim = n }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *CropStore) { c.logger = l }
}

// NewCropStore creates the directory if needed.
func NewCropStore(dir string, opts ...Option) (*CropStore, error) {
	if dir == "" {
		return nil, errors.New("crop directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create crop directory: %w", err)
	}
	c := &CropStore{dir: dir, maxDim: defaultMaxDim}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrNop(c.logger)
	return c, nil
}

// Dir returns the crop directory.
func (c *CropStore) Dir() string {
	return c.dir
}

// Path returns where the crop for token is stored.
func (c *CropStore) Path(token string) string {
	return filepath.Join(c.dir, cropPrefix+token+cropExt)
}

// PersistCrop cuts region out of frame (JPEG, PNG or BMP) and stores it under token.
func (c *CropStore) PersistCrop(ctx context.Context, token string, frame []byte, region facematch.Region) (string, error) {
	if len(frame) == 0 {
		return "", ErrNoFrame
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	img, _, err := image.Decode(bytes.NewReader(frame))
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}

	data, err := encodeCrop(img, region, c.maxDim)
	if err != nil {
		return "", err
	}

	path := c.Path(token)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write crop: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to store crop: %w", err)
	}

	c.logger.Debug("crop stored", zap.String("token", token), zap.String("path", path))
	return path, nil
}

// encodeCrop clamps region to the image, copies it and encodes it as JPEG,
// downscaling when the longest side exceeds maxDim.
func encodeCrop(img image.Image, region facematch.Region, maxDim int) ([]byte, error) {
	bounds := img.Bounds()
	r := region.Clamp(bounds)
	if r.Empty() {
		return nil, fmt.Errorf("%w: %+v outside %v", ErrEmptyRegion, region, bounds)
	}

	src := r.Rect()
	width, height := src.Dx(), src.Dy()

	var dst *image.RGBA
	if maxDim > 0 && (width > maxDim || height > maxDim) {
		var newWidth, newHeight int
		if width > height {
			newWidth = maxDim
			newHeight = max(1, int(float64(height)*float64(maxDim)/float64(width)))
		} else {
			newHeight = maxDim
			newWidth = max(1, int(float64(width)*float64(maxDim)/float64(height)))
		}
		dst = image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, src, draw.Src, nil)
	} else {
		dst = image.NewRGBA(image.Rect(0, 0, width, height))
		draw.Draw(dst, dst.Bounds(), img, src.Min, draw.Src)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: cropQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode crop: %w", err)
	}
	return buf.Bytes(), nil
}

// DeleteCrop removes the crop for token. A missing file is not an error.
func (c *CropStore) DeleteCrop(ctx context.Context, token string) error {
	err := os.Remove(c.Path(token))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete crop: %w", err)
	}
	return nil
}

// PurgeOlderThan removes crops last modified more than age before now and
// returns how many were removed. Files that do not look like crops are left alone.
func (c *CropStore) PurgeOlderThan(now time.Time, age time.Duration) (int, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read crop directory: %w", err)
	}

	cutoff := now.Add(-age)
	removed := 0
	var errs []error
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, cropPrefix) || !strings.HasSuffix(name, cropExt) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}

	if removed > 0 {
		c.logger.Info("old crops purged", zap.Int("removed", removed), zap.Duration("age", age))
	}
	return removed, errors.Join(errs...)
}
