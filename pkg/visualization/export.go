package visualization

import (
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"golang.org/x/image/draw"
	"golang.org/x/image/tiff"

	"dicomreslice/internal/models"
)

// Format is an output image encoding.
type Format string

const (
	PNG  Format = "png"
	JPEG Format = "jpeg"
	TIFF Format = "tiff"
)

// ParseFormat accepts png, jpeg (or jpg) and tiff (or tif).
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "png":
		return PNG, nil
	case "jpeg", "jpg":
		return JPEG, nil
	case "tiff", "tif":
		return TIFF, nil
	}
	return "", fmt.Errorf("unknown image format %q (must be png, jpeg or tiff)", s)
}

// Ext returns the file extension for f, without the dot.
func (f Format) Ext() string {
	switch f {
	case JPEG:
		return "jpg"
	case "":
		return "png"
	}
	return string(f)
}

// Exporter renders decoded images through their window and writes them out.
type Exporter struct {
	Format  Format
	Quality int

	// SquarePixels rescales anisotropic images so one output pixel covers the
	// same distance in both directions.
	SquarePixels bool

	Logger *log.Logger
}

// NewExporter returns a PNG exporter with square pixels.
func NewExporter() *Exporter {
	return &Exporter{Format: PNG, Quality: 90, SquarePixels: true, Logger: log.Default()}
}

// Render applies the rescale and window of img and returns an 8 bit image.
func (e *Exporter) Render(img *models.DecodedImage) *image.Gray {
	out := image.NewGray(image.Rect(0, 0, img.Columns, img.Rows))
	width := img.WindowWidth
	if width <= 0 {
		width = 1
	}
	lower := img.WindowCenter - width/2
	n := img.Rows * img.Columns
	if img.Pixels == nil || img.Pixels.Len() < n {
		return out
	}
	for i := 0; i < n; i++ {
		v := img.Pixels.Value(i)*img.RescaleSlope + img.RescaleIntercept
		g := math.Round((v - lower) / width * 255)
		out.Pix[i] = uint8(math.Max(0, math.Min(255, g)))
	}
	return out
}

// squared returns src resampled to square pixels, or src when the spacing is
// already isotropic or unknown.
func squared(src *image.Gray, rowSpacing, colSpacing float64) image.Image {
	if rowSpacing <= 0 || colSpacing <= 0 || rowSpacing == colSpacing {
		return src
	}
	unit := math.Min(rowSpacing, colSpacing)
	b := src.Bounds()
	w := int(math.Round(float64(b.Dx()) * colSpacing / unit))
	h := int(math.Round(float64(b.Dy()) * rowSpacing / unit))
	dst := image.NewGray(image.Rect(0, 0, max(w, 1), max(h, 1)))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

// Image renders img and applies square pixel scaling when enabled.
func (e *Exporter) Image(img *models.DecodedImage) image.Image {
	g := e.Render(img)
	if !e.SquarePixels {
		return g
	}
	return squared(g, img.RowSpacing, img.ColumnSpacing)
}

// Encode writes img to w in the exporter's format.
func (e *Exporter) Encode(w io.Writer, img *models.DecodedImage) error {
	out := e.Image(img)
	switch e.Format {
	case PNG, "":
		return png.Encode(w, out)
	case JPEG:
		q := e.Quality
		if q <= 0 || q > 100 {
			q = jpeg.DefaultQuality
		}
		return jpeg.Encode(w, out, &jpeg.Options{Quality: q})
	case TIFF:
		return tiff.Encode(w, out, &tiff.Options{Compression: tiff.Deflate})
	}
	return fmt.Errorf("unknown image format %q", e.Format)
}

// Save writes img to filename.
func (e *Exporter) Save(img *models.DecodedImage, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := e.Encode(file, img); err != nil {
		file.Close()
		return fmt.Errorf("encoding %s: %w", filename, err)
	}
	return file.Close()
}

// SaveSequence writes images to outputDir as <prefix>_000.<ext>,
// <prefix>_001.<ext> and so on, and returns the file names.
func (e *Exporter) SaveSequence(images []*models.DecodedImage, outputDir, prefix string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}
	logger := e.Logger
	if logger == nil {
		logger = log.Default()
	}
	files := make([]string, 0, len(images))
	for i, img := range images {
		filename := filepath.Join(outputDir, fmt.Sprintf("%s_%03d.%s", prefix, i, e.Format.Ext()))
		if err := e.Save(img, filename); err != nil {
			return files, err
		}
		files = append(files, filename)
	}
	logger.Info("saved slices", "dir", outputDir, "count", len(files), "format", e.Format)
	return files, nil
}
