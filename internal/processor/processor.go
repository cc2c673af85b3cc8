package processor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"strconv"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"

	"github.com/aliskhannn/upload-backgrounder/internal/model"
)

// fileStorage defines the interface for file storage.
// It allows saving and loading files from a backend (e.g., local FS, S3, MinIO).
type fileStorage interface {
	Save(ctx context.Context, subdir, filename string, src io.Reader) (string, error)
	Load(ctx context.Context, path string) (io.ReadCloser, error)
}

// Processor generates image versions such as resized copies, thumbnails
// and watermarked copies.
type Processor struct {
	fileStorage fileStorage
	fontPath    string
}

// Option configures a Processor.
type Option func(*Processor)

// WithFontPath sets the TrueType font used for watermarks.
// Without it the built-in bitmap face is used.
func WithFontPath(path string) Option {
	return func(p *Processor) {
		p.fontPath = path
	}
}

// New creates a new Processor with the given file storage backend.
func New(fs fileStorage, opts ...Option) *Processor {
	p := &Processor{fileStorage: fs}
	for _, o := range opts {
		o(p)
	}

	return p
}

// Process renders version v of the image at src and saves it into dstDir
// as "<version>_<filename>". It returns the stored path.
func (p *Processor) Process(ctx context.Context, src, dstDir, filename string, v model.Version) (string, error) {
	// Load the original image from storage.
	srcReader, err := p.fileStorage.Load(ctx, src)
	if err != nil {
		return "", fmt.Errorf("failed to load original image: %w", err)
	}
	defer srcReader.Close()

	// Decode into an image object.
	img, err := imaging.Decode(srcReader)
	if err != nil {
		return "", fmt.Errorf("failed to decode image: %w", err)
	}

	var out image.Image
	switch v.Action {
	case "resize":
		out, err = resize(img, v.Params)
	case "thumbnail":
		out, err = thumbnail(img, v.Params)
	case "watermark":
		out, err = p.watermark(img, v.Params)
	default:
		return "", fmt.Errorf("unknown version action: %s", v.Action)
	}
	if err != nil {
		return "", fmt.Errorf("version %s: %w", v.Name, err)
	}

	// Encode processed image into buffer for storage.
	buf := bytes.NewBuffer(nil)
	if err := imaging.Encode(buf, out, imaging.JPEG); err != nil {
		return "", fmt.Errorf("failed to encode version %s: %w", v.Name, err)
	}

	dst, err := p.fileStorage.Save(ctx, dstDir, model.VersionFilename(v.Name, filename), buf)
	if err != nil {
		return "", fmt.Errorf("failed to save version %s: %w", v.Name, err)
	}

	return dst, nil
}

// Validate checks a version definition without touching any image,
// so misconfigured versions fail at start-up.
func Validate(v model.Version) error {
	if v.Name == "" {
		return fmt.Errorf("version name is required")
	}

	switch v.Action {
	case "resize", "thumbnail":
		if _, _, err := dimensions(v.Params); err != nil {
			return fmt.Errorf("version %s: %w", v.Name, err)
		}
		return nil
	case "watermark":
		return nil
	default:
		return fmt.Errorf("version %s: unknown action %q", v.Name, v.Action)
	}
}

// resize resizes the image to the specified width and height.
// A zero dimension preserves the aspect ratio.
func resize(img image.Image, params map[string]string) (image.Image, error) {
	width, height, err := dimensions(params)
	if err != nil {
		return nil, err
	}

	return imaging.Resize(img, width, height, imaging.Lanczos), nil
}

// thumbnail generates a cropped thumbnail of the image.
func thumbnail(img image.Image, params map[string]string) (image.Image, error) {
	width, height, err := dimensions(params)
	if err != nil {
		return nil, err
	}
	if width == 0 || height == 0 {
		return nil, fmt.Errorf("thumbnail needs both width and height")
	}

	return imaging.Thumbnail(img, width, height, imaging.Lanczos), nil
}

// watermark adds a watermark text to the image.
// The watermark is placed in the bottom-right corner.
func (p *Processor) watermark(img image.Image, params map[string]string) (image.Image, error) {
	text := params["text"]
	if text == "" {
		text = "Watermark"
	}

	// Draw watermark text on top of the image.
	dc := gg.NewContextForImage(img)
	dc.SetColor(color.White)

	if p.fontPath != "" {
		fontSize := float64(dc.Width()) * 0.05 // 5% of the image width
		if err := dc.LoadFontFace(p.fontPath, fontSize); err != nil {
			return nil, fmt.Errorf("failed to load font: %w", err)
		}
	}

	margin := 10.0
	x := float64(dc.Width()) - margin
	y := float64(dc.Height()) - margin

	dc.DrawStringAnchored(text, x, y, 1, 0) // bottom-right corner
	dc.Fill()

	return dc.Image(), nil
}

func dimensions(params map[string]string) (int, int, error) {
	width, err := strconv.Atoi(params["width"])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid width: %v", err)
	}
	height, err := strconv.Atoi(params["height"])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid height: %v", err)
	}
	if width < 0 || height < 0 || (width == 0 && height == 0) {
		return 0, 0, fmt.Errorf("invalid dimensions %dx%d", width, height)
	}

	return width, height, nil
}
