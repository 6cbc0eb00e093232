package transform

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"

	"github.com/nfnt/resize"
	"github.com/tendant/simple-asset/pkg/simpleasset"
)

const jpegQuality = 85

// imageHandler downscales images and re-encodes them in their source
// format, so the stored bytes always match the extension sniffed from the
// upload. Animated GIFs are stored unchanged.
type imageHandler struct {
	maxDimension int
	maxPixels    int
}

func (h imageHandler) transform(ctx context.Context, src io.ReadSeeker, dst io.Writer) (*simpleasset.FormatMetadata, error) {
	origSize, err := sourceSize(src)
	if err != nil {
		return nil, err
	}

	cfg, format, err := image.DecodeConfig(src)
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Width*cfg.Height > h.maxPixels {
		return nil, fmt.Errorf("image %dx%d exceeds %d pixels", cfg.Width, cfg.Height, h.maxPixels)
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	img, frames, err := decodeFirstFrame(src, format)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	original := &simpleasset.FormatMetadata{Format: format, Width: cfg.Width, Height: cfg.Height}
	if frames > 1 {
		original.Frames = frames
		if err := copyOriginal(src, dst); err != nil {
			return nil, err
		}
		return original, nil
	}

	resized := false
	bounds := img.Bounds()
	if bounds.Dx() > h.maxDimension || bounds.Dy() > h.maxDimension {
		img = resize.Thumbnail(uint(h.maxDimension), uint(h.maxDimension), img, resize.Lanczos3)
		bounds = img.Bounds()
		resized = true
	}

	var buf bytes.Buffer
	if err := encodeImage(&buf, format, img); err != nil {
		return nil, err
	}

	if !resized && int64(buf.Len()) >= origSize {
		if err := copyOriginal(src, dst); err != nil {
			return nil, err
		}
		return original, nil
	}

	if _, err := buf.WriteTo(dst); err != nil {
		return nil, err
	}
	return &simpleasset.FormatMetadata{Format: format, Width: bounds.Dx(), Height: bounds.Dy()}, nil
}

func (h imageHandler) inspect(ctx context.Context, src io.ReadSeeker) (*simpleasset.FormatMetadata, error) {
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	cfg, format, err := image.DecodeConfig(src)
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	meta := &simpleasset.FormatMetadata{Format: format, Width: cfg.Width, Height: cfg.Height}
	if format == "gif" {
		if _, err := src.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		g, err := gif.DecodeAll(src)
		if err != nil {
			return nil, fmt.Errorf("decode gif: %w", err)
		}
		if len(g.Image) > 1 {
			meta.Frames = len(g.Image)
		}
	}
	return meta, nil
}

// decodeFirstFrame decodes src and reports how many frames it holds.
func decodeFirstFrame(src io.Reader, format string) (image.Image, int, error) {
	if format == "gif" {
		g, err := gif.DecodeAll(src)
		if err != nil {
			return nil, 0, fmt.Errorf("decode gif: %w", err)
		}
		if len(g.Image) == 0 {
			return nil, 0, fmt.Errorf("decode gif: no frames")
		}
		return g.Image[0], len(g.Image), nil
	}
	img, _, err := image.Decode(src)
	if err != nil {
		return nil, 0, fmt.Errorf("decode %s: %w", format, err)
	}
	return img, 1, nil
}

func encodeImage(w io.Writer, format string, img image.Image) error {
	var err error
	switch format {
	case "jpeg":
		err = jpeg.Encode(w, img, &jpeg.Options{Quality: jpegQuality})
	case "png":
		enc := png.Encoder{CompressionLevel: png.BestCompression}
		err = enc.Encode(w, img)
	case "gif":
		err = gif.Encode(w, img, nil)
	default:
		return fmt.Errorf("unsupported image format %q", format)
	}
	if err != nil {
		return fmt.Errorf("encode %s: %w", format, err)
	}
	return nil
}
