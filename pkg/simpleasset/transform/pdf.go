package transform

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/tendant/simple-asset/pkg/simpleasset"
)

func init() {
	// pdfcpu would otherwise create a config directory under $HOME.
	api.DisableConfigDir()
}

type pdfHandler struct{}

func (pdfHandler) conf() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

func (p pdfHandler) transform(ctx context.Context, src io.ReadSeeker, dst io.Writer) (*simpleasset.FormatMetadata, error) {
	origSize, err := sourceSize(src)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := api.Optimize(src, &buf, p.conf()); err != nil {
		return nil, fmt.Errorf("optimize: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pages, err := api.PageCount(bytes.NewReader(buf.Bytes()), p.conf())
	if err != nil {
		return nil, fmt.Errorf("page count: %w", err)
	}
	meta := &simpleasset.FormatMetadata{Format: "pdf", PageCount: &pages}

	if int64(buf.Len()) >= origSize {
		if err := copyOriginal(src, dst); err != nil {
			return nil, err
		}
		return meta, nil
	}
	if _, err := buf.WriteTo(dst); err != nil {
		return nil, err
	}
	return meta, nil
}

func (p pdfHandler) inspect(ctx context.Context, src io.ReadSeeker) (*simpleasset.FormatMetadata, error) {
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	pages, err := api.PageCount(src, p.conf())
	if err != nil {
		return nil, fmt.Errorf("page count: %w", err)
	}
	return &simpleasset.FormatMetadata{Format: "pdf", PageCount: &pages}, nil
}
