// pc_media.go - Host image loading
//
// BIOS, VGA BIOS and the boot image are fetched concurrently; the machine
// does not start until all of them are in.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sync/errgroup"
)

// MAX_IMAGE_SIZE bounds any single host image
const MAX_IMAGE_SIZE = 64 << 20

var ErrImageTooLarge = errors.New("media: image too large")

// ImageLoader returns the bytes behind a host path
type ImageLoader interface {
	Load(ctx context.Context, path string) ([]byte, error)
}

// FileImageLoader reads from the local filesystem
type FileImageLoader struct{}

func (FileImageLoader) Load(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if st.Size() > MAX_IMAGE_SIZE {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrImageTooLarge, path, st.Size())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}

// MapImageLoader serves images from memory, keyed by path
type MapImageLoader map[string][]byte

func (m MapImageLoader) Load(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, ok := m[path]
	if !ok {
		return nil, fmt.Errorf("media: %s: %w", path, os.ErrNotExist)
	}
	return data, nil
}

// PCImages are the loaded images; a nil slice was not configured
type PCImages struct {
	BIOS    []byte
	VGABIOS []byte
	Image   []byte
}

// LoadPCImages fetches every configured path concurrently. The first failure
// cancels the rest.
func LoadPCImages(ctx context.Context, loader ImageLoader, cfg PCConfig) (PCImages, error) {
	var images PCImages
	g, ctx := errgroup.WithContext(ctx)

	fetch := func(what, path string, dst *[]byte) {
		if path == "" {
			return
		}
		g.Go(func() error {
			data, err := loader.Load(ctx, path)
			if err != nil {
				return fmt.Errorf("media: %s %s: %w", what, path, err)
			}
			if len(data) == 0 {
				return fmt.Errorf("media: %s %s is empty", what, path)
			}
			*dst = data
			return nil
		})
	}
	fetch("BIOS", cfg.BIOSPath, &images.BIOS)
	fetch("VGA BIOS", cfg.VGABIOSPath, &images.VGABIOS)
	fetch("image", cfg.ImagePath, &images.Image)

	if err := g.Wait(); err != nil {
		return PCImages{}, err
	}
	return images, nil
}
