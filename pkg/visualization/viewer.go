// Package visualization renders slice images of projected attribute maps for
// quality control: axial, coronal and sagittal sequences with NaN-aware
// intensity normalization, saved as lossless PNG files.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"

	"github.com/frheault/scilpy/pkg/volume"
)

// Viewer extracts and saves 2D slice images from a 3D attribute map.
// Multi-channel volumes are rendered from their first channel.
type Viewer struct {
	vol *volume.DataVolume

	// lo and hi are the intensity bounds used for normalization, computed
	// once over all finite voxels.
	lo, hi float64
}

// NewViewer creates a viewer over the given map. NaN voxels (the engine's
// "no data" sentinel) are excluded from the intensity range and render black.
func NewViewer(vol *volume.DataVolume) *Viewer {
	lo, hi := math.Inf(1), math.Inf(-1)
	for x := 0; x < vol.Width; x++ {
		for y := 0; y < vol.Height; y++ {
			for z := 0; z < vol.Depth; z++ {
				v := vol.At(x, y, z, 0)
				if math.IsNaN(v) {
					continue
				}
				lo = math.Min(lo, v)
				hi = math.Max(hi, v)
			}
		}
	}
	if lo > hi {
		// All-NaN map: render everything black.
		lo, hi = 0, 1
	}
	return &Viewer{vol: vol, lo: lo, hi: hi}
}

// gray maps a voxel value to a 16-bit intensity within the volume's range.
func (v *Viewer) gray(value float64) color.Gray16 {
	if math.IsNaN(value) {
		return color.Gray16{Y: 0}
	}
	span := v.hi - v.lo
	if span == 0 {
		if value != 0 {
			return color.Gray16{Y: 65535}
		}
		return color.Gray16{Y: 0}
	}
	norm := (value - v.lo) / span
	return color.Gray16{Y: uint16(math.Max(0, math.Min(65535, norm*65535)))}
}

// ExtractSlice renders one 2D slice of the map along the given axis:
// "x" for sagittal (YZ plane), "y" for coronal (XZ plane), "z" for axial
// (XY plane).
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	vol := v.vol

	switch axis {
	case "x", "X":
		if position >= vol.Width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, vol.Width)
		}
		img := image.NewGray16(image.Rect(0, 0, vol.Depth, vol.Height))
		for y := 0; y < vol.Height; y++ {
			for z := 0; z < vol.Depth; z++ {
				img.SetGray16(z, y, v.gray(vol.At(position, y, z, 0)))
			}
		}
		return img, nil

	case "y", "Y":
		if position >= vol.Height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, vol.Height)
		}
		img := image.NewGray16(image.Rect(0, 0, vol.Width, vol.Depth))
		for z := 0; z < vol.Depth; z++ {
			for x := 0; x < vol.Width; x++ {
				img.SetGray16(x, z, v.gray(vol.At(x, position, z, 0)))
			}
		}
		return img, nil

	case "z", "Z":
		if position >= vol.Depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, vol.Depth)
		}
		img := image.NewGray16(image.Rect(0, 0, vol.Width, vol.Height))
		for y := 0; y < vol.Height; y++ {
			for x := 0; x < vol.Width; x++ {
				img.SetGray16(x, y, v.gray(vol.At(x, y, position, 0)))
			}
		}
		return img, nil
	}
	return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
}

// SaveSlice saves one slice image as a PNG file.
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return png.Encode(file, img)
}

// SaveSliceSequence extracts and saves every slice along the given axis into
// outputDir, one PNG per position.
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.vol.Width
	case "y", "Y":
		maxPos = v.vol.Height
	case "z", "Z":
		maxPos = v.vol.Depth
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.png", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}
