package visualization

import (
	"image"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/frheault/scilpy/pkg/volume"
)

// testMap builds a 6x5x4 map whose value is the z index, with a NaN hole.
func testMap(t *testing.T) *volume.DataVolume {
	t.Helper()
	vol, err := volume.New(6, 5, 4, 1, [3]float64{1, 1, 1}, nil)
	if err != nil {
		t.Fatalf("Failed to create volume: %v", err)
	}
	for x := 0; x < 6; x++ {
		for y := 0; y < 5; y++ {
			for z := 0; z < 4; z++ {
				vol.Set(x, y, z, 0, float64(z))
			}
		}
	}
	vol.Set(0, 0, 0, 0, math.NaN())
	return vol
}

// TestNewViewer verifies the intensity range is computed over finite voxels
// only.
func TestNewViewer(t *testing.T) {
	viewer := NewViewer(testMap(t))

	if viewer.lo != 0 || viewer.hi != 3 {
		t.Errorf("Expected intensity range [0, 3], got [%f, %f]", viewer.lo, viewer.hi)
	}
}

// TestExtractSlice verifies slice dimensions and pixel normalization.
func TestExtractSlice(t *testing.T) {
	vol := testMap(t)
	viewer := NewViewer(vol)

	// Each Z slice is uniform, so any pixel carries the normalized z value.
	for z := 0; z < vol.Depth; z++ {
		img, err := viewer.ExtractSlice("z", z)
		if err != nil {
			t.Fatalf("Failed to extract Z slice at position %d: %v", z, err)
		}

		bounds := img.Bounds()
		if bounds.Dx() != vol.Width || bounds.Dy() != vol.Height {
			t.Errorf("Expected Z slice dimensions %dx%d, got %dx%d",
				vol.Width, vol.Height, bounds.Dx(), bounds.Dy())
		}

		gray16Img, ok := img.(*image.Gray16)
		if !ok {
			t.Fatalf("Expected *image.Gray16, got %T", img)
		}
		expected := uint16(float64(z) / 3 * 65535)
		center := gray16Img.Gray16At(vol.Width/2, vol.Height/2).Y
		if center != expected {
			t.Errorf("Z slice %d: expected intensity %d, got %d", z, expected, center)
		}
	}

	// X slice spans depth x height.
	imgX, err := viewer.ExtractSlice("x", vol.Width/2)
	if err != nil {
		t.Fatalf("Failed to extract X slice: %v", err)
	}
	if b := imgX.Bounds(); b.Dx() != vol.Depth || b.Dy() != vol.Height {
		t.Errorf("Expected X slice dimensions %dx%d, got %dx%d", vol.Depth, vol.Height, b.Dx(), b.Dy())
	}

	// Y slice spans width x depth.
	imgY, err := viewer.ExtractSlice("y", vol.Height/2)
	if err != nil {
		t.Fatalf("Failed to extract Y slice: %v", err)
	}
	if b := imgY.Bounds(); b.Dx() != vol.Width || b.Dy() != vol.Depth {
		t.Errorf("Expected Y slice dimensions %dx%d, got %dx%d", vol.Width, vol.Depth, b.Dx(), b.Dy())
	}
}

// TestExtractSliceNaN verifies NaN voxels render black.
func TestExtractSliceNaN(t *testing.T) {
	viewer := NewViewer(testMap(t))

	img, err := viewer.ExtractSlice("z", 0)
	if err != nil {
		t.Fatalf("Failed to extract slice: %v", err)
	}
	gray16Img := img.(*image.Gray16)
	if got := gray16Img.Gray16At(0, 0).Y; got != 0 {
		t.Errorf("NaN voxel should render black, got intensity %d", got)
	}
}

// TestExtractSliceErrors verifies position and axis validation.
func TestExtractSliceErrors(t *testing.T) {
	viewer := NewViewer(testMap(t))

	if _, err := viewer.ExtractSlice("z", -1); err == nil {
		t.Error("Expected an error for a negative position")
	}
	if _, err := viewer.ExtractSlice("z", 100); err == nil {
		t.Error("Expected an error for an out-of-range position")
	}
	if _, err := viewer.ExtractSlice("w", 0); err == nil {
		t.Error("Expected an error for an invalid axis")
	}
}

// TestSaveSliceSequence verifies one PNG per position is written.
func TestSaveSliceSequence(t *testing.T) {
	vol := testMap(t)
	viewer := NewViewer(vol)
	outputDir := filepath.Join(t.TempDir(), "slices")

	if err := viewer.SaveSliceSequence("z", outputDir); err != nil {
		t.Fatalf("Failed to save slice sequence: %v", err)
	}

	entries, err := os.ReadDir(outputDir)
	if err != nil {
		t.Fatalf("Failed to read output directory: %v", err)
	}
	if len(entries) != vol.Depth {
		t.Errorf("Expected %d slice images, got %d", vol.Depth, len(entries))
	}

	if err := viewer.SaveSliceSequence("w", outputDir); err == nil {
		t.Error("Expected an error for an invalid axis")
	}
}
