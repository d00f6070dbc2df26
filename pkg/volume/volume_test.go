package volume

import (
	"math"
	"os"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/frheault/scilpy/pkg/tractogram"
)

// gradientVolume builds a 4x4x4 single-channel volume whose voxel value is
// its x index.
func gradientVolume(t *testing.T) *DataVolume {
	t.Helper()
	vol, err := New(4, 4, 4, 1, [3]float64{1, 1, 1}, nil)
	if err != nil {
		t.Fatalf("Failed to create volume: %v", err)
	}
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			for z := 0; z < 4; z++ {
				vol.Set(x, y, z, 0, float64(x))
			}
		}
	}
	return vol
}

// TestNewValidation verifies constructor checks.
func TestNewValidation(t *testing.T) {
	if _, err := New(0, 4, 4, 1, [3]float64{1, 1, 1}, nil); err == nil {
		t.Error("Expected an error for a zero dimension")
	}
	if _, err := New(4, 4, 4, 0, [3]float64{1, 1, 1}, nil); err == nil {
		t.Error("Expected an error for zero channels")
	}
	if _, err := New(4, 4, 4, 1, [3]float64{1, 0, 1}, nil); err == nil {
		t.Error("Expected an error for a zero voxel size")
	}
	if _, err := New(4, 4, 4, 1, [3]float64{1, 1, 1}, mat.NewDense(2, 2, nil)); err == nil {
		t.Error("Expected an error for a non-4x4 affine")
	}
}

// TestValueAtNearest verifies nearest-voxel sampling in voxel space.
func TestValueAtNearest(t *testing.T) {
	vol := gradientVolume(t)
	vol.Interp = Nearest

	// Center origin: integer coordinates are voxel centers.
	got, err := vol.ValueAt(2.2, 1, 1, tractogram.SpaceVox, tractogram.OriginCenter)
	if err != nil {
		t.Fatalf("Sampling failed: %v", err)
	}
	if len(got) != 1 || got[0] != 2 {
		t.Errorf("Nearest at x=2.2: expected [2], got %v", got)
	}

	// Corner origin: coordinate 2.2 lies inside voxel 2.
	got, err = vol.ValueAt(2.2, 1.5, 1.5, tractogram.SpaceVox, tractogram.OriginCorner)
	if err != nil {
		t.Fatalf("Sampling failed: %v", err)
	}
	if got[0] != 2 {
		t.Errorf("Nearest at corner-origin x=2.2: expected 2, got %f", got[0])
	}

	// Coordinates beyond the grid clamp to the border voxel.
	got, err = vol.ValueAt(10, 1, 1, tractogram.SpaceVox, tractogram.OriginCenter)
	if err != nil {
		t.Fatalf("Sampling failed: %v", err)
	}
	if got[0] != 3 {
		t.Errorf("Out-of-grid sample should clamp to border, got %f", got[0])
	}
}

// TestValueAtTrilinear verifies interpolation between voxels.
func TestValueAtTrilinear(t *testing.T) {
	vol := gradientVolume(t)
	vol.Interp = Trilinear

	got, err := vol.ValueAt(1.5, 1, 1, tractogram.SpaceVox, tractogram.OriginCenter)
	if err != nil {
		t.Fatalf("Sampling failed: %v", err)
	}
	if math.Abs(got[0]-1.5) > 1e-12 {
		t.Errorf("Trilinear halfway between x=1 and x=2: expected 1.5, got %f", got[0])
	}

	// Exactly on a voxel center, interpolation is exact.
	got, err = vol.ValueAt(2, 2, 2, tractogram.SpaceVox, tractogram.OriginCenter)
	if err != nil {
		t.Fatalf("Sampling failed: %v", err)
	}
	if got[0] != 2 {
		t.Errorf("Trilinear at a voxel center: expected 2, got %f", got[0])
	}
}

// TestValueAtSpaces verifies sampling under voxmm and rasmm conventions.
func TestValueAtSpaces(t *testing.T) {
	affine := mat.NewDense(4, 4, []float64{
		2, 0, 0, 10,
		0, 2, 0, 20,
		0, 0, 2, 30,
		0, 0, 0, 1,
	})
	vol, err := New(4, 4, 4, 1, [3]float64{2, 2, 2}, affine)
	if err != nil {
		t.Fatalf("Failed to create volume: %v", err)
	}
	for x := 0; x < 4; x++ {
		for y := 0; y < 4; y++ {
			for z := 0; z < 4; z++ {
				vol.Set(x, y, z, 0, float64(x))
			}
		}
	}

	// voxmm (4,2,2) with 2mm voxels is voxel (2,1,1).
	got, err := vol.ValueAt(4, 2, 2, tractogram.SpaceVoxmm, tractogram.OriginCenter)
	if err != nil {
		t.Fatalf("Sampling failed: %v", err)
	}
	if got[0] != 2 {
		t.Errorf("Voxmm sample: expected 2, got %f", got[0])
	}

	// rasmm (14,24,34) maps back through the affine to voxel (2,2,2).
	got, err = vol.ValueAt(14, 24, 34, tractogram.SpaceRasmm, tractogram.OriginCenter)
	if err != nil {
		t.Fatalf("Sampling failed: %v", err)
	}
	if got[0] != 2 {
		t.Errorf("Rasmm sample: expected 2, got %f", got[0])
	}
}

// TestValueAtChannels verifies 4D volumes return one value per channel.
func TestValueAtChannels(t *testing.T) {
	vol, err := New(2, 2, 2, 3, [3]float64{1, 1, 1}, nil)
	if err != nil {
		t.Fatalf("Failed to create volume: %v", err)
	}
	if !vol.Is4D() {
		t.Error("A 3-channel volume should report as 4D")
	}
	for c := 0; c < 3; c++ {
		vol.Set(1, 1, 1, c, float64(c+1))
	}

	vol.Interp = Nearest
	got, err := vol.ValueAt(1, 1, 1, tractogram.SpaceVox, tractogram.OriginCenter)
	if err != nil {
		t.Fatalf("Sampling failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 channels, got %d", len(got))
	}
	for c, v := range got {
		if v != float64(c+1) {
			t.Errorf("Channel %d: expected %d, got %f", c, c+1, v)
		}
	}
}

// TestParseInterpolation verifies the name mapping.
func TestParseInterpolation(t *testing.T) {
	if interp, err := ParseInterpolation("nearest"); err != nil || interp != Nearest {
		t.Errorf("Expected Nearest, got %v (%v)", interp, err)
	}
	if interp, err := ParseInterpolation("trilinear"); err != nil || interp != Trilinear {
		t.Errorf("Expected Trilinear, got %v (%v)", interp, err)
	}
	if _, err := ParseInterpolation("cubic"); err == nil {
		t.Error("Expected an error for an unknown interpolation name")
	}
}

// TestNIfTIRoundTrip verifies voxel data, dimensions and the affine survive a
// save/load cycle.
func TestNIfTIRoundTrip(t *testing.T) {
	affine := mat.NewDense(4, 4, []float64{
		2, 0, 0, -5,
		0, 2, 0, -6,
		0, 0, 2, -7,
		0, 0, 0, 1,
	})
	vol, err := New(3, 4, 5, 2, [3]float64{2, 2, 2}, affine)
	if err != nil {
		t.Fatalf("Failed to create volume: %v", err)
	}
	for x := 0; x < 3; x++ {
		for y := 0; y < 4; y++ {
			for z := 0; z < 5; z++ {
				for c := 0; c < 2; c++ {
					vol.Set(x, y, z, c, float64(x+10*y+100*z+1000*c))
				}
			}
		}
	}

	path := t.TempDir() + "/test.nii"
	if err := vol.SaveNIfTI(path); err != nil {
		t.Fatalf("Failed to save image: %v", err)
	}

	loaded, err := LoadNIfTI(path)
	if err != nil {
		t.Fatalf("Failed to load image: %v", err)
	}

	if loaded.Width != 3 || loaded.Height != 4 || loaded.Depth != 5 || loaded.Channels != 2 {
		t.Fatalf("Dimensions not preserved: %dx%dx%dx%d",
			loaded.Width, loaded.Height, loaded.Depth, loaded.Channels)
	}
	if loaded.VoxelSizes != [3]float64{2, 2, 2} {
		t.Errorf("Voxel sizes not preserved: %v", loaded.VoxelSizes)
	}
	for i := range vol.Data {
		if math.Abs(loaded.Data[i]-vol.Data[i]) > 1e-3 {
			t.Fatalf("Voxel %d: expected %f, got %f", i, vol.Data[i], loaded.Data[i])
		}
	}

	got := loaded.Affine()
	if math.Abs(got.At(0, 0)-2) > 1e-6 || math.Abs(got.At(1, 3)+6) > 1e-6 {
		t.Errorf("Affine not preserved: %v", mat.Formatted(got))
	}
}

// TestLoadNIfTIBadMagic verifies non-NIfTI files are rejected.
func TestLoadNIfTIBadMagic(t *testing.T) {
	path := t.TempDir() + "/bad.nii"
	if err := os.WriteFile(path, make([]byte, nifti1HeaderSize), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
	if _, err := LoadNIfTI(path); err == nil {
		t.Error("Expected an error for a file without the nifti magic")
	}
}
