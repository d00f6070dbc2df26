package tractogram

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// trkHeader is the 1000-byte TrackVis .trk file header (version 2).
// Field layout follows the published format description; the struct is read
// and written field by field with encoding/binary in little-endian order.
type trkHeader struct {
	IDString         [6]byte
	Dim              [3]int16
	VoxelSize        [3]float32
	Origin           [3]float32
	NScalars         int16
	ScalarNames      [10][20]byte
	NProperties      int16
	PropertyNames    [10][20]byte
	VoxToRas         [4][4]float32
	Reserved         [444]byte
	VoxelOrder       [4]byte
	Pad2             [4]byte
	ImageOrientation [6]float32
	Pad1             [2]byte
	InvertX          byte
	InvertY          byte
	InvertZ          byte
	SwapXY           byte
	SwapYZ           byte
	SwapZX           byte
	NCount           int32
	Version          int32
	HdrSize          int32
}

const trkHeaderSize = 1000

// LoadTRK reads a TrackVis tractogram file. Per-point scalars become DPP keys
// (one width-1 entry per scalar name) and per-streamline properties become
// DPS keys. The returned tractogram is in voxmm space with corner origin, the
// native TRK convention.
func LoadTRK(path string) (*Tractogram, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open tractogram: %w", err)
	}
	defer f.Close()

	var hdr trkHeader
	if err := binary.Read(f, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("failed to read trk header: %w", err)
	}
	if string(hdr.IDString[:5]) != "TRACK" {
		return nil, fmt.Errorf("not a trk file: bad magic %q", hdr.IDString[:5])
	}
	if hdr.HdrSize != trkHeaderSize {
		return nil, fmt.Errorf("unsupported trk header size %d (byte-swapped file?)", hdr.HdrSize)
	}
	if hdr.NScalars < 0 || hdr.NScalars > 10 || hdr.NProperties < 0 || hdr.NProperties > 10 {
		return nil, fmt.Errorf("invalid trk counts: %d scalars, %d properties", hdr.NScalars, hdr.NProperties)
	}

	scalarKeys := attributeNames(hdr.ScalarNames, int(hdr.NScalars), "scalar")
	propertyKeys := attributeNames(hdr.PropertyNames, int(hdr.NProperties), "property")

	var streamlines []Streamline
	dpp := make(map[string][][][]float64, len(scalarKeys))
	dps := make(map[string][][]float64, len(propertyKeys))

	for {
		var npts int32
		err := binary.Read(f, binary.LittleEndian, &npts)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read streamline %d: %w", len(streamlines), err)
		}
		if npts <= 0 {
			return nil, fmt.Errorf("streamline %d has invalid point count %d", len(streamlines), npts)
		}

		buf := make([]float32, int(npts)*(3+int(hdr.NScalars)))
		if err := binary.Read(f, binary.LittleEndian, buf); err != nil {
			return nil, fmt.Errorf("failed to read streamline %d points: %w", len(streamlines), err)
		}

		s := make(Streamline, npts)
		scalars := make([][][]float64, hdr.NScalars)
		for k := range scalars {
			scalars[k] = make([][]float64, npts)
		}
		stride := 3 + int(hdr.NScalars)
		for p := 0; p < int(npts); p++ {
			off := p * stride
			s[p] = [3]float64{float64(buf[off]), float64(buf[off+1]), float64(buf[off+2])}
			for k := 0; k < int(hdr.NScalars); k++ {
				scalars[k][p] = []float64{float64(buf[off+3+k])}
			}
		}
		streamlines = append(streamlines, s)
		for k, key := range scalarKeys {
			dpp[key] = append(dpp[key], scalars[k])
		}

		if hdr.NProperties > 0 {
			props := make([]float32, hdr.NProperties)
			if err := binary.Read(f, binary.LittleEndian, props); err != nil {
				return nil, fmt.Errorf("failed to read streamline %d properties: %w", len(streamlines)-1, err)
			}
			for k, key := range propertyKeys {
				dps[key] = append(dps[key], []float64{float64(props[k])})
			}
		}
	}

	if hdr.NCount > 0 && int(hdr.NCount) != len(streamlines) {
		return nil, fmt.Errorf("trk header announces %d streamlines, file holds %d", hdr.NCount, len(streamlines))
	}

	affine := trkAffine(hdr)
	dims := [3]int{int(hdr.Dim[0]), int(hdr.Dim[1]), int(hdr.Dim[2])}
	sizes := [3]float64{float64(hdr.VoxelSize[0]), float64(hdr.VoxelSize[1]), float64(hdr.VoxelSize[2])}

	t, err := New(streamlines, affine, dims, sizes, SpaceVoxmm, OriginCorner)
	if err != nil {
		return nil, err
	}
	t.DataPerPoint = dpp
	t.DataPerStreamline = dps
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("inconsistent trk attributes: %w", err)
	}
	return t, nil
}

// SaveTRK writes the tractogram as a TrackVis file. Only width-1 DPP and DPS
// entries can be stored (the format carries float32 scalars); wider entries
// are rejected. Coordinates are written in voxmm space, corner origin, which
// permanently converts the tractogram to that convention.
func (t *Tractogram) SaveTRK(path string) error {
	dppKeys := sortedKeys(t.DataPerPoint)
	dpsKeys := sortedKeys(t.DataPerStreamline)
	if len(dppKeys) > 10 || len(dpsKeys) > 10 {
		return fmt.Errorf("trk format stores at most 10 scalars and 10 properties, have %d and %d",
			len(dppKeys), len(dpsKeys))
	}
	if err := t.Validate(); err != nil {
		return err
	}

	if err := t.ToVoxmm(); err != nil {
		return err
	}
	t.ToCorner()

	var hdr trkHeader
	copy(hdr.IDString[:], "TRACK")
	for i := 0; i < 3; i++ {
		hdr.Dim[i] = int16(t.dimensions[i])
		hdr.VoxelSize[i] = float32(t.voxelSizes[i])
	}
	hdr.NScalars = int16(len(dppKeys))
	for i, key := range dppKeys {
		copy(hdr.ScalarNames[i][:], key)
	}
	hdr.NProperties = int16(len(dpsKeys))
	for i, key := range dpsKeys {
		copy(hdr.PropertyNames[i][:], key)
	}
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			hdr.VoxToRas[i][j] = float32(t.affine.At(i, j))
		}
	}
	copy(hdr.VoxelOrder[:], "RAS")
	hdr.NCount = int32(len(t.Streamlines))
	hdr.Version = 2
	hdr.HdrSize = trkHeaderSize

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create tractogram file: %w", err)
	}
	defer f.Close()

	if err := binary.Write(f, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("failed to write trk header: %w", err)
	}

	stride := 3 + len(dppKeys)
	for i, s := range t.Streamlines {
		if err := binary.Write(f, binary.LittleEndian, int32(len(s))); err != nil {
			return fmt.Errorf("failed to write streamline %d: %w", i, err)
		}
		buf := make([]float32, len(s)*stride)
		for p, point := range s {
			off := p * stride
			buf[off] = float32(point[0])
			buf[off+1] = float32(point[1])
			buf[off+2] = float32(point[2])
			for k, key := range dppKeys {
				value := t.DataPerPoint[key][i][p]
				if len(value) != 1 {
					return fmt.Errorf("dpp key %q has width %d, trk stores single scalars", key, len(value))
				}
				buf[off+3+k] = float32(value[0])
			}
		}
		if err := binary.Write(f, binary.LittleEndian, buf); err != nil {
			return fmt.Errorf("failed to write streamline %d points: %w", i, err)
		}
		if len(dpsKeys) > 0 {
			props := make([]float32, len(dpsKeys))
			for k, key := range dpsKeys {
				value := t.DataPerStreamline[key][i]
				if len(value) != 1 {
					return fmt.Errorf("dps key %q has width %d, trk stores single scalars", key, len(value))
				}
				props[k] = float32(value[0])
			}
			if err := binary.Write(f, binary.LittleEndian, props); err != nil {
				return fmt.Errorf("failed to write streamline %d properties: %w", i, err)
			}
		}
	}
	return nil
}

// attributeNames decodes the NUL-padded 20-byte name slots, substituting a
// positional fallback for unnamed slots.
func attributeNames(slots [10][20]byte, n int, fallback string) []string {
	names := make([]string, n)
	for i := 0; i < n; i++ {
		name := cString(slots[i][:])
		if name == "" {
			name = fmt.Sprintf("%s_%d", fallback, i)
		}
		names[i] = name
	}
	return names
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func trkAffine(hdr trkHeader) *mat.Dense {
	a := mat.NewDense(4, 4, nil)
	zero := true
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			v := float64(hdr.VoxToRas[i][j])
			a.Set(i, j, v)
			if v != 0 {
				zero = false
			}
		}
	}
	if zero || hdr.VoxToRas[3][3] == 0 {
		// Pre-v2 files carry no affine; fall back to voxel-size scaling.
		a.Zero()
		for i := 0; i < 3; i++ {
			size := float64(hdr.VoxelSize[i])
			if size == 0 {
				size = 1
			}
			a.Set(i, i, size)
		}
		a.Set(3, 3, 1)
	}
	return a
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
