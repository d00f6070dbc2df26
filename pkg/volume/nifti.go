package volume

import (
	"encoding/binary"
	"fmt"
	"os"

	"gonum.org/v1/gonum/mat"
)

// nifti1Header is the fixed 348-byte NIfTI-1 header. Only the fields needed
// to locate and scale the voxel data are interpreted; the rest are carried
// verbatim so the struct stays binary-compatible with the format.
type nifti1Header struct {
	SizeOfHdr    int32
	DataTypeName [10]byte
	DbName       [18]byte
	Extents      int32
	SessionError int16
	Regular      byte
	DimInfo      byte

	Dim           [8]int16
	IntentP1      float32
	IntentP2      float32
	IntentP3      float32
	IntentCode    int16
	Datatype      int16
	BitPix        int16
	SliceStart    int16
	PixDim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     byte
	XYZTUnits     byte
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	TOffset       float32
	Glmax         int32
	Glmin         int32

	Descrip [80]byte
	AuxFile [24]byte

	QFormCode int16
	SFormCode int16

	QuaternB float32
	QuaternC float32
	QuaternD float32
	QOffsetX float32
	QOffsetY float32
	QOffsetZ float32

	SRowX [4]float32
	SRowY [4]float32
	SRowZ [4]float32

	IntentName [16]byte
	Magic      [4]byte
}

// NIfTI-1 datatype codes for the supported voxel types.
const (
	niftiTypeUint8   = 2
	niftiTypeInt16   = 4
	niftiTypeInt32   = 8
	niftiTypeFloat32 = 16
	niftiTypeFloat64 = 64
)

const nifti1HeaderSize = 348

// LoadNIfTI reads an uncompressed single-file NIfTI-1 image (.nii) into a
// DataVolume. 3D images yield one channel; 4D images yield one channel per
// trailing-dimension entry. Voxel values are scaled by scl_slope/scl_inter
// when the header requests it.
func LoadNIfTI(path string) (*DataVolume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	var hdr nifti1Header
	if err := binary.Read(f, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("failed to read nifti header: %w", err)
	}
	if hdr.SizeOfHdr != nifti1HeaderSize {
		return nil, fmt.Errorf("unsupported nifti header size %d (byte-swapped or nifti-2 file?)", hdr.SizeOfHdr)
	}
	magic := cString(hdr.Magic[:])
	if magic != "n+1" && magic != "ni1" {
		return nil, fmt.Errorf("not a nifti-1 file: bad magic %q", magic)
	}

	rank := int(hdr.Dim[0])
	if rank < 3 || rank > 4 {
		return nil, fmt.Errorf("only 3D and 4D images are supported, got rank %d", rank)
	}
	width, height, depth := int(hdr.Dim[1]), int(hdr.Dim[2]), int(hdr.Dim[3])
	channels := 1
	if rank == 4 {
		channels = int(hdr.Dim[4])
	}

	sizes := [3]float64{
		float64(hdr.PixDim[1]),
		float64(hdr.PixDim[2]),
		float64(hdr.PixDim[3]),
	}
	for i := range sizes {
		if sizes[i] <= 0 {
			sizes[i] = 1
		}
	}

	vol, err := New(width, height, depth, channels, sizes, niftiAffine(hdr))
	if err != nil {
		return nil, err
	}

	if _, err := f.Seek(int64(hdr.VoxOffset), 0); err != nil {
		return nil, fmt.Errorf("failed to seek to voxel data: %w", err)
	}

	n := width * height * depth * channels
	raw := make([]float64, n)
	switch hdr.Datatype {
	case niftiTypeUint8:
		buf := make([]uint8, n)
		if err := binary.Read(f, binary.LittleEndian, buf); err != nil {
			return nil, fmt.Errorf("failed to read voxel data: %w", err)
		}
		for i, b := range buf {
			raw[i] = float64(b)
		}
	case niftiTypeInt16:
		buf := make([]int16, n)
		if err := binary.Read(f, binary.LittleEndian, buf); err != nil {
			return nil, fmt.Errorf("failed to read voxel data: %w", err)
		}
		for i, b := range buf {
			raw[i] = float64(b)
		}
	case niftiTypeInt32:
		buf := make([]int32, n)
		if err := binary.Read(f, binary.LittleEndian, buf); err != nil {
			return nil, fmt.Errorf("failed to read voxel data: %w", err)
		}
		for i, b := range buf {
			raw[i] = float64(b)
		}
	case niftiTypeFloat32:
		buf := make([]float32, n)
		if err := binary.Read(f, binary.LittleEndian, buf); err != nil {
			return nil, fmt.Errorf("failed to read voxel data: %w", err)
		}
		for i, b := range buf {
			raw[i] = float64(b)
		}
	case niftiTypeFloat64:
		if err := binary.Read(f, binary.LittleEndian, raw); err != nil {
			return nil, fmt.Errorf("failed to read voxel data: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported nifti datatype %d", hdr.Datatype)
	}

	if hdr.SclSlope != 0 && (hdr.SclSlope != 1 || hdr.SclInter != 0) {
		slope, inter := float64(hdr.SclSlope), float64(hdr.SclInter)
		for i := range raw {
			raw[i] = raw[i]*slope + inter
		}
	}

	// NIfTI stores x fastest, then y, z, with the trailing dimension slowest;
	// the in-memory buffer interleaves channels per voxel.
	i := 0
	for c := 0; c < channels; c++ {
		for z := 0; z < depth; z++ {
			for y := 0; y < height; y++ {
				for x := 0; x < width; x++ {
					vol.Set(x, y, z, c, raw[i])
					i++
				}
			}
		}
	}
	return vol, nil
}

// SaveNIfTI writes the volume as an uncompressed float32 NIfTI-1 image.
func (v *DataVolume) SaveNIfTI(path string) error {
	var hdr nifti1Header
	hdr.SizeOfHdr = nifti1HeaderSize
	if v.Is4D() {
		hdr.Dim[0] = 4
		hdr.Dim[4] = int16(v.Channels)
	} else {
		hdr.Dim[0] = 3
		hdr.Dim[4] = 1
	}
	hdr.Dim[1] = int16(v.Width)
	hdr.Dim[2] = int16(v.Height)
	hdr.Dim[3] = int16(v.Depth)
	for i := 4; i < 8; i++ {
		if hdr.Dim[i] == 0 {
			hdr.Dim[i] = 1
		}
	}
	hdr.Datatype = niftiTypeFloat32
	hdr.BitPix = 32
	hdr.PixDim[0] = 1
	hdr.PixDim[1] = float32(v.VoxelSizes[0])
	hdr.PixDim[2] = float32(v.VoxelSizes[1])
	hdr.PixDim[3] = float32(v.VoxelSizes[2])
	for i := 4; i < 8; i++ {
		hdr.PixDim[i] = 1
	}
	hdr.VoxOffset = 352
	hdr.SclSlope = 1
	hdr.SFormCode = 1
	for j := 0; j < 4; j++ {
		hdr.SRowX[j] = float32(v.affine.At(0, j))
		hdr.SRowY[j] = float32(v.affine.At(1, j))
		hdr.SRowZ[j] = float32(v.affine.At(2, j))
	}
	copy(hdr.Magic[:], "n+1")

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create image file: %w", err)
	}
	defer f.Close()

	if err := binary.Write(f, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("failed to write nifti header: %w", err)
	}
	// Pad the header extension field up to vox_offset.
	if _, err := f.Write(make([]byte, 4)); err != nil {
		return fmt.Errorf("failed to write nifti extension pad: %w", err)
	}

	buf := make([]float32, len(v.Data))
	i := 0
	for c := 0; c < v.Channels; c++ {
		for z := 0; z < v.Depth; z++ {
			for y := 0; y < v.Height; y++ {
				for x := 0; x < v.Width; x++ {
					buf[i] = float32(v.At(x, y, z, c))
					i++
				}
			}
		}
	}
	if err := binary.Write(f, binary.LittleEndian, buf); err != nil {
		return fmt.Errorf("failed to write voxel data: %w", err)
	}
	return nil
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func niftiAffine(hdr nifti1Header) *mat.Dense {
	a := mat.NewDense(4, 4, nil)
	if hdr.SFormCode > 0 {
		for j := 0; j < 4; j++ {
			a.Set(0, j, float64(hdr.SRowX[j]))
			a.Set(1, j, float64(hdr.SRowY[j]))
			a.Set(2, j, float64(hdr.SRowZ[j]))
		}
		a.Set(3, 3, 1)
		return a
	}
	// No sform: scale by voxel sizes.
	for i := 0; i < 3; i++ {
		size := float64(hdr.PixDim[i+1])
		if size <= 0 {
			size = 1
		}
		a.Set(i, i, size)
	}
	a.Set(3, 3, 1)
	return a
}
