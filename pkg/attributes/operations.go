// Package attributes implements the streamline attribute engine: conversions
// between per-streamline (DPS) and per-point (DPP) scalar data, projections
// between volumetric maps and streamline point sets, and reduction operators
// over point data.
package attributes

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Errors reported by the engine. All are wrapped with context and can be
// matched with errors.Is.
var (
	// ErrMissingKey is returned when a referenced DPS or DPP key is absent.
	ErrMissingKey = errors.New("attribute key not found")

	// ErrKeyCollision is returned when a conversion would overwrite an
	// existing key without the overwrite flag set.
	ErrKeyCollision = errors.New("attribute key already exists")

	// ErrDuplicateKey is returned when the same key is listed more than once
	// in a conversion request.
	ErrDuplicateKey = errors.New("attribute key listed more than once")

	// ErrUnknownOperation is returned for operator names outside the registry.
	ErrUnknownOperation = errors.New("unknown operation")

	// ErrNotPairwise is returned when a reducing operator is used where a
	// pairwise operator (correlation) is required.
	ErrNotPairwise = errors.New("operation has no pairwise form")

	// ErrNotReducer is returned when a pairwise-only operator (correlation)
	// is used where a reducing operator is required.
	ErrNotReducer = errors.New("operation has no reducing form")
)

// Operation is one entry of the operator registry. Reducing operators
// (mean, sum, min, max) populate the vector and matrix entry points;
// correlation populates only the pairwise one. Unset entry points are
// surfaced to callers as ErrNotReducer / ErrNotPairwise before any work is
// performed.
type Operation struct {
	// reduceVector collapses a value vector to a single scalar.
	reduceVector func(v []float64) float64

	// reduceMatrix collapses a (rows x width) matrix along the row axis to a
	// width-length vector.
	reduceMatrix func(rows [][]float64) []float64

	// pairwise combines two equal-length vectors into a 2x2 matrix
	// (the Pearson correlation matrix for the correlation operator).
	pairwise func(a, b []float64) *mat.SymDense
}

func meanVector(v []float64) float64 { return stat.Mean(v, nil) }

// operations is the fixed operator registry.
var operations = map[string]Operation{
	"mean":        reducer(meanVector),
	"sum":         reducer(floats.Sum),
	"min":         reducer(floats.Min),
	"max":         reducer(floats.Max),
	"correlation": {pairwise: correlationMatrix},
}

// reducer builds a registry entry from a vector reduction, deriving the
// matrix form by applying it column-wise.
func reducer(reduce func([]float64) float64) Operation {
	return Operation{
		reduceVector: reduce,
		reduceMatrix: func(rows [][]float64) []float64 {
			return reduceColumns(rows, reduce)
		},
	}
}

// OperationNames returns the registry's operator names, for CLI usage output.
func OperationNames() []string {
	return []string{"mean", "sum", "min", "max", "correlation"}
}

// lookup resolves an operator name against the registry.
func lookup(opName string) (Operation, error) {
	op, ok := operations[opName]
	if !ok {
		return Operation{}, fmt.Errorf("%w: %q", ErrUnknownOperation, opName)
	}
	return op, nil
}

// reduceColumns applies reduce to each column of a (rows x width) matrix.
// Every row must have the same width as the first.
func reduceColumns(rows [][]float64, reduce func([]float64) float64) []float64 {
	width := len(rows[0])
	out := make([]float64, width)
	col := make([]float64, len(rows))
	for j := 0; j < width; j++ {
		for i, row := range rows {
			col[i] = row[j]
		}
		out[j] = reduce(col)
	}
	return out
}

// correlationMatrix computes the 2x2 Pearson correlation-coefficient matrix
// of two equal-length sequences, matching the layout of np.corrcoef: ones on
// the diagonal and the correlation of a with b off-diagonal.
func correlationMatrix(a, b []float64) *mat.SymDense {
	r := stat.Correlation(a, b, nil)
	return mat.NewSymDense(2, []float64{1, r, r, 1})
}
