package attributes

import (
	"math"
	"testing"
)

// TestReduceMatrixOperations verifies the axis-0 reduction of every reducing
// operator in the registry.
func TestReduceMatrixOperations(t *testing.T) {
	rows := [][]float64{{1, 2}, {3, 4}}

	cases := []struct {
		op   string
		want []float64
	}{
		{"mean", []float64{2, 3}},
		{"sum", []float64{4, 6}},
		{"min", []float64{1, 2}},
		{"max", []float64{3, 4}},
	}

	for _, c := range cases {
		op, err := lookup(c.op)
		if err != nil {
			t.Fatalf("Operator %q missing from registry: %v", c.op, err)
		}
		got := op.reduceMatrix(rows)
		if len(got) != len(c.want) {
			t.Fatalf("%s: expected width %d, got %d", c.op, len(c.want), len(got))
		}
		for j := range got {
			if got[j] != c.want[j] {
				t.Errorf("%s over [[1,2],[3,4]]: expected %v, got %v", c.op, c.want, got)
			}
		}
	}
}

// TestReduceVectorOperations verifies the scalar reductions, including the
// length-1 case which must return the single value.
func TestReduceVectorOperations(t *testing.T) {
	cases := []struct {
		op    string
		input []float64
		want  float64
	}{
		{"mean", []float64{1, 2, 3, 4}, 2.5},
		{"sum", []float64{1, 2, 3, 4}, 10},
		{"min", []float64{4, 1, 3}, 1},
		{"max", []float64{4, 1, 3}, 4},
		{"mean", []float64{7}, 7},
		{"sum", []float64{7}, 7},
		{"min", []float64{7}, 7},
		{"max", []float64{7}, 7},
	}

	for _, c := range cases {
		op, err := lookup(c.op)
		if err != nil {
			t.Fatalf("Operator %q missing from registry: %v", c.op, err)
		}
		if got := op.reduceVector(c.input); got != c.want {
			t.Errorf("%s over %v: expected %f, got %f", c.op, c.input, c.want, got)
		}
	}
}

// TestCorrelationMatrix verifies the 2x2 Pearson matrix layout.
func TestCorrelationMatrix(t *testing.T) {
	op, err := lookup("correlation")
	if err != nil {
		t.Fatalf("Operator correlation missing from registry: %v", err)
	}

	m := op.pairwise([]float64{1, 2, 3}, []float64{1, 2, 3})
	if r, c := m.Dims(); r != 2 || c != 2 {
		t.Fatalf("Expected a 2x2 matrix, got %dx%d", r, c)
	}
	if m.At(0, 0) != 1 || m.At(1, 1) != 1 {
		t.Error("Correlation matrix diagonal should be 1")
	}
	if math.Abs(m.At(0, 1)-1) > 1e-12 {
		t.Errorf("Identical sequences: expected off-diagonal 1, got %f", m.At(0, 1))
	}
	if m.At(0, 1) != m.At(1, 0) {
		t.Error("Correlation matrix should be symmetric")
	}

	m = op.pairwise([]float64{1, 2, 3}, []float64{3, 2, 1})
	if math.Abs(m.At(0, 1)+1) > 1e-12 {
		t.Errorf("Reversed sequences: expected off-diagonal -1, got %f", m.At(0, 1))
	}
}

// TestLookupUnknown verifies the registry surface.
func TestLookupUnknown(t *testing.T) {
	for _, name := range OperationNames() {
		if _, err := lookup(name); err != nil {
			t.Errorf("Advertised operator %q not resolvable: %v", name, err)
		}
	}
	if _, err := lookup("variance"); err == nil {
		t.Error("Expected an error for an unregistered operator")
	}
}
