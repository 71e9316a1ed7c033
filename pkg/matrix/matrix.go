// Package matrix implements naive dense matrix operations over a field
// element type: multiplication and Gauss-Jordan inversion.
package matrix

import "errors"

// ErrDimensionMismatch is returned when operand shapes are incompatible.
var ErrDimensionMismatch = errors.New("matrix: dimension mismatch")

// ErrSingular is returned when attempting to invert a non-square or singular matrix.
var ErrSingular = errors.New("matrix: singular or non-square")

// Elem is the ring contract required of matrix entries.
type Elem[E any] interface {
	Add(E) E
	Sub(E) E
	Mul(E) E
	Inv() (E, error)
	IsZero() bool
	Equal(E) bool
}

// Matrix is a dense row-major matrix of field elements.
type Matrix[E Elem[E]] struct {
	zero    E
	one     E
	entries []E
	rows    int
	cols    int
}

// New constructs an rows x cols matrix from row-major entries.
func New[E Elem[E]](zero, one E, entries []E, rows, cols int) (*Matrix[E], error) {
	if len(entries) != rows*cols {
		return nil, ErrDimensionMismatch
	}
	cp := make([]E, len(entries))
	copy(cp, entries)
	return &Matrix[E]{zero: zero, one: one, entries: cp, rows: rows, cols: cols}, nil
}

// Zero builds an rows x cols matrix of zeroes.
func Zero[E Elem[E]](zero, one E, rows, cols int) *Matrix[E] {
	entries := make([]E, rows*cols)
	for i := range entries {
		entries[i] = zero
	}
	return &Matrix[E]{zero: zero, one: one, entries: entries, rows: rows, cols: cols}
}

// Identity builds the n x n identity matrix.
func Identity[E Elem[E]](zero, one E, n int) *Matrix[E] {
	m := Zero[E](zero, one, n, n)
	for i := 0; i < n; i++ {
		m.entries[i*n+i] = one
	}
	return m
}

// Rows returns the number of rows.
func (m *Matrix[E]) Rows() int { return m.rows }

// Cols returns the number of columns.
func (m *Matrix[E]) Cols() int { return m.cols }

// Entry returns the value at (row, col).
func (m *Matrix[E]) Entry(row, col int) (E, error) {
	var zero E
	if row < 0 || row >= m.rows || col < 0 || col >= m.cols {
		return zero, ErrDimensionMismatch
	}
	return m.entries[row*m.cols+col], nil
}

func (m *Matrix[E]) set(row, col int, v E) {
	m.entries[row*m.cols+col] = v
}

// Mul performs naive O(rows*cols*other.cols) matrix multiplication.
func (m *Matrix[E]) Mul(other *Matrix[E]) (*Matrix[E], error) {
	if m.cols != other.rows {
		return nil, ErrDimensionMismatch
	}
	out := Zero[E](m.zero, m.one, m.rows, other.cols)
	for row := 0; row < m.rows; row++ {
		for col := 0; col < other.cols; col++ {
			sum := m.zero
			for i := 0; i < m.cols; i++ {
				li, _ := m.Entry(row, i)
				ri, _ := other.Entry(i, col)
				sum = sum.Add(ri.Mul(li))
			}
			out.set(row, col, sum)
		}
	}
	return out, nil
}

// Inv computes the inverse via Gauss-Jordan elimination, O(n^3). It fails if
// the matrix is not square or is singular.
func (m *Matrix[E]) Inv() (*Matrix[E], error) {
	n := m.rows
	if n != m.cols {
		return nil, ErrSingular
	}
	self := Zero[E](m.zero, m.one, n, n)
	copy(self.entries, m.entries)
	out := Identity[E](m.zero, m.one, n)

	for i := 0; i < n; i++ {
		vii, _ := self.Entry(i, i)
		if vii.IsZero() {
			swapped := false
			for j := i + 1; j < n; j++ {
				vji, _ := self.Entry(j, i)
				if !vji.IsZero() {
					for k := 0; k < n; k++ {
						a, _ := self.Entry(i, k)
						b, _ := self.Entry(j, k)
						self.set(i, k, b)
						self.set(j, k, a)
						ma, _ := out.Entry(i, k)
						mb, _ := out.Entry(j, k)
						out.set(i, k, mb)
						out.set(j, k, ma)
					}
					swapped = true
					break
				}
			}
			if !swapped {
				return nil, ErrSingular
			}
		}
		vii, _ = self.Entry(i, i)
		if !vii.Equal(m.one) {
			viiInv, err := vii.Inv()
			if err != nil {
				return nil, err
			}
			for k := 0; k < n; k++ {
				vik, _ := self.Entry(i, k)
				self.set(i, k, vik.Mul(viiInv))
				mik, _ := out.Entry(i, k)
				out.set(i, k, mik.Mul(viiInv))
			}
		}
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			vji, _ := self.Entry(j, i)
			if !vji.IsZero() {
				for k := 0; k < n; k++ {
					vik, _ := self.Entry(i, k)
					vjk, _ := self.Entry(j, k)
					self.set(j, k, vjk.Sub(vik.Mul(vji)))
					mik, _ := out.Entry(i, k)
					mjk, _ := out.Entry(j, k)
					out.set(j, k, mjk.Sub(mik.Mul(vji)))
				}
			}
		}
	}
	return out, nil
}

// Equal reports whether two matrices have the same shape and entries.
func (m *Matrix[E]) Equal(other *Matrix[E]) bool {
	if m.rows != other.rows || m.cols != other.cols {
		return false
	}
	for i := range m.entries {
		if !m.entries[i].Equal(other.entries[i]) {
			return false
		}
	}
	return true
}
