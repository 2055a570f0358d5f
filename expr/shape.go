package expr

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
)

// Length markers for shapes whose extent is not a fixed element count.
const (
	LengthUnknown = -1
	LengthScalar  = 0
)

// Shape describes the value a node evaluates to: a scalar, an array of
// elements of one type, or a table with a named-column schema. Exactly one of
// Elem and Schema is set for array and table shapes; a scalar shape carries
// the scalar's type in Elem with Length == LengthScalar.
type Shape struct {
	Length int
	Elem   arrow.DataType
	Schema *arrow.Schema
}

// Array returns an array shape of unknown length over the given element type.
func Array(elem arrow.DataType) Shape {
	return Shape{Length: LengthUnknown, Elem: elem}
}

// ArrayN returns an array shape of exactly n elements.
func ArrayN(elem arrow.DataType, n int) Shape {
	return Shape{Length: n, Elem: elem}
}

// Table returns a tabular shape of unknown length with the given schema.
func Table(schema *arrow.Schema) Shape {
	return Shape{Length: LengthUnknown, Schema: schema}
}

// Scalar returns a scalar shape of the given type.
func Scalar(elem arrow.DataType) Shape {
	return Shape{Length: LengthScalar, Elem: elem}
}

// IsTable reports whether the shape is tabular.
func (s Shape) IsTable() bool { return s.Schema != nil }

// IsScalar reports whether the shape is a bare scalar.
func (s Shape) IsScalar() bool { return s.Schema == nil && s.Length == LengthScalar }

func (s Shape) String() string {
	switch {
	case s.IsTable():
		return fmt.Sprintf("table%v", s.Schema.Fields())
	case s.IsScalar():
		return fmt.Sprintf("scalar[%v]", s.Elem)
	case s.Length == LengthUnknown:
		return fmt.Sprintf("array[%v]", s.Elem)
	default:
		return fmt.Sprintf("array[%d x %v]", s.Length, s.Elem)
	}
}
