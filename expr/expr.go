// Package expr provides the immutable expression trees executed by the
// chunkwise engine. Expressions are built once per query from a Symbol leaf
// and a chain of operations, and stay read-only for the lifetime of the
// execution.
package expr

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
)

// Kind identifies the operation a tree node performs.
type Kind int

const (
	KindSymbol Kind = iota
	KindMap
	KindFilter
	KindHead
	KindSlice
	KindDistinct
	KindField
	KindProject
	KindGroupBy
	KindReduce
)

func (k Kind) String() string {
	switch k {
	case KindSymbol:
		return "symbol"
	case KindMap:
		return "map"
	case KindFilter:
		return "filter"
	case KindHead:
		return "head"
	case KindSlice:
		return "slice"
	case KindDistinct:
		return "distinct"
	case KindField:
		return "field"
	case KindProject:
		return "project"
	case KindGroupBy:
		return "groupby"
	case KindReduce:
		return "reduce"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Expr is a node in an expression tree. Every leaf of a well-formed tree is a
// *Symbol; all other nodes have at least one child.
type Expr interface {
	Kind() Kind
	Shape() Shape
	Children() []Expr
	String() string
}

// Symbol is a named placeholder standing for the data a sub-expression runs
// against. Binding is by identity: two symbols with the same name created for
// different purposes (a chunk symbol vs. an aggregate symbol) are distinct.
type Symbol struct {
	name  string
	shape Shape
}

// NewSymbol creates a symbol with the given name and declared shape.
func NewSymbol(name string, shape Shape) *Symbol {
	return &Symbol{name: name, shape: shape}
}

func (s *Symbol) Kind() Kind       { return KindSymbol }
func (s *Symbol) Shape() Shape     { return s.shape }
func (s *Symbol) Children() []Expr { return nil }
func (s *Symbol) Name() string     { return s.name }
func (s *Symbol) String() string   { return s.name }

// MapOp is an elementwise arithmetic operation.
type MapOp int

const (
	OpAdd MapOp = iota
	OpSub
	OpMul
	OpDiv
)

func (op MapOp) String() string {
	switch op {
	case OpAdd:
		return "+"
	case OpSub:
		return "-"
	case OpMul:
		return "*"
	case OpDiv:
		return "/"
	default:
		return fmt.Sprintf("op(%d)", int(op))
	}
}

// MapExpr applies an arithmetic operation with a scalar operand to every
// element of its child.
type MapExpr struct {
	child   Expr
	op      MapOp
	operand any
}

// Map creates an elementwise arithmetic expression. The operand must be an
// int64 or float64 literal; a float64 operand promotes integer elements.
func Map(child Expr, op MapOp, operand any) *MapExpr {
	return &MapExpr{child: child, op: op, operand: operand}
}

func (m *MapExpr) Kind() Kind       { return KindMap }
func (m *MapExpr) Children() []Expr { return []Expr{m.child} }
func (m *MapExpr) Op() MapOp        { return m.op }
func (m *MapExpr) Operand() any     { return m.operand }

func (m *MapExpr) Shape() Shape {
	s := m.child.Shape()
	if _, ok := m.operand.(float64); ok {
		s.Elem = arrow.PrimitiveTypes.Float64
	}
	return s
}

func (m *MapExpr) String() string {
	return fmt.Sprintf("(%s %s %v)", m.child, m.op, m.operand)
}

// FilterExpr keeps the elements of its child for which the predicate holds.
type FilterExpr struct {
	child Expr
	pred  *Predicate
}

// Filter creates a selection expression.
func Filter(child Expr, pred *Predicate) *FilterExpr {
	return &FilterExpr{child: child, pred: pred}
}

func (f *FilterExpr) Kind() Kind            { return KindFilter }
func (f *FilterExpr) Children() []Expr      { return []Expr{f.child} }
func (f *FilterExpr) Predicate() *Predicate { return f.pred }

func (f *FilterExpr) Shape() Shape {
	s := f.child.Shape()
	s.Length = LengthUnknown
	return s
}

func (f *FilterExpr) String() string {
	return fmt.Sprintf("%s[%s]", f.child, f.pred)
}

// HeadExpr takes the first N elements of its child.
type HeadExpr struct {
	child Expr
	n     int
}

// Head creates a first-N expression.
func Head(child Expr, n int) *HeadExpr {
	return &HeadExpr{child: child, n: n}
}

func (h *HeadExpr) Kind() Kind       { return KindHead }
func (h *HeadExpr) Children() []Expr { return []Expr{h.child} }
func (h *HeadExpr) N() int           { return h.n }

func (h *HeadExpr) Shape() Shape {
	s := h.child.Shape()
	if s.Length == LengthUnknown || s.Length > h.n {
		s.Length = h.n
	}
	return s
}

func (h *HeadExpr) String() string {
	return fmt.Sprintf("%s.head(%d)", h.child, h.n)
}

// SliceExpr takes the half-open range [start, stop) of its child.
type SliceExpr struct {
	child Expr
	start int
	stop  int
}

// Slice creates a range-slice expression over [start, stop).
func Slice(child Expr, start, stop int) *SliceExpr {
	return &SliceExpr{child: child, start: start, stop: stop}
}

func (s *SliceExpr) Kind() Kind       { return KindSlice }
func (s *SliceExpr) Children() []Expr { return []Expr{s.child} }
func (s *SliceExpr) Start() int       { return s.start }
func (s *SliceExpr) Stop() int        { return s.stop }

func (s *SliceExpr) Shape() Shape {
	sh := s.child.Shape()
	sh.Length = s.stop - s.start
	return sh
}

func (s *SliceExpr) String() string {
	return fmt.Sprintf("%s[%d:%d]", s.child, s.start, s.stop)
}

// DistinctExpr keeps the first occurrence of every distinct element of its
// child, preserving encounter order.
type DistinctExpr struct {
	child Expr
}

// Distinct creates a distinct-elements expression.
func Distinct(child Expr) *DistinctExpr {
	return &DistinctExpr{child: child}
}

func (d *DistinctExpr) Kind() Kind       { return KindDistinct }
func (d *DistinctExpr) Children() []Expr { return []Expr{d.child} }

func (d *DistinctExpr) Shape() Shape {
	s := d.child.Shape()
	s.Length = LengthUnknown
	return s
}

func (d *DistinctExpr) String() string {
	return fmt.Sprintf("%s.distinct()", d.child)
}

// FieldExpr extracts one named column from a tabular child.
type FieldExpr struct {
	child Expr
	name  string
}

// Field creates a column-access expression.
func Field(child Expr, name string) *FieldExpr {
	return &FieldExpr{child: child, name: name}
}

func (f *FieldExpr) Kind() Kind       { return KindField }
func (f *FieldExpr) Children() []Expr { return []Expr{f.child} }
func (f *FieldExpr) Name() string     { return f.name }

func (f *FieldExpr) Shape() Shape {
	s := f.child.Shape()
	if s.Schema != nil {
		if idx := s.Schema.FieldIndices(f.name); len(idx) > 0 {
			return Shape{Length: s.Length, Elem: s.Schema.Field(idx[0]).Type}
		}
	}
	return Shape{Length: s.Length}
}

func (f *FieldExpr) String() string {
	return fmt.Sprintf("%s.%s", f.child, f.name)
}

// ProjectExpr restricts a tabular child to a subset of named columns.
type ProjectExpr struct {
	child Expr
	names []string
}

// Project creates a column-projection expression.
func Project(child Expr, names ...string) *ProjectExpr {
	return &ProjectExpr{child: child, names: names}
}

func (p *ProjectExpr) Kind() Kind       { return KindProject }
func (p *ProjectExpr) Children() []Expr { return []Expr{p.child} }
func (p *ProjectExpr) Names() []string  { return p.names }

func (p *ProjectExpr) Shape() Shape {
	s := p.child.Shape()
	if s.Schema == nil {
		return s
	}
	fields := make([]arrow.Field, 0, len(p.names))
	for _, name := range p.names {
		if idx := s.Schema.FieldIndices(name); len(idx) > 0 {
			fields = append(fields, s.Schema.Field(idx[0]))
		}
	}
	return Shape{Length: s.Length, Schema: arrow.NewSchema(fields, nil)}
}

func (p *ProjectExpr) String() string {
	return fmt.Sprintf("%s.project(%v)", p.child, p.names)
}

// ReduceOp identifies a reduction.
type ReduceOp int

const (
	ReduceCount ReduceOp = iota
	ReduceSum
	ReduceMean
	ReduceVar
	ReduceStd
	ReduceNunique
)

func (op ReduceOp) String() string {
	switch op {
	case ReduceCount:
		return "count"
	case ReduceSum:
		return "sum"
	case ReduceMean:
		return "mean"
	case ReduceVar:
		return "var"
	case ReduceStd:
		return "std"
	case ReduceNunique:
		return "nunique"
	default:
		return fmt.Sprintf("reduce(%d)", int(op))
	}
}

// ReduceExpr collapses its child to a single value.
type ReduceExpr struct {
	child    Expr
	op       ReduceOp
	unbiased bool
	keepDims bool
}

// Reduce creates a reduction expression.
func Reduce(child Expr, op ReduceOp) *ReduceExpr {
	return &ReduceExpr{child: child, op: op}
}

// Count counts the elements of child.
func Count(child Expr) *ReduceExpr { return Reduce(child, ReduceCount) }

// Sum sums the elements of child.
func Sum(child Expr) *ReduceExpr { return Reduce(child, ReduceSum) }

// Mean averages the elements of child.
func Mean(child Expr) *ReduceExpr { return Reduce(child, ReduceMean) }

// Var computes the variance of child. The unbiased flag selects the n-1
// divisor.
func Var(child Expr, unbiased bool) *ReduceExpr {
	return &ReduceExpr{child: child, op: ReduceVar, unbiased: unbiased}
}

// Std computes the standard deviation of child. The unbiased flag selects the
// n-1 divisor for the underlying variance.
func Std(child Expr, unbiased bool) *ReduceExpr {
	return &ReduceExpr{child: child, op: ReduceStd, unbiased: unbiased}
}

// Nunique counts the exact number of distinct elements of child.
func Nunique(child Expr) *ReduceExpr { return Reduce(child, ReduceNunique) }

// KeepDims returns a copy of the reduction whose scalar result is presented
// as a single-element array instead of a bare scalar. This is a presentation
// toggle only; the computed value is unchanged.
func (r *ReduceExpr) KeepDims() *ReduceExpr {
	return &ReduceExpr{child: r.child, op: r.op, unbiased: r.unbiased, keepDims: true}
}

func (r *ReduceExpr) Kind() Kind       { return KindReduce }
func (r *ReduceExpr) Children() []Expr { return []Expr{r.child} }
func (r *ReduceExpr) Op() ReduceOp     { return r.op }
func (r *ReduceExpr) Unbiased() bool   { return r.unbiased }
func (r *ReduceExpr) Dims() bool       { return r.keepDims }

func (r *ReduceExpr) Shape() Shape {
	elem := r.child.Shape().Elem
	switch r.op {
	case ReduceCount, ReduceNunique:
		elem = arrow.PrimitiveTypes.Int64
	case ReduceMean, ReduceVar, ReduceStd:
		elem = arrow.PrimitiveTypes.Float64
	}
	if r.keepDims {
		return Shape{Length: 1, Elem: elem}
	}
	return Shape{Length: LengthScalar, Elem: elem}
}

func (r *ReduceExpr) String() string {
	if r.keepDims {
		return fmt.Sprintf("%s.%s(keepdims)", r.child, r.op)
	}
	return fmt.Sprintf("%s.%s()", r.child, r.op)
}

// GroupByExpr groups a tabular child by one key column and aggregates another
// column per group.
type GroupByExpr struct {
	child Expr
	key   string
	on    string
	agg   ReduceOp
}

// GroupBy creates a single-key group-by expression aggregating column on with
// the given reduction per group. Supported reductions are count, sum and
// mean.
func GroupBy(child Expr, key, on string, agg ReduceOp) *GroupByExpr {
	return &GroupByExpr{child: child, key: key, on: on, agg: agg}
}

func (g *GroupByExpr) Kind() Kind       { return KindGroupBy }
func (g *GroupByExpr) Children() []Expr { return []Expr{g.child} }
func (g *GroupByExpr) Key() string      { return g.key }
func (g *GroupByExpr) On() string       { return g.on }
func (g *GroupByExpr) Agg() ReduceOp    { return g.agg }

func (g *GroupByExpr) Shape() Shape {
	s := g.child.Shape()
	if s.Schema == nil {
		return Shape{Length: LengthUnknown}
	}
	var keyType arrow.DataType = arrow.BinaryTypes.String
	var aggType arrow.DataType = arrow.PrimitiveTypes.Float64
	if idx := s.Schema.FieldIndices(g.key); len(idx) > 0 {
		keyType = s.Schema.Field(idx[0]).Type
	}
	switch g.agg {
	case ReduceCount:
		aggType = arrow.PrimitiveTypes.Int64
	case ReduceSum:
		if idx := s.Schema.FieldIndices(g.on); len(idx) > 0 {
			aggType = s.Schema.Field(idx[0]).Type
		}
	}
	return Shape{
		Length: LengthUnknown,
		Schema: arrow.NewSchema([]arrow.Field{
			{Name: g.key, Type: keyType},
			{Name: fmt.Sprintf("%s_%s", g.on, g.agg), Type: aggType},
		}, nil),
	}
}

func (g *GroupByExpr) String() string {
	return fmt.Sprintf("%s.by(%s, %s(%s))", g.child, g.key, g.agg, g.on)
}

// Leaves returns the symbols at the leaves of e, left to right, without
// duplicates.
func Leaves(e Expr) []*Symbol {
	var out []*Symbol
	seen := make(map[*Symbol]bool)
	var walk func(Expr)
	walk = func(n Expr) {
		if sym, ok := n.(*Symbol); ok {
			if !seen[sym] {
				seen[sym] = true
				out = append(out, sym)
			}
			return
		}
		for _, c := range n.Children() {
			walk(c)
		}
	}
	walk(e)
	return out
}

// Path returns the nodes from e down to leaf, inclusive, or nil when leaf is
// not reachable from e.
func Path(e Expr, leaf *Symbol) []Expr {
	if e == Expr(leaf) {
		return []Expr{e}
	}
	for _, c := range e.Children() {
		if sub := Path(c, leaf); sub != nil {
			return append([]Expr{e}, sub...)
		}
	}
	return nil
}

// Rebase returns a copy of e with every occurrence of the symbol from
// replaced by to. Nodes not on a path to from are shared, not copied.
func Rebase(e Expr, from, to *Symbol) Expr {
	switch n := e.(type) {
	case *Symbol:
		if n == from {
			return to
		}
		return n
	case *MapExpr:
		return Map(Rebase(n.child, from, to), n.op, n.operand)
	case *FilterExpr:
		return Filter(Rebase(n.child, from, to), n.pred)
	case *HeadExpr:
		return Head(Rebase(n.child, from, to), n.n)
	case *SliceExpr:
		return Slice(Rebase(n.child, from, to), n.start, n.stop)
	case *DistinctExpr:
		return Distinct(Rebase(n.child, from, to))
	case *FieldExpr:
		return Field(Rebase(n.child, from, to), n.name)
	case *ProjectExpr:
		return Project(Rebase(n.child, from, to), n.names...)
	case *GroupByExpr:
		return GroupBy(Rebase(n.child, from, to), n.key, n.on, n.agg)
	case *ReduceExpr:
		return &ReduceExpr{child: Rebase(n.child, from, to), op: n.op, unbiased: n.unbiased, keepDims: n.keepDims}
	default:
		return e
	}
}
