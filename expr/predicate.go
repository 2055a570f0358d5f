package expr

import "fmt"

// CmpOp is a comparison operator in a filter predicate.
type CmpOp int

const (
	CmpEq CmpOp = iota
	CmpNe
	CmpLt
	CmpLe
	CmpGt
	CmpGe
)

func (op CmpOp) String() string {
	switch op {
	case CmpEq:
		return "=="
	case CmpNe:
		return "!="
	case CmpLt:
		return "<"
	case CmpLe:
		return "<="
	case CmpGt:
		return ">"
	case CmpGe:
		return ">="
	default:
		return fmt.Sprintf("cmp(%d)", int(op))
	}
}

// Predicate is a boolean condition over one element of a filtered value. A
// leaf predicate compares the element (or one named field of a tabular row)
// against a literal; And/Or combine predicates. A Func predicate carries an
// opaque Go function and can only be evaluated element by element, never
// vectorized.
type Predicate struct {
	op    CmpOp
	field string
	lit   any

	and, or *Predicate // set on the left operand of a combined predicate

	fn func(any) bool
}

// Cmp creates a predicate comparing the element itself against lit.
func Cmp(op CmpOp, lit any) *Predicate {
	return &Predicate{op: op, lit: lit}
}

// CmpField creates a predicate comparing the named field of a tabular row
// against lit.
func CmpField(field string, op CmpOp, lit any) *Predicate {
	return &Predicate{op: op, field: field, lit: lit}
}

// Func creates an opaque predicate from a Go function. Filters using it
// always take the element-by-element path.
func Func(fn func(any) bool) *Predicate {
	return &Predicate{fn: fn}
}

// And returns a predicate holding when both p and other hold.
func (p *Predicate) And(other *Predicate) *Predicate {
	cp := *p
	cp.and = other
	return &cp
}

// Or returns a predicate holding when either p or other holds.
func (p *Predicate) Or(other *Predicate) *Predicate {
	cp := *p
	cp.or = other
	return &cp
}

// Op returns the comparison operator of a leaf predicate.
func (p *Predicate) Op() CmpOp { return p.op }

// FieldName returns the row field a leaf predicate compares, or "" when the
// predicate applies to the element itself.
func (p *Predicate) FieldName() string { return p.field }

// Literal returns the comparison operand of a leaf predicate.
func (p *Predicate) Literal() any { return p.lit }

// Conj returns the right-hand side of an And combination, or nil.
func (p *Predicate) Conj() *Predicate { return p.and }

// Disj returns the right-hand side of an Or combination, or nil.
func (p *Predicate) Disj() *Predicate { return p.or }

// Fn returns the opaque function of a Func predicate, or nil.
func (p *Predicate) Fn() func(any) bool { return p.fn }

func (p *Predicate) String() string {
	var s string
	switch {
	case p.fn != nil:
		s = "fn(...)"
	case p.field != "":
		s = fmt.Sprintf("%s %s %v", p.field, p.op, p.lit)
	default:
		s = fmt.Sprintf("x %s %v", p.op, p.lit)
	}
	if p.and != nil {
		s = fmt.Sprintf("(%s && %s)", s, p.and)
	}
	if p.or != nil {
		s = fmt.Sprintf("(%s || %s)", s, p.or)
	}
	return s
}
