// Package nada implements the Nada value model: typed values that are
// either public (known to everyone) or secret (Shamir-shared), with
// primitive variants (integers, booleans, blobs, key/signature material,
// digests, store ids) and compound variants (fixed-size homogeneous
// arrays, two-element tuples, fixed-field objects).
package nada

import "fmt"

// Kind distinguishes a public type from its secret (shared) counterpart.
// Every public primitive has a corresponding secret type and vice versa;
// compound types carry the kind of their elements.
type Kind uint8

const (
	Public Kind = iota
	Secret
)

func (k Kind) String() string {
	if k == Secret {
		return "secret"
	}
	return "public"
}

// Primitive enumerates the primitive type tags shared between the public
// and secret universes.
type Primitive uint8

const (
	Integer Primitive = iota
	UnsignedInteger
	Boolean
	Blob
	EcdsaPrivateKey
	EcdsaPublicKey
	EcdsaSignature
	EcdsaDigestMessage
	EddsaPrivateKey
	EddsaPublicKey
	EddsaSignature
	EddsaMessage
	StoreID
)

func (p Primitive) String() string {
	switch p {
	case Integer:
		return "Integer"
	case UnsignedInteger:
		return "UnsignedInteger"
	case Boolean:
		return "Boolean"
	case Blob:
		return "Blob"
	case EcdsaPrivateKey:
		return "EcdsaPrivateKey"
	case EcdsaPublicKey:
		return "EcdsaPublicKey"
	case EcdsaSignature:
		return "EcdsaSignature"
	case EcdsaDigestMessage:
		return "EcdsaDigestMessage"
	case EddsaPrivateKey:
		return "EddsaPrivateKey"
	case EddsaPublicKey:
		return "EddsaPublicKey"
	case EddsaSignature:
		return "EddsaSignature"
	case EddsaMessage:
		return "EddsaMessage"
	case StoreID:
		return "StoreId"
	default:
		return "Unknown"
	}
}

// CompoundKind distinguishes the three compound shapes.
type CompoundKind uint8

const (
	ArrayKind CompoundKind = iota
	TupleKind
	ObjectKind
)

// Field is one named, typed slot of an Object type, in declaration order.
type Field struct {
	Name string
	Type Type
}

// Compound describes an Array (homogeneous, fixed size), Tuple (exactly
// two elements, independently typed) or Object (fixed, ordered field set).
type Compound struct {
	Kind CompoundKind

	Element *Type // Array
	Size    int   // Array

	Elements [2]Type // Tuple

	Fields []Field // Object
}

// Type is a Nada type: either a primitive (tagged public or secret) or a
// compound built from other Types.
type Type struct {
	Kind      Kind
	Primitive Primitive
	Compound  *Compound
}

// IsCompound reports whether this type is Array/Tuple/Object.
func (t Type) IsCompound() bool { return t.Compound != nil }

// Equal reports whether two types describe the same shape, comparing
// compounds structurally rather than by the identity of their *Compound
// pointer (each constructor call allocates a fresh one).
func (t Type) Equal(other Type) bool {
	if t.Kind != other.Kind {
		return false
	}
	if (t.Compound == nil) != (other.Compound == nil) {
		return false
	}
	if t.Compound == nil {
		return t.Primitive == other.Primitive
	}
	a, b := t.Compound, other.Compound
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case ArrayKind:
		return a.Size == b.Size && a.Element.Equal(*b.Element)
	case TupleKind:
		return a.Elements[0].Equal(b.Elements[0]) && a.Elements[1].Equal(b.Elements[1])
	default: // ObjectKind
		if len(a.Fields) != len(b.Fields) {
			return false
		}
		for i := range a.Fields {
			if a.Fields[i].Name != b.Fields[i].Name || !a.Fields[i].Type.Equal(b.Fields[i].Type) {
				return false
			}
		}
		return true
	}
}

// NewPrimitive builds a primitive type with the given kind.
func NewPrimitive(kind Kind, primitive Primitive) Type {
	return Type{Kind: kind, Primitive: primitive}
}

// NewArray builds a fixed-size homogeneous array type. size must be >= 0.
func NewArray(element Type, size int) (Type, error) {
	if size < 0 {
		return Type{}, fmt.Errorf("nada: array size must be non-negative, got %d", size)
	}
	return Type{Kind: element.Kind, Compound: &Compound{Kind: ArrayKind, Element: &element, Size: size}}, nil
}

// NewTuple builds a two-element tuple type.
func NewTuple(first, second Type) Type {
	return Type{Kind: first.Kind, Compound: &Compound{Kind: TupleKind, Elements: [2]Type{first, second}}}
}

// NewObject builds a fixed, ordered-field object type. Field names must be
// distinct.
func NewObject(kind Kind, fields []Field) (Type, error) {
	seen := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if _, dup := seen[f.Name]; dup {
			return Type{}, fmt.Errorf("nada: duplicate object field %q", f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	cp := make([]Field, len(fields))
	copy(cp, fields)
	return Type{Kind: kind, Compound: &Compound{Kind: ObjectKind, Fields: cp}}, nil
}

// String renders a human-readable type name, e.g. "secret Integer" or
// "public Array[3]<Integer>".
func (t Type) String() string {
	if t.Compound == nil {
		return fmt.Sprintf("%s %s", t.Kind, t.Primitive)
	}
	switch t.Compound.Kind {
	case ArrayKind:
		return fmt.Sprintf("%s Array[%d]<%s>", t.Kind, t.Compound.Size, t.Compound.Element)
	case TupleKind:
		return fmt.Sprintf("%s Tuple<%s, %s>", t.Kind, t.Compound.Elements[0], t.Compound.Elements[1])
	default:
		return fmt.Sprintf("%s Object{%d fields}", t.Kind, len(t.Compound.Fields))
	}
}
