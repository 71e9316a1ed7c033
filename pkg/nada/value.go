package nada

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"math/big"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/nilmpc/coren/pkg/field"
)

// ErrTypeMismatch is returned by an accessor called on a Value of the
// wrong primitive or compound shape.
var ErrTypeMismatch = errors.New("nada: value does not match requested type")

// Value is a typed Nada value: exactly one of its payload fields is
// populated, selected by Type.
type Value struct {
	typ Type

	publicInt  *big.Int
	secretInt  *field.Element
	boolVal    *bool
	secretBool *field.Element
	blob       []byte

	ecdsaPub *secp256k1.PublicKey
	ecdsaSig *EcdsaSignature
	eddsaPub ed25519.PublicKey
	eddsaSig []byte
	digest   []byte
	storeID  []byte

	secretKeyShare *field.Element // ECDSA/EdDSA private-key share

	array  []Value
	tuple  *[2]Value
	object map[string]Value
}

// EcdsaSignature is the (r, s) pair produced by threshold ECDSA signing.
type EcdsaSignature struct {
	R *big.Int
	S *big.Int
}

// Type returns the value's Nada type.
func (v Value) Type() Type { return v.typ }

// NewPublicInteger builds a public signed-integer value.
func NewPublicInteger(v *big.Int) Value {
	return Value{typ: NewPrimitive(Public, Integer), publicInt: new(big.Int).Set(v)}
}

// PublicInteger returns the underlying big.Int, or ErrTypeMismatch.
func (v Value) PublicInteger() (*big.Int, error) {
	if v.publicInt == nil {
		return nil, ErrTypeMismatch
	}
	return v.publicInt, nil
}

// NewSecretInteger builds a secret-shared signed-integer value from this
// party's field share.
func NewSecretInteger(share field.Element) Value {
	return Value{typ: NewPrimitive(Secret, Integer), secretInt: &share}
}

// SecretInteger returns this party's share, or ErrTypeMismatch.
func (v Value) SecretInteger() (field.Element, error) {
	if v.secretInt == nil {
		return field.Element{}, ErrTypeMismatch
	}
	return *v.secretInt, nil
}

// NewPublicBoolean builds a public boolean value.
func NewPublicBoolean(b bool) Value {
	return Value{typ: NewPrimitive(Public, Boolean), boolVal: &b}
}

// PublicBoolean returns the underlying bool, or ErrTypeMismatch.
func (v Value) PublicBoolean() (bool, error) {
	if v.boolVal == nil {
		return false, ErrTypeMismatch
	}
	return *v.boolVal, nil
}

// NewSecretBoolean builds a secret-shared boolean value from this party's
// 0/1 field share.
func NewSecretBoolean(share field.Element) Value {
	return Value{typ: NewPrimitive(Secret, Boolean), secretBool: &share}
}

// SecretBoolean returns this party's 0/1 share, or ErrTypeMismatch.
func (v Value) SecretBoolean() (field.Element, error) {
	if v.secretBool == nil {
		return field.Element{}, ErrTypeMismatch
	}
	return *v.secretBool, nil
}

// NewPublicBlob builds a public opaque byte blob.
func NewPublicBlob(data []byte) Value {
	cp := append([]byte(nil), data...)
	return Value{typ: NewPrimitive(Public, Blob), blob: cp}
}

// Blob returns the underlying bytes, or ErrTypeMismatch.
func (v Value) Blob() ([]byte, error) {
	if v.blob == nil {
		return nil, ErrTypeMismatch
	}
	return v.blob, nil
}

// NewSecretKeyShare builds a secret ECDSA or EdDSA private-key share,
// tagged with the given primitive (EcdsaPrivateKey or EddsaPrivateKey).
func NewSecretKeyShare(primitive Primitive, share field.Element) Value {
	return Value{typ: NewPrimitive(Secret, primitive), secretKeyShare: &share}
}

// SecretKeyShare returns the private-key share, or ErrTypeMismatch.
func (v Value) SecretKeyShare() (field.Element, error) {
	if v.secretKeyShare == nil {
		return field.Element{}, ErrTypeMismatch
	}
	return *v.secretKeyShare, nil
}

// NewEcdsaPublicKey builds a public ECDSA public-key value.
func NewEcdsaPublicKey(pub *secp256k1.PublicKey) Value {
	return Value{typ: NewPrimitive(Public, EcdsaPublicKey), ecdsaPub: pub}
}

// EcdsaPublicKey returns the public key, or ErrTypeMismatch.
func (v Value) EcdsaPublicKey() (*secp256k1.PublicKey, error) {
	if v.ecdsaPub == nil {
		return nil, ErrTypeMismatch
	}
	return v.ecdsaPub, nil
}

// NewEcdsaSignature builds a public ECDSA signature value.
func NewEcdsaSignature(sig EcdsaSignature) Value {
	return Value{typ: NewPrimitive(Public, EcdsaSignature), ecdsaSig: &sig}
}

// EcdsaSignature returns the (r, s) pair, or ErrTypeMismatch.
func (v Value) EcdsaSignature() (EcdsaSignature, error) {
	if v.ecdsaSig == nil {
		return EcdsaSignature{}, ErrTypeMismatch
	}
	return *v.ecdsaSig, nil
}

// NewEcdsaDigestMessage builds a public fixed-size message digest value
// destined for threshold ECDSA signing.
func NewEcdsaDigestMessage(digest []byte) Value {
	cp := append([]byte(nil), digest...)
	return Value{typ: NewPrimitive(Public, EcdsaDigestMessage), digest: cp}
}

// EcdsaDigestMessage returns the digest bytes, or ErrTypeMismatch.
func (v Value) EcdsaDigestMessage() ([]byte, error) {
	if v.digest == nil {
		return nil, ErrTypeMismatch
	}
	return v.digest, nil
}

// NewEddsaPublicKey builds a public EdDSA public-key value.
func NewEddsaPublicKey(pub ed25519.PublicKey) Value {
	return Value{typ: NewPrimitive(Public, EddsaPublicKey), eddsaPub: pub}
}

// EddsaPublicKey returns the public key, or ErrTypeMismatch.
func (v Value) EddsaPublicKey() (ed25519.PublicKey, error) {
	if v.eddsaPub == nil {
		return nil, ErrTypeMismatch
	}
	return v.eddsaPub, nil
}

// NewEddsaSignature builds a public EdDSA signature value.
func NewEddsaSignature(sig []byte) Value {
	cp := append([]byte(nil), sig...)
	return Value{typ: NewPrimitive(Public, EddsaSignature), eddsaSig: cp}
}

// EddsaSignature returns the signature bytes, or ErrTypeMismatch.
func (v Value) EddsaSignature() ([]byte, error) {
	if v.eddsaSig == nil {
		return nil, ErrTypeMismatch
	}
	return v.eddsaSig, nil
}

// NewStoreID builds a public store-id value (an opaque handle to
// out-of-band stored material).
func NewStoreID(id []byte) Value {
	cp := append([]byte(nil), id...)
	return Value{typ: NewPrimitive(Public, StoreID), storeID: cp}
}

// StoreID returns the id bytes, or ErrTypeMismatch.
func (v Value) StoreID() ([]byte, error) {
	if v.storeID == nil {
		return nil, ErrTypeMismatch
	}
	return v.storeID, nil
}

// NewArrayValue builds a fixed-size homogeneous array value. Every element
// must share the same Type.
func NewArrayValue(elementType Type, elements []Value) (Value, error) {
	for i, e := range elements {
		if !e.typ.Equal(elementType) {
			return Value{}, fmt.Errorf("nada: array element %d has type %s, want %s", i, e.typ, elementType)
		}
	}
	typ, err := NewArray(elementType, len(elements))
	if err != nil {
		return Value{}, err
	}
	cp := make([]Value, len(elements))
	copy(cp, elements)
	return Value{typ: typ, array: cp}, nil
}

// Array returns the element values, or ErrTypeMismatch.
func (v Value) Array() ([]Value, error) {
	if v.array == nil {
		return nil, ErrTypeMismatch
	}
	return v.array, nil
}

// NewTupleValue builds a two-element tuple value.
func NewTupleValue(first, second Value) Value {
	typ := NewTuple(first.typ, second.typ)
	pair := [2]Value{first, second}
	return Value{typ: typ, tuple: &pair}
}

// Tuple returns the two element values, or ErrTypeMismatch.
func (v Value) Tuple() ([2]Value, error) {
	if v.tuple == nil {
		return [2]Value{}, ErrTypeMismatch
	}
	return *v.tuple, nil
}

// NewObjectValue builds an object value from an ordered set of named
// fields.
func NewObjectValue(kind Kind, fields []Field, values map[string]Value) (Value, error) {
	typ, err := NewObject(kind, fields)
	if err != nil {
		return Value{}, err
	}
	obj := make(map[string]Value, len(fields))
	for _, f := range fields {
		val, ok := values[f.Name]
		if !ok {
			return Value{}, fmt.Errorf("nada: missing object field %q", f.Name)
		}
		if !val.typ.Equal(f.Type) {
			return Value{}, fmt.Errorf("nada: object field %q has type %s, want %s", f.Name, val.typ, f.Type)
		}
		obj[f.Name] = val
	}
	return Value{typ: typ, object: obj}, nil
}

// Object returns the field name to value map, or ErrTypeMismatch.
func (v Value) Object() (map[string]Value, error) {
	if v.object == nil {
		return nil, ErrTypeMismatch
	}
	return v.object, nil
}
