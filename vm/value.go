package vm

import (
	"fmt"

	"github.com/nilmpc/coren/pkg/field"
	"github.com/nilmpc/coren/pkg/nada"
)

// scalarOf extracts the single field element backing a primitive Integer
// or Boolean value, regardless of whether it is a public cleartext value
// or this party's secret share: arithmetically the two are identical field
// elements, only their wire/storage representation differs (nada.Value
// keeps a public integer as a big.Int and a secret one as a field.Element).
func scalarOf(f *field.SafePrime, v nada.Value) (field.Element, error) {
	switch v.Type().Primitive {
	case nada.Integer:
		if v.Type().Kind == nada.Secret {
			return v.SecretInteger()
		}
		n, err := v.PublicInteger()
		if err != nil {
			return field.Element{}, err
		}
		return f.NewElement(n), nil
	case nada.Boolean:
		if v.Type().Kind == nada.Secret {
			return v.SecretBoolean()
		}
		b, err := v.PublicBoolean()
		if err != nil {
			return field.Element{}, err
		}
		if b {
			return f.One(), nil
		}
		return f.Zero(), nil
	default:
		return field.Element{}, fmt.Errorf("vm: %s has no scalar representation", v.Type())
	}
}

// wrapScalar rebuilds a nada.Value of typ from a computed field element.
func wrapScalar(typ nada.Type, e field.Element) (nada.Value, error) {
	switch typ.Primitive {
	case nada.Integer:
		if typ.Kind == nada.Secret {
			return nada.NewSecretInteger(e), nil
		}
		return nada.NewPublicInteger(e.FloorMod()), nil
	case nada.Boolean:
		if typ.Kind == nada.Secret {
			return nada.NewSecretBoolean(e), nil
		}
		return nada.NewPublicBoolean(!e.IsZero()), nil
	default:
		return nada.Value{}, fmt.Errorf("vm: %s has no scalar representation", typ)
	}
}
