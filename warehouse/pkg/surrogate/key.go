package surrogate

import (
	"crypto/md5"
	"math/big"

	"github.com/malbeclabs/citylake/warehouse/pkg/canon"
	"github.com/malbeclabs/citylake/warehouse/pkg/table"
)

// Modulus bounds every surrogate key to [0, Modulus).
const Modulus = 1_000_000_000

var modulus = big.NewInt(Modulus)

// NaturalKey is an ordered tuple of natural-key values. Order is part of the key: the same values
// in a different order produce a different surrogate.
type NaturalKey struct {
	Values []any
}

type SurrogateKey int64

func NewNaturalKey(values ...any) *NaturalKey {
	return &NaturalKey{
		Values: values,
	}
}

// ToSurrogate canonicalizes each value, joins them with "|", takes the MD5 digest as a big-endian
// unsigned integer and reduces it modulo 10^9.
//
// Collisions are not detected. Two distinct tuples that collide are the same dimension row.
func (k *NaturalKey) ToSurrogate() SurrogateKey {
	sum := md5.Sum([]byte(canon.Join(k.Values...)))
	n := new(big.Int).SetBytes(sum[:])
	return SurrogateKey(n.Mod(n, modulus).Int64())
}

// ForRecord computes the surrogate key of a record over fields, in the given order. Fields the
// record lacks contribute an empty value.
func ForRecord(rec table.Record, fields []string) SurrogateKey {
	values := make([]any, len(fields))
	for i, f := range fields {
		values[i] = rec[f]
	}
	return NewNaturalKey(values...).ToSurrogate()
}

// ForRow computes the surrogate key of row i of t over fields.
func ForRow(t *table.Table, i int, fields []string) SurrogateKey {
	values := make([]any, len(fields))
	for k, f := range fields {
		values[k] = t.Value(i, f)
	}
	return NewNaturalKey(values...).ToSurrogate()
}
