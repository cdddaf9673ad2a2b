package protocol

import (
	"github.com/tinylib/msgp/msgp"
)

// Rewards is a per-episode reward array. It is written as float64 but read
// from any msgpack number, since simulators emit integral rewards as ints
// and may narrow to float32. Nil decodes to a nil slice.
type Rewards []float64

// EncodeMsg implements msgp.Encodable.
func (r Rewards) EncodeMsg(en *msgp.Writer) error {
	if err := en.WriteArrayHeader(uint32(len(r))); err != nil {
		return err
	}
	for i, v := range r {
		if err := en.WriteFloat64(v); err != nil {
			return msgp.WrapError(err, i)
		}
	}
	return nil
}

// DecodeMsg implements msgp.Decodable.
func (r *Rewards) DecodeMsg(dc *msgp.Reader) error {
	if dc.IsNil() {
		*r = nil
		return dc.ReadNil()
	}
	sz, err := dc.ReadArrayHeader()
	if err != nil {
		return err
	}
	out := make(Rewards, sz)
	for i := range out {
		t, err := dc.NextType()
		if err != nil {
			return msgp.WrapError(err, i)
		}
		switch t {
		case msgp.IntType:
			var v int64
			v, err = dc.ReadInt64()
			out[i] = float64(v)
		case msgp.UintType:
			var v uint64
			v, err = dc.ReadUint64()
			out[i] = float64(v)
		case msgp.Float32Type:
			var v float32
			v, err = dc.ReadFloat32()
			out[i] = float64(v)
		default:
			out[i], err = dc.ReadFloat64()
		}
		if err != nil {
			return msgp.WrapError(err, i)
		}
	}
	*r = out
	return nil
}

// MarshalMsg implements msgp.Marshaler.
func (r Rewards) MarshalMsg(b []byte) ([]byte, error) {
	o := msgp.Require(b, r.Msgsize())
	o = msgp.AppendArrayHeader(o, uint32(len(r)))
	for _, v := range r {
		o = msgp.AppendFloat64(o, v)
	}
	return o, nil
}

// UnmarshalMsg implements msgp.Unmarshaler.
func (r *Rewards) UnmarshalMsg(bts []byte) ([]byte, error) {
	if msgp.IsNil(bts) {
		*r = nil
		return msgp.ReadNilBytes(bts)
	}
	sz, bts, err := msgp.ReadArrayHeaderBytes(bts)
	if err != nil {
		return bts, err
	}
	out := make(Rewards, sz)
	for i := range out {
		switch msgp.NextType(bts) {
		case msgp.IntType:
			var v int64
			v, bts, err = msgp.ReadInt64Bytes(bts)
			out[i] = float64(v)
		case msgp.UintType:
			var v uint64
			v, bts, err = msgp.ReadUint64Bytes(bts)
			out[i] = float64(v)
		case msgp.Float32Type:
			var v float32
			v, bts, err = msgp.ReadFloat32Bytes(bts)
			out[i] = float64(v)
		default:
			out[i], bts, err = msgp.ReadFloat64Bytes(bts)
		}
		if err != nil {
			return bts, msgp.WrapError(err, i)
		}
	}
	*r = out
	return bts, nil
}

// Msgsize returns an upper bound on the encoded size.
func (r Rewards) Msgsize() int {
	return msgp.ArrayHeaderSize + len(r)*msgp.Float64Size
}
