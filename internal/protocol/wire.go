package protocol

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/annel0/voxel-world/internal/vec"
	"github.com/annel0/voxel-world/internal/world"
)

func appendUint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendSint(b []byte, num protowire.Number, v int64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeZigZag(v))
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	return appendUint(b, num, 1)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

// appendChunk always writes the field so the origin chunk survives a round trip.
func appendChunk(b []byte, num protowire.Number, c vec.ChunkCoord) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, world.AppendCoord(nil, c))
}

func appendPos(b []byte, num protowire.Number, p vec.Vec3) []byte {
	var body []byte
	body = appendSint(body, 1, int64(p.X))
	body = appendSint(body, 2, int64(p.Y))
	body = appendSint(body, 3, int64(p.Z))
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, body)
}

func parsePos(b []byte) (vec.Vec3, error) {
	var p vec.Vec3
	err := scan(b, func(num protowire.Number, v uint64, _ []byte) error {
		n := int(protowire.DecodeZigZag(v))
		switch num {
		case 1:
			p.X = n
		case 2:
			p.Y = n
		case 3:
			p.Z = n
		}
		return nil
	})
	return p, err
}

// scan walks a message body. Varint fields arrive in v and length-delimited
// fields in raw; fixed-width and unknown fields are skipped so newer peers
// can add fields without breaking older ones.
func scan(b []byte, fn func(num protowire.Number, v uint64, raw []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		var (
			v    uint64
			raw  []byte
			emit = true
		)
		switch typ {
		case protowire.VarintType:
			v, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			raw, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			emit = false
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		if !emit {
			continue
		}
		if err := fn(num, v, raw); err != nil {
			return err
		}
	}
	return nil
}
