package tracelog

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// TypeCode is the type of an event parameter. The values follow the type code
// numbering that EventPipe consumers expect.
type TypeCode uint32

const (
	TypeObject   TypeCode = 1
	TypeBoolean  TypeCode = 3
	TypeChar     TypeCode = 4
	TypeSByte    TypeCode = 5
	TypeByte     TypeCode = 6
	TypeInt16    TypeCode = 7
	TypeUInt16   TypeCode = 8
	TypeInt32    TypeCode = 9
	TypeUInt32   TypeCode = 10
	TypeInt64    TypeCode = 11
	TypeUInt64   TypeCode = 12
	TypeSingle   TypeCode = 13
	TypeDouble   TypeCode = 14
	TypeDecimal  TypeCode = 15
	TypeDateTime TypeCode = 16
	TypeGUID     TypeCode = 17
	TypeString   TypeCode = 18
)

// ParameterInfo is the name and type of one event parameter.
type ParameterInfo struct {
	_    struct{} `cbor:",toarray"`
	Name string
	Type TypeCode
}

// Param returns a ParameterInfo.
func Param(name string, typ TypeCode) ParameterInfo {
	return ParameterInfo{Name: name, Type: typ}
}

// Metadata is the decoded form of a metadata blob.
type Metadata struct {
	EventID  uint32
	Name     string
	Keywords Keywords
	Version  uint32
	Level    EventLevel
	Params   []ParameterInfo
}

// Metadata blob layout, little-endian:
//
// +--------+---------+----------+---------+-------+------------+------------+
// | 0..3   | 4..7    | 8..15    | 16..19  | 20..23| 24..27     | 28..       |
// +--------+---------+----------+---------+-------+------------+------------+
// | "TLM1" | eventID | keywords | version | level | paramCount | CBOR body  |
// +--------+---------+----------+---------+-------+------------+------------+
//
// The body is [name, [[paramName, typeCode], ...]] in CBOR Core Deterministic
// Encoding, so equal shapes always produce equal blobs.
const metadataHeaderLen = 28

var metadataMagic = [4]byte{'T', 'L', 'M', '1'}

type metadataBody struct {
	_      struct{} `cbor:",toarray"`
	Name   string
	Params []ParameterInfo
}

var metadataEncMode cbor.EncMode

func init() {
	var err error
	metadataEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("tracelog: CBOR encoder initialization failed: " + err.Error())
	}
}

// EncodeMetadata returns the blob describing an event's name and ordered
// parameters, to be passed to NativeSink.DefineEvent. It is pure and
// deterministic. There is no error path: an empty name or parameter list still
// yields a well-formed blob, and callers are responsible for supplying
// meaningful shapes.
func EncodeMetadata(eventID uint32, name string, keywords Keywords, version uint32, level EventLevel, params []ParameterInfo) []byte {
	if params == nil {
		params = []ParameterInfo{}
	}

	body, err := metadataEncMode.Marshal(metadataBody{Name: name, Params: params})
	if err != nil {
		InternalLogger().Error().Err(err).Str("event", name).Msg("failed to encode event metadata body")
		body, params = nil, nil
	}

	b := make([]byte, metadataHeaderLen, metadataHeaderLen+len(body))
	copy(b[0:4], metadataMagic[:])
	binary.LittleEndian.PutUint32(b[4:8], eventID)
	binary.LittleEndian.PutUint64(b[8:16], uint64(keywords))
	binary.LittleEndian.PutUint32(b[16:20], version)
	binary.LittleEndian.PutUint32(b[20:24], uint32(level))
	binary.LittleEndian.PutUint32(b[24:28], uint32(len(params)))

	return append(b, body...)
}

// DecodeMetadata parses a blob produced by EncodeMetadata.
func DecodeMetadata(b []byte) (Metadata, error) {
	var m Metadata

	if len(b) < metadataHeaderLen {
		return m, fmt.Errorf("failed to decode metadata: %d bytes is shorter than the header", len(b))
	}
	if !bytes.Equal(b[0:4], metadataMagic[:]) {
		return m, errors.New("failed to decode metadata: bad magic")
	}

	m.EventID = binary.LittleEndian.Uint32(b[4:8])
	m.Keywords = Keywords(binary.LittleEndian.Uint64(b[8:16]))
	m.Version = binary.LittleEndian.Uint32(b[16:20])
	m.Level = EventLevel(binary.LittleEndian.Uint32(b[20:24]))
	n := binary.LittleEndian.Uint32(b[24:28])

	if len(b) == metadataHeaderLen {
		if n != 0 {
			return m, fmt.Errorf("failed to decode metadata: header declares %d parameters but the body is empty", n)
		}
		return m, nil
	}

	var body metadataBody
	if err := cbor.Unmarshal(b[metadataHeaderLen:], &body); err != nil {
		return m, fmt.Errorf("failed to decode metadata body: %w", err)
	}
	if uint32(len(body.Params)) != n {
		return m, fmt.Errorf("failed to decode metadata: header declares %d parameters, body has %d", n, len(body.Params))
	}

	m.Name = body.Name
	m.Params = body.Params
	return m, nil
}
