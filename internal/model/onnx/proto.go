package onnx

import (
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers from onnx.proto3.
const (
	modelIRVersion     = 1
	modelProducerName  = 2
	modelProducerVer   = 3
	modelDomain        = 4
	modelVersion       = 5
	modelDocString     = 6
	modelGraph         = 7
	modelOpsetImport   = 8
	modelMetadataProps = 14

	opsetDomain  = 1
	opsetVersion = 2

	graphNode        = 1
	graphName        = 2
	graphInitializer = 5
	graphInput       = 11
	graphOutput      = 12

	nodeInput  = 1
	nodeOutput = 2
	nodeName   = 3
	nodeOpType = 4
	nodeAttr   = 5
	nodeDomain = 7

	attrName    = 1
	attrF       = 2
	attrI       = 3
	attrS       = 4
	attrFloats  = 7
	attrInts    = 8
	attrStrings = 9
	attrType    = 20

	tensorDims      = 1
	tensorDataType  = 2
	tensorFloatData = 4
	tensorInt64Data = 7
	tensorName      = 8

	valueInfoName = 1
	valueInfoType = 2

	typeTensor       = 1
	tensorElemType   = 1
	tensorShape      = 2
	shapeDim         = 1
	dimValue         = 1
	dimParam         = 2
	stringEntryKey   = 1
	stringEntryValue = 2
)

// Attribute and tensor element types.
const (
	attrTypeFloat   = 1
	attrTypeInt     = 2
	attrTypeString  = 3
	attrTypeFloats  = 6
	attrTypeInts    = 7
	attrTypeStrings = 8

	elemFloat = 1
	elemBool  = 9
	elemInt64 = 7
)

// msg is a protobuf message under construction.
type msg []byte

func (m msg) bytes(num protowire.Number, b []byte) msg {
	m = protowire.AppendTag(m, num, protowire.BytesType)
	return protowire.AppendBytes(m, b)
}

func (m msg) str(num protowire.Number, s string) msg {
	return m.bytes(num, []byte(s))
}

func (m msg) varint(num protowire.Number, v int64) msg {
	m = protowire.AppendTag(m, num, protowire.VarintType)
	return protowire.AppendVarint(m, uint64(v))
}

func (m msg) float(num protowire.Number, v float32) msg {
	m = protowire.AppendTag(m, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(m, math.Float32bits(v))
}

func (m msg) packedFloats(num protowire.Number, vs []float32) msg {
	var buf []byte
	for _, v := range vs {
		buf = protowire.AppendFixed32(buf, math.Float32bits(v))
	}
	return m.bytes(num, buf)
}

func (m msg) packedInts(num protowire.Number, vs []int64) msg {
	var buf []byte
	for _, v := range vs {
		buf = protowire.AppendVarint(buf, uint64(v))
	}
	return m.bytes(num, buf)
}

func attrInt(name string, v int64) msg {
	return msg(nil).str(attrName, name).varint(attrI, v).varint(attrType, attrTypeInt)
}

func attrFloat(name string, v float32) msg {
	return msg(nil).str(attrName, name).float(attrF, v).varint(attrType, attrTypeFloat)
}

func attrString(name, v string) msg {
	return msg(nil).str(attrName, name).str(attrS, v).varint(attrType, attrTypeString)
}

func attrFloatList(name string, vs []float32) msg {
	return msg(nil).str(attrName, name).packedFloats(attrFloats, vs).varint(attrType, attrTypeFloats)
}

func attrIntList(name string, vs []int64) msg {
	return msg(nil).str(attrName, name).packedInts(attrInts, vs).varint(attrType, attrTypeInts)
}

func attrStringList(name string, vs []string) msg {
	m := msg(nil).str(attrName, name)
	for _, v := range vs {
		m = m.str(attrStrings, v)
	}
	return m.varint(attrType, attrTypeStrings)
}

func node(opType, domain, name string, inputs, outputs []string, attrs ...msg) msg {
	m := msg(nil)
	for _, in := range inputs {
		m = m.str(nodeInput, in)
	}
	for _, out := range outputs {
		m = m.str(nodeOutput, out)
	}
	m = m.str(nodeName, name).str(nodeOpType, opType)
	for _, a := range attrs {
		m = m.bytes(nodeAttr, a)
	}
	if domain != "" {
		m = m.str(nodeDomain, domain)
	}
	return m
}

func floatTensor(name string, dims []int64, vs []float32) msg {
	return msg(nil).packedInts(tensorDims, dims).varint(tensorDataType, elemFloat).
		packedFloats(tensorFloatData, vs).str(tensorName, name)
}

func int64Tensor(name string, dims []int64, vs []int64) msg {
	return msg(nil).packedInts(tensorDims, dims).varint(tensorDataType, elemInt64).
		packedInts(tensorInt64Data, vs).str(tensorName, name)
}

// dim is either a fixed size or a symbolic name.
type dim struct {
	value int64
	param string
}

func valueInfo(name string, elem int64, dims ...dim) msg {
	shape := msg(nil)
	for _, d := range dims {
		dm := msg(nil)
		if d.param != "" {
			dm = dm.str(dimParam, d.param)
		} else {
			dm = dm.varint(dimValue, d.value)
		}
		shape = shape.bytes(shapeDim, dm)
	}
	tensor := msg(nil).varint(tensorElemType, elem).bytes(tensorShape, shape)
	typ := msg(nil).bytes(typeTensor, tensor)
	return msg(nil).str(valueInfoName, name).bytes(valueInfoType, typ)
}

func opset(domain string, version int64) msg {
	m := msg(nil)
	if domain != "" {
		m = m.str(opsetDomain, domain)
	}
	return m.varint(opsetVersion, version)
}

func stringEntry(key, value string) msg {
	return msg(nil).str(stringEntryKey, key).str(stringEntryValue, value)
}
