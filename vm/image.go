package vm

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Image: compiled-program wire format
// ---------------------------------------------------------------------------

// ImageVersion is bumped whenever the encoding changes incompatibly.
const ImageVersion = 1

// cborEncMode uses canonical options so the same program always encodes
// to the same bytes.
var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("image: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Image is a self-contained serialized program: the compiled top-level
// function plus provenance metadata.
type Image struct {
	Version    int       `cbor:"1,keyasint"`
	SourceHash [32]byte  `cbor:"2,keyasint"`
	Session    string    `cbor:"3,keyasint"`
	Created    int64     `cbor:"4,keyasint"`
	Root       imageFunc `cbor:"5,keyasint"`
}

// Constant tags within an image.
const (
	imageConstNil byte = iota
	imageConstBool
	imageConstNumber
	imageConstString
	imageConstFunction
)

// imageConst is one tagged constant-pool entry.
type imageConst struct {
	Tag  byte       `cbor:"1,keyasint"`
	Bool bool       `cbor:"2,keyasint,omitempty"`
	Num  float64    `cbor:"3,keyasint,omitempty"`
	Str  string     `cbor:"4,keyasint,omitempty"`
	Fn   *imageFunc `cbor:"5,keyasint,omitempty"`
}

// imageUpvalue mirrors UpvalueDesc.
type imageUpvalue struct {
	Index   byte `cbor:"1,keyasint"`
	IsLocal bool `cbor:"2,keyasint"`
}

// imageLineRun mirrors LineRun.
type imageLineRun struct {
	Offset int `cbor:"1,keyasint"`
	Line   int `cbor:"2,keyasint"`
}

// imageFunc is a serialized function, with nested functions encoded
// recursively through the constant pool.
type imageFunc struct {
	Name      string         `cbor:"1,keyasint"`
	Arity     int            `cbor:"2,keyasint"`
	Upvalues  []imageUpvalue `cbor:"3,keyasint"`
	Code      []byte         `cbor:"4,keyasint"`
	Lines     []imageLineRun `cbor:"5,keyasint"`
	Constants []imageConst   `cbor:"6,keyasint"`
}

// ---------------------------------------------------------------------------
// Encoding
// ---------------------------------------------------------------------------

// MarshalImage serializes a compiled top-level function to canonical CBOR
// bytes, stamped with the source hash and session that produced it.
func MarshalImage(root *FunctionObject, sourceHash [32]byte, session string, created int64) ([]byte, error) {
	img := Image{
		Version:    ImageVersion,
		SourceHash: sourceHash,
		Session:    session,
		Created:    created,
		Root:       encodeFunction(root),
	}
	data, err := cborEncMode.Marshal(&img)
	if err != nil {
		return nil, fmt.Errorf("image: marshal program: %w", err)
	}
	return data, nil
}

func encodeFunction(fn *FunctionObject) imageFunc {
	out := imageFunc{
		Name:  fn.Name,
		Arity: fn.Arity,
		Code:  fn.Chunk.Code,
	}
	for _, u := range fn.Upvalues {
		out.Upvalues = append(out.Upvalues, imageUpvalue{Index: u.Index, IsLocal: u.IsLocal})
	}
	for _, run := range fn.Chunk.Lines {
		out.Lines = append(out.Lines, imageLineRun{Offset: run.Offset, Line: run.Line})
	}
	for _, constant := range fn.Chunk.Constants {
		out.Constants = append(out.Constants, encodeConstant(constant))
	}
	return out
}

func encodeConstant(v Value) imageConst {
	switch {
	case v == Nil:
		return imageConst{Tag: imageConstNil}
	case v.IsBool():
		return imageConst{Tag: imageConstBool, Bool: v.Bool()}
	case v.IsNumber():
		return imageConst{Tag: imageConstNumber, Num: v.Number()}
	}
	switch v.Kind() {
	case KindString:
		return imageConst{Tag: imageConstString, Str: asString(v.object()).S}
	case KindFunction:
		fn := encodeFunction(asFunction(v.object()))
		return imageConst{Tag: imageConstFunction, Fn: &fn}
	default:
		panic(fmt.Sprintf("image: constant pool holds a %s object", v.Kind()))
	}
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

// UnmarshalImage decodes an image and reallocates its program through the
// heap, so decoded functions and strings are GC-managed exactly like
// compiled ones.
func UnmarshalImage(data []byte, heap *Heap) (*FunctionObject, *Image, error) {
	var img Image
	if err := cbor.Unmarshal(data, &img); err != nil {
		return nil, nil, fmt.Errorf("image: unmarshal program: %w", err)
	}
	if img.Version != ImageVersion {
		return nil, nil, fmt.Errorf("image: version %d not supported (want %d)",
			img.Version, ImageVersion)
	}
	root, err := decodeFunction(&img.Root, heap)
	if err != nil {
		return nil, nil, err
	}
	return root, &img, nil
}

func decodeFunction(in *imageFunc, heap *Heap) (*FunctionObject, error) {
	fn := heap.NewFunction(in.Name, in.Arity)
	// Pin the function across the nested allocations below.
	heap.Retain(fn.ToValue())
	defer heap.Release(fn.ToValue())

	for _, u := range in.Upvalues {
		fn.Upvalues = append(fn.Upvalues, UpvalueDesc{Index: u.Index, IsLocal: u.IsLocal})
	}
	fn.Chunk.Code = append([]byte(nil), in.Code...)
	for _, run := range in.Lines {
		fn.Chunk.Lines = append(fn.Chunk.Lines, LineRun{Offset: run.Offset, Line: run.Line})
	}
	for i, constant := range in.Constants {
		value, err := decodeConstant(&constant, heap)
		if err != nil {
			return nil, fmt.Errorf("image: constant %d of %q: %w", i, in.Name, err)
		}
		fn.Chunk.Constants = append(fn.Chunk.Constants, value)
	}
	return fn, nil
}

func decodeConstant(in *imageConst, heap *Heap) (Value, error) {
	switch in.Tag {
	case imageConstNil:
		return Nil, nil
	case imageConstBool:
		return FromBool(in.Bool), nil
	case imageConstNumber:
		return FromNumber(in.Num), nil
	case imageConstString:
		return heap.InternString(in.Str).ToValue(), nil
	case imageConstFunction:
		if in.Fn == nil {
			return Nil, fmt.Errorf("function constant missing body")
		}
		fn, err := decodeFunction(in.Fn, heap)
		if err != nil {
			return Nil, err
		}
		return fn.ToValue(), nil
	default:
		return Nil, fmt.Errorf("unknown constant tag %d", in.Tag)
	}
}
