// Copyright (C) 1994-2025 Lua.org, PUC-Rio.
// Copyright 2025 The lunar Authors
// SPDX-License-Identifier: MIT

package luacode

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// Signature is the magic header for a binary (pre-compiled) chunk.
// Data with this prefix can be loaded with [*Prototype.UnmarshalBinary].
const Signature = "\x1bLua"

const (
	chunkVersion byte = 5*16 + 4
	chunkFormat  byte = 0
	// chunkTail guards against text-mode transfer corruption.
	chunkTail = "\x19\x93\r\n\x1a\n"

	chunkIntSize         = 4
	chunkSizeTSize       = 8
	chunkInstructionSize = 4
	chunkIntegerSize     = 8
	chunkNumberSize      = 8

	chunkTestInteger int64   = 0x5678
	chunkTestNumber  float64 = 370.5
)

// Constant tags in the serialized form.
const (
	chunkTagNil     byte = 0
	chunkTagFalse   byte = 1
	chunkTagTrue    byte = 0x11
	chunkTagFloat   byte = 3
	chunkTagInteger byte = 0x13
	chunkTagString  byte = 4
)

// MarshalBinary serializes the function as a pre-compiled chunk.
func (f *Prototype) MarshalBinary() ([]byte, error) {
	var buf []byte
	buf = append(buf, Signature...)
	buf = append(buf, chunkVersion, chunkFormat)
	buf = append(buf, chunkTail...)
	buf = append(buf, chunkIntSize, chunkSizeTSize, chunkInstructionSize, chunkIntegerSize, chunkNumberSize)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(chunkTestInteger))
	buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(chunkTestNumber))

	if len(f.Upvalues) > 0xff {
		return nil, fmt.Errorf("dump lua chunk: too many upvalues (%d)", len(f.Upvalues))
	}
	buf = append(buf, byte(len(f.Upvalues)))
	return dumpFunction(buf, f, "")
}

func dumpFunction(buf []byte, f *Prototype, parentSource Source) ([]byte, error) {
	if f.Source == "" || f.Source == parentSource {
		buf = dumpString(buf, "")
	} else {
		buf = dumpString(buf, string(f.Source))
	}
	buf = dumpInt(buf, f.LineDefined)
	buf = dumpInt(buf, f.LastLineDefined)
	buf = append(buf, f.NumParams)
	buf = dumpBool(buf, f.IsVararg)
	buf = append(buf, f.MaxStackSize)

	buf = dumpInt(buf, len(f.Code))
	for _, inst := range f.Code {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(inst))
	}

	buf = dumpInt(buf, len(f.Constants))
	for i, value := range f.Constants {
		switch {
		case value.IsNil():
			buf = append(buf, chunkTagNil)
		case value.IsBoolean():
			if b, _ := value.Bool(); b {
				buf = append(buf, chunkTagTrue)
			} else {
				buf = append(buf, chunkTagFalse)
			}
		case value.IsInteger():
			n, _ := value.Int64()
			buf = append(buf, chunkTagInteger)
			buf = binary.LittleEndian.AppendUint64(buf, uint64(n))
		case value.IsNumber():
			n, _ := value.Float64()
			buf = append(buf, chunkTagFloat)
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(n))
		case value.IsString():
			s, _ := value.Unquoted()
			buf = append(buf, chunkTagString)
			buf = dumpString(buf, s)
		default:
			return nil, fmt.Errorf("dump lua chunk: constant %d cannot be represented", i)
		}
	}

	buf = dumpInt(buf, len(f.Upvalues))
	for _, uv := range f.Upvalues {
		buf = dumpBool(buf, uv.InStack)
		buf = append(buf, uv.Index, byte(uv.Kind))
	}

	buf = dumpInt(buf, len(f.Functions))
	for _, p := range f.Functions {
		var err error
		buf, err = dumpFunction(buf, p, f.Source)
		if err != nil {
			return nil, err
		}
	}

	// Debug information.
	packed := packLineInfo(f, f.LineDefined)
	buf = dumpInt(buf, len(packed.rel))
	for _, d := range packed.rel {
		buf = append(buf, byte(d))
	}
	buf = dumpInt(buf, len(packed.abs))
	for _, a := range packed.abs {
		buf = dumpInt(buf, a.pc)
		buf = dumpInt(buf, a.line)
	}

	buf = dumpInt(buf, len(f.LocalVariables))
	for _, v := range f.LocalVariables {
		buf = dumpString(buf, v.Name)
		buf = dumpInt(buf, v.StartPC)
		buf = dumpInt(buf, v.EndPC)
		buf = append(buf, v.Register)
		var attrib byte
		switch {
		case v.IsConst:
			attrib = byte(LocalConst)
		case v.IsClose:
			attrib = byte(ToClose)
		}
		buf = append(buf, attrib)
	}

	if !hasUpvalueNames(f) {
		buf = dumpInt(buf, 0)
	} else {
		buf = dumpInt(buf, len(f.Upvalues))
		for _, uv := range f.Upvalues {
			buf = dumpString(buf, uv.Name)
		}
	}
	return buf, nil
}

func hasUpvalueNames(f *Prototype) bool {
	for _, uv := range f.Upvalues {
		if uv.Name != "" {
			return true
		}
	}
	return false
}

func dumpInt(buf []byte, n int) []byte {
	return binary.LittleEndian.AppendUint32(buf, uint32(int32(n)))
}

func dumpBool(buf []byte, b bool) []byte {
	if b {
		return append(buf, 1)
	}
	return append(buf, 0)
}

// dumpString appends a size_t-prefixed string.
// Zero encodes the absent string;
// otherwise the stored length is len+1 followed by the raw bytes.
func dumpString(buf []byte, s string) []byte {
	if s == "" {
		return binary.LittleEndian.AppendUint64(buf, 0)
	}
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(s))+1)
	return append(buf, s...)
}

// UnmarshalBinary loads a pre-compiled chunk
// produced by [*Prototype.MarshalBinary].
func (f *Prototype) UnmarshalBinary(data []byte) error {
	r := &chunkReader{data: data}
	if err := r.header(); err != nil {
		return fmt.Errorf("load lua chunk: %v", err)
	}
	mainUpvalueCount, err := r.byte()
	if err != nil {
		return fmt.Errorf("load lua chunk: %v", err)
	}
	if err := loadFunction(f, r, UnknownSource); err != nil {
		return fmt.Errorf("load lua chunk: %v", err)
	}
	if len(r.data) > 0 {
		return errors.New("load lua chunk: trailing data")
	}
	if int(mainUpvalueCount) != len(f.Upvalues) {
		return fmt.Errorf("load lua chunk: header upvalue count (%d) != prototype upvalue count (%d)",
			mainUpvalueCount, len(f.Upvalues))
	}
	return f.Validate()
}

type chunkReader struct {
	data []byte
}

func (r *chunkReader) header() error {
	const headerSize = len(Signature) + 2 + len(chunkTail) + 5 + chunkIntegerSize + chunkNumberSize
	if len(r.data) < headerSize {
		return io.ErrUnexpectedEOF
	}
	if string(r.data[:len(Signature)]) != Signature {
		return errors.New("not a binary chunk")
	}
	r.data = r.data[len(Signature):]
	version, _ := r.byte()
	if version != chunkVersion {
		return fmt.Errorf("version mismatch (%#02x)", version)
	}
	format, _ := r.byte()
	if format != chunkFormat {
		return fmt.Errorf("format mismatch (%d)", format)
	}
	if string(r.data[:len(chunkTail)]) != chunkTail {
		return errors.New("corrupted chunk")
	}
	r.data = r.data[len(chunkTail):]
	for _, want := range [...]byte{chunkIntSize, chunkSizeTSize, chunkInstructionSize, chunkIntegerSize, chunkNumberSize} {
		got, _ := r.byte()
		if got != want {
			return fmt.Errorf("size mismatch (%d, expected %d)", got, want)
		}
	}
	testInt, err := r.uint64()
	if err != nil {
		return err
	}
	if int64(testInt) != chunkTestInteger {
		return errors.New("integer test value mismatch (endianness?)")
	}
	testNum, err := r.uint64()
	if err != nil {
		return err
	}
	if math.Float64frombits(testNum) != chunkTestNumber {
		return errors.New("number test value mismatch")
	}
	return nil
}

func (r *chunkReader) byte() (byte, error) {
	if len(r.data) == 0 {
		return 0, io.ErrUnexpectedEOF
	}
	b := r.data[0]
	r.data = r.data[1:]
	return b, nil
}

func (r *chunkReader) uint32() (uint32, error) {
	if len(r.data) < 4 {
		return 0, io.ErrUnexpectedEOF
	}
	n := binary.LittleEndian.Uint32(r.data)
	r.data = r.data[4:]
	return n, nil
}

func (r *chunkReader) uint64() (uint64, error) {
	if len(r.data) < 8 {
		return 0, io.ErrUnexpectedEOF
	}
	n := binary.LittleEndian.Uint64(r.data)
	r.data = r.data[8:]
	return n, nil
}

func (r *chunkReader) int() (int, error) {
	n, err := r.uint32()
	return int(int32(n)), err
}

// count reads a non-negative element count
// and sanity-checks it against the remaining input.
func (r *chunkReader) count(elemSize int) (int, error) {
	n, err := r.int()
	if err != nil {
		return 0, err
	}
	if n < 0 || elemSize > 0 && n > len(r.data)/elemSize+1 {
		return 0, fmt.Errorf("corrupt count %d", n)
	}
	return n, nil
}

func (r *chunkReader) string() (string, error) {
	size, err := r.uint64()
	if err != nil {
		return "", err
	}
	if size == 0 {
		return "", nil
	}
	n := int(size - 1)
	if n > len(r.data) {
		return "", io.ErrUnexpectedEOF
	}
	s := string(r.data[:n])
	r.data = r.data[n:]
	return s, nil
}

func loadFunction(f *Prototype, r *chunkReader, parentSource Source) error {
	source, err := r.string()
	if err != nil {
		return fmt.Errorf("source: %v", err)
	}
	if source == "" {
		f.Source = parentSource
	} else {
		f.Source = Source(source)
	}
	if f.LineDefined, err = r.int(); err != nil {
		return err
	}
	if f.LastLineDefined, err = r.int(); err != nil {
		return err
	}
	numParams, err := r.byte()
	if err != nil {
		return err
	}
	f.NumParams = numParams
	isVararg, err := r.byte()
	if err != nil {
		return err
	}
	f.IsVararg = isVararg != 0
	if f.MaxStackSize, err = r.byte(); err != nil {
		return err
	}

	numCode, err := r.count(chunkInstructionSize)
	if err != nil {
		return fmt.Errorf("code: %v", err)
	}
	f.Code = make([]Instruction, numCode)
	for i := range f.Code {
		inst, err := r.uint32()
		if err != nil {
			return fmt.Errorf("code: %v", err)
		}
		f.Code[i] = Instruction(inst)
	}

	numConstants, err := r.count(1)
	if err != nil {
		return fmt.Errorf("constants: %v", err)
	}
	f.Constants = nil
	if numConstants > 0 {
		f.Constants = make([]Value, 0, numConstants)
	}
	for i := 0; i < numConstants; i++ {
		tag, err := r.byte()
		if err != nil {
			return fmt.Errorf("constants: %v", err)
		}
		switch tag {
		case chunkTagNil:
			f.Constants = append(f.Constants, Value{})
		case chunkTagFalse:
			f.Constants = append(f.Constants, BoolValue(false))
		case chunkTagTrue:
			f.Constants = append(f.Constants, BoolValue(true))
		case chunkTagInteger:
			n, err := r.uint64()
			if err != nil {
				return fmt.Errorf("constants: %v", err)
			}
			f.Constants = append(f.Constants, IntegerValue(int64(n)))
		case chunkTagFloat:
			n, err := r.uint64()
			if err != nil {
				return fmt.Errorf("constants: %v", err)
			}
			f.Constants = append(f.Constants, FloatValue(math.Float64frombits(n)))
		case chunkTagString:
			s, err := r.string()
			if err != nil {
				return fmt.Errorf("constants: %v", err)
			}
			f.Constants = append(f.Constants, StringValue(s))
		default:
			return fmt.Errorf("constants: unknown tag %#02x", tag)
		}
	}

	numUpvalues, err := r.count(3)
	if err != nil {
		return fmt.Errorf("upvalues: %v", err)
	}
	f.Upvalues = nil
	if numUpvalues > 0 {
		f.Upvalues = make([]UpvalueDescriptor, numUpvalues)
	}
	for i := range f.Upvalues {
		inStack, err := r.byte()
		if err != nil {
			return fmt.Errorf("upvalues: %v", err)
		}
		index, err := r.byte()
		if err != nil {
			return fmt.Errorf("upvalues: %v", err)
		}
		kind, err := r.byte()
		if err != nil {
			return fmt.Errorf("upvalues: %v", err)
		}
		if !VariableKind(kind).isValid() {
			return fmt.Errorf("upvalues: invalid kind %d", kind)
		}
		f.Upvalues[i] = UpvalueDescriptor{
			InStack: inStack != 0,
			Index:   index,
			Kind:    VariableKind(kind),
		}
	}

	numFunctions, err := r.count(1)
	if err != nil {
		return fmt.Errorf("functions: %v", err)
	}
	f.Functions = nil
	if numFunctions > 0 {
		f.Functions = make([]*Prototype, numFunctions)
	}
	for i := range f.Functions {
		f.Functions[i] = new(Prototype)
		if err := loadFunction(f.Functions[i], r, f.Source); err != nil {
			return err
		}
	}

	// Debug information.
	numRel, err := r.count(1)
	if err != nil {
		return fmt.Errorf("line info: %v", err)
	}
	packed := packedLineInfo{rel: make([]int8, numRel)}
	for i := range packed.rel {
		b, err := r.byte()
		if err != nil {
			return fmt.Errorf("line info: %v", err)
		}
		packed.rel[i] = int8(b)
	}
	numAbs, err := r.count(2 * chunkIntSize)
	if err != nil {
		return fmt.Errorf("line info: %v", err)
	}
	packed.abs = make([]absLineEntry, numAbs)
	for i := range packed.abs {
		if packed.abs[i].pc, err = r.int(); err != nil {
			return fmt.Errorf("line info: %v", err)
		}
		if packed.abs[i].line, err = r.int(); err != nil {
			return fmt.Errorf("line info: %v", err)
		}
	}
	if numRel > 0 {
		f.LineEvents = unpackLineInfo(packed, f.LineDefined)
	}

	numLocals, err := r.count(chunkSizeTSize)
	if err != nil {
		return fmt.Errorf("local variables: %v", err)
	}
	f.LocalVariables = nil
	if numLocals > 0 {
		f.LocalVariables = make([]LocalVariable, numLocals)
	}
	for i := range f.LocalVariables {
		v := &f.LocalVariables[i]
		if v.Name, err = r.string(); err != nil {
			return fmt.Errorf("local variables: %v", err)
		}
		if v.StartPC, err = r.int(); err != nil {
			return fmt.Errorf("local variables: %v", err)
		}
		if v.EndPC, err = r.int(); err != nil {
			return fmt.Errorf("local variables: %v", err)
		}
		if v.Register, err = r.byte(); err != nil {
			return fmt.Errorf("local variables: %v", err)
		}
		attrib, err := r.byte()
		if err != nil {
			return fmt.Errorf("local variables: %v", err)
		}
		v.IsConst = VariableKind(attrib) == LocalConst
		v.IsClose = VariableKind(attrib) == ToClose
	}

	numUpvalueNames, err := r.count(chunkSizeTSize)
	if err != nil {
		return fmt.Errorf("upvalue names: %v", err)
	}
	if numUpvalueNames > len(f.Upvalues) {
		return fmt.Errorf("upvalue names: count %d exceeds upvalue count %d", numUpvalueNames, len(f.Upvalues))
	}
	for i := 0; i < numUpvalueNames; i++ {
		if f.Upvalues[i].Name, err = r.string(); err != nil {
			return fmt.Errorf("upvalue names: %v", err)
		}
	}
	return nil
}
