package modbus

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/TheCount/go-multilocker/multilocker"
)

// allDataFunctions is the list of all function codes which affect the
// Modbus data model. Must be sorted in ascending order.
var allDataFunctions = [...]FunctionCode{
	FunctionReadCoils,
	FunctionReadDiscreteInputs,
	FunctionReadHoldingRegisters,
	FunctionReadInputRegisters,
	FunctionWriteSingleCoil,
	FunctionWriteSingleRegister,
	FunctionWriteMultipleCoils,
	FunctionWriteMultipleRegisters,
	FunctionMaskWriteRegister,
	FunctionReadWriteMultipleRegisters,
}

// DataType enumerates data types for the Modbus data model.
type DataType uint8

// Data types
const (
	DataTypeDiscreteInputs DataType = iota
	DataTypeCoils
	DataTypeInputRegisters
	DataTypeHoldingRegisters
	numDataTypes = 4
)

// IsReadOnly returns true if and only if this data type is read-only for the
// Modbus client (i. e., discrete inputs or input registers).
func (dt DataType) IsReadOnly() bool {
	return dt == DataTypeDiscreteInputs || dt == DataTypeInputRegisters
}

// dataTypeNames are the names of the data types.
var dataTypeNames = [numDataTypes]string{
	"Discrete Inputs",
	"Coils",
	"Input Registers",
	"Holding Registers",
}

// numBits is the number of addressed bits per address for the data types.
var numBits = [numDataTypes]int{1, 1, 16, 16}

// String renders this data type as a string.
func (dt DataType) String() string {
	if int(dt) < len(dataTypeNames) {
		return dataTypeNames[dt]
	}
	return fmt.Sprintf("unknown data type %d", dt)
}

// NumBits returns the number of addressed bits per address for this data type.
// It panics if the data type is not known.
func (dt DataType) NumBits() int {
	return numBits[dt]
}

// DataModel describes a Modbus data model (see § 4.3 of the Modbus Application
// protocol specification).
type DataModel struct {
	// Ranges is the list of data ranges in the data model. Each range is
	// allocated its own block of memory which can be changed atomically.
	Ranges []DataRange

	// Aliases is a list of data aliases, which must alias memory defined in
	// Ranges.
	Aliases []DataAlias
}

// DataRange defines a continuous stretch of memory addresses in the Modbus
// data model.
type DataRange struct {
	// Type is the type of data for this range.
	Type DataType

	// StartAddress is the address of the first data element in the range
	// (indexed from zero).
	StartAddress uint16

	// Len is the length of the data range. Must be positive.
	Len uint16
}

// Validate checks whether this data range is valid.
func (dr DataRange) Validate() error {
	if dr.Type >= numDataTypes {
		return errors.New("unknown data type")
	}
	if dr.Len == 0 {
		return errors.New("zero length range")
	}
	end := dr.StartAddress + dr.Len
	if end > 0 && end < dr.StartAddress {
		return errors.New("length exceeds address space")
	}
	return nil
}

// DataAlias defines a continuous stretch of mirrored memory addresses in the
// Modbus data model.
type DataAlias struct {
	// Range is the data range defined by this alias.
	Range DataRange

	// Type is the data type of the original memory.
	Type DataType

	// StartAddress is the start address of the original memory.
	// StartAddress may point into the middle of an original data range, but
	// the length in Range must fit into the original range.
	StartAddress uint16

	// StartBit is the bit at StartAddress where to start the aliasing.
	// This field is used only if the defined range uses a bit type (discrete
	// inputs or coils) while the original memory uses a word type (input or
	// holding registers). Bit 0 is the least significant bit, Bit 15 the most
	// significant one.
	StartBit uint8
}

// Validate validates this data alias.
func (da *DataAlias) Validate() error {
	if err := da.Range.Validate(); err != nil {
		return fmt.Errorf("alias range: %w", err)
	}
	if da.Type >= numDataTypes {
		return fmt.Errorf("unknown original type %d", da.Type)
	}
	if da.Range.Type.NumBits()%8 != 0 && da.Type.NumBits()%8 == 0 {
		if da.StartBit >= 16 {
			return errors.New("start bit must be in [0,16)")
		}
	} else {
		if da.StartBit != 0 {
			return errors.New("cannot use StartBit in this context")
		}
	}
	return nil
}

// dataBlock describes a basic block of memory in the Modbus data model.
type dataBlock struct {
	// mx synchronises access to this data block.
	mx sync.RWMutex

	// data is the raw data of this data block.
	data []byte
}

// dataRef references data in a data block.
type dataRef struct {
	// block points to the referenced data block.
	block *dataBlock

	// blockOffset is the number of bits into block where startBit is located.
	blockOffset int

	// startBit is the start of the range of this reference.
	startBit int

	// numBits is the length of the referenced data in bits. Must fit in block,
	// i. e., blockOffset + numBits must be smaller than the length of
	// block in bits.
	numBits int
}

// Data represents Modbus data model data installed in a Modbus server.
type Data struct {
	// refs is the lists of data references according to the DataModel from
	// which this Data was created. There is one list for each data type.
	refs [numDataTypes][]dataRef
}

// NewData creates a new data backend specified by the given model. Every
// range gets its own zeroed block of memory; aliases share the block of the
// range they point into.
func NewData(model DataModel) (*Data, error) {
	d := &Data{}
	for i, dr := range model.Ranges {
		if err := dr.Validate(); err != nil {
			return nil, fmt.Errorf("data range %d invalid: %w", i, err)
		}
		size := dr.Type.NumBits() * int(dr.Len)
		d.refs[dr.Type] = append(d.refs[dr.Type], dataRef{
			block:    &dataBlock{data: make([]byte, bitBytes(size))},
			startBit: dr.Type.NumBits() * int(dr.StartAddress),
			numBits:  size,
		})
	}
	d.sortRefs()
	// Aliases may only point into original ranges, so resolve them against a
	// snapshot taken before any alias is added.
	var originals [numDataTypes][]dataRef
	for dt := range d.refs {
		originals[dt] = append([]dataRef(nil), d.refs[dt]...)
	}
	for i := range model.Aliases {
		alias, err := resolveAlias(originals[:], &model.Aliases[i])
		if err != nil {
			return nil, fmt.Errorf("alias range %d invalid: %w", i, err)
		}
		rt := model.Aliases[i].Range.Type
		d.refs[rt] = append(d.refs[rt], alias)
	}
	d.sortRefs()
	if err := d.checkOverlaps(); err != nil {
		return nil, err
	}
	return d, nil
}

// sortRefs sorts the references of each data type by start bit.
func (d *Data) sortRefs() {
	for dt := range d.refs {
		refs := d.refs[dt]
		sort.Slice(refs, func(i, j int) bool {
			return refs[i].startBit < refs[j].startBit
		})
	}
}

// resolveAlias returns the reference for da into the block of the original
// range containing its start address. originals must be sorted.
func resolveAlias(originals [][]dataRef, da *DataAlias) (dataRef, error) {
	if err := da.Validate(); err != nil {
		return dataRef{}, err
	}
	startBit := da.Type.NumBits() * int(da.StartAddress)
	refs := originals[da.Type]
	idx := sort.Search(len(refs), func(i int) bool {
		return startBit < refs[i].startBit
	})
	if idx == 0 {
		return dataRef{}, errors.New("points before first data range")
	}
	orig := refs[idx-1]
	alias := dataRef{
		block:       orig.block,
		blockOffset: startBit - orig.startBit,
		startBit:    da.Range.Type.NumBits() * int(da.Range.StartAddress),
		numBits:     da.Range.Type.NumBits() * int(da.Range.Len),
	}
	if da.Type.NumBits()%8 == 0 && da.Range.Type.NumBits()%8 != 0 {
		alias.blockOffset += int(da.StartBit)
	}
	if bitBytes(alias.blockOffset+alias.numBits) > len(orig.block.data) {
		return dataRef{}, errors.New("overflows data range")
	}
	return alias, nil
}

// checkOverlaps reports the first pair of overlapping references, if any.
// The references must be sorted.
func (d *Data) checkOverlaps() error {
	for dt := DataType(0); dt < numDataTypes; dt++ {
		next := 0
		for _, ref := range d.refs[dt] {
			if ref.startBit < next {
				return fmt.Errorf(
					"data range for %s starting at %d overlaps with previous range",
					dt, ref.startBit/dt.NumBits())
			}
			next = ref.startBit + ref.numBits
		}
	}
	return nil
}

// AddToServer adds this data backend to the specified server for the given
// unit. Normally, the data backend will be added for
// all function codes relevant to the Modbus data model. Optionally, if it is
// desired to add the data model only for a restricted set of function codes
// (e. g. because the server already uses other backends for some function
// codes), these can be given as arguments.
// It is permissible to add a single data model to multiple servers.
func (d *Data) AddToServer(
	srv *Server, unit UnitID, functions ...FunctionCode,
) error {
	// Check functions arg
	if len(functions) == 0 {
		functions = allDataFunctions[:]
	} else {
		sort.Slice(functions, func(i, j int) bool {
			return functions[i] < functions[j]
		})
		for i := 1; i < len(functions); i++ {
			if functions[i-1] == functions[i] {
				return fmt.Errorf("duplicate function code %d", functions[i])
			}
		}
		for _, f := range functions {
			idx := sort.Search(len(allDataFunctions), func(i int) bool {
				return f <= allDataFunctions[i]
			})
			if idx == len(allDataFunctions) || f != allDataFunctions[idx] {
				return fmt.Errorf("invalid data function code %d", f)
			}
		}
	}
	// Add to server
	if srv == nil {
		return errors.New("nil server")
	}
	return srv.SetFunctionHandler(d.HandleModbus, unit, functions...)
}

// getMutexen returns all mutexes necessary for the specified list of
// references.
func (*Data) getMutexen(refs []dataRef) []*sync.RWMutex {
	blocks := make(map[*dataBlock]struct{})
	result := make([]*sync.RWMutex, 0, len(refs))
	for _, ref := range refs {
		if _, ok := blocks[ref.block]; !ok {
			blocks[ref.block] = struct{}{}
			result = append(result, &ref.block.mx)
		}
	}
	return result
}

// getNeededRefs returns the references covering count bits starting at bit
// start in the specified data type. The references must cover the bits without
// gaps.
func (d *Data) getNeededRefs(dt DataType, start, count int) ([]dataRef, error) {
	result := d.refs[dt]
	end := start + count
	// strip start
	for len(result) > 0 && result[0].startBit+result[0].numBits <= start {
		result = result[1:]
	}
	// strip end
	for len(result) > 0 && result[len(result)-1].startBit >= end {
		result = result[:len(result)-1]
	}
	if len(result) == 0 || result[0].startBit > start {
		return nil, ExceptionIllegalDataAddress
	}
	last := result[len(result)-1]
	if last.startBit+last.numBits < end {
		return nil, ExceptionIllegalDataAddress
	}
	// Make sure there are no gaps
	for i := 0; i < len(result)-1; i++ {
		if result[i].startBit+result[i].numBits != result[i+1].startBit {
			return nil, ExceptionIllegalDataAddress
		}
	}
	return result, nil
}

// getReadLocker returns a read locker for the specified list of data
// references. The returned locker atomically locks all specified references.
func (d *Data) getReadLocker(refs []dataRef) sync.Locker {
	mxs := d.getMutexen(refs)
	lockers := make([]sync.Locker, len(mxs))
	for i := range lockers {
		lockers[i] = mxs[i].RLocker()
	}
	return multilocker.New(lockers...)
}

// getWriteLocker returns a write locker for the specified list of data
// references. The returned locker atomically locks all specified references.
func (d *Data) getWriteLocker(refs []dataRef) sync.Locker {
	mxs := d.getMutexen(refs)
	lockers := make([]sync.Locker, len(mxs))
	for i := range lockers {
		lockers[i] = mxs[i]
	}
	return multilocker.New(lockers...)
}

// bitAt returns the location of the data model bit bit within ref.
func (ref *dataRef) bitAt(bit int) (blockByte int, mask byte) {
	blockBit := ref.blockOffset - ref.startBit + bit
	return blockBit / 8, 1 << (blockBit % 8)
}

// copyOut appends count bits starting at bit start from refs to dst, packed
// least significant bit first. The caller must hold the read locks of refs.
func copyOut(dst []byte, refs []dataRef, start, count int) []byte {
	for i := 0; i < count; i++ {
		bit := start + i
		for bit >= refs[0].startBit+refs[0].numBits {
			refs = refs[1:]
		}
		if i%8 == 0 {
			dst = append(dst, 0)
		}
		blockByte, mask := refs[0].bitAt(bit)
		if refs[0].block.data[blockByte]&mask != 0 {
			dst[len(dst)-1] |= 1 << (i % 8)
		}
	}
	return dst
}

// copyIn copies count bits, packed least significant bit first in src, to
// refs starting at bit start. The caller must hold the write locks of refs.
func copyIn(refs []dataRef, start, count int, src []byte) {
	for i := 0; i < count; i++ {
		bit := start + i
		for bit >= refs[0].startBit+refs[0].numBits {
			refs = refs[1:]
		}
		blockByte, mask := refs[0].bitAt(bit)
		if src[i/8]&(1<<(i%8)) != 0 {
			refs[0].block.data[blockByte] |= mask
		} else {
			refs[0].block.data[blockByte] &^= mask
		}
	}
}

// readData reads n data items for the specified data type from the specified
// address and appends them to dst.
func (d *Data) readData(
	dst []byte, dt DataType, addr uint16, n int,
) ([]byte, error) {
	startBit := numBits[dt] * int(addr)
	count := numBits[dt] * n
	refs, err := d.getNeededRefs(dt, startBit, count)
	if err != nil {
		return nil, err
	}
	ml := d.getReadLocker(refs)
	ml.Lock()
	defer ml.Unlock()
	return copyOut(dst, refs, startBit, count), nil
}

// writeData writes n data items for the specified data type to the specified
// address from src.
func (d *Data) writeData(dt DataType, addr uint16, n int, src []byte) error {
	startBit := numBits[dt] * int(addr)
	count := numBits[dt] * n
	if 8*len(src) < count {
		return ExceptionIllegalDataValue
	}
	refs, err := d.getNeededRefs(dt, startBit, count)
	if err != nil {
		return err
	}
	ml := d.getWriteLocker(refs)
	ml.Lock()
	defer ml.Unlock()
	copyIn(refs, startBit, count, src)
	return nil
}

// maskData performs a Modbus mask data operation on a single word.
func (d *Data) maskData(dt DataType, addr, and, or uint16) error {
	startBit := 16 * int(addr)
	refs, err := d.getNeededRefs(dt, startBit, 16)
	if err != nil {
		return err
	}
	ml := d.getWriteLocker(refs)
	ml.Lock()
	defer ml.Unlock()
	buf := copyOut(make([]byte, 0, 2), refs, startBit, 16)
	word := binary.BigEndian.Uint16(buf)
	word = (word & and) | (or &^ and)
	binary.BigEndian.PutUint16(buf, word)
	copyIn(refs, startBit, 16, buf)
	return nil
}

// writeReadData atomically writes the specified values and reads n data items,
// appending them to dst.
func (d *Data) writeReadData(
	dst []byte, dt DataType,
	writeAddr uint16, src []byte, readAddr uint16, n int,
) ([]byte, error) {
	writeStartBit := numBits[dt] * int(writeAddr)
	writeCount := 8 * len(src)
	readStartBit := numBits[dt] * int(readAddr)
	readCount := numBits[dt] * n
	writeRefs, err := d.getNeededRefs(dt, writeStartBit, writeCount)
	if err != nil {
		return nil, err
	}
	readRefs, err := d.getNeededRefs(dt, readStartBit, readCount)
	if err != nil {
		return nil, err
	}
	combinedRefs := make([]dataRef, len(writeRefs)+len(readRefs))
	copy(combinedRefs, writeRefs)
	copy(combinedRefs[len(writeRefs):], readRefs)
	ml := d.getWriteLocker(combinedRefs)
	ml.Lock()
	defer ml.Unlock()
	copyIn(writeRefs, writeStartBit, writeCount, src)
	return copyOut(dst, readRefs, readStartBit, readCount), nil
}

// readBits reads n bit values of the specified bit data type.
func (d *Data) readBits(dt DataType, addr uint16, n int) ([]bool, error) {
	packed, err := d.readData(make([]byte, 0, bitBytes(n)), dt, addr, n)
	if err != nil {
		return nil, err
	}
	return bits(packed, n), nil
}

// readWords reads n register values of the specified register data type.
func (d *Data) readWords(dt DataType, addr uint16, n int) ([]uint16, error) {
	packed, err := d.readData(make([]byte, 0, 2*n), dt, addr, n)
	if err != nil {
		return nil, err
	}
	return words(packed), nil
}

// HandleModbus implements Handler, serving all data model functions from d.
// Write functions only ever address coils and holding registers.
func (d *Data) HandleModbus(
	ctx context.Context, unit UnitID, req Request,
) (Response, error) {
	switch r := req.(type) {
	case *ReadCoilsRequest:
		values, err := d.readBits(DataTypeCoils, r.Address, int(r.Count))
		if err != nil {
			return nil, err
		}
		return &ReadCoilsResponse{Values: values}, nil
	case *ReadDiscreteInputsRequest:
		values, err := d.readBits(DataTypeDiscreteInputs, r.Address, int(r.Count))
		if err != nil {
			return nil, err
		}
		return &ReadDiscreteInputsResponse{Values: values}, nil
	case *ReadHoldingRegistersRequest:
		values, err := d.readWords(
			DataTypeHoldingRegisters, r.Address, int(r.Count))
		if err != nil {
			return nil, err
		}
		return &ReadHoldingRegistersResponse{Values: values}, nil
	case *ReadInputRegistersRequest:
		values, err := d.readWords(DataTypeInputRegisters, r.Address, int(r.Count))
		if err != nil {
			return nil, err
		}
		return &ReadInputRegistersResponse{Values: values}, nil
	case *WriteSingleCoilRequest:
		if err := d.SetBool(DataTypeCoils, r.Address, r.Value); err != nil {
			return nil, err
		}
		return &WriteSingleCoilResponse{Address: r.Address, Value: r.Value}, nil
	case *WriteSingleRegisterRequest:
		if err := d.SetUint16(
			DataTypeHoldingRegisters, r.Address, r.Value,
		); err != nil {
			return nil, err
		}
		return &WriteSingleRegisterResponse{
			Address: r.Address,
			Value:   r.Value,
		}, nil
	case *WriteMultipleCoilsRequest:
		if err := d.writeData(DataTypeCoils, r.Address, len(r.Values),
			appendBits(nil, r.Values)); err != nil {
			return nil, err
		}
		return &WriteMultipleCoilsResponse{
			Address: r.Address,
			Count:   uint16(len(r.Values)),
		}, nil
	case *WriteMultipleRegistersRequest:
		if err := d.writeData(DataTypeHoldingRegisters, r.Address,
			len(r.Values), appendWords(nil, r.Values)); err != nil {
			return nil, err
		}
		return &WriteMultipleRegistersResponse{
			Address: r.Address,
			Count:   uint16(len(r.Values)),
		}, nil
	case *MaskWriteRegisterRequest:
		if err := d.maskData(
			DataTypeHoldingRegisters, r.Address, r.AndMask, r.OrMask,
		); err != nil {
			return nil, err
		}
		return &MaskWriteRegisterResponse{
			Address: r.Address,
			AndMask: r.AndMask,
			OrMask:  r.OrMask,
		}, nil
	case *ReadWriteMultipleRegistersRequest:
		n := int(r.ReadCount)
		packed, err := d.writeReadData(make([]byte, 0, 2*n),
			DataTypeHoldingRegisters, r.WriteAddress, appendWords(nil, r.Values),
			r.ReadAddress, n)
		if err != nil {
			return nil, err
		}
		return &ReadWriteMultipleRegistersResponse{Values: words(packed)}, nil
	default:
		return nil, ExceptionIllegalFunction
	}
}

// errNotBitType is returned by the bit accessors for register data types.
var errNotBitType = errors.New("not a bit data type")

// SetBool sets the coil or discrete input specified by dt and addr.
func (d *Data) SetBool(dt DataType, addr uint16, value bool) error {
	if dt.NumBits() != 1 {
		return errNotBitType
	}
	var b [1]byte
	if value {
		b[0] = 1
	}
	return d.writeData(dt, addr, 1, b[:])
}

// Bool returns the coil or discrete input specified by dt and addr.
func (d *Data) Bool(dt DataType, addr uint16) (bool, error) {
	if dt.NumBits() != 1 {
		return false, errNotBitType
	}
	values, err := d.readBits(dt, addr, 1)
	if err != nil {
		return false, err
	}
	return values[0], nil
}

// SetUint16 is a convenience function which sets the register specified by
// dt and addr to the specified unsigned 16-bit integer value. For bit data
// types, 16 consecutive bits are set, the most significant byte first.
func (d *Data) SetUint16(dt DataType, addr uint16, value uint16) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], value)
	return d.writeData(dt, addr, 16/numBits[dt], buf[:])
}

// Uint16 returns the unsigned 16-bit integer value at dt and addr, in the
// layout used by SetUint16.
func (d *Data) Uint16(dt DataType, addr uint16) (uint16, error) {
	buf, err := d.readData(make([]byte, 0, 2), dt, addr, 16/numBits[dt])
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf), nil
}

// SetInt16 is a convenience function which sets the register specified by
// dt and addr to the specified 2's complement signed 16-bit integer value.
func (d *Data) SetInt16(dt DataType, addr uint16, value int16) error {
	return d.SetUint16(dt, addr, uint16(value))
}

// SetUint32BE is a convenience function which sets the registers specified by
// dt and addr to the specified unsigned 32-bit integer value
// in big endian order.
func (d *Data) SetUint32BE(dt DataType, addr uint16, value uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], value)
	return d.writeData(dt, addr, 32/numBits[dt], buf[:])
}

// Uint32BE returns the unsigned 32-bit integer value stored in big endian
// order at dt and addr.
func (d *Data) Uint32BE(dt DataType, addr uint16) (uint32, error) {
	buf, err := d.readData(make([]byte, 0, 4), dt, addr, 32/numBits[dt])
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf), nil
}

// SetFloat32BE is a convenience function which sets the registers specified by
// dt and addr to the specified single-precision floating point value
// in big endian order.
func (d *Data) SetFloat32BE(dt DataType, addr uint16, value float32) error {
	return d.SetUint32BE(dt, addr, math.Float32bits(value))
}

// Float32BE returns the single-precision floating point value stored in big
// endian order at dt and addr.
func (d *Data) Float32BE(dt DataType, addr uint16) (float32, error) {
	v, err := d.Uint32BE(dt, addr)
	return math.Float32frombits(v), err
}
