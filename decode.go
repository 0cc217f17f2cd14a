package modbus

import (
	"encoding/binary"
	"fmt"
)

// decodeBits decodes the payload of a read-coils/read-discrete-inputs
// response: byte count followed by packed bits, LSB-first within each
// wire byte. The full packed range implied by the byte count is
// surfaced (byteCount*8 entries); neither this function nor the engine
// trims it to the requested quantity.
func decodeBits(body []byte) (Result, error) {
	if len(body) < 1 {
		return nil, fmt.Errorf("modbus: truncated bits response")
	}
	byteCount := int(body[0])
	if len(body) < 1+byteCount {
		return nil, fmt.Errorf("modbus: bits response short: want %d bytes, have %d", byteCount, len(body)-1)
	}
	bits := make([]bool, 0, byteCount*8)
	for _, b := range body[1 : 1+byteCount] {
		for i := 0; i < 8; i++ {
			bits = append(bits, b&(1<<uint(i)) != 0)
		}
	}
	return BitsResult{ByteCount: byteCount, Bits: bits}, nil
}

// decodeRegisters decodes the payload of a read-holding/read-input
// registers response: byte count followed by big-endian register words.
func decodeRegisters(body []byte) (Result, error) {
	if len(body) < 1 {
		return nil, fmt.Errorf("modbus: truncated registers response")
	}
	byteCount := int(body[0])
	if len(body) < 1+byteCount {
		return nil, fmt.Errorf("modbus: registers response short: want %d bytes, have %d", byteCount, len(body)-1)
	}
	if byteCount%2 != 0 {
		return nil, fmt.Errorf("modbus: registers response byte count %d is odd", byteCount)
	}
	regs := make([]uint16, byteCount/2)
	for i := range regs {
		regs[i] = binary.BigEndian.Uint16(body[1+i*2 : 3+i*2])
	}
	return RegistersResult{ByteCount: byteCount, Registers: regs}, nil
}

// decodeSingleWrite decodes the echoed address/value of a write-single-coil
// or write-single-register response.
func decodeSingleWrite(body []byte) (Result, error) {
	if len(body) < 4 {
		return nil, fmt.Errorf("modbus: truncated single-write response")
	}
	return SingleWriteResult{
		Address: binary.BigEndian.Uint16(body[0:2]),
		Value:   binary.BigEndian.Uint16(body[2:4]),
	}, nil
}

// decodeMultiWrite decodes the echoed address/quantity of a
// write-multiple-coils or write-multiple-registers response.
func decodeMultiWrite(body []byte) (Result, error) {
	if len(body) < 4 {
		return nil, fmt.Errorf("modbus: truncated multi-write response")
	}
	return MultiWriteResult{
		Address:  binary.BigEndian.Uint16(body[0:2]),
		Quantity: binary.BigEndian.Uint16(body[2:4]),
	}, nil
}

// decodeReadFileRecord decodes a read-file-record response: an overall
// byte count followed by one (length, reference-type, register data)
// sub-record per entry. No example in the pack implements this function
// code, so the layout follows original_source/Src/SessionControl.c's
// on-wire shape while the code itself is written fresh in this codec's
// established style.
func decodeReadFileRecord(body []byte) (Result, error) {
	if len(body) < 1 {
		return nil, fmt.Errorf("modbus: truncated file-record response")
	}
	total := int(body[0])
	if len(body) < 1+total {
		return nil, fmt.Errorf("modbus: file-record response short: want %d bytes, have %d", total, len(body)-1)
	}
	remaining := body[1 : 1+total]
	arena := newRecordArena(maxFileRecordNodes)
	var records []FileSubRecord
	for len(remaining) > 0 {
		if len(remaining) < 2 {
			return nil, fmt.Errorf("modbus: truncated file-record sub-record header")
		}
		subLen := int(remaining[0]) // length of reference-type + register data
		refType := remaining[1]
		if subLen < 1 || len(remaining) < 1+subLen {
			return nil, fmt.Errorf("modbus: file-record sub-record length %d exceeds remaining %d", subLen, len(remaining)-1)
		}
		if refType != refTypeExtended {
			return nil, fmt.Errorf("modbus: file-record sub-record reference type %d, want %d", refType, refTypeExtended)
		}
		if err := arena.take(); err != nil {
			return nil, err
		}
		regBytes := remaining[2 : 1+subLen]
		if len(regBytes)%2 != 0 {
			return nil, fmt.Errorf("modbus: file-record sub-record register data has odd length %d", len(regBytes))
		}
		regs := make([]uint16, len(regBytes)/2)
		for i := range regs {
			regs[i] = binary.BigEndian.Uint16(regBytes[i*2 : i*2+2])
		}
		records = append(records, FileSubRecord{ReferenceType: refType, Registers: regs})
		remaining = remaining[1+subLen:]
	}
	return FileRecordsResult{Records: records}, nil
}

// maxFileRecordNodes bounds how many sub-records a single read-file-record
// decode will chain before failing with ErrMemoryExhausted.
const maxFileRecordNodes = 256

// decodeWriteFileRecord decodes a write-file-record response, which
// echoes the full request body: byte count followed by per-record
// (reference-type, file number, record number, record length, register
// data).
func decodeWriteFileRecord(body []byte) (Result, error) {
	if len(body) < 1 {
		return nil, fmt.Errorf("modbus: truncated file-record write response")
	}
	total := int(body[0])
	if len(body) < 1+total {
		return nil, fmt.Errorf("modbus: file-record write response short: want %d bytes, have %d", total, len(body)-1)
	}
	remaining := body[1 : 1+total]
	var records []FileSubRecord
	for len(remaining) > 0 {
		if len(remaining) < 7 {
			return nil, fmt.Errorf("modbus: truncated file-record write sub-record header")
		}
		refType := remaining[0]
		if refType != refTypeExtended {
			return nil, fmt.Errorf("modbus: file-record write sub-record reference type %d, want %d", refType, refTypeExtended)
		}
		fileNumber := binary.BigEndian.Uint16(remaining[1:3])
		recordNumber := binary.BigEndian.Uint16(remaining[3:5])
		recLen := int(binary.BigEndian.Uint16(remaining[5:7]))
		need := 7 + recLen*2
		if len(remaining) < need {
			return nil, fmt.Errorf("modbus: file-record write sub-record register data truncated")
		}
		regs := make([]uint16, recLen)
		for i := range regs {
			regs[i] = binary.BigEndian.Uint16(remaining[7+i*2 : 9+i*2])
		}
		records = append(records, FileSubRecord{
			ReferenceType: refType,
			FileNumber:    fileNumber,
			RecordNumber:  recordNumber,
			Registers:     regs,
		})
		remaining = remaining[need:]
	}
	return FileRecordsResult{Records: records}, nil
}

// decodeDeviceIdentification decodes a read-device-identification
// response: a 6-byte header (MEI type, read-device-id code, conformity
// level, more-follows flag, next-object-id, number-of-objects) followed
// by that many (object-id, length, value) triples.
func decodeDeviceIdentification(body []byte) (Result, error) {
	if len(body) < 6 {
		return nil, fmt.Errorf("modbus: truncated device-identification response")
	}
	meiType := body[0]
	readDeviceID := body[1]
	conformity := body[2]
	moreFollows := body[3] != 0
	nextObjectID := body[4]
	numObjects := int(body[5])

	remaining := body[6:]
	objects := make([]DeviceIDObject, 0, numObjects)
	for i := 0; i < numObjects; i++ {
		if len(remaining) < 2 {
			return nil, fmt.Errorf("modbus: truncated device-identification object header")
		}
		objectID := remaining[0]
		objLen := int(remaining[1])
		if len(remaining) < 2+objLen {
			return nil, fmt.Errorf("modbus: device-identification object value truncated")
		}
		value := make([]byte, objLen)
		copy(value, remaining[2:2+objLen])
		objects = append(objects, DeviceIDObject{ObjectID: objectID, Value: value})
		remaining = remaining[2+objLen:]
	}

	return DeviceIDResult{
		MEIType:      meiType,
		ReadDeviceID: readDeviceID,
		Conformity:   conformity,
		MoreFollows:  moreFollows,
		NextObjectID: nextObjectID,
		Objects:      objects,
	}, nil
}
