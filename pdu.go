package modbus

import (
	"encoding/binary"
	"fmt"
)

// FileRecordRequest identifies one sub-record to fetch in a
// read-file-record request.
type FileRecordRequest struct {
	FileNumber   uint16
	RecordNumber uint16
	RecordLength uint16 // registers to read
}

// EncodeReadRequest builds the PDU for any of the four read-style
// function codes (coils, discrete inputs, holding registers, input
// registers): function code, big-endian start address, big-endian
// quantity.
func EncodeReadRequest(fc FunctionCode, address, quantity uint16) []byte {
	pdu := make([]byte, 5)
	pdu[0] = byte(fc)
	binary.BigEndian.PutUint16(pdu[1:3], address)
	binary.BigEndian.PutUint16(pdu[3:5], quantity)
	return pdu
}

// EncodeWriteSingleRequest builds the PDU for write-single-coil or
// write-single-register: function code, address, value.
func EncodeWriteSingleRequest(fc FunctionCode, address, value uint16) []byte {
	pdu := make([]byte, 5)
	pdu[0] = byte(fc)
	binary.BigEndian.PutUint16(pdu[1:3], address)
	binary.BigEndian.PutUint16(pdu[3:5], value)
	return pdu
}

// EncodeWriteMultipleCoilsRequest builds the PDU for write-multiple-coils:
// function code, address, quantity, byte count, packed bits (LSB-first).
func EncodeWriteMultipleCoilsRequest(address uint16, values []bool) []byte {
	byteCount := (len(values) + 7) / 8
	pdu := make([]byte, 6+byteCount)
	pdu[0] = byte(FuncWriteMultipleCoils)
	binary.BigEndian.PutUint16(pdu[1:3], address)
	binary.BigEndian.PutUint16(pdu[3:5], uint16(len(values)))
	pdu[5] = byte(byteCount)
	for i, v := range values {
		if v {
			pdu[6+i/8] |= 1 << uint(i%8)
		}
	}
	return pdu
}

// EncodeWriteMultipleRegistersRequest builds the PDU for
// write-multiple-registers: function code, address, quantity, byte count,
// big-endian register words.
func EncodeWriteMultipleRegistersRequest(address uint16, values []uint16) []byte {
	byteCount := len(values) * 2
	pdu := make([]byte, 6+byteCount)
	pdu[0] = byte(FuncWriteMultipleRegisters)
	binary.BigEndian.PutUint16(pdu[1:3], address)
	binary.BigEndian.PutUint16(pdu[3:5], uint16(len(values)))
	pdu[5] = byte(byteCount)
	for i, v := range values {
		binary.BigEndian.PutUint16(pdu[6+i*2:8+i*2], v)
	}
	return pdu
}

// EncodeReadFileRecordRequest builds the PDU for read-file-record: function
// code, byte count, then per-record (reference-type, file number, record
// number, record length).
func EncodeReadFileRecordRequest(records []FileRecordRequest) []byte {
	pdu := make([]byte, 2, 2+len(records)*7)
	pdu[0] = byte(FuncReadFileRecord)
	for _, r := range records {
		var sub [7]byte
		sub[0] = refTypeExtended
		binary.BigEndian.PutUint16(sub[1:3], r.FileNumber)
		binary.BigEndian.PutUint16(sub[3:5], r.RecordNumber)
		binary.BigEndian.PutUint16(sub[5:7], r.RecordLength)
		pdu = append(pdu, sub[:]...)
	}
	pdu[1] = byte(len(pdu) - 2)
	return pdu
}

// EncodeWriteFileRecordRequest builds the PDU for write-file-record:
// function code, byte count, then per-record (reference-type, file
// number, record number, record length, register payload).
func EncodeWriteFileRecordRequest(records []FileSubRecord) []byte {
	pdu := make([]byte, 2)
	pdu[0] = byte(FuncWriteFileRecord)
	for _, r := range records {
		head := make([]byte, 7)
		head[0] = refTypeExtended
		binary.BigEndian.PutUint16(head[1:3], r.FileNumber)
		binary.BigEndian.PutUint16(head[3:5], r.RecordNumber)
		binary.BigEndian.PutUint16(head[5:7], uint16(len(r.Registers)))
		pdu = append(pdu, head...)
		for _, v := range r.Registers {
			var w [2]byte
			binary.BigEndian.PutUint16(w[:], v)
			pdu = append(pdu, w[:]...)
		}
	}
	pdu[1] = byte(len(pdu) - 2)
	return pdu
}

// EncodeReadDeviceIdentificationRequest builds the PDU for
// read-device-identification: function code, MEI type (0x0E), read-device
// id code, object id.
func EncodeReadDeviceIdentificationRequest(readDeviceIDCode, objectID byte) []byte {
	return []byte{byte(FuncReadDeviceIdentification), 0x0E, readDeviceIDCode, objectID}
}

// DecodePDU inspects the function-code byte of pdu and decodes the rest
// of the buffer accordingly. If the high bit of the function-code byte
// is set, pdu[1] is the exception code and decoding stops there.
// Otherwise pdu is dispatched by the (cleared) function code.
func DecodePDU(pdu []byte) (FunctionCode, Result, error) {
	if len(pdu) < 1 {
		return 0, nil, fmt.Errorf("modbus: empty PDU")
	}
	raw := pdu[0]
	if raw&byte(exceptionFlag) != 0 {
		if len(pdu) < 2 {
			return 0, nil, fmt.Errorf("modbus: truncated exception frame")
		}
		fc := FunctionCode(raw &^ byte(exceptionFlag))
		return fc, ExceptionResult{Code: ExceptionCode(pdu[1])}, nil
	}

	fc := FunctionCode(raw)
	body := pdu[1:]
	var result Result
	var err error
	switch fc {
	case FuncReadCoils, FuncReadDiscreteInputs:
		result, err = decodeBits(body)
	case FuncReadHoldingRegisters, FuncReadInputRegisters:
		result, err = decodeRegisters(body)
	case FuncWriteSingleCoil, FuncWriteSingleRegister:
		result, err = decodeSingleWrite(body)
	case FuncWriteMultipleCoils, FuncWriteMultipleRegisters:
		result, err = decodeMultiWrite(body)
	case FuncReadFileRecord:
		result, err = decodeReadFileRecord(body)
	case FuncWriteFileRecord:
		result, err = decodeWriteFileRecord(body)
	case FuncReadDeviceIdentification:
		result, err = decodeDeviceIdentification(body)
	default:
		return fc, nil, fmt.Errorf("modbus: unsupported function code 0x%02x", byte(fc))
	}
	return fc, result, err
}
