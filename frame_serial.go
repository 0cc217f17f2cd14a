package modbus

import "fmt"

// serialHeaderLen is the fixed portion of every serial frame read before
// its total length can be determined: unit id, function code, and one
// more byte whose meaning depends on the function code. It must be read
// as a single 3-byte unit before the high bit of the function-code byte
// is inspected.
const serialHeaderLen = 3

// encodeSerialFrame wraps pdu with a leading unit id and a trailing
// CRC-16, grounded on rolfl-modbus/rtu.go's buildRTUFrame.
func encodeSerialFrame(unitID byte, pdu []byte) []byte {
	frame := make([]byte, 1, 1+len(pdu)+2)
	frame[0] = unitID
	frame = append(frame, pdu...)
	return appendCRC(frame)
}

// decodeSerialFrame verifies frame's CRC trailer and splits off the unit
// id, returning the PDU bytes (function code through payload, CRC
// stripped).
func decodeSerialFrame(frame []byte) (unitID byte, pdu []byte, err error) {
	if len(frame) < 4 {
		return 0, nil, fmt.Errorf("modbus: serial frame too short: %d bytes", len(frame))
	}
	if !checkCRC(frame) {
		return 0, nil, wrapKind(KindFrameIntegrity, ErrFrameIntegrity)
	}
	return frame[0], frame[1 : len(frame)-2], nil
}

// serialRemainingAfterHeader determines how many more bytes a two-phase
// serial read must still consume once the 3-byte header (unit id,
// function code, one more byte) is in hand, grounded on
// npat-efault-modbus/serrcv.go's resSizer. header[1]'s high bit having
// already been checked by the caller (exception frames are always
// header + 1 more byte + 2-byte CRC and never reach this function).
func serialRemainingAfterHeader(header [serialHeaderLen]byte) (remaining int, err error) {
	fc := FunctionCode(header[1])
	switch fc {
	case FuncReadCoils, FuncReadDiscreteInputs,
		FuncReadHoldingRegisters, FuncReadInputRegisters,
		FuncReadFileRecord, FuncWriteFileRecord:
		byteCount := int(header[2])
		return byteCount + 2, nil // remaining data bytes + 2-byte CRC
	case FuncWriteSingleCoil, FuncWriteSingleRegister:
		return 3 + 2, nil // addr_lo, value(2) (addr_hi is header[2]) + CRC
	case FuncWriteMultipleCoils, FuncWriteMultipleRegisters:
		return 3 + 2, nil // addr_lo, qty(2) (addr_hi is header[2]) + CRC
	case FuncReadDeviceIdentification:
		// Variable-length object stream; read incrementally rather than
		// by a single fixed remaining count (see serial_writer.go).
		return -1, nil
	default:
		return 0, fmt.Errorf("modbus: serial response: unsupported function code 0x%02x", byte(fc))
	}
}
