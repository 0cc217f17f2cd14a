package modbus

import (
	"encoding/binary"
	"fmt"
)

// mbapHeaderLen is the fixed 7-byte MBAP header: tx id, protocol id,
// length, unit id.
const mbapHeaderLen = 7

// protocolIDModbus is the fixed protocol identifier MBAP always carries
// for Modbus traffic.
const protocolIDModbus = 0

// encodeTCPFrame wraps pdu in an MBAP header, grounded on
// hootrhino-gomodbus/tcp_transporter.go's Pack.
func encodeTCPFrame(txID uint16, unitID byte, pdu []byte) []byte {
	frame := make([]byte, mbapHeaderLen+len(pdu))
	binary.BigEndian.PutUint16(frame[0:2], txID)
	binary.BigEndian.PutUint16(frame[2:4], protocolIDModbus)
	binary.BigEndian.PutUint16(frame[4:6], uint16(len(pdu)+1)) // length covers unit id + PDU
	frame[6] = unitID
	copy(frame[7:], pdu)
	return frame
}

// decodeTCPHeader parses the first 7 bytes of an inbound TCP frame,
// returning the transaction id, unit id, and the PDU byte count still
// to be read (length field minus the unit-id byte it includes).
func decodeTCPHeader(header []byte) (txID uint16, unitID byte, pduLen int, err error) {
	if len(header) < mbapHeaderLen {
		return 0, 0, 0, fmt.Errorf("modbus: MBAP header short: have %d bytes, want %d", len(header), mbapHeaderLen)
	}
	txID = binary.BigEndian.Uint16(header[0:2])
	protoID := binary.BigEndian.Uint16(header[2:4])
	if protoID != protocolIDModbus {
		return 0, 0, 0, fmt.Errorf("modbus: unexpected MBAP protocol id %d", protoID)
	}
	length := binary.BigEndian.Uint16(header[4:6])
	if length < 1 {
		return 0, 0, 0, fmt.Errorf("modbus: MBAP length field %d too small to cover unit id", length)
	}
	unitID = header[6]
	pduLen = int(length) - 1
	return txID, unitID, pduLen, nil
}
