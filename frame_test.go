package modbus

import (
	"reflect"
	"testing"
)

func TestEncodeTCPFrameDecodeTCPHeaderRoundTrip(t *testing.T) {
	pdu := EncodeReadRequest(FuncReadHoldingRegisters, 0x0010, 4)
	frame := encodeTCPFrame(0x1234, 0x0A, pdu)

	txID, unitID, pduLen, err := decodeTCPHeader(frame[:mbapHeaderLen])
	if err != nil {
		t.Fatalf("decodeTCPHeader: %v", err)
	}
	if txID != 0x1234 {
		t.Errorf("txID = %#04x, want 0x1234", txID)
	}
	if unitID != 0x0A {
		t.Errorf("unitID = %#02x, want 0x0A", unitID)
	}
	if pduLen != len(pdu) {
		t.Errorf("pduLen = %d, want %d", pduLen, len(pdu))
	}
	if !reflect.DeepEqual(frame[mbapHeaderLen:], pdu) {
		t.Errorf("frame PDU bytes = % x, want % x", frame[mbapHeaderLen:], pdu)
	}
}

func TestDecodeTCPHeaderRejectsWrongProtocolID(t *testing.T) {
	header := []byte{0x00, 0x01, 0x00, 0x01, 0x00, 0x02, 0x0A}
	if _, _, _, err := decodeTCPHeader(header); err == nil {
		t.Fatalf("decodeTCPHeader accepted a non-zero protocol id")
	}
}

func TestEncodeDecodeSerialFrameRoundTrip(t *testing.T) {
	pdu := EncodeWriteSingleRequest(FuncWriteSingleCoil, 0x00AC, 0xFF00)
	frame := encodeSerialFrame(0x0A, pdu)

	unitID, decodedPDU, err := decodeSerialFrame(frame)
	if err != nil {
		t.Fatalf("decodeSerialFrame: %v", err)
	}
	if unitID != 0x0A {
		t.Errorf("unitID = %#02x, want 0x0A", unitID)
	}
	if !reflect.DeepEqual(decodedPDU, pdu) {
		t.Errorf("decoded PDU = % x, want % x", decodedPDU, pdu)
	}
}

func TestDecodeSerialFrameRejectsBadCRC(t *testing.T) {
	frame := encodeSerialFrame(0x0A, []byte{byte(FuncWriteSingleCoil), 0x00, 0xAC, 0xFF, 0x00})
	frame[len(frame)-1] ^= 0xFF
	if _, _, err := decodeSerialFrame(frame); err == nil {
		t.Fatalf("decodeSerialFrame accepted a corrupted CRC trailer")
	}
}

func TestSerialRemainingAfterHeaderReadCoils(t *testing.T) {
	var header [serialHeaderLen]byte
	header[0] = 0x0A
	header[1] = byte(FuncReadCoils)
	header[2] = 2 // byte count
	remaining, err := serialRemainingAfterHeader(header)
	if err != nil {
		t.Fatalf("serialRemainingAfterHeader: %v", err)
	}
	if remaining != 4 { // 2 data bytes + 2 CRC bytes
		t.Errorf("remaining = %d, want 4", remaining)
	}
}

func TestDecodePDUExceptionFrame(t *testing.T) {
	pdu := []byte{byte(FuncReadHoldingRegisters) | byte(exceptionFlag), byte(ExcIllegalDataAddress)}
	fc, result, err := DecodePDU(pdu)
	if err != nil {
		t.Fatalf("DecodePDU: %v", err)
	}
	if fc != FuncReadHoldingRegisters {
		t.Errorf("fc = %#02x, want FuncReadHoldingRegisters", fc)
	}
	exc, ok := result.(ExceptionResult)
	if !ok {
		t.Fatalf("result type = %T, want ExceptionResult", result)
	}
	if exc.Code != ExcIllegalDataAddress {
		t.Errorf("exc.Code = %#02x, want %#02x", exc.Code, ExcIllegalDataAddress)
	}
}

func TestDecodePDURegisters(t *testing.T) {
	pdu := []byte{byte(FuncReadHoldingRegisters), 4, 0x00, 0x01, 0x00, 0x02}
	fc, result, err := DecodePDU(pdu)
	if err != nil {
		t.Fatalf("DecodePDU: %v", err)
	}
	if fc != FuncReadHoldingRegisters {
		t.Errorf("fc = %#02x, want FuncReadHoldingRegisters", fc)
	}
	regs, ok := result.(RegistersResult)
	if !ok {
		t.Fatalf("result type = %T, want RegistersResult", result)
	}
	want := []uint16{1, 2}
	if !reflect.DeepEqual(regs.Registers, want) {
		t.Errorf("registers = %v, want %v", regs.Registers, want)
	}
}

func TestDecodePDUBits(t *testing.T) {
	pdu := []byte{byte(FuncReadCoils), 1, 0b00000101}
	_, result, err := DecodePDU(pdu)
	if err != nil {
		t.Fatalf("DecodePDU: %v", err)
	}
	bits, ok := result.(BitsResult)
	if !ok {
		t.Fatalf("result type = %T, want BitsResult", result)
	}
	want := []bool{true, false, true, false, false, false, false, false}
	if !reflect.DeepEqual(bits.Bits, want) {
		t.Errorf("bits = %v, want %v", bits.Bits, want)
	}
}

func TestEncodeDecodeFileRecordRoundTrip(t *testing.T) {
	records := []FileSubRecord{
		{ReferenceType: refTypeExtended, Registers: []uint16{0x1111, 0x2222}},
	}
	reqPDU := EncodeReadFileRecordRequest([]FileRecordRequest{
		{FileNumber: 4, RecordNumber: 1, RecordLength: 2},
	})
	if reqPDU[0] != byte(FuncReadFileRecord) {
		t.Fatalf("request PDU function code = %#02x, want FuncReadFileRecord", reqPDU[0])
	}

	// Build a synthetic response body matching decodeReadFileRecord's
	// expected shape: byte count, then (sub-length, ref-type, register
	// data) per record.
	respBody := []byte{6, 5, refTypeExtended, 0x11, 0x11, 0x22, 0x22}
	result, err := decodeReadFileRecord(respBody)
	if err != nil {
		t.Fatalf("decodeReadFileRecord: %v", err)
	}
	got := result.(FileRecordsResult)
	if !reflect.DeepEqual(got.Records, records) {
		t.Errorf("records = %+v, want %+v", got.Records, records)
	}
}

func TestDecodeDeviceIdentification(t *testing.T) {
	body := []byte{
		0x0E, 0x01, 0x83, 0x00, 0x00, 0x02,
		0x00, 0x04, 'a', 'c', 'm', 'e',
		0x01, 0x03, 'p', 'l', 'c',
	}
	result, err := decodeDeviceIdentification(body)
	if err != nil {
		t.Fatalf("decodeDeviceIdentification: %v", err)
	}
	id := result.(DeviceIDResult)
	if len(id.Objects) != 2 {
		t.Fatalf("objects = %d, want 2", len(id.Objects))
	}
	if string(id.Objects[0].Value) != "acme" {
		t.Errorf("objects[0].Value = %q, want %q", id.Objects[0].Value, "acme")
	}
	if string(id.Objects[1].Value) != "plc" {
		t.Errorf("objects[1].Value = %q, want %q", id.Objects[1].Value, "plc")
	}
}
