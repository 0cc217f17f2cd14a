package modbus

// FunctionCode identifies the protocol operation carried by a PDU: the
// 1-byte opcode immediately following a frame's unit id.
type FunctionCode byte

const (
	FuncReadCoils                FunctionCode = 0x01
	FuncReadDiscreteInputs       FunctionCode = 0x02
	FuncReadHoldingRegisters     FunctionCode = 0x03
	FuncReadInputRegisters       FunctionCode = 0x04
	FuncWriteSingleCoil          FunctionCode = 0x05
	FuncWriteSingleRegister      FunctionCode = 0x06
	FuncWriteMultipleCoils       FunctionCode = 0x0F
	FuncWriteMultipleRegisters   FunctionCode = 0x10
	FuncReadFileRecord           FunctionCode = 0x14
	FuncWriteFileRecord          FunctionCode = 0x15
	FuncReadDeviceIdentification FunctionCode = 0x2B

	// exceptionFlag is the high bit set on the function-code byte of an
	// exception frame.
	exceptionFlag FunctionCode = 0x80
)

// ExceptionCode is the 1-byte protocol exception value that follows a
// function-code byte with its high bit set.
type ExceptionCode byte

const (
	ExcIllegalFunction              ExceptionCode = 0x01
	ExcIllegalDataAddress           ExceptionCode = 0x02
	ExcIllegalDataValue             ExceptionCode = 0x03
	ExcServerDeviceFailure          ExceptionCode = 0x04
	ExcAcknowledge                  ExceptionCode = 0x05
	ExcServerDeviceBusy             ExceptionCode = 0x06
	ExcMemoryParityError            ExceptionCode = 0x08
	ExcGatewayPathUnavailable       ExceptionCode = 0x0A
	ExcGatewayTargetFailedToRespond ExceptionCode = 0x0B
)

// refTypeExtended is the only reference type the file-record function
// codes support.
const refTypeExtended = 6
