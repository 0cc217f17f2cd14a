package modbus

import (
	"net"
	"sync"
	"testing"
	"time"
)

// fakeTCPServer accepts exactly one connection and lets the test decide
// how to answer each inbound MBAP frame.
type fakeTCPServer struct {
	ln   net.Listener
	addr string
}

func startFakeTCPServer(t *testing.T, handle func(conn net.Conn)) *fakeTCPServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	s := &fakeTCPServer{ln: ln, addr: ln.Addr().String()}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		handle(conn)
	}()
	t.Cleanup(func() { ln.Close() })
	return s
}

func readMBAPFrame(conn net.Conn) (txID uint16, unitID byte, pdu []byte, err error) {
	header := make([]byte, mbapHeaderLen)
	if _, err = readFullConn(conn, header); err != nil {
		return
	}
	var pduLen int
	txID, unitID, pduLen, err = decodeTCPHeader(header)
	if err != nil {
		return
	}
	pdu = make([]byte, pduLen)
	_, err = readFullConn(conn, pdu)
	return
}

func readFullConn(conn net.Conn, buf []byte) (int, error) {
	read := 0
	for read < len(buf) {
		n, err := conn.Read(buf[read:])
		read += n
		if err != nil {
			return read, err
		}
	}
	return read, nil
}

func TestEngineTCPReadHoldingRegistersRoundTrip(t *testing.T) {
	srv := startFakeTCPServer(t, func(conn net.Conn) {
		defer conn.Close()
		txID, unitID, _, err := readMBAPFrame(conn)
		if err != nil {
			return
		}
		respPDU := []byte{byte(FuncReadHoldingRegisters), 4, 0x00, 0x2A, 0x00, 0x2B}
		conn.Write(encodeTCPFrame(txID, unitID, respPDU))
	})

	eng, err := NewEngine(NewConfig(WithResponseTimeout(2 * time.Second)))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer eng.Shutdown()

	ctxID, err := eng.OpenTCPContext(srv.addr)
	if err != nil {
		t.Fatalf("OpenTCPContext: %v", err)
	}
	defer eng.RemoveContext(ctxID)

	var wg sync.WaitGroup
	wg.Add(1)
	var got Result
	var gotErr error
	err = eng.ReadHoldingRegisters(ctxID, 0x01, 0x0010, 2, 0, func(result Result, cbErr error) {
		got, gotErr = result, cbErr
		wg.Done()
	})
	if err != nil {
		t.Fatalf("ReadHoldingRegisters: %v", err)
	}
	wg.Wait()

	if gotErr != nil {
		t.Fatalf("completion error: %v", gotErr)
	}
	regs, ok := got.(RegistersResult)
	if !ok {
		t.Fatalf("result type = %T, want RegistersResult", got)
	}
	want := []uint16{0x2A, 0x2B}
	if len(regs.Registers) != 2 || regs.Registers[0] != want[0] || regs.Registers[1] != want[1] {
		t.Fatalf("registers = %v, want %v", regs.Registers, want)
	}
}

func TestEngineTCPExceptionResponse(t *testing.T) {
	srv := startFakeTCPServer(t, func(conn net.Conn) {
		defer conn.Close()
		txID, unitID, _, err := readMBAPFrame(conn)
		if err != nil {
			return
		}
		respPDU := []byte{byte(FuncReadHoldingRegisters) | byte(exceptionFlag), byte(ExcIllegalDataAddress)}
		conn.Write(encodeTCPFrame(txID, unitID, respPDU))
	})

	eng, err := NewEngine(NewConfig(WithResponseTimeout(2 * time.Second)))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer eng.Shutdown()

	ctxID, err := eng.OpenTCPContext(srv.addr)
	if err != nil {
		t.Fatalf("OpenTCPContext: %v", err)
	}
	defer eng.RemoveContext(ctxID)

	var wg sync.WaitGroup
	wg.Add(1)
	var gotErr error
	err = eng.ReadHoldingRegisters(ctxID, 0x01, 0x0010, 2, 0, func(result Result, cbErr error) {
		gotErr = cbErr
		wg.Done()
	})
	if err != nil {
		t.Fatalf("ReadHoldingRegisters: %v", err)
	}
	wg.Wait()

	if gotErr == nil {
		t.Fatal("expected a protocol-exception error, got nil")
	}
	if KindOf(gotErr) != KindProtocolException {
		t.Fatalf("KindOf(gotErr) = %v, want KindProtocolException", KindOf(gotErr))
	}
}

func TestEngineTCPResponseTimeout(t *testing.T) {
	srv := startFakeTCPServer(t, func(conn net.Conn) {
		defer conn.Close()
		readMBAPFrame(conn) // read the request but never answer it
		time.Sleep(time.Second)
	})

	eng, err := NewEngine(NewConfig(WithResponseTimeout(30 * time.Millisecond)))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer eng.Shutdown()

	ctxID, err := eng.OpenTCPContext(srv.addr)
	if err != nil {
		t.Fatalf("OpenTCPContext: %v", err)
	}
	defer eng.RemoveContext(ctxID)

	var wg sync.WaitGroup
	wg.Add(1)
	var gotErr error
	err = eng.ReadHoldingRegisters(ctxID, 0x01, 0, 1, 0, func(result Result, cbErr error) {
		gotErr = cbErr
		wg.Done()
	})
	if err != nil {
		t.Fatalf("ReadHoldingRegisters: %v", err)
	}
	wg.Wait()

	if KindOf(gotErr) != KindTimeout {
		t.Fatalf("KindOf(gotErr) = %v, want KindTimeout", KindOf(gotErr))
	}
}

func TestEngineTCPConcurrentRequestsDemuxByTxID(t *testing.T) {
	const n = 8
	srv := startFakeTCPServer(t, func(conn net.Conn) {
		defer conn.Close()
		for i := 0; i < n; i++ {
			txID, unitID, pdu, err := readMBAPFrame(conn)
			if err != nil {
				return
			}
			addr := uint16(pdu[1])<<8 | uint16(pdu[2])
			respPDU := []byte{byte(FuncReadHoldingRegisters), 2, byte(addr >> 8), byte(addr)}
			conn.Write(encodeTCPFrame(txID, unitID, respPDU))
		}
	})

	eng, err := NewEngine(NewConfig(WithResponseTimeout(2 * time.Second)))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer eng.Shutdown()

	ctxID, err := eng.OpenTCPContext(srv.addr)
	if err != nil {
		t.Fatalf("OpenTCPContext: %v", err)
	}
	defer eng.RemoveContext(ctxID)

	var wg sync.WaitGroup
	results := make([]uint16, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		i := i
		err := eng.ReadHoldingRegisters(ctxID, 0x01, uint16(i), 1, 0, func(result Result, cbErr error) {
			defer wg.Done()
			if cbErr != nil {
				t.Errorf("request %d: completion error: %v", i, cbErr)
				return
			}
			results[i] = result.(RegistersResult).Registers[0]
		})
		if err != nil {
			t.Fatalf("request %d: submit: %v", i, err)
		}
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if results[i] != uint16(i) {
			t.Errorf("results[%d] = %d, want %d (echoed address proves each response matched its own request)", i, results[i], i)
		}
	}
}

// TestEngineTCPUnitIDMismatchDropsResponse covers the demuxTCP case where a
// frame's tx_id matches an outstanding slot but its unit_id doesn't: the
// response must be dropped rather than completing the wrong request, and
// the slot should only resolve once the timeout wheel retires it.
func TestEngineTCPUnitIDMismatchDropsResponse(t *testing.T) {
	srv := startFakeTCPServer(t, func(conn net.Conn) {
		defer conn.Close()
		txID, _, _, err := readMBAPFrame(conn)
		if err != nil {
			return
		}
		respPDU := []byte{byte(FuncReadHoldingRegisters), 2, 0x00, 0x2A}
		conn.Write(encodeTCPFrame(txID, 0x02, respPDU)) // wrong unit id for this tx_id
	})

	eng, err := NewEngine(NewConfig(WithResponseTimeout(50 * time.Millisecond)))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer eng.Shutdown()

	ctxID, err := eng.OpenTCPContext(srv.addr)
	if err != nil {
		t.Fatalf("OpenTCPContext: %v", err)
	}
	defer eng.RemoveContext(ctxID)

	var wg sync.WaitGroup
	wg.Add(1)
	var gotErr error
	err = eng.ReadHoldingRegisters(ctxID, 0x01, 0x0010, 2, 0, func(result Result, cbErr error) {
		gotErr = cbErr
		wg.Done()
	})
	if err != nil {
		t.Fatalf("ReadHoldingRegisters: %v", err)
	}
	wg.Wait()

	if KindOf(gotErr) != KindTimeout {
		t.Fatalf("KindOf(gotErr) = %v, want KindTimeout (mismatched unit_id must not complete the slot)", KindOf(gotErr))
	}
}

// TestEngineTCPSendOrderMatchesSubmitOrder covers concurrent submissions on
// one carrier landing on the wire in the same order they were dequeued from
// its work queue: each request's address field carries its submission
// index, so the server's read order reveals the wire send order.
func TestEngineTCPSendOrderMatchesSubmitOrder(t *testing.T) {
	const n = 16
	sendOrder := make(chan uint16, n)
	srv := startFakeTCPServer(t, func(conn net.Conn) {
		defer conn.Close()
		for i := 0; i < n; i++ {
			txID, unitID, pdu, err := readMBAPFrame(conn)
			if err != nil {
				return
			}
			addr := uint16(pdu[1])<<8 | uint16(pdu[2])
			sendOrder <- addr
			respPDU := []byte{byte(FuncReadHoldingRegisters), 2, 0x00, 0x00}
			conn.Write(encodeTCPFrame(txID, unitID, respPDU))
		}
	})

	eng, err := NewEngine(NewConfig(WithResponseTimeout(2 * time.Second)))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer eng.Shutdown()

	ctxID, err := eng.OpenTCPContext(srv.addr)
	if err != nil {
		t.Fatalf("OpenTCPContext: %v", err)
	}
	defer eng.RemoveContext(ctxID)

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		err := eng.ReadHoldingRegisters(ctxID, 0x01, uint16(i), 1, 0, func(result Result, cbErr error) {
			wg.Done()
		})
		if err != nil {
			t.Fatalf("request %d: submit: %v", i, err)
		}
	}
	wg.Wait()
	close(sendOrder)

	i := uint16(0)
	for addr := range sendOrder {
		if addr != i {
			t.Errorf("send order[%d] = address %d, want %d (wire send order must match submit/dequeue order)", i, addr, i)
		}
		i++
	}
}
