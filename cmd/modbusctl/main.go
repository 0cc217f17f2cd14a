// Command modbusctl is a small driver that exercises the engine's public
// surface against a single TCP device, grounded on
// Atsika-aznet/cmd/azurl/main.go's flag-based tool shape.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	modbus "github.com/go-modbus/engine"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:502", "Modbus TCP device address")
	unit := flag.Uint("unit", 1, "unit id")
	address := flag.Uint("address", 0, "starting register address")
	quantity := flag.Uint("quantity", 1, "register quantity")
	timeout := flag.Duration("timeout", time.Second, "response timeout")
	flag.Parse()

	logger := log.New(os.Stderr, "modbusctl: ", log.LstdFlags)

	eng, err := modbus.NewEngine(modbus.NewConfig(
		modbus.WithResponseTimeout(*timeout),
		modbus.WithLogger(logger),
	))
	if err != nil {
		logger.Fatalf("new engine: %v", err)
	}
	defer eng.Shutdown()

	ctxID, err := eng.OpenTCPContext(*addr)
	if err != nil {
		logger.Fatalf("open TCP context: %v", err)
	}
	defer eng.RemoveContext(ctxID)

	var wg sync.WaitGroup
	wg.Add(1)
	err = eng.ReadHoldingRegisters(ctxID, byte(*unit), uint16(*address), uint16(*quantity), 0, func(result modbus.Result, err error) {
		defer wg.Done()
		if err != nil {
			fmt.Fprintf(os.Stderr, "read failed: %v\n", err)
			return
		}
		regs := result.(modbus.RegistersResult)
		fmt.Println(regs.Registers)
	})
	if err != nil {
		logger.Fatalf("submit read: %v", err)
	}
	wg.Wait()
}
