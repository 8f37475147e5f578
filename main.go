// Firmware entry point for the HV bench supply controller.
package main

import (
	"context"
	"time"

	"hvsupply/platform"
	"hvsupply/services/app"
)

func main() {
	// Allow USB CDC to enumerate before we print.
	time.Sleep(2 * time.Second)
	println("boot")

	board, err := platform.Open()
	if err != nil {
		println("Error: board open failed:", err.Error())
		halt()
	}
	if err := app.Run(context.Background(), board); err != nil {
		println("Error: firmware stopped:", err.Error())
	}
	halt()
}

// halt parks the main goroutine.
func halt() {
	for {
		time.Sleep(time.Hour)
	}
}
