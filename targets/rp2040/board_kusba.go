//go:build rp2040 && !fpis && !mnadxl

package main

import "machine"

// KUSBA: SPI0 on GPIO2/3/0, chip select GPIO1. Default board.
var board = boardConfig{
	name: "kusba",
	bus: spiBusConfig{
		id:   0,
		spi:  machine.SPI0,
		sck:  machine.GPIO2,
		mosi: machine.GPIO3,
		miso: machine.GPIO0,
	},
	cs: machine.GPIO1,
}
