//go:build rp2040 && fpis && !mnadxl

package main

import "machine"

// FPIS: SPI1 on GPIO10/11/12, chip select GPIO13.
var board = boardConfig{
	name: "fpis",
	bus: spiBusConfig{
		id:   1,
		spi:  machine.SPI1,
		sck:  machine.GPIO10,
		mosi: machine.GPIO11,
		miso: machine.GPIO12,
	},
	cs: machine.GPIO13,
}
