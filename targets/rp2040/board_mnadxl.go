//go:build rp2040 && mnadxl && !fpis

package main

import "machine"

// mnadxl: SPI1 on GPIO10/11/12, chip select GPIO9.
var board = boardConfig{
	name: "mnadxl",
	bus: spiBusConfig{
		id:   1,
		spi:  machine.SPI1,
		sck:  machine.GPIO10,
		mosi: machine.GPIO11,
		miso: machine.GPIO12,
	},
	cs: machine.GPIO9,
}
