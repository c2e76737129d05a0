//go:build tinygo && stm32h743

package main

import "gopperh7/targets/h7spi"

var variant = h7spi.Variants["stm32h743"]
