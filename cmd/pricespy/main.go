// Package main wires the pricespy CLI.
package main

import (
	"github.com/JakeFAU/pricespy/cmd"
)

func main() {
	cmd.Execute()
}
