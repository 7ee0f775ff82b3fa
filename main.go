// The main package for the konduit executable.
package main

import (
	"github.com/JakeFAU/konduit/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
