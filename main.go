// The main package for the linkgate executable.
package main

import (
	"github.com/JakeFAU/linkgate/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
