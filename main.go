// The main package for the sitecheck executable.
package main

import (
	"github.com/JakeFAU/sitecheck/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
