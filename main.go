// The main package for the ershoufang executable.
package main

import (
	"github.com/JakeFAU/ershoufang-crawler/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
