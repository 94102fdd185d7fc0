// The main package for the arachne executable.
package main

import (
	"github.com/arachnid-go/arachne/cmd"
)

func main() {
	cmd.Execute()
}
