// Command vmsim runs synthetic workloads on the paging core.
package main

import (
	"github.com/sarchlab/vmcore/vmsim/cmd"
	"github.com/tebeka/atexit"
)

func main() {
	err := cmd.Execute()
	if err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
