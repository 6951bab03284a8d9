package main

import (
	_ "time/tzdata"

	"github.com/fleetdns/querylogd/cmd"
)

func main() {
	cmd.Execute()
}
