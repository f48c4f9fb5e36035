package main

import (
	"github.com/Paintersrp/devrun/internal/cli"
	"github.com/Paintersrp/devrun/internal/metrics"
)

func main() {
	metrics.EmitBuildInfo()
	cli.Execute()
}
