package main

import (
	"github.com/Paintersrp/streamsup/internal/cli"
	"github.com/Paintersrp/streamsup/internal/metrics"
)

func main() {
	metrics.EmitBuildInfo()
	cli.Execute()
}
