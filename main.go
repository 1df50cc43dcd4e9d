package main

import (
	"fmt"
	"os"

	"github.com/go-i2p/logger"

	"github.com/go-i2p/go-swbn/lib/cli"
	"github.com/go-i2p/go-swbn/lib/util"
)

var log = logger.GetGoI2PLogger()

func main() {
	err := cli.Execute()
	if cerr := util.CloseAll(); cerr != nil {
		log.WithError(cerr).Warn("swbn did not release every resource")
	}
	if err != nil {
		log.WithError(err).Debug("swbn failed")
		fmt.Fprintln(os.Stderr, "swbn:", err)
		os.Exit(1)
	}
}
