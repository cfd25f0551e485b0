package main

import (
	"os"

	"github.com/spaghettinuum/spagh/coremain"
	"github.com/spaghettinuum/spagh/mlog"
)

func main() {
	if err := coremain.Run(); err != nil {
		mlog.S().Error(err)
		os.Exit(1)
	}
}
