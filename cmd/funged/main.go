package main

import (
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
	"go.brendoncarroll.net/star"

	"noisefunge.org/funged/fungecmd"
)

func main() {
	star.Main(fungecmd.Root())
}
