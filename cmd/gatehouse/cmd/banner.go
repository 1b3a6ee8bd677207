package cmd

import (
	"fmt"
)

const banner = `
   _____       _       _
  / ____|     | |     | |
 | |  __  __ _| |_ ___| |__   ___  _   _ ___  ___
 | | |_ |/ _` + "`" + ` | __/ _ \ '_ \ / _ \| | | / __|/ _ \
 | |__| | (_| | ||  __/ | | | (_) | |_| \__ \  __/
  \_____|\__,_|\__\___|_| |_|\___/ \__,_|___/\___|

`

func printBanner() {
	fmt.Printf("\x1b[34m%s\x1b[0m", banner)
	fmt.Printf("\x1b[32m  Multi-Factor Authentication Service - Version %s\x1b[0m\n\n", Version)
}
