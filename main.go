package main

import (
	"github.com/draftsync/draftsync/cmd"
)

func main() {
	cmd.Execute()
}
