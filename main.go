package main

import "github.com/kozaktomas/photo-dedup/cmd"

func main() {
	cmd.Execute()
}
