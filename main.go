package main

import "github.com/wormhole-demo/swim-relayer/cmd"

func main() {
	cmd.Execute()
}
