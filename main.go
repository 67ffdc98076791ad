package main

import "github.com/audiolibrelab/dictator/cmd"

func main() {
	cmd.Execute()
}
