package main

import "penelope-batcher/cmd"

func main() {
	cmd.Execute()
}
