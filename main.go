package main

import "github.com/brensch/mpduck/cmd"

func main() {
	cmd.Execute()
}
