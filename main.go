package main

import "github.com/fakeyudi/roomchat/cmd"

func main() {
	cmd.Execute()
}
