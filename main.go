package main

import "github.com/AvaProtocol/ap-aa/cmd"

func main() {
	cmd.Execute()
}
