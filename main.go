package main

import "github.com/stephnangue/jwtsecrets/cmd"

func main() {
	cmd.Execute()
}
