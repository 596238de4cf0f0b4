package main

import "github.com/popsim/batchsim/cmd"

func main() {
	cmd.Execute()
}
