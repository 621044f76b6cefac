package main

import "github.com/batchsend/batchsend/cmd"

func main() {
	cmd.Execute()
}
