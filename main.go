package main

import "github.com/ajaxbridge/ajaxbridge/cmd"

func main() {
	cmd.Execute()
}
