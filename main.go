package main

import "github.com/hookflow-io/hookflow/cmd"

func main() {
	cmd.Execute()
}
