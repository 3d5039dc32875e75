package main

import "github.com/MeKo-Tech/dpmscan/cmd/dpmscan/cmd"

func main() {
	cmd.Execute()
}
