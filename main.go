package main

import "github.com/winerank/winecrawl/cmd"

func main() {
	cmd.Execute()
}
