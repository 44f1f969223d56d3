package main

import (
	"github.com/learnwatch/learnwatch/cmd"
)

func main() {
	cmd.Execute()
}
