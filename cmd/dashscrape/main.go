package main

import (
	"context"

	"dashscrape/cmd/dashscrape/commands"
)

func main() {
	commands.ExecuteContext(context.Background())
}
