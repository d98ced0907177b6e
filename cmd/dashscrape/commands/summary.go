package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
)

func group(name string) {
	fmt.Printf("::group::%s\n", name)
}

func endGroup() {
	fmt.Println("::endgroup::")
}

func printResult(value any) error {
	group("Result")
	defer endGroup()
	encoded, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}

func printErrors(count int, messages []string) {
	if count == 0 {
		return
	}
	fmt.Fprintln(os.Stderr, "Errors during download:", count)
	for _, m := range messages {
		fmt.Fprint(os.Stderr, m)
	}
}

type counters struct {
	downloaded    int
	readFromCache int
	processed     int
	filesWritten  int
	errors        int
}

func printCounters(c counters) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Counter", "Value"})
	t.AppendRows([]table.Row{
		{"downloaded", c.downloaded},
		{"read-from-cache", c.readFromCache},
		{"processed", c.processed},
		{"files-written", c.filesWritten},
		{"errors", c.errors},
	})
	t.Render()
}
