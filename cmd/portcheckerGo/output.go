package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"PortCheckerGo/internal/portscan"
)

// printFinding 实时输出一个开放端口
func printFinding(host string, res portscan.ProbeResult) {
	if res.State == portscan.StateOpenFiltered {
		color.Yellow("\r[?]Port: %s:%d/%s Open|Filtered (无回应)\n", host, res.Port, res.Protocol)
		return
	}
	color.Green("\r[+]Port: %s:%d/%s Open!\n", host, res.Port, res.Protocol)
}

// printResults 按端口顺序输出最终结果
func printResults(w io.Writer, results []portscan.ProbeResult) {
	if len(results) == 0 {
		fmt.Fprintln(w, "[-]没有发现开放端口")
		return
	}
	fmt.Fprintf(w, "%-8s %-10s %-14s\n", "PORT", "PROTOCOL", "STATE")
	for _, r := range results {
		state := string(r.State)
		switch r.State {
		case portscan.StateOpen:
			state = color.GreenString(state)
		case portscan.StateOpenFiltered:
			state = color.YellowString(state)
		}
		fmt.Fprintf(w, "%-8d %-10s %s\n", r.Port, r.Protocol, state)
	}
}
