package command

import (
	"fmt"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/IT-Hock/source-rcon-library/internal/util"
)

// RegisterBuiltins adds the stock console commands: hello, echo, help and
// status.
func RegisterBuiltins(r *Registry) {
	r.Add("hello", "", "Replies with world", func(string, []string) string {
		return "world"
	})

	r.Add("echo", "<text...>", "Replies with its arguments", func(_ string, args []string) string {
		return strings.Join(args, " ")
	})

	r.Add("help", "[command]", "Lists commands or shows usage of one command", func(_ string, args []string) string {
		if len(args) > 0 {
			cmd, ok := r.GetCommand(args[0])
			if !ok {
				return fmt.Sprintf("Unknown command %q", args[0])
			}
			return fmt.Sprintf("Usage: %s\n%s", usageLine(cmd), cmd.Description)
		}
		return RenderCommandTable(r.Commands())
	})

	r.Add("status", "", "Shows host and process load", func(string, []string) string {
		return RenderHostStats(util.GetHostStats())
	})
}

// RenderCommandTable formats commands as a text table.
func RenderCommandTable(commands []Command) string {
	var sb strings.Builder

	tw := tablewriter.NewWriter(&sb)
	tw.SetHeader([]string{"Command", "Usage", "Description"})
	tw.SetBorder(false)
	tw.SetAutoWrapText(false)

	for _, cmd := range commands {
		tw.Append([]string{cmd.Name, usageLine(cmd), cmd.Description})
	}

	tw.Render()
	return sb.String()
}

// RenderHostStats formats a HostStats sample as aligned key/value lines.
func RenderHostStats(stats util.HostStats) string {
	var sb strings.Builder

	tw := tablewriter.NewWriter(&sb)
	tw.SetBorder(false)
	tw.SetColumnSeparator(":")
	tw.SetAutoWrapText(false)

	tw.Append([]string{"cpu", fmt.Sprintf("%.1f%%", stats.CPUPercent)})
	tw.Append([]string{"memory", fmt.Sprintf("%d/%d MB (%.1f%%)", stats.MemUsedMB, stats.MemTotalMB, stats.MemPercent)})
	tw.Append([]string{"host uptime", stats.HostUptime.String()})
	tw.Append([]string{"process rss", fmt.Sprintf("%d MB", stats.ProcessRSSMB)})
	tw.Append([]string{"process uptime", stats.ProcessUptime.String()})
	tw.Append([]string{"goroutines", fmt.Sprintf("%d", stats.Goroutines)})

	tw.Render()
	return sb.String()
}
