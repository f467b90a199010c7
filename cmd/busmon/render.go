package main

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
	"golang.org/x/term"
)

func clearScreen() {
	fmt.Print("\x1b[2J\x1b[H")
}

// termWidth reports the current terminal width, defaulting to 100
// columns when stdout is not a terminal.
func termWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 20 {
		return w
	}
	return 100
}

func Render(ui *InPlaceUI, vm ViewModel, maxRows int) {
	width := termWidth()

	var b bytes.Buffer
	b.WriteString(strings.Repeat("=", width) + "\n")

	status := "connected"
	if !vm.Connected {
		status = "disconnected"
	}
	fmt.Fprintf(&b, "Server: %s   Status: %s   Now: %s\n",
		vm.ServerURL, status, vm.Now.Format(time.RFC3339))
	if !vm.LastDropTime.IsZero() {
		fmt.Fprintf(&b, "Last drop: %s ago (active: %s)\n",
			time.Since(vm.LastDropTime).Truncate(time.Second),
			strings.Join(vm.LastDropKeys, ", "))
	}
	b.WriteString(strings.Repeat("-", width) + "\n")

	header := []string{"TOPIC", "TOTAL", "LAST INT", "BYTES"}
	var rows [][]string
	for _, tv := range vm.Topics {
		rows = append(rows, []string{
			tv.Topic,
			fmt.Sprintf("%d", tv.Total),
			fmt.Sprintf("%d", tv.WindowCount),
			fmt.Sprintf("%d", tv.BytesTotal),
		})
	}
	b.WriteString(renderTable(header, rows))

	for _, tv := range vm.Topics {
		if len(tv.Recent) == 0 {
			fmt.Fprintf(&b, "[%s] (waiting...)\n", tv.Topic)
			continue
		}
		fmt.Fprintf(&b, "[%s] last %d:\n", tv.Topic, len(tv.Recent))
		for _, msg := range tv.Recent {
			line := fmt.Sprintf("  %s  %s  %s", msg.ID, msg.Created, compactPayload(msg.Data))
			b.WriteString(runewidth.Truncate(line, width, "…"))
			b.WriteString("\n")
		}
	}
	b.WriteString(strings.Repeat("-", width) + "\n")

	out := b.String()
	if ui != nil {
		_ = ui.Draw(out)
	} else {
		clearScreen()
		fmt.Print(out)
	}
}

// compactPayload flattens a JSON payload onto one line for display.
func compactPayload(data []byte) string {
	s := string(data)
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\t", " ")
	if s == "" {
		return "(empty)"
	}
	return s
}

// renderTable builds an ASCII table using runewidth-aware padding, so
// wide runes in topic names line up.
func renderTable(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = runewidth.StringWidth(h)
	}
	for _, r := range rows {
		for i := range headers {
			cell := ""
			if i < len(r) {
				cell = r[i]
			}
			if w := runewidth.StringWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	pad := func(s string, w int) string {
		sw := runewidth.StringWidth(s)
		if sw >= w {
			return s
		}
		return s + strings.Repeat(" ", w-sw)
	}

	var b bytes.Buffer
	sep := func() {
		b.WriteString("+")
		for _, w := range widths {
			b.WriteString(strings.Repeat("-", w+2))
			b.WriteString("+")
		}
		b.WriteString("\n")
	}

	sep()
	b.WriteString("|")
	for i, h := range headers {
		b.WriteString(" ")
		b.WriteString(pad(h, widths[i]))
		b.WriteString(" |")
	}
	b.WriteString("\n")
	sep()

	for _, r := range rows {
		b.WriteString("|")
		for i := range headers {
			cell := ""
			if i < len(r) {
				cell = r[i]
			}
			b.WriteString(" ")
			b.WriteString(pad(cell, widths[i]))
			b.WriteString(" |")
		}
		b.WriteString("\n")
	}
	sep()
	return b.String()
}
