package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
)

// InPlaceUI redraws the whole screen each frame from the top-left,
// inside the alternate screen buffer so scrollback stays clean.
type InPlaceUI struct {
	out *bufio.Writer
}

func (ui *InPlaceUI) Init() error {
	if err := enableVT(); err != nil {
		// The terminal may still understand ANSI; keep going.
		log.Printf("warning: enableVT failed: %v", err)
	}
	ui.out = bufio.NewWriterSize(os.Stdout, 1<<20)

	fmt.Fprint(ui.out, "\x1b[?1049h") // enter alternate screen
	fmt.Fprint(ui.out, "\x1b[2J")     // clear screen
	fmt.Fprint(ui.out, "\x1b[H")      // cursor home
	fmt.Fprint(ui.out, "\x1b[?25l")   // hide cursor

	return ui.out.Flush()
}

func (ui *InPlaceUI) Close() {
	if ui.out == nil {
		return
	}
	fmt.Fprint(ui.out, "\x1b[?25h")   // show cursor
	fmt.Fprint(ui.out, "\x1b[?1049l") // leave alternate screen
	_ = ui.out.Flush()
}

// Draw replaces the current frame. It never counts lines: home the
// cursor, clear to end of screen, print the new block.
func (ui *InPlaceUI) Draw(block string) error {
	if ui.out == nil {
		return nil
	}

	fmt.Fprint(ui.out, "\x1b[H")
	fmt.Fprint(ui.out, "\x1b[0J")
	fmt.Fprint(ui.out, block)

	return ui.out.Flush()
}
