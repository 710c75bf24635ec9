/*
Copyright © 2025 Mathias Djärv <mathias.djarv@allbinary.se>
*/
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/allbin/go-updi/internal/tui/styles"
	"golang.org/x/term"
)

// newLogger writes diagnostics to stderr: text when a person is watching,
// JSON when stderr is captured. Trace lowers the level to debug so link
// hex dumps and session statistics show up.
func newLogger(trace bool) *slog.Logger {
	level := slog.LevelInfo
	if trace {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	options := &slog.HandlerOptions{Level: level}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	return slog.New(handler)
}

// banner describes the escape commands, naming the escape character the
// way a terminal shows it (^E for 0x05)
func banner(escape byte) string {
	caret := fmt.Sprintf("^%c", '@'+escape)
	key := func(s string) string { return styles.BannerKeyStyle.Render(s) }

	var b strings.Builder
	b.WriteString(styles.BannerStyle.Render(">>>  Exit: "))
	b.WriteString(key(caret + "+e"))
	b.WriteString(styles.BannerStyle.Render("  Reset: "))
	b.WriteString(key(caret + "+r"))
	b.WriteString(styles.BannerStyle.Render("  " + caret + ": "))
	b.WriteString(key(caret + "+" + caret))
	return b.String()
}
