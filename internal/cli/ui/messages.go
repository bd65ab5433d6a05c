// Package ui formats terminal output of the cloner CLI.
package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// Level is the severity of a message
type Level int

const (
	LevelError Level = iota
	LevelWarning
	LevelInfo
)

// Message is a multi-line diagnostic
//
//	✗ RESOURCE NOT FOUND: Artcle
//	   Did you mean: Article?
//
//	   → List resources: cloner schema check
type Message struct {
	Level       Level
	Context     string
	Problem     string
	Suggestions []string
	Help        []string
	NoColor     bool
}

// Format renders m
func (m Message) Format() string {
	var b strings.Builder

	header := color.New(color.FgRed, color.Bold)
	symbol := "✗"
	switch m.Level {
	case LevelWarning:
		header = color.New(color.FgYellow, color.Bold)
		symbol = "!"
	case LevelInfo:
		header = color.New(color.FgCyan, color.Bold)
		symbol = "i"
	}
	hint := color.New(color.FgYellow)
	help := color.New(color.FgCyan)
	if m.NoColor {
		header.DisableColor()
		hint.DisableColor()
		help.DisableColor()
	}

	if m.Context != "" {
		header.Fprintf(&b, "%s %s: %s\n", symbol, strings.ToUpper(m.Context), m.Problem)
	} else {
		header.Fprintf(&b, "%s %s\n", symbol, m.Problem)
	}
	if len(m.Suggestions) > 0 {
		hint.Fprintf(&b, "   Did you mean: %s?\n", strings.Join(m.Suggestions, ", "))
	}
	if len(m.Help) > 0 {
		b.WriteString("\n")
		for _, h := range m.Help {
			help.Fprintf(&b, "   → %s\n", h)
		}
	}
	return b.String()
}

// WriteMessage writes m to w
func WriteMessage(w io.Writer, m Message) {
	fmt.Fprint(w, m.Format())
}

// Success formats a one-line success message
func Success(message string, noColor bool) string {
	green := color.New(color.FgGreen, color.Bold)
	if noColor {
		green.DisableColor()
	}
	return green.Sprintf("✓ %s", message)
}

// ResourceNotFound reports an unknown resource name with close matches
// among known
func ResourceNotFound(name string, known []string, noColor bool) Message {
	return Message{
		Level:       LevelError,
		Context:     "resource not found",
		Problem:     name,
		Suggestions: Suggest(name, known),
		Help:        []string{"List resources: cloner schema check"},
		NoColor:     noColor,
	}
}

// DatastoreNotFound reports an unknown datastore name with close matches
func DatastoreNotFound(name string, known []string, noColor bool) Message {
	return Message{
		Level:       LevelError,
		Context:     "datastore not found",
		Problem:     name,
		Suggestions: Suggest(name, known),
		Help:        []string{"Declare it under datastores in cloner.yml"},
		NoColor:     noColor,
	}
}
