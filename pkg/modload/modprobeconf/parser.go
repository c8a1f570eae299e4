// Package modprobeconf parses modprobe.d configuration files, as read by
// kmod from /etc/modprobe.d and the other configuration directories.
package modprobeconf

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alecthomas/participle/v2"
)

var parser = participle.MustBuild[File](
	participle.Lexer(Lexer),
	participle.Elide("Comment", "Whitespace", "Continuation"),
)

// Parse parses a modprobe.d file from a reader. name is used in error
// positions.
func Parse(name string, r io.Reader) (*File, error) {
	f, err := parser.Parse(name, r)
	if err != nil {
		return nil, fmt.Errorf("modprobeconf: %w", err)
	}
	return f, nil
}

// ParseString parses a modprobe.d file held in memory.
func ParseString(name, input string) (*File, error) {
	return Parse(name, strings.NewReader(input))
}

// ParseFile parses a modprobe.d file from disk.
func ParseFile(path string) (*File, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("modprobeconf: open: %w", err)
	}
	defer file.Close()

	return Parse(path, file)
}

// Directives returns every line using the given directive, in file order.
func (f *File) Directives(directive string) []*Line {
	var out []*Line
	for _, l := range f.Lines {
		if l.Directive == directive {
			out = append(out, l)
		}
	}
	return out
}

// disablingCommands are install commands that make modprobe succeed without
// loading anything.
var disablingCommands = map[string]bool{
	"/bin/true":      true,
	"/bin/false":     true,
	"/usr/bin/true":  true,
	"/usr/bin/false": true,
	"true":           true,
	"false":          true,
}

// Blacklisted returns the modules named by "blacklist" directives and by
// "install <module> /bin/false" style lines, in file order.
func (f *File) Blacklisted() []string {
	var out []string
	for _, l := range f.Lines {
		switch l.Directive {
		case "blacklist":
			if m := l.Module(); m != "" {
				out = append(out, m)
			}
		case "install":
			if len(l.Args) == 2 && disablingCommands[l.Args[1]] {
				out = append(out, l.Args[0])
			}
		}
	}
	return out
}
