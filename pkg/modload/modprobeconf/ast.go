package modprobeconf

import "github.com/alecthomas/participle/v2/lexer"

// File is one parsed modprobe.d file.
type File struct {
	Lines []*Line `parser:"( Newline | @@ )*"`
}

// Line is a single directive with its arguments, for example
// "blacklist nouveau" or "options it87 force_id=0x8628".
type Line struct {
	Pos       lexer.Position
	Directive string   `parser:"@Word"`
	Args      []string `parser:"@Word* Newline?"`
}

// Module returns the first argument, which names the module for every
// directive that takes one.
func (l *Line) Module() string {
	if len(l.Args) == 0 {
		return ""
	}
	return l.Args[0]
}
