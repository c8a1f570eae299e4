package modprobeconf

import (
	"github.com/alecthomas/participle/v2/lexer"
)

// Lexer tokenises modprobe.d configuration. A backslash at the end of a
// line joins it with the next one; '#' starts a comment only at the start of
// a token.
var Lexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `#[^\n]*`},
	{Name: "Continuation", Pattern: `\\\r?\n`},
	{Name: "Newline", Pattern: `\r?\n`},
	{Name: "Whitespace", Pattern: `[ \t\f\v]+`},
	{Name: "Word", Pattern: `(?:[^\s\\]|\\[^\r\n])+`},
})
