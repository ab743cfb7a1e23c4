package taskdsl

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

var (
	ruleWhitespace = lexer.SimpleRule{Name: "Whitespace", Pattern: `[ \t]+`}
	ruleNumber     = lexer.SimpleRule{Name: "Number", Pattern: `[-+]?(\d*\.)?\d+`}
	ruleIdent      = lexer.SimpleRule{Name: "Ident", Pattern: `[a-zA-Z_]\w*(\.\w+)*`}
	rulePunct      = lexer.SimpleRule{Name: "Punct", Pattern: `[=(),]`}
)

var statementLexer = lexer.MustSimple([]lexer.SimpleRule{
	ruleWhitespace,
	ruleNumber,
	ruleIdent,
	rulePunct,
})

var statementParser = participle.MustBuild[Statement](
	participle.Lexer(statementLexer),
	participle.UseLookahead(2),
	participle.Elide(ruleWhitespace.Name),
)

// Statement is `output = op(input, args...)`.
type Statement struct {
	Output string `parser:"@Ident '='" json:"output"`
	Call   Call   `parser:"@@" json:"call"`
}

type Call struct {
	Op        string     `parser:"@Ident '('" json:"op"`
	Arguments []Argument `parser:"( @@ ( ',' @@ )* )? ')'" json:"arguments,omitempty"`
}

type Argument struct {
	Named  *NamedArgument `parser:"@@ |" json:"named,omitempty"`
	Number *float64       `parser:"@Number |" json:"number,omitempty"`
	Node   *string        `parser:"@Ident" json:"node,omitempty"`
}

type NamedArgument struct {
	Name  string  `parser:"@Ident '='" json:"name"`
	Value float64 `parser:"@Number" json:"value"`
}
