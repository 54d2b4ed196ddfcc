package compiler

import "testing"

func scanAll(source string) []Token {
	l := NewLexer(source)
	var tokens []Token
	for {
		tok := l.NextToken()
		tokens = append(tokens, tok)
		if tok.Type == TokenEOF {
			return tokens
		}
	}
}

func TestLexerTokenStream(t *testing.T) {
	source := `var x = 1.5; if (x >= 1) print "hi"; // trailing comment`
	want := []struct {
		typ    TokenType
		lexeme string
	}{
		{TokenVar, "var"},
		{TokenIdentifier, "x"},
		{TokenEqual, "="},
		{TokenNumber, "1.5"},
		{TokenSemicolon, ";"},
		{TokenIf, "if"},
		{TokenLeftParen, "("},
		{TokenIdentifier, "x"},
		{TokenGreaterEqual, ">="},
		{TokenNumber, "1"},
		{TokenRightParen, ")"},
		{TokenPrint, "print"},
		{TokenString, `"hi"`},
		{TokenSemicolon, ";"},
		{TokenEOF, ""},
	}

	tokens := scanAll(source)
	if len(tokens) != len(want) {
		t.Fatalf("token count = %d, want %d: %v", len(tokens), len(want), tokens)
	}
	for i, w := range want {
		if tokens[i].Type != w.typ || tokens[i].Lexeme != w.lexeme {
			t.Errorf("token %d = %v, want %s %q", i, tokens[i], w.typ, w.lexeme)
		}
	}
}

func TestLexerKeywordsVersusIdentifiers(t *testing.T) {
	cases := []struct {
		source string
		want   TokenType
	}{
		{"class", TokenClass},
		{"classy", TokenIdentifier},
		{"fun", TokenFun},
		{"fund", TokenIdentifier},
		{"this", TokenThis},
		{"super", TokenSuper},
		{"_under", TokenIdentifier},
		{"nil", TokenNil},
	}
	for _, tc := range cases {
		tok := NewLexer(tc.source).NextToken()
		if tok.Type != tc.want {
			t.Errorf("%q scanned as %s, want %s", tc.source, tok.Type, tc.want)
		}
	}
}

func TestLexerLineTracking(t *testing.T) {
	source := "var a;\n// comment line\nprint\n  a;"
	tokens := scanAll(source)
	wantLines := []int{1, 1, 1, 3, 4, 4, 4}
	if len(tokens) != len(wantLines) {
		t.Fatalf("token count = %d, want %d", len(tokens), len(wantLines))
	}
	for i, line := range wantLines {
		if tokens[i].Line != line {
			t.Errorf("token %d (%v) on line %d, want %d", i, tokens[i], tokens[i].Line, line)
		}
	}
}

func TestLexerMultilineString(t *testing.T) {
	tokens := scanAll("\"a\nb\" x")
	if tokens[0].Type != TokenString {
		t.Fatalf("first token = %v", tokens[0])
	}
	if tokens[1].Line != 2 {
		t.Errorf("token after multiline string on line %d, want 2", tokens[1].Line)
	}
}

func TestLexerErrorTokens(t *testing.T) {
	cases := []struct {
		source  string
		message string
	}{
		{`"unterminated`, "unterminated string"},
		{"@", "unexpected character"},
	}
	for _, tc := range cases {
		tok := NewLexer(tc.source).NextToken()
		if tok.Type != TokenError {
			t.Errorf("%q scanned as %s, want ERROR", tc.source, tok.Type)
			continue
		}
		if tok.Lexeme != tc.message {
			t.Errorf("%q error message = %q, want %q", tc.source, tok.Lexeme, tc.message)
		}
	}
}

func TestLexerEOFIsSticky(t *testing.T) {
	l := NewLexer("")
	for i := 0; i < 3; i++ {
		if tok := l.NextToken(); tok.Type != TokenEOF {
			t.Fatalf("call %d returned %v, want EOF", i, tok)
		}
	}
}

func TestLexerNumberForms(t *testing.T) {
	tokens := scanAll("1 12.5 7.")
	if tokens[0].Lexeme != "1" || tokens[0].Type != TokenNumber {
		t.Errorf("token 0 = %v", tokens[0])
	}
	if tokens[1].Lexeme != "12.5" || tokens[1].Type != TokenNumber {
		t.Errorf("token 1 = %v", tokens[1])
	}
	// A trailing dot is not part of the number.
	if tokens[2].Lexeme != "7" || tokens[3].Type != TokenDot {
		t.Errorf("tokens 2,3 = %v %v", tokens[2], tokens[3])
	}
}
