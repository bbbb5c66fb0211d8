package eval

import (
	"strconv"
	"strings"
)

// exprLexer tokenizes one embedded expression (the RHS of a def/match/
// assert step, or a JS function body). It is deliberately small: the
// grammar it feeds is a pragmatic JS subset, not a full ECMAScript lexer.
type exprLexer struct {
	src []rune
	pos int
}

func newExprLexer(src string) *exprLexer {
	return &exprLexer{src: []rune(src)}
}

func (l *exprLexer) peekCh() rune {
	if l.pos >= len(l.src) {
		return 0
	}
	return l.src[l.pos]
}

func (l *exprLexer) peekAt(off int) rune {
	if l.pos+off >= len(l.src) {
		return 0
	}
	return l.src[l.pos+off]
}

func (l *exprLexer) tokenize() ([]exprToken, error) {
	var toks []exprToken
	for {
		l.skipSpaceAndComments()
		if l.pos >= len(l.src) {
			toks = append(toks, exprToken{kind: tEOF, pos: l.pos})
			return toks, nil
		}
		start := l.pos
		ch := l.peekCh()

		switch {
		case isDigit(ch):
			toks = append(toks, l.lexNumber(start))
		case ch == '"' || ch == '\'' || ch == '`':
			tok, err := l.lexString(ch, start)
			if err != nil {
				return nil, err
			}
			toks = append(toks, tok)
		case isIdentStart(ch):
			toks = append(toks, l.lexIdent(start))
		default:
			toks = append(toks, l.lexOpOrPunct(start))
		}
	}
}

func (l *exprLexer) skipSpaceAndComments() {
	for l.pos < len(l.src) {
		ch := l.peekCh()
		if ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' {
			l.pos++
			continue
		}
		if ch == '/' && l.peekAt(1) == '/' {
			for l.pos < len(l.src) && l.peekCh() != '\n' {
				l.pos++
			}
			continue
		}
		if ch == '/' && l.peekAt(1) == '*' {
			l.pos += 2
			for l.pos < len(l.src) && !(l.peekCh() == '*' && l.peekAt(1) == '/') {
				l.pos++
			}
			l.pos += 2
			continue
		}
		break
	}
}

func isDigit(ch rune) bool { return ch >= '0' && ch <= '9' }
func isIdentStart(ch rune) bool {
	return ch == '_' || ch == '$' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}
func isIdentPart(ch rune) bool { return isIdentStart(ch) || isDigit(ch) }

func (l *exprLexer) lexNumber(start int) exprToken {
	for isDigit(l.peekCh()) {
		l.pos++
	}
	if l.peekCh() == '.' && isDigit(l.peekAt(1)) {
		l.pos++
		for isDigit(l.peekCh()) {
			l.pos++
		}
	}
	if l.peekCh() == 'e' || l.peekCh() == 'E' {
		save := l.pos
		l.pos++
		if l.peekCh() == '+' || l.peekCh() == '-' {
			l.pos++
		}
		if isDigit(l.peekCh()) {
			for isDigit(l.peekCh()) {
				l.pos++
			}
		} else {
			l.pos = save
		}
	}
	text := string(l.src[start:l.pos])
	n, _ := strconv.ParseFloat(text, 64)
	return exprToken{kind: tNumber, text: text, num: n, pos: start}
}

func (l *exprLexer) lexString(quote rune, start int) (exprToken, error) {
	l.pos++ // opening quote
	var sb strings.Builder
	for {
		if l.pos >= len(l.src) {
			return exprToken{}, &EvalError{Message: "unterminated string literal"}
		}
		ch := l.peekCh()
		if ch == quote {
			l.pos++
			break
		}
		if ch == '\\' {
			l.pos++
			sb.WriteRune(unescape(l.peekCh()))
			l.pos++
			continue
		}
		sb.WriteRune(ch)
		l.pos++
	}
	return exprToken{kind: tString, text: sb.String(), pos: start}, nil
}

func unescape(ch rune) rune {
	switch ch {
	case 'n':
		return '\n'
	case 't':
		return '\t'
	case 'r':
		return '\r'
	default:
		return ch
	}
}

func (l *exprLexer) lexIdent(start int) exprToken {
	for isIdentPart(l.peekCh()) {
		l.pos++
	}
	return exprToken{kind: tIdent, text: string(l.src[start:l.pos]), pos: start}
}

var threeCharOps = []string{"===", "!==", "...", ">>>"}
var twoCharOps = []string{"==", "!=", "<=", ">=", "&&", "||", "=>", "++", "--", "+=", "-=", "*=", "/=", "?."}

func (l *exprLexer) lexOpOrPunct(start int) exprToken {
	rest := string(l.src[start:min(len(l.src), start+3)])
	for _, op := range threeCharOps {
		if strings.HasPrefix(rest, op) {
			l.pos += 3
			return exprToken{kind: tOp, text: op, pos: start}
		}
	}
	rest2 := string(l.src[start:min(len(l.src), start+2)])
	for _, op := range twoCharOps {
		if strings.HasPrefix(rest2, op) {
			l.pos += 2
			return exprToken{kind: tOp, text: op, pos: start}
		}
	}
	ch := l.peekCh()
	l.pos++
	switch ch {
	case '(', ')', '{', '}', '[', ']', ',', '.', ';', ':':
		return exprToken{kind: tPunct, text: string(ch), pos: start}
	default:
		return exprToken{kind: tOp, text: string(ch), pos: start}
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
