// Copyright 2025 The lunar Authors
// SPDX-License-Identifier: MIT

package luasyntax

import (
	"errors"
	"fmt"
	"io"

	"lunar.256lights.llc/internal/lualex"
)

// A SyntaxError describes a parse failure at a source position.
type SyntaxError struct {
	Source string
	Pos    lualex.Position
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.Source, e.Pos.Line, e.Msg)
}

// Parse parses a chunk of Lua source and returns its block.
// source names the chunk in error messages.
func Parse(source, chunk string) (*Block, error) {
	p := &parser{
		source:  source,
		scanner: lualex.NewScanner(chunk),
	}
	if err := p.next(); err != nil {
		return nil, err
	}
	block, err := p.block()
	if err != nil {
		return nil, err
	}
	if p.tok.Kind != lualex.EOF {
		return nil, p.errorf("'%v' expected near '%v'", lualex.EOF, p.tok)
	}
	block.LastLine = p.tok.Pos.Line
	return block, nil
}

type parser struct {
	source  string
	scanner *lualex.Scanner
	tok     lualex.Token
	atEOF   bool
}

func (p *parser) next() error {
	if p.atEOF {
		return nil
	}
	tok, err := p.scanner.Scan()
	if errors.Is(err, io.EOF) {
		p.atEOF = true
		p.tok = lualex.Token{Kind: lualex.EOF, Pos: tok.Pos}
		return nil
	}
	if err != nil {
		return &SyntaxError{Source: p.source, Pos: tok.Pos, Msg: err.Error()}
	}
	p.tok = tok
	return nil
}

func (p *parser) errorf(format string, args ...any) error {
	return &SyntaxError{
		Source: p.source,
		Pos:    p.tok.Pos,
		Msg:    fmt.Sprintf(format, args...),
	}
}

// expect consumes a token of the given kind
// or returns a "'x' expected" error.
func (p *parser) expect(kind lualex.Kind) (lualex.Token, error) {
	if p.tok.Kind != kind {
		return p.tok, p.errorf("'%v' expected near '%v'", kind, p.tok)
	}
	tok := p.tok
	err := p.next()
	return tok, err
}

// expectMatch consumes a closing token,
// mentioning the opener's line when they are apart.
func (p *parser) expectMatch(kind, open lualex.Kind, openLine int) (lualex.Token, error) {
	if p.tok.Kind != kind {
		if p.tok.Pos.Line == openLine {
			return p.tok, p.errorf("'%v' expected near '%v'", kind, p.tok)
		}
		return p.tok, p.errorf("'%v' expected (to close '%v' at line %d) near '%v'", kind, open, openLine, p.tok)
	}
	tok := p.tok
	err := p.next()
	return tok, err
}

func (p *parser) accept(kind lualex.Kind) (bool, error) {
	if p.tok.Kind != kind {
		return false, nil
	}
	return true, p.next()
}

func blockEnd(kind lualex.Kind) bool {
	switch kind {
	case lualex.EOF, lualex.KeywordEnd, lualex.KeywordElse, lualex.KeywordElseif, lualex.KeywordUntil:
		return true
	default:
		return false
	}
}

func (p *parser) block() (*Block, error) {
	b := new(Block)
	for !blockEnd(p.tok.Kind) {
		if p.tok.Kind == lualex.KeywordReturn {
			ret, err := p.returnStmt()
			if err != nil {
				return nil, err
			}
			b.Stmts = append(b.Stmts, ret)
			break
		}
		stmt, err := p.statement()
		if err != nil {
			return nil, err
		}
		if stmt != nil {
			b.Stmts = append(b.Stmts, stmt)
		}
	}
	b.LastLine = p.tok.Pos.Line
	return b, nil
}

func (p *parser) statement() (Stmt, error) {
	line := p.tok.Pos.Line
	switch p.tok.Kind {
	case lualex.Semicolon:
		return nil, p.next()
	case lualex.KeywordIf:
		return p.ifStmt()
	case lualex.KeywordWhile:
		return p.whileStmt()
	case lualex.KeywordDo:
		if err := p.next(); err != nil {
			return nil, err
		}
		body, err := p.block()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectMatch(lualex.KeywordEnd, lualex.KeywordDo, line); err != nil {
			return nil, err
		}
		return &DoStmt{position: at(line), Body: body}, nil
	case lualex.KeywordFor:
		return p.forStmt()
	case lualex.KeywordRepeat:
		return p.repeatStmt()
	case lualex.KeywordFunction:
		return p.functionStmt()
	case lualex.KeywordLocal:
		if err := p.next(); err != nil {
			return nil, err
		}
		if p.tok.Kind == lualex.KeywordFunction {
			return p.localFunctionStmt(line)
		}
		return p.localStmt(line)
	case lualex.ColonColon:
		if err := p.next(); err != nil {
			return nil, err
		}
		name, err := p.expect(lualex.Name)
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lualex.ColonColon); err != nil {
			return nil, err
		}
		return &LabelStmt{position: at(line), Name: name.Text}, nil
	case lualex.KeywordBreak:
		return &BreakStmt{position: at(line)}, p.next()
	case lualex.KeywordGoto:
		if err := p.next(); err != nil {
			return nil, err
		}
		name, err := p.expect(lualex.Name)
		if err != nil {
			return nil, err
		}
		return &GotoStmt{position: at(line), Label: name.Text}, nil
	default:
		return p.exprStmt()
	}
}

func (p *parser) ifStmt() (Stmt, error) {
	// Handles both "if" and a continuing "elseif".
	line := p.tok.Pos.Line
	if err := p.next(); err != nil {
		return nil, err
	}
	cond, err := p.expression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lualex.KeywordThen); err != nil {
		return nil, err
	}
	then, err := p.block()
	if err != nil {
		return nil, err
	}
	stmt := &IfStmt{position: at(line), Cond: cond, Then: then}

	switch p.tok.Kind {
	case lualex.KeywordElseif:
		stmt.EndLine = p.tok.Pos.Line
		nested, err := p.ifStmt()
		if err != nil {
			return nil, err
		}
		stmt.Else = &Block{Stmts: []Stmt{nested}, LastLine: nested.(*IfStmt).EndLine}
	case lualex.KeywordElse:
		elseLine := p.tok.Pos.Line
		if err := p.next(); err != nil {
			return nil, err
		}
		stmt.Else, err = p.block()
		if err != nil {
			return nil, err
		}
		end, err := p.expectMatch(lualex.KeywordEnd, lualex.KeywordIf, elseLine)
		if err != nil {
			return nil, err
		}
		stmt.EndLine = end.Pos.Line
	default:
		end, err := p.expectMatch(lualex.KeywordEnd, lualex.KeywordIf, line)
		if err != nil {
			return nil, err
		}
		stmt.EndLine = end.Pos.Line
	}
	return stmt, nil
}

func (p *parser) whileStmt() (Stmt, error) {
	line := p.tok.Pos.Line
	if err := p.next(); err != nil {
		return nil, err
	}
	cond, err := p.expression()
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lualex.KeywordDo); err != nil {
		return nil, err
	}
	body, err := p.block()
	if err != nil {
		return nil, err
	}
	end, err := p.expectMatch(lualex.KeywordEnd, lualex.KeywordWhile, line)
	if err != nil {
		return nil, err
	}
	return &WhileStmt{position: at(line), Cond: cond, Body: body, EndLine: end.Pos.Line}, nil
}

func (p *parser) repeatStmt() (Stmt, error) {
	line := p.tok.Pos.Line
	if err := p.next(); err != nil {
		return nil, err
	}
	body, err := p.block()
	if err != nil {
		return nil, err
	}
	if _, err := p.expectMatch(lualex.KeywordUntil, lualex.KeywordRepeat, line); err != nil {
		return nil, err
	}
	cond, err := p.expression()
	if err != nil {
		return nil, err
	}
	return &RepeatStmt{position: at(line), Body: body, Cond: cond}, nil
}

func (p *parser) forStmt() (Stmt, error) {
	line := p.tok.Pos.Line
	if err := p.next(); err != nil {
		return nil, err
	}
	first, err := p.expect(lualex.Name)
	if err != nil {
		return nil, err
	}

	if p.tok.Kind == lualex.Equal {
		if err := p.next(); err != nil {
			return nil, err
		}
		stmt := &NumericForStmt{position: at(line), Name: first.Text}
		if stmt.Init, err = p.expression(); err != nil {
			return nil, err
		}
		if _, err := p.expect(lualex.Comma); err != nil {
			return nil, err
		}
		if stmt.Limit, err = p.expression(); err != nil {
			return nil, err
		}
		if hasStep, err := p.accept(lualex.Comma); err != nil {
			return nil, err
		} else if hasStep {
			if stmt.Step, err = p.expression(); err != nil {
				return nil, err
			}
		}
		if _, err := p.expect(lualex.KeywordDo); err != nil {
			return nil, err
		}
		if stmt.Body, err = p.block(); err != nil {
			return nil, err
		}
		end, err := p.expectMatch(lualex.KeywordEnd, lualex.KeywordFor, line)
		if err != nil {
			return nil, err
		}
		stmt.EndLine = end.Pos.Line
		return stmt, nil
	}

	stmt := &GenericForStmt{position: at(line), Names: []string{first.Text}}
	for p.tok.Kind == lualex.Comma {
		if err := p.next(); err != nil {
			return nil, err
		}
		name, err := p.expect(lualex.Name)
		if err != nil {
			return nil, err
		}
		stmt.Names = append(stmt.Names, name.Text)
	}
	if _, err := p.expect(lualex.KeywordIn); err != nil {
		return nil, err
	}
	if stmt.Exprs, err = p.exprList(); err != nil {
		return nil, err
	}
	if _, err := p.expect(lualex.KeywordDo); err != nil {
		return nil, err
	}
	if stmt.Body, err = p.block(); err != nil {
		return nil, err
	}
	end, err := p.expectMatch(lualex.KeywordEnd, lualex.KeywordFor, line)
	if err != nil {
		return nil, err
	}
	stmt.EndLine = end.Pos.Line
	return stmt, nil
}

func (p *parser) functionStmt() (Stmt, error) {
	line := p.tok.Pos.Line
	if err := p.next(); err != nil {
		return nil, err
	}
	name, err := p.expect(lualex.Name)
	if err != nil {
		return nil, err
	}
	stmt := &FunctionStmt{position: at(line), NamePath: []string{name.Text}}
	for p.tok.Kind == lualex.Dot {
		if err := p.next(); err != nil {
			return nil, err
		}
		part, err := p.expect(lualex.Name)
		if err != nil {
			return nil, err
		}
		stmt.NamePath = append(stmt.NamePath, part.Text)
	}
	if p.tok.Kind == lualex.Colon {
		if err := p.next(); err != nil {
			return nil, err
		}
		part, err := p.expect(lualex.Name)
		if err != nil {
			return nil, err
		}
		stmt.NamePath = append(stmt.NamePath, part.Text)
		stmt.IsMethod = true
	}
	stmt.Func, err = p.functionBody(line, stmt.IsMethod)
	if err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *parser) localFunctionStmt(line int) (Stmt, error) {
	if err := p.next(); err != nil {
		return nil, err
	}
	name, err := p.expect(lualex.Name)
	if err != nil {
		return nil, err
	}
	fn, err := p.functionBody(line, false)
	if err != nil {
		return nil, err
	}
	return &LocalFunctionStmt{position: at(line), Name: name.Text, Func: fn}, nil
}

func (p *parser) localStmt(line int) (Stmt, error) {
	stmt := &LocalStmt{position: at(line)}
	for {
		name, err := p.expect(lualex.Name)
		if err != nil {
			return nil, err
		}
		attribName := LocalAttribName{position: at(name.Pos.Line), Name: name.Text}
		if hasAttrib, err := p.accept(lualex.Less); err != nil {
			return nil, err
		} else if hasAttrib {
			attrib, err := p.expect(lualex.Name)
			if err != nil {
				return nil, err
			}
			switch attrib.Text {
			case "const":
				attribName.Attrib = ConstAttrib
			case "close":
				attribName.Attrib = CloseAttrib
			default:
				return nil, p.errorf("unknown attribute '%s'", attrib.Text)
			}
			if _, err := p.expect(lualex.Greater); err != nil {
				return nil, err
			}
		}
		stmt.Names = append(stmt.Names, attribName)
		if more, err := p.accept(lualex.Comma); err != nil {
			return nil, err
		} else if !more {
			break
		}
	}
	if hasValues, err := p.accept(lualex.Equal); err != nil {
		return nil, err
	} else if hasValues {
		var err error
		if stmt.Values, err = p.exprList(); err != nil {
			return nil, err
		}
	}
	return stmt, nil
}

func (p *parser) exprStmt() (Stmt, error) {
	line := p.tok.Pos.Line
	first, err := p.suffixedExpr()
	if err != nil {
		return nil, err
	}

	if p.tok.Kind == lualex.Equal || p.tok.Kind == lualex.Comma {
		stmt := &AssignStmt{position: at(line), Targets: []Expr{first}}
		for p.tok.Kind == lualex.Comma {
			if err := p.next(); err != nil {
				return nil, err
			}
			target, err := p.suffixedExpr()
			if err != nil {
				return nil, err
			}
			stmt.Targets = append(stmt.Targets, target)
		}
		for _, target := range stmt.Targets {
			switch target.(type) {
			case *NameExpr, *IndexExpr:
			default:
				return nil, p.errorf("syntax error near '%v'", p.tok)
			}
		}
		if _, err := p.expect(lualex.Equal); err != nil {
			return nil, err
		}
		if stmt.Values, err = p.exprList(); err != nil {
			return nil, err
		}
		return stmt, nil
	}

	switch first.(type) {
	case *CallExpr, *MethodCallExpr:
		return &ExprStmt{position: at(line), Call: first}, nil
	default:
		return nil, p.errorf("syntax error near '%v'", p.tok)
	}
}

func (p *parser) returnStmt() (Stmt, error) {
	line := p.tok.Pos.Line
	if err := p.next(); err != nil {
		return nil, err
	}
	stmt := &ReturnStmt{position: at(line)}
	if !blockEnd(p.tok.Kind) && p.tok.Kind != lualex.Semicolon {
		var err error
		if stmt.Exprs, err = p.exprList(); err != nil {
			return nil, err
		}
	}
	if _, err := p.accept(lualex.Semicolon); err != nil {
		return nil, err
	}
	return stmt, nil
}

func (p *parser) exprList() ([]Expr, error) {
	first, err := p.expression()
	if err != nil {
		return nil, err
	}
	list := []Expr{first}
	for p.tok.Kind == lualex.Comma {
		if err := p.next(); err != nil {
			return nil, err
		}
		e, err := p.expression()
		if err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, nil
}

// Operator precedence, indexed by [BinaryOp].
// Power and concatenation are right-associative.
var binaryPrecedence = [numBinaryOps + 1]struct{ left, right int }{
	OpAdd:    {10, 10},
	OpSub:    {10, 10},
	OpMul:    {11, 11},
	OpMod:    {11, 11},
	OpPow:    {14, 13},
	OpDiv:    {11, 11},
	OpIDiv:   {11, 11},
	OpBAnd:   {6, 6},
	OpBOr:    {4, 4},
	OpBXor:   {5, 5},
	OpShiftL: {7, 7},
	OpShiftR: {7, 7},
	OpConcat: {9, 8},
	OpEq:     {3, 3},
	OpLT:     {3, 3},
	OpLE:     {3, 3},
	OpNE:     {3, 3},
	OpGT:     {3, 3},
	OpGE:     {3, 3},
	OpAnd:    {2, 2},
	OpOr:     {1, 1},
}

const unaryPrecedence = 12

func binaryOpForToken(kind lualex.Kind) (BinaryOp, bool) {
	switch kind {
	case lualex.Plus:
		return OpAdd, true
	case lualex.Minus:
		return OpSub, true
	case lualex.Star:
		return OpMul, true
	case lualex.Percent:
		return OpMod, true
	case lualex.Caret:
		return OpPow, true
	case lualex.Slash:
		return OpDiv, true
	case lualex.SlashSlash:
		return OpIDiv, true
	case lualex.Ampersand:
		return OpBAnd, true
	case lualex.Pipe:
		return OpBOr, true
	case lualex.Tilde:
		return OpBXor, true
	case lualex.LessLess:
		return OpShiftL, true
	case lualex.GreaterGreater:
		return OpShiftR, true
	case lualex.DotDot:
		return OpConcat, true
	case lualex.EqualEqual:
		return OpEq, true
	case lualex.Less:
		return OpLT, true
	case lualex.LessEqual:
		return OpLE, true
	case lualex.TildeEqual:
		return OpNE, true
	case lualex.Greater:
		return OpGT, true
	case lualex.GreaterEqual:
		return OpGE, true
	case lualex.KeywordAnd:
		return OpAnd, true
	case lualex.KeywordOr:
		return OpOr, true
	default:
		return 0, false
	}
}

func unaryOpForToken(kind lualex.Kind) (UnaryOp, bool) {
	switch kind {
	case lualex.Minus:
		return OpUnm, true
	case lualex.KeywordNot:
		return OpNot, true
	case lualex.Hash:
		return OpLen, true
	case lualex.Tilde:
		return OpBNot, true
	default:
		return 0, false
	}
}

func (p *parser) expression() (Expr, error) {
	return p.subExpression(0)
}

// subExpression parses expressions whose binary operators
// bind tighter than limit.
func (p *parser) subExpression(limit int) (Expr, error) {
	var left Expr
	if op, isUnary := unaryOpForToken(p.tok.Kind); isUnary {
		line := p.tok.Pos.Line
		if err := p.next(); err != nil {
			return nil, err
		}
		operand, err := p.subExpression(unaryPrecedence)
		if err != nil {
			return nil, err
		}
		left = &UnaryExpr{position: at(line), Op: op, Operand: operand}
	} else {
		var err error
		left, err = p.simpleExpr()
		if err != nil {
			return nil, err
		}
	}

	for {
		op, isBinary := binaryOpForToken(p.tok.Kind)
		if !isBinary || binaryPrecedence[op].left <= limit {
			return left, nil
		}
		opLine := p.tok.Pos.Line
		if err := p.next(); err != nil {
			return nil, err
		}
		right, err := p.subExpression(binaryPrecedence[op].right)
		if err != nil {
			return nil, err
		}
		left = &BinaryExpr{position: at(opLine), Op: op, Left: left, Right: right}
	}
}

func (p *parser) simpleExpr() (Expr, error) {
	line := p.tok.Pos.Line
	switch p.tok.Kind {
	case lualex.KeywordNil:
		return &NilExpr{position: at(line)}, p.next()
	case lualex.KeywordTrue:
		return &TrueExpr{position: at(line)}, p.next()
	case lualex.KeywordFalse:
		return &FalseExpr{position: at(line)}, p.next()
	case lualex.Ellipsis:
		return &VarargExpr{position: at(line)}, p.next()
	case lualex.Numeral:
		e, err := p.numberExpr()
		if err != nil {
			return nil, err
		}
		return e, p.next()
	case lualex.String:
		e := &StringExpr{position: at(line), Value: p.tok.Text}
		return e, p.next()
	case lualex.LBrace:
		return p.tableExpr()
	case lualex.KeywordFunction:
		if err := p.next(); err != nil {
			return nil, err
		}
		return p.functionBody(line, false)
	default:
		return p.suffixedExpr()
	}
}

func (p *parser) numberExpr() (*NumberExpr, error) {
	e := &NumberExpr{position: at(p.tok.Pos.Line)}
	if i, err := lualex.ParseInt(p.tok.Text); err == nil {
		e.IsInt = true
		e.Int = i
		return e, nil
	}
	f, err := lualex.ParseNumber(p.tok.Text)
	if err != nil {
		return nil, p.errorf("malformed number near '%s'", p.tok.Text)
	}
	e.Float = f
	return e, nil
}

// primaryExpr parses a name or a parenthesized expression.
func (p *parser) primaryExpr() (Expr, error) {
	line := p.tok.Pos.Line
	switch p.tok.Kind {
	case lualex.Name:
		e := &NameExpr{position: at(line), Name: p.tok.Text}
		return e, p.next()
	case lualex.LParen:
		if err := p.next(); err != nil {
			return nil, err
		}
		inner, err := p.expression()
		if err != nil {
			return nil, err
		}
		if _, err := p.expectMatch(lualex.RParen, lualex.LParen, line); err != nil {
			return nil, err
		}
		return &ParenExpr{position: at(line), X: inner}, nil
	default:
		return nil, p.errorf("unexpected symbol near '%v'", p.tok)
	}
}

// suffixedExpr parses a primary expression followed by
// any number of field accesses, indexes, and call suffixes.
func (p *parser) suffixedExpr() (Expr, error) {
	e, err := p.primaryExpr()
	if err != nil {
		return nil, err
	}
	for {
		line := p.tok.Pos.Line
		switch p.tok.Kind {
		case lualex.Dot:
			if err := p.next(); err != nil {
				return nil, err
			}
			name, err := p.expect(lualex.Name)
			if err != nil {
				return nil, err
			}
			e = &IndexExpr{
				position: at(line),
				Object:   e,
				Key:      &StringExpr{position: at(name.Pos.Line), Value: name.Text},
			}
		case lualex.LBracket:
			if err := p.next(); err != nil {
				return nil, err
			}
			key, err := p.expression()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(lualex.RBracket); err != nil {
				return nil, err
			}
			e = &IndexExpr{position: at(line), Object: e, Key: key}
		case lualex.Colon:
			if err := p.next(); err != nil {
				return nil, err
			}
			name, err := p.expect(lualex.Name)
			if err != nil {
				return nil, err
			}
			args, err := p.callArgs()
			if err != nil {
				return nil, err
			}
			e = &MethodCallExpr{position: at(line), Object: e, Method: name.Text, Args: args}
		case lualex.LParen, lualex.String, lualex.LBrace:
			args, err := p.callArgs()
			if err != nil {
				return nil, err
			}
			e = &CallExpr{position: at(line), Fn: e, Args: args}
		default:
			return e, nil
		}
	}
}

func (p *parser) callArgs() ([]Expr, error) {
	line := p.tok.Pos.Line
	switch p.tok.Kind {
	case lualex.String:
		arg := &StringExpr{position: at(line), Value: p.tok.Text}
		return []Expr{arg}, p.next()
	case lualex.LBrace:
		arg, err := p.tableExpr()
		if err != nil {
			return nil, err
		}
		return []Expr{arg}, nil
	case lualex.LParen:
		if err := p.next(); err != nil {
			return nil, err
		}
		var args []Expr
		if p.tok.Kind != lualex.RParen {
			var err error
			if args, err = p.exprList(); err != nil {
				return nil, err
			}
		}
		if _, err := p.expectMatch(lualex.RParen, lualex.LParen, line); err != nil {
			return nil, err
		}
		return args, nil
	default:
		return nil, p.errorf("function arguments expected near '%v'", p.tok)
	}
}

func (p *parser) tableExpr() (Expr, error) {
	line := p.tok.Pos.Line
	if _, err := p.expect(lualex.LBrace); err != nil {
		return nil, err
	}
	e := &TableExpr{position: at(line)}
	for p.tok.Kind != lualex.RBrace {
		var field TableField
		switch {
		case p.tok.Kind == lualex.LBracket:
			if err := p.next(); err != nil {
				return nil, err
			}
			key, err := p.expression()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(lualex.RBracket); err != nil {
				return nil, err
			}
			if _, err := p.expect(lualex.Equal); err != nil {
				return nil, err
			}
			field.Key = key
			if field.Value, err = p.expression(); err != nil {
				return nil, err
			}
		case p.tok.Kind == lualex.Name && p.peekIsAssign():
			field.Key = &StringExpr{position: at(p.tok.Pos.Line), Value: p.tok.Text}
			if err := p.next(); err != nil {
				return nil, err
			}
			if err := p.next(); err != nil { // consume '='
				return nil, err
			}
			var err error
			if field.Value, err = p.expression(); err != nil {
				return nil, err
			}
		default:
			var err error
			if field.Value, err = p.expression(); err != nil {
				return nil, err
			}
		}
		e.Fields = append(e.Fields, field)
		if p.tok.Kind != lualex.Comma && p.tok.Kind != lualex.Semicolon {
			break
		}
		if err := p.next(); err != nil {
			return nil, err
		}
	}
	if _, err := p.expectMatch(lualex.RBrace, lualex.LBrace, line); err != nil {
		return nil, err
	}
	return e, nil
}

// peekIsAssign reports whether the token after the current Name is '='.
// The scanner has no pushback, so this peeks at the raw source:
// a Name key in a table constructor is always followed by '='
// (and never by '==', which would be part of an expression item).
func (p *parser) peekIsAssign() bool {
	save := *p.scanner
	tok, err := p.scanner.Scan()
	*p.scanner = save
	return err == nil && tok.Kind == lualex.Equal
}

func (p *parser) functionBody(line int, isMethod bool) (*FuncExpr, error) {
	fn := &FuncExpr{position: at(line)}
	if isMethod {
		fn.Params = append(fn.Params, "self")
	}
	openLine := p.tok.Pos.Line
	if _, err := p.expect(lualex.LParen); err != nil {
		return nil, err
	}
	for p.tok.Kind != lualex.RParen {
		switch p.tok.Kind {
		case lualex.Name:
			fn.Params = append(fn.Params, p.tok.Text)
			if err := p.next(); err != nil {
				return nil, err
			}
		case lualex.Ellipsis:
			fn.IsVararg = true
			if err := p.next(); err != nil {
				return nil, err
			}
		default:
			return nil, p.errorf("<name> or '...' expected near '%v'", p.tok)
		}
		if fn.IsVararg || p.tok.Kind != lualex.Comma {
			break
		}
		if err := p.next(); err != nil {
			return nil, err
		}
	}
	if _, err := p.expectMatch(lualex.RParen, lualex.LParen, openLine); err != nil {
		return nil, err
	}
	var err error
	if fn.Body, err = p.block(); err != nil {
		return nil, err
	}
	end, err := p.expectMatch(lualex.KeywordEnd, lualex.KeywordFunction, line)
	if err != nil {
		return nil, err
	}
	fn.EndLine = end.Pos.Line
	return fn, nil
}
