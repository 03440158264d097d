// Copyright 2025 The lunar Authors
// SPDX-License-Identifier: MIT

package luasyntax

import (
	"strings"
	"testing"
)

func parseChunk(t *testing.T, src string) *Block {
	t.Helper()
	block, err := Parse("test", src)
	if err != nil {
		t.Fatalf("Parse(%q): %v", src, err)
	}
	return block
}

func TestParseStatements(t *testing.T) {
	t.Run("LocalWithAttribs", func(t *testing.T) {
		block := parseChunk(t, "local a <const>, b, c <close> = 1, 2")
		stmt, ok := block.Stmts[0].(*LocalStmt)
		if !ok {
			t.Fatalf("statement is %T; want *LocalStmt", block.Stmts[0])
		}
		wantAttribs := []Attrib{ConstAttrib, NoAttrib, CloseAttrib}
		if len(stmt.Names) != len(wantAttribs) {
			t.Fatalf("len(Names) = %d; want %d", len(stmt.Names), len(wantAttribs))
		}
		for i, want := range wantAttribs {
			if stmt.Names[i].Attrib != want {
				t.Errorf("Names[%d].Attrib = %v; want %v", i, stmt.Names[i].Attrib, want)
			}
		}
		if len(stmt.Values) != 2 {
			t.Errorf("len(Values) = %d; want 2", len(stmt.Values))
		}
	})

	t.Run("MethodDeclaration", func(t *testing.T) {
		block := parseChunk(t, "function obj.child:method(a) end")
		stmt, ok := block.Stmts[0].(*FunctionStmt)
		if !ok {
			t.Fatalf("statement is %T; want *FunctionStmt", block.Stmts[0])
		}
		if got, want := strings.Join(stmt.NamePath, "."), "obj.child.method"; got != want {
			t.Errorf("NamePath = %q; want %q", got, want)
		}
		if !stmt.IsMethod {
			t.Error("IsMethod = false")
		}
		if got := stmt.Func.Params; len(got) != 2 || got[0] != "self" || got[1] != "a" {
			t.Errorf("Params = %v; want [self a]", got)
		}
	})

	t.Run("GenericFor", func(t *testing.T) {
		block := parseChunk(t, "for k, v in next, t do end")
		stmt, ok := block.Stmts[0].(*GenericForStmt)
		if !ok {
			t.Fatalf("statement is %T; want *GenericForStmt", block.Stmts[0])
		}
		if len(stmt.Names) != 2 || len(stmt.Exprs) != 2 {
			t.Errorf("Names = %v, Exprs has %d entries; want 2 and 2", stmt.Names, len(stmt.Exprs))
		}
	})

	t.Run("ElseifChain", func(t *testing.T) {
		block := parseChunk(t, "if a then\nelseif b then\nelse\nend")
		stmt := block.Stmts[0].(*IfStmt)
		if stmt.Else == nil {
			t.Fatal("outer Else is nil")
		}
		nested, ok := stmt.Else.Stmts[0].(*IfStmt)
		if !ok {
			t.Fatalf("elseif did not nest; got %T", stmt.Else.Stmts[0])
		}
		if nested.Else == nil {
			t.Error("nested else missing")
		}
	})

	t.Run("RepeatSeesBodyLocals", func(t *testing.T) {
		block := parseChunk(t, "repeat local done = true until done")
		stmt := block.Stmts[0].(*RepeatStmt)
		if _, ok := stmt.Cond.(*NameExpr); !ok {
			t.Errorf("Cond is %T; want *NameExpr", stmt.Cond)
		}
	})
}

func TestParseExpressions(t *testing.T) {
	t.Run("Precedence", func(t *testing.T) {
		// 1 + 2 * 3 parses as 1 + (2 * 3).
		block := parseChunk(t, "return 1 + 2 * 3")
		ret := block.Stmts[0].(*ReturnStmt)
		add, ok := ret.Exprs[0].(*BinaryExpr)
		if !ok || add.Op != OpAdd {
			t.Fatalf("root is %T; want + expression", ret.Exprs[0])
		}
		if mul, ok := add.Right.(*BinaryExpr); !ok || mul.Op != OpMul {
			t.Errorf("right child is %T; want * expression", add.Right)
		}
	})

	t.Run("RightAssociativeConcat", func(t *testing.T) {
		block := parseChunk(t, "return 'a' .. 'b' .. 'c'")
		ret := block.Stmts[0].(*ReturnStmt)
		concat := ret.Exprs[0].(*BinaryExpr)
		if _, ok := concat.Right.(*BinaryExpr); !ok {
			t.Error("concat chain is not right-associative")
		}
	})

	t.Run("PowerBindsTighterThanUnary", func(t *testing.T) {
		// -x ^ 2 parses as -(x ^ 2): power binds tighter than unary minus.
		block := parseChunk(t, "return -x ^ 2")
		ret := block.Stmts[0].(*ReturnStmt)
		if unary, ok := ret.Exprs[0].(*UnaryExpr); !ok || unary.Op != OpUnm {
			t.Fatalf("root is %T; want unary minus", ret.Exprs[0])
		} else if _, ok := unary.Operand.(*BinaryExpr); !ok {
			t.Error("power did not bind tighter than unary minus")
		}
	})

	t.Run("TableConstructor", func(t *testing.T) {
		block := parseChunk(t, "return {1, two = 2, [3] = 'three'; 4}")
		ret := block.Stmts[0].(*ReturnStmt)
		table := ret.Exprs[0].(*TableExpr)
		if len(table.Fields) != 4 {
			t.Fatalf("len(Fields) = %d; want 4", len(table.Fields))
		}
		if table.Fields[0].Key != nil || table.Fields[3].Key != nil {
			t.Error("array items should have nil keys")
		}
		if key, ok := table.Fields[1].Key.(*StringExpr); !ok || key.Value != "two" {
			t.Errorf("Fields[1].Key = %#v; want string 'two'", table.Fields[1].Key)
		}
	})

	t.Run("StringCall", func(t *testing.T) {
		block := parseChunk(t, "print 'hello'")
		stmt := block.Stmts[0].(*ExprStmt)
		call := stmt.Call.(*CallExpr)
		if len(call.Args) != 1 {
			t.Fatalf("len(Args) = %d; want 1", len(call.Args))
		}
		if _, ok := call.Args[0].(*StringExpr); !ok {
			t.Errorf("argument is %T; want *StringExpr", call.Args[0])
		}
	})

	t.Run("OperatorLine", func(t *testing.T) {
		block := parseChunk(t, "return 1 +\n2")
		ret := block.Stmts[0].(*ReturnStmt)
		add := ret.Exprs[0].(*BinaryExpr)
		if add.Line() != 1 {
			t.Errorf("operator line = %d; want 1", add.Line())
		}
		if add.Right.Line() != 2 {
			t.Errorf("right operand line = %d; want 2", add.Right.Line())
		}
	})
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"local = 1", "<name>"},
		{"if x then", "'end' expected"},
		{"return 1 +", "unexpected symbol"},
		{"f(,)", "unexpected symbol"},
		{"local x <constant> = 1", "unknown attribute 'constant'"},
		{"1 + 2", "unexpected symbol"},
		{"a, b", "'=' expected"},
	}
	for _, test := range tests {
		_, err := Parse("test", test.src)
		if err == nil {
			t.Errorf("Parse(%q) succeeded; want error containing %q", test.src, test.want)
			continue
		}
		if !strings.Contains(err.Error(), test.want) {
			t.Errorf("Parse(%q) error = %q; want substring %q", test.src, err, test.want)
		}
	}
}
