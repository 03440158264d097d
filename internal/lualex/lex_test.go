// Copyright 2025 The lunar Authors
// SPDX-License-Identifier: MIT

package lualex

import (
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func scanAll(t *testing.T, src string) []Token {
	t.Helper()
	s := NewScanner(src)
	var tokens []Token
	for {
		tok, err := s.Scan()
		if errors.Is(err, io.EOF) {
			return tokens
		}
		if err != nil {
			t.Fatalf("Scan(%q): %v", src, err)
		}
		tokens = append(tokens, tok)
	}
}

func TestScan(t *testing.T) {
	tests := []struct {
		src  string
		want []Token
	}{
		{
			src: "local x = 42",
			want: []Token{
				{Kind: KeywordLocal, Pos: Position{1, 1}},
				{Kind: Name, Pos: Position{1, 7}, Text: "x"},
				{Kind: Equal, Pos: Position{1, 9}},
				{Kind: Numeral, Pos: Position{1, 11}, Text: "42"},
			},
		},
		{
			src: "a ~= b // 2",
			want: []Token{
				{Kind: Name, Pos: Position{1, 1}, Text: "a"},
				{Kind: TildeEqual, Pos: Position{1, 3}},
				{Kind: Name, Pos: Position{1, 6}, Text: "b"},
				{Kind: SlashSlash, Pos: Position{1, 8}},
				{Kind: Numeral, Pos: Position{1, 11}, Text: "2"},
			},
		},
		{
			src: "t[1] = 'a\\n'",
			want: []Token{
				{Kind: Name, Pos: Position{1, 1}, Text: "t"},
				{Kind: LBracket, Pos: Position{1, 2}},
				{Kind: Numeral, Pos: Position{1, 3}, Text: "1"},
				{Kind: RBracket, Pos: Position{1, 4}},
				{Kind: Equal, Pos: Position{1, 6}},
				{Kind: String, Pos: Position{1, 8}, Text: "a\n"},
			},
		},
		{
			src: "-- comment\nreturn --[[ long\ncomment ]] 1",
			want: []Token{
				{Kind: KeywordReturn, Pos: Position{2, 1}},
				{Kind: Numeral, Pos: Position{3, 12}, Text: "1"},
			},
		},
		{
			src: "s = [==[\nraw ]] text]==]",
			want: []Token{
				{Kind: Name, Pos: Position{1, 1}, Text: "s"},
				{Kind: Equal, Pos: Position{1, 3}},
				{Kind: String, Pos: Position{1, 5}, Text: "raw ]] text"},
			},
		},
		{
			src: "::continue:: goto continue",
			want: []Token{
				{Kind: ColonColon, Pos: Position{1, 1}},
				{Kind: Name, Pos: Position{1, 3}, Text: "continue"},
				{Kind: ColonColon, Pos: Position{1, 11}},
				{Kind: KeywordGoto, Pos: Position{1, 14}},
				{Kind: Name, Pos: Position{1, 19}, Text: "continue"},
			},
		},
		{
			src: "x = 0x1p4 .. ...",
			want: []Token{
				{Kind: Name, Pos: Position{1, 1}, Text: "x"},
				{Kind: Equal, Pos: Position{1, 3}},
				{Kind: Numeral, Pos: Position{1, 5}, Text: "0x1p4"},
				{Kind: DotDot, Pos: Position{1, 11}},
				{Kind: Ellipsis, Pos: Position{1, 14}},
			},
		},
	}
	for _, test := range tests {
		got := scanAll(t, test.src)
		if diff := cmp.Diff(test.want, got); diff != "" {
			t.Errorf("scan %q (-want +got):\n%s", test.src, diff)
		}
	}
}

func TestScanErrors(t *testing.T) {
	sources := []string{
		`"unfinished`,
		"'newline\n'",
		"[[unfinished",
		`"\q"`,
		"3a",
	}
	for _, src := range sources {
		s := NewScanner(src)
		var err error
		for err == nil {
			_, err = s.Scan()
		}
		if errors.Is(err, io.EOF) {
			t.Errorf("scan %q: want error, got clean EOF", src)
		}
	}
}

func TestScanEscapes(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{`"\65\66\67"`, "ABC"},
		{`"\x41\x42"`, "AB"},
		{`"\u{48}\u{49}"`, "HI"},
		{"\"a\\z  \n  b\"", "ab"},
		{`"\\"`, `\`},
	}
	for _, test := range tests {
		tokens := scanAll(t, test.src)
		if len(tokens) != 1 || tokens[0].Kind != String {
			t.Errorf("scan %q: got %v; want one string", test.src, tokens)
			continue
		}
		if tokens[0].Text != test.want {
			t.Errorf("scan %q = %q; want %q", test.src, tokens[0].Text, test.want)
		}
	}
}

func TestParseInt(t *testing.T) {
	tests := []struct {
		s       string
		want    int64
		wantErr bool
	}{
		{"42", 42, false},
		{"-7", -7, false},
		{"0x10", 16, false},
		{"0XFF", 255, false},
		{"  99  ", 99, false},
		{"0xFFFFFFFFFFFFFFFF", -1, false},
		{"0x10000000000000001", 1, false},
		{"3.0", 0, true},
		{"1e3", 0, true},
		{"", 0, true},
		{"1_000", 0, true},
	}
	for _, test := range tests {
		got, err := ParseInt(test.s)
		if test.wantErr {
			if err == nil {
				t.Errorf("ParseInt(%q) = %d; want error", test.s, got)
			}
			continue
		}
		if err != nil || got != test.want {
			t.Errorf("ParseInt(%q) = %d, %v; want %d, nil", test.s, got, err, test.want)
		}
	}
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		s       string
		want    float64
		wantErr bool
	}{
		{"3.25", 3.25, false},
		{"1e2", 100, false},
		{"0x10", 16, false},
		{"0x1p4", 16, false},
		{"0x.8", 0.5, false},
		{"inf", 0, true},
		{"nan", 0, true},
		{"x", 0, true},
	}
	for _, test := range tests {
		got, err := ParseNumber(test.s)
		if test.wantErr {
			if err == nil {
				t.Errorf("ParseNumber(%q) = %g; want error", test.s, got)
			}
			continue
		}
		if err != nil || got != test.want {
			t.Errorf("ParseNumber(%q) = %g, %v; want %g, nil", test.s, got, err, test.want)
		}
	}
}

func TestQuote(t *testing.T) {
	tests := []struct {
		s    string
		want string
	}{
		{"hello", `"hello"`},
		{"a\nb", `"a\nb"`},
		{`say "hi"`, `"say \"hi\""`},
		{"\x00", `"\0"`},
	}
	for _, test := range tests {
		if got := Quote(test.s); got != test.want {
			t.Errorf("Quote(%q) = %s; want %s", test.s, got, test.want)
		}
	}
}
