package embedding

import (
	"reflect"
	"testing"
)

func TestSimpleTokenizer_Tokenize(t *testing.T) {
	tok := &SimpleTokenizer{}
	ids, attn, types := tok.Tokenize("Hello world", 10)
	if len(ids) != 10 || len(attn) != 10 || len(types) != 10 {
		t.Fatalf("lengths = %d/%d/%d", len(ids), len(attn), len(types))
	}
	if ids[0] != clsToken || ids[3] != sepToken {
		t.Errorf("ids = %v", ids)
	}
	if attn[3] != 1 || attn[4] != 0 {
		t.Errorf("attention = %v", attn)
	}
	upper, _, _ := tok.Tokenize("HELLO WORLD", 10)
	if !reflect.DeepEqual(ids, upper) {
		t.Error("tokenization should be case-insensitive")
	}
}

func TestSimpleTokenizer_truncates(t *testing.T) {
	ids, attn, _ := (&SimpleTokenizer{}).Tokenize("a b c d e f", 4)
	if len(ids) != 4 {
		t.Fatalf("len = %d", len(ids))
	}
	if ids[3] != sepToken || attn[3] != 1 {
		t.Errorf("last token should be SEP: %v", ids)
	}
}

func TestSplitWords(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"  a  b  c  ", []string{"a", "b", "c"}},
		{"walk, then [[Park]].", []string{"walk", "then", "Park"}},
		{"café 2024-05-06", []string{"café", "2024", "05", "06"}},
		{"", []string{}},
	}
	for _, tt := range tests {
		got := SplitWords(tt.in)
		if len(got) == 0 && len(tt.want) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("SplitWords(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestHashString(t *testing.T) {
	if HashString("abc") != HashString("abc") {
		t.Error("hash should be deterministic")
	}
	if HashString("abc") == HashString("abd") {
		t.Error("distinct words should usually hash apart")
	}
	if HashString("abc") < 0 {
		t.Error("hash should be non-negative")
	}
}
