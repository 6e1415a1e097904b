package tokenize

import (
	"reflect"
	"testing"

	"github.com/vigia-news/vigia/pkg/common"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []common.Token
	}{
		{
			name:  "empty input",
			input: "",
			want:  nil,
		},
		{
			name:  "initialism with periods stays one token",
			input: "J.C.E.",
			want: []common.Token{
				{Text: "J.C.E.", TextNormalized: "jce", Position: 0, LooksLikeInitials: true},
			},
		},
		{
			name:  "initialism without trailing period gets one appended",
			input: "J.C.E",
			want: []common.Token{
				{Text: "J.C.E.", TextNormalized: "jce", Position: 0, LooksLikeInitials: true},
			},
		},
		{
			name:  "plain initialism",
			input: "JCE",
			want: []common.Token{
				{Text: "JCE", TextNormalized: "jce", Position: 0, LooksLikeInitials: true},
			},
		},
		{
			name:  "full organization name",
			input: "Junta Central Electoral",
			want: []common.Token{
				{Text: "Junta", TextNormalized: "junta", Position: 0},
				{Text: "Central", TextNormalized: "central", Position: 1},
				{Text: "Electoral", TextNormalized: "electoral", Position: 2},
			},
		},
		{
			name:  "stopwords flagged and diacritics stripped",
			input: "Ministerio de Educación",
			want: []common.Token{
				{Text: "Ministerio", TextNormalized: "ministerio", Position: 0},
				{Text: "de", TextNormalized: "de", Position: 1, IsStopword: true},
				{Text: "Educación", TextNormalized: "educacion", Position: 2},
			},
		},
		{
			name:  "person with dotted initials is not a whole-name initialism",
			input: "J. M. Fernández",
			want: []common.Token{
				{Text: "J", TextNormalized: "j", Position: 0},
				{Text: "M", TextNormalized: "m", Position: 1},
				{Text: "Fernández", TextNormalized: "fernandez", Position: 2},
			},
		},
		{
			name:  "hyphens and commas separate",
			input: "Santo Domingo, D.N.",
			want: []common.Token{
				{Text: "Santo", TextNormalized: "santo", Position: 0},
				{Text: "Domingo", TextNormalized: "domingo", Position: 1},
				{Text: "D.N.", TextNormalized: "dn", Position: 2},
			},
		},
		{
			name:  "lowercase single token is not initials",
			input: "jce",
			want: []common.Token{
				{Text: "jce", TextNormalized: "jce", Position: 0},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.input)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Tokenize(%q) = %#v, want %#v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"J.C.E.", "jce"},
		{"Educación", "educacion"},
		{"PEÑA", "pena"},
		{"Luis Abinader", "luis abinader"},
	}

	for _, tt := range tests {
		if got := Normalize(tt.input); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestInitials(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"full name", "Junta Central Electoral", "jce"},
		{"skips stopwords", "Ministerio de Educación", "me"},
		{"dotted person initials", "J. M. Fernández", "jmf"},
		{"single token", "JCE", "j"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Initials(Tokenize(tt.input)); got != tt.want {
				t.Errorf("Initials(Tokenize(%q)) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
