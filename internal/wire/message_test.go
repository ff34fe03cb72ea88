package wire

import (
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		ok      bool
		prefix  string
		command string
		params  []string
	}{
		{
			name:    "simple command no params",
			input:   "PING",
			ok:      true,
			command: "PING",
		},
		{
			name:    "command lower-cased is upper-cased",
			input:   "nick alice",
			ok:      true,
			command: "NICK",
			params:  []string{"alice"},
		},
		{
			name:    "trailing param with spaces",
			input:   "PRIVMSG #chan :hello there world",
			ok:      true,
			command: "PRIVMSG",
			params:  []string{"#chan", "hello there world"},
		},
		{
			name:    "prefix is parsed but does not affect params",
			input:   ":someone PRIVMSG alice :hi",
			ok:      true,
			prefix:  "someone",
			command: "PRIVMSG",
			params:  []string{"alice", "hi"},
		},
		{
			name:  "blank line ignored",
			input: "",
			ok:    false,
		},
		{
			name:  "whitespace-only line ignored",
			input: "   ",
			ok:    false,
		},
		{
			name:    "runs of spaces collapse",
			input:   "JOIN   #chan",
			ok:      true,
			command: "JOIN",
			params:  []string{"#chan"},
		},
		{
			name:    "empty trailing param",
			input:   "PRIVMSG alice :",
			ok:      true,
			command: "PRIVMSG",
			params:  []string{"alice", ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line, ok := Parse(tt.input)
			if ok != tt.ok {
				t.Fatalf("Parse(%q) ok = %v, want %v", tt.input, ok, tt.ok)
			}
			if !ok {
				return
			}
			if line.Prefix != tt.prefix {
				t.Errorf("Parse(%q) prefix = %q, want %q", tt.input, line.Prefix, tt.prefix)
			}
			if line.Command != tt.command {
				t.Errorf("Parse(%q) command = %q, want %q", tt.input, line.Command, tt.command)
			}
			if !equalStrings(line.Params, tt.params) {
				t.Errorf("Parse(%q) params = %v, want %v", tt.input, line.Params, tt.params)
			}
		})
	}
}

func TestEncode(t *testing.T) {
	tests := []struct {
		name    string
		prefix  string
		command string
		middle  []string
		trailer *string
		want    string
	}{
		{
			name:    "numeric welcome",
			prefix:  "server",
			command: "001",
			middle:  []string{"alice"},
			trailer: strPtr("Welcome"),
			want:    ":server 001 alice :Welcome\r\n",
		},
		{
			name:    "join broadcast has no middle, only trailer",
			prefix:  "alice",
			command: "JOIN",
			trailer: strPtr("#chan"),
			want:    ":alice JOIN :#chan\r\n",
		},
		{
			name:    "part relay never adds a colon",
			prefix:  "alice",
			command: "PART",
			middle:  []string{"#chan"},
			want:    ":alice PART #chan\r\n",
		},
		{
			name:    "nick relay never adds a colon",
			prefix:  "oldnick",
			command: "NICK",
			middle:  []string{"newnick"},
			want:    ":oldnick NICK newnick\r\n",
		},
		{
			name:    "pong echoes empty payload as bare colon",
			prefix:  "server",
			command: "PONG",
			middle:  []string{"server"},
			trailer: strPtr(""),
			want:    ":server PONG server :\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Encode(tt.prefix, tt.command, tt.middle, tt.trailer)
			if got != tt.want {
				t.Errorf("Encode() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEncodeTruncatesOverlongLine(t *testing.T) {
	longText := strings.Repeat("x", 1000)
	line := Encode("alice", "PRIVMSG", []string{"#chan"}, &longText)

	if len(line) != MaxLineLength {
		t.Fatalf("len(line) = %d, want %d", len(line), MaxLineLength)
	}
	if !strings.HasSuffix(line, "\r\n") {
		t.Fatalf("truncated line does not end in CRLF: %q", line[len(line)-10:])
	}
}

func TestEncodedLenSeesOverflowEncodeHidesByTruncating(t *testing.T) {
	longText := strings.Repeat("x", 1000)

	line := Encode("alice", "PRIVMSG", []string{"#chan"}, &longText)
	if len(line) != MaxLineLength {
		t.Fatalf("len(Encode(...)) = %d, want %d", len(line), MaxLineLength)
	}

	rawLen := EncodedLen("alice", "PRIVMSG", []string{"#chan"}, &longText)
	if rawLen <= MaxLineLength {
		t.Fatalf("EncodedLen(...) = %d, want > %d (the untruncated length)", rawLen, MaxLineLength)
	}
}

func strPtr(s string) *string { return &s }

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
