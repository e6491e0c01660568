package cmdline

import (
	"reflect"
	"testing"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name    string
		command string
		want    []string
	}{
		{"simple", "npx -y server-filesystem /tmp", []string{"npx", "-y", "server-filesystem", "/tmp"}},
		{"double quotes", `node "my server.js" --port 3000`, []string{"node", "my server.js", "--port", "3000"}},
		{"single quotes", `python 'a b.py'`, []string{"python", "a b.py"}},
		{"empty quoted token", `cmd ""`, []string{"cmd", ""}},
		{"unmatched quote kept literal", `cmd "unterminated`, []string{"cmd", `"unterminated`}},
		{"extra whitespace", "  cmd   arg  ", []string{"cmd", "arg"}},
		{"tabs", "cmd\targ", []string{"cmd", "arg"}},
		{"empty", "", nil},
		{"only spaces", "   ", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Split(tt.command)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Split(%q) = %#v, want %#v", tt.command, got, tt.want)
			}
		})
	}
}

func TestParse(t *testing.T) {
	name, args, err := Parse(`npx -y @modelcontextprotocol/server-filesystem "/private/tmp/work dir"`)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if name != "npx" {
		t.Errorf("name = %q, want npx", name)
	}
	want := []string{"-y", "@modelcontextprotocol/server-filesystem", "/private/tmp/work dir"}
	if !reflect.DeepEqual(args, want) {
		t.Errorf("args = %#v, want %#v", args, want)
	}
}

func TestParseEmpty(t *testing.T) {
	if _, _, err := Parse("   "); err != ErrEmptyCommand {
		t.Errorf("Parse(blank) err = %v, want ErrEmptyCommand", err)
	}
}

func TestStringQuotesWhitespace(t *testing.T) {
	got := String([]string{"node", "my server.js"})
	if got != `node "my server.js"` {
		t.Errorf("String = %q", got)
	}
}
