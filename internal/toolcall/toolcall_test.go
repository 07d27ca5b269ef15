package toolcall

import (
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Outcome
	}{
		{
			name: "plain answer",
			text: "OPT lasts up to 12 months.",
			want: FinalAnswer{Text: "OPT lasts up to 12 months."},
		},
		{
			name: "web search",
			text: `web_search("tufts f-1 visa renewal")`,
			want: ToolCall{Name: WebSearch, Argument: "tufts f-1 visa renewal"},
		},
		{
			name: "get page",
			text: `Let me read it. get_page("https://internationalcenter.tufts.edu/opt")`,
			want: ToolCall{Name: FetchPage, Argument: "https://internationalcenter.tufts.edu/opt"},
		},
		{
			name: "fetch_page alias",
			text: `fetch_page("https://example.edu")`,
			want: ToolCall{Name: FetchPage, Argument: "https://example.edu"},
		},
		{
			name: "first of two calls wins",
			text: `I will web_search("tufts visa") then get_page("x")`,
			want: ToolCall{Name: WebSearch, Argument: "tufts visa"},
		},
		{
			name: "escaped quote in argument",
			text: `web_search("\"optional practical training\" tufts")`,
			want: ToolCall{Name: WebSearch, Argument: `"optional practical training" tufts`},
		},
		{
			name: "unknown escape kept",
			text: `web_search("form i\-20")`,
			want: ToolCall{Name: WebSearch, Argument: "form i-20"},
		},
		{
			name: "empty argument is not a call",
			text: `web_search("")`,
			want: FinalAnswer{Text: `web_search("")`},
		},
		{
			name: "empty argument skipped for later call",
			text: `web_search("  ") or web_search("cpt")`,
			want: ToolCall{Name: WebSearch, Argument: "cpt"},
		},
		{
			name: "single quotes are ill-formed",
			text: `web_search('visa')`,
			want: FinalAnswer{Text: `web_search('visa')`},
		},
		{
			name: "identifier must start on word boundary",
			text: `my_web_search("visa")`,
			want: FinalAnswer{Text: `my_web_search("visa")`},
		},
		{
			name: "unknown tool",
			text: `send_email("advisor@tufts.edu")`,
			want: FinalAnswer{Text: `send_email("advisor@tufts.edu")`},
		},
		{
			name: "inline code ignored",
			text: "You can ask me to run `web_search(\"anything\")` for you.",
			want: FinalAnswer{Text: "You can ask me to run `web_search(\"anything\")` for you."},
		},
		{
			name: "fenced block ignored",
			text: "Example:\n```\nget_page(\"https://example.com\")\n```\nThat is how it works.",
			want: FinalAnswer{Text: "Example:\n```\nget_page(\"https://example.com\")\n```\nThat is how it works."},
		},
		{
			name: "quoted line ignored",
			text: "> web_search(\"quoted\")\nNo search needed.",
			want: FinalAnswer{Text: "> web_search(\"quoted\")\nNo search needed."},
		},
		{
			name: "call after fenced block still found",
			text: "```\nweb_search(\"no\")\n```\nweb_search(\"yes\")",
			want: ToolCall{Name: WebSearch, Argument: "yes"},
		},
		{
			name: "clarification",
			text: "Are you on an F-1 or J-1 visa?\n[NEEDS_CLARIFICATION]",
			want: NeedsClarification{Text: "Are you on an F-1 or J-1 visa?"},
		},
		{
			name: "clarification with trailing whitespace",
			text: "Which program are you in? [NEEDS_CLARIFICATION]  \n",
			want: NeedsClarification{Text: "Which program are you in?"},
		},
		{
			name: "marker not at end is an answer",
			text: "[NEEDS_CLARIFICATION] is a tag I use.",
			want: FinalAnswer{Text: "[NEEDS_CLARIFICATION] is a tag I use."},
		},
		{
			name: "call takes precedence over marker",
			text: `web_search("opt") [NEEDS_CLARIFICATION]`,
			want: ToolCall{Name: WebSearch, Argument: "opt"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Parse(%q) = %#v, want %#v", tt.text, got, tt.want)
			}
		})
	}
}

func TestParseIsDeterministic(t *testing.T) {
	text := `get_page("a") web_search("b") get_page("c")`
	first := Parse(text)
	for i := 0; i < 10; i++ {
		if got := Parse(text); !reflect.DeepEqual(got, first) {
			t.Fatalf("Parse changed result: %#v vs %#v", got, first)
		}
	}
}

func TestMaskQuotedPreservesOffsets(t *testing.T) {
	text := "a `b` c\n> d\n```\ne\n```\nf"
	got := maskQuoted(text)
	if len(got) != len(text) {
		t.Fatalf("len = %d, want %d", len(got), len(text))
	}
	want := "a     c\n   \n   \n \n   \nf"
	if got != want {
		t.Errorf("maskQuoted = %q, want %q", got, want)
	}
}
