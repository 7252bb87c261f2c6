package web

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	aierrors "github.com/easyops/aicontext-go/pkg/core/errors"
)

func TestFindHashedURLs(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{
			name:  "single url",
			input: "please read #https://example.com/doc# first",
			want:  []string{"https://example.com/doc"},
		},
		{
			name:  "multiple urls keep order",
			input: "#https://b.example# then #http://a.example#",
			want:  []string{"https://b.example", "http://a.example"},
		},
		{
			name:  "duplicates collapse to first occurrence",
			input: "#https://x.example# and again #https://x.example#",
			want:  []string{"https://x.example"},
		},
		{
			name:  "unwrapped url ignored",
			input: "plain https://example.com not wrapped",
			want:  nil,
		},
		{
			name:  "unterminated marker ignored",
			input: "broken #https://example.com no closer",
			want:  nil,
		},
		{
			name:  "non http scheme ignored",
			input: "#ftp://example.com/file#",
			want:  nil,
		},
		{
			name:  "empty input",
			input: "",
			want:  nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FindHashedURLs(tt.input)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("FindHashedURLs(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNewResolverUnknownMode(t *testing.T) {
	_, err := NewResolver("carrier-pigeon")
	if !errors.Is(err, aierrors.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
}

func TestExtractTextGroupsContent(t *testing.T) {
	rawHTML := `<html><head><title>My Page</title><style>p{color:red}</style></head>
	<body>
	<h1>Intro</h1>
	<p>First paragraph.</p>
	<ul><li>alpha</li><li>beta</li></ul>
	<blockquote>famous words</blockquote>
	<a href="/more">read more</a>
	<script>ignored()</script>
	</body></html>`

	text, err := ExtractText("https://example.com", rawHTML)
	if err != nil {
		t.Fatalf("ExtractText failed: %v", err)
	}

	for _, want := range []string{
		"Page: https://example.com",
		"Title: My Page",
		"Headings:",
		"- Intro",
		"Paragraphs:",
		"- First paragraph.",
		"List items:",
		"- alpha",
		"- beta",
		"Blockquotes:",
		"- famous words",
		"Links:",
		"- read more -> /more",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("extracted text missing %q:\n%s", want, text)
		}
	}

	if strings.Contains(text, "ignored()") || strings.Contains(text, "color:red") {
		t.Errorf("script/style content leaked into output:\n%s", text)
	}
}

func TestResolveInternal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>Served</title></head><body><p>hello</p></body></html>`))
	}))
	defer server.Close()

	resolver, err := NewResolver(ClientInternal)
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}

	refs := resolver.Resolve(context.Background(), []string{server.URL})
	if len(refs) != 1 {
		t.Fatalf("got %d references, want 1", len(refs))
	}
	if refs[0].URL != server.URL {
		t.Errorf("URL = %s, want %s", refs[0].URL, server.URL)
	}
	if !strings.Contains(refs[0].Text, "Title: Served") {
		t.Errorf("text missing title:\n%s", refs[0].Text)
	}
}

func TestResolvePartialFailure(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><p>ok</p></body></html>`))
	}))
	defer good.Close()

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	resolver, err := NewResolver(ClientInternal)
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}

	refs := resolver.Resolve(context.Background(), []string{good.URL, bad.URL})
	if len(refs) != 2 {
		t.Fatalf("got %d references, want 2", len(refs))
	}
	if strings.HasPrefix(refs[0].Text, "Error:") {
		t.Errorf("first URL should succeed, got %q", refs[0].Text)
	}
	if !strings.HasPrefix(refs[1].Text, "Error:") {
		t.Errorf("failed URL must yield Error text, got %q", refs[1].Text)
	}
}

func TestResolveExternalEscapesTarget(t *testing.T) {
	var requested string
	reader := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = r.URL.String()
		w.Write([]byte("plain text summary"))
	}))
	defer reader.Close()

	resolver, err := NewResolver(ClientExternal, WithReaderEndpoint(reader.URL+"/"))
	if err != nil {
		t.Fatalf("NewResolver failed: %v", err)
	}

	refs := resolver.Resolve(context.Background(), []string{"https://example.com/a?b=c"})
	if len(refs) != 1 {
		t.Fatalf("got %d references, want 1", len(refs))
	}
	if refs[0].Text != "plain text summary" {
		t.Errorf("external text = %q", refs[0].Text)
	}
	if !strings.Contains(requested, "https%3A%2F%2Fexample.com") {
		t.Errorf("target URL not escaped in reader request: %s", requested)
	}
}
