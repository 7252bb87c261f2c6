// Package web resolves hashed URL references into annotated text.
//
// User input may embed URLs wrapped in '#' markers. This package finds
// them, fetches each page and reduces the HTML to a grouped plain-text
// summary suitable for prompt context. An external reader service can
// be used instead of the built-in extractor.
package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/sync/errgroup"

	"github.com/easyops/aicontext-go/pkg/core/errors"
	"github.com/easyops/aicontext-go/pkg/otel"
)

// hashedURLPattern 匹配被 '#' 包裹的 http(s) URL
var hashedURLPattern = regexp.MustCompile(`#(https?://[^\s#]+)#`)

// FindHashedURLs 提取文本中的全部被包裹 URL
//
// 结果去重且保持首次出现的顺序。
func FindHashedURLs(text string) []string {
	matches := hashedURLPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(matches))
	urls := make([]string, 0, len(matches))
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			urls = append(urls, m[1])
		}
	}
	return urls
}

// Reference 一个已解析的网页引用
//
// 解析失败时 Text 为 "Error: <原因>"，单个失败不影响其余 URL。
type Reference struct {
	URL  string `json:"url"`
	Text string `json:"text"`
}

// ClientMode 网页抓取方式
type ClientMode string

const (
	// ClientInternal 内置抓取与 HTML 提取
	ClientInternal ClientMode = "internal"
	// ClientExternal 通过外部阅读服务抓取
	ClientExternal ClientMode = "external"
)

// Resolver 网页引用解析器
type Resolver struct {
	mode    ClientMode
	client  *http.Client
	reader  string
	logger  otel.Logger
	metrics otel.Metrics
}

// ResolverOption 解析器配置选项
type ResolverOption func(*Resolver)

// WithHTTPClient 设置 HTTP 客户端
func WithHTTPClient(client *http.Client) ResolverOption {
	return func(r *Resolver) {
		r.client = client
	}
}

// WithReaderEndpoint 设置外部阅读服务地址
func WithReaderEndpoint(endpoint string) ResolverOption {
	return func(r *Resolver) {
		r.reader = endpoint
	}
}

// WithLogger 设置日志器
func WithLogger(logger otel.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// NewResolver 创建网页引用解析器
//
// mode 必须是 internal 或 external，其余值返回 ErrConfiguration。
func NewResolver(mode ClientMode, opts ...ResolverOption) (*Resolver, error) {
	if mode != ClientInternal && mode != ClientExternal {
		return nil, errors.WrapError(errors.ErrConfiguration,
			fmt.Sprintf("unknown web scrape client %q", mode))
	}

	r := &Resolver{
		mode:    mode,
		client:  &http.Client{Timeout: 30 * time.Second},
		reader:  "https://r.jina.ai/",
		logger:  otel.GetLogger(),
		metrics: otel.GetMetrics(),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// Resolve 并行解析一组 URL
//
// 每个 URL 独立成功或失败，失败以 "Error: <原因>" 文本返回。
// 结果顺序与输入一致。
func (r *Resolver) Resolve(ctx context.Context, urls []string) []Reference {
	if len(urls) == 0 {
		return nil
	}

	refs := make([]Reference, len(urls))
	g, ctx := errgroup.WithContext(ctx)

	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			text, err := r.fetch(ctx, u)
			if err != nil {
				r.logger.Warn("web reference failed", "url", u, "error", err)
				text = "Error: " + err.Error()
			}
			refs[i] = Reference{URL: u, Text: text}
			r.metrics.Counter(otel.MetricWebReferences).Add(ctx, 1,
				otel.NewAttr("success", err == nil))
			// 失败已折叠进结果，不向上传播
			return nil
		})
	}

	// 所有 goroutine 都返回 nil
	_ = g.Wait()
	return refs
}

// fetch 抓取单个 URL 并提取文本
func (r *Resolver) fetch(ctx context.Context, target string) (string, error) {
	requestURL := target
	if r.mode == ClientExternal {
		requestURL = r.reader + url.QueryEscape(target)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return "", errors.WrapError(err, "failed to build request")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", errors.WrapError(errors.ErrTransport, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.WrapError(errors.ErrTransport,
			fmt.Sprintf("unexpected status %d for %s", resp.StatusCode, target))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.WrapError(err, "failed to read response body")
	}

	// 外部阅读服务直接返回纯文本
	if r.mode == ClientExternal {
		return string(body), nil
	}

	return ExtractText(target, string(body))
}

// section 一类页面内容的收集器
type section struct {
	header string
	lines  []string
}

func (s *section) add(line string) {
	line = strings.TrimSpace(line)
	if line != "" {
		s.lines = append(s.lines, line)
	}
}

// ExtractText 将 HTML 归约为按内容类型分组的纯文本
//
// 输出依次包含标题、各级小标题、段落、列表项、引用块和链接，
// 每组带说明性表头，便于模型溯源。
func ExtractText(pageURL, rawHTML string) (string, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return "", errors.WrapError(errors.ErrParse, err.Error())
	}

	var (
		title       string
		headings    = &section{header: "Headings:"}
		paragraphs  = &section{header: "Paragraphs:"}
		listItems   = &section{header: "List items:"}
		blockquotes = &section{header: "Blockquotes:"}
		links       = &section{header: "Links:"}
	)

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript":
				return
			case "title":
				title = nodeText(n)
			case "h1", "h2", "h3", "h4", "h5", "h6":
				headings.add(nodeText(n))
			case "p":
				paragraphs.add(nodeText(n))
			case "li":
				listItems.add(nodeText(n))
			case "blockquote":
				blockquotes.add(nodeText(n))
			case "a":
				text := nodeText(n)
				href := attrValue(n, "href")
				if href != "" && text != "" {
					links.add(text + " -> " + href)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	var b strings.Builder
	fmt.Fprintf(&b, "Page: %s\n", pageURL)
	if title != "" {
		fmt.Fprintf(&b, "Title: %s\n", strings.TrimSpace(title))
	}
	for _, sec := range []*section{headings, paragraphs, listItems, blockquotes, links} {
		if len(sec.lines) == 0 {
			continue
		}
		b.WriteString("\n" + sec.header + "\n")
		for _, line := range sec.lines {
			b.WriteString("- " + line + "\n")
		}
	}

	return b.String(), nil
}

// nodeText 收集节点子树中的全部文本
func nodeText(n *html.Node) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

// attrValue 查找节点属性值
func attrValue(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}
