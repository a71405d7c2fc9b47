package page

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ahwlsqja/csrf-recovery/pkg/notice"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

const (
	// MetaName is the name of the meta tag carrying the token.
	MetaName = "csrf-token"

	// FieldName is the name of hidden inputs carrying the token.
	FieldName = "_token"

	// NoticeID identifies the injected expiry notice.
	NoticeID = "csrf-expiry-notice"
)

// Document is a parsed page whose token locations are kept in sync.
// It implements csrfclient.Sink.
type Document struct {
	mu   sync.Mutex
	root *html.Node
}

// Parse reads an HTML page.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return &Document{root: root}, nil
}

// ParseString is Parse for in-memory markup.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// Token returns the token in the meta tag, or "" when there is none.
func (d *Document) Token() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if meta := findFirst(d.root, isTokenMeta); meta != nil {
		return getAttrValue(meta, "content")
	}
	return ""
}

// HiddenTokens returns the values of every hidden token input, in document order.
func (d *Document) HiddenTokens() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, n := range findAll(d.root, isTokenField) {
		out = append(out, getAttrValue(n, "value"))
	}
	return out
}

// ApplyToken writes token into the meta tag (creating it in <head> when
// missing) and into every hidden token input.
func (d *Document) ApplyToken(token string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	meta := findFirst(d.root, isTokenMeta)
	if meta == nil {
		meta = &html.Node{
			Type:     html.ElementNode,
			DataAtom: atom.Meta,
			Data:     "meta",
			Attr:     []html.Attribute{{Key: "name", Val: MetaName}},
		}
		if head := findFirst(d.root, isElement("head")); head != nil {
			head.AppendChild(meta)
		}
	}
	setAttr(meta, "content", token)

	for _, n := range findAll(d.root, isTokenField) {
		setAttr(n, "value", token)
	}
}

// ShowNotice renders n as an alert at the top of <body>, replacing any
// previous expiry notice.
func (d *Document) ShowNotice(n notice.Notice) {
	d.mu.Lock()
	defer d.mu.Unlock()

	removeNotice(d.root)
	body := findFirst(d.root, isElement("body"))
	if body == nil {
		return
	}

	div := element(atom.Div, "div",
		html.Attribute{Key: "id", Val: NoticeID},
		html.Attribute{Key: "role", Val: "alert"},
		html.Attribute{Key: "data-notice-id", Val: n.ID},
		html.Attribute{Key: "data-expires-at", Val: n.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z")},
	)
	msg := element(atom.Span, "span")
	msg.AppendChild(&html.Node{Type: html.TextNode, Data: n.Message})
	div.AppendChild(msg)

	reload := element(atom.Button, "button",
		html.Attribute{Key: "type", Val: "button"},
		html.Attribute{Key: "data-action", Val: "reload"},
	)
	reload.AppendChild(&html.Node{Type: html.TextNode, Data: n.ActionLabel})
	div.AppendChild(reload)

	dismiss := element(atom.Button, "button",
		html.Attribute{Key: "type", Val: "button"},
		html.Attribute{Key: "data-action", Val: "dismiss"},
		html.Attribute{Key: "aria-label", Val: "Dismiss"},
	)
	dismiss.AppendChild(&html.Node{Type: html.TextNode, Data: "×"})
	div.AppendChild(dismiss)

	body.InsertBefore(div, body.FirstChild)
}

// ClearNotice removes the expiry notice if present.
func (d *Document) ClearNotice() {
	d.mu.Lock()
	defer d.mu.Unlock()
	removeNotice(d.root)
}

// NoticeID returns the id of the displayed notice, or "".
func (d *Document) NoticeID() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n := findFirst(d.root, isNotice); n != nil {
		return getAttrValue(n, "data-notice-id")
	}
	return ""
}

// Render writes the document as HTML.
func (d *Document) Render(w io.Writer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return html.Render(w, d.root)
}

// String renders the document, ignoring write errors.
func (d *Document) String() string {
	var sb strings.Builder
	_ = d.Render(&sb)
	return sb.String()
}

// NoticeHooks wires a notice board to this document.
func (d *Document) NoticeHooks(onReload func()) notice.Hooks {
	return notice.Hooks{
		OnShow: d.ShowNotice,
		OnHide: func(n notice.Notice) {
			if d.NoticeID() == n.ID {
				d.ClearNotice()
			}
		},
		OnReload: onReload,
	}
}

func removeNotice(root *html.Node) {
	if n := findFirst(root, isNotice); n != nil && n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

func element(a atom.Atom, tag string, attrs ...html.Attribute) *html.Node {
	return &html.Node{Type: html.ElementNode, DataAtom: a, Data: tag, Attr: attrs}
}

func isElement(tag string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.Data == tag
	}
}

func isTokenMeta(n *html.Node) bool {
	return n.Type == html.ElementNode && n.Data == "meta" && getAttrValue(n, "name") == MetaName
}

func isTokenField(n *html.Node) bool {
	return n.Type == html.ElementNode && n.Data == "input" &&
		strings.EqualFold(getAttrValue(n, "type"), "hidden") &&
		getAttrValue(n, "name") == FieldName
}

func isNotice(n *html.Node) bool {
	return n.Type == html.ElementNode && getAttrValue(n, "id") == NoticeID
}

func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	if match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}

func findAll(root *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if match(n) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

// getAttrValue returns the value of an attribute.
func getAttrValue(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}
