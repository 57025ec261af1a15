// Package render converts HTML documents into normalized Markdown.
//
// The converter walks a DOM built by golang.org/x/net/html rather than
// scanning tag strings, so nested markup renders correctly and partial tags
// cannot corrupt the output. Two modes govern whitespace: Block (top-level
// flow, one blank line between units) and Inline (fragments joined with
// single spaces).
package render

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// Typed render failures. Both are recoverable via RenderWithRecovery.
var (
	ErrEmptyInput       = errors.New("empty html input")
	ErrUnbalancedMarkup = errors.New("unbalanced html markup")
)

var (
	newlineRuns    = regexp.MustCompile(`\n{3,}`)
	entityReplacer = strings.NewReplacer(
		"&nbsp;", " ",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
	)
)

// Tags whose entire subtree is dropped.
var skippedTags = map[string]struct{}{
	"script":   {},
	"style":    {},
	"noscript": {},
}

// Renderer converts HTML to Markdown. The zero logger is not usable; build
// instances through New.
type Renderer struct {
	logger *zap.Logger
}

// New returns a Renderer.
func New(logger *zap.Logger) *Renderer {
	return &Renderer{logger: logger}
}

// Render converts one HTML document to Markdown. Output for a fixed input is
// byte-identical across runs. When nothing could be extracted the fallback
// label becomes a lone heading so the caller never persists an empty file.
func (r *Renderer) Render(htmlSrc, fallbackLabel string) (string, error) {
	if strings.TrimSpace(htmlSrc) == "" {
		return "", ErrEmptyInput
	}
	if strings.Count(htmlSrc, "<") != strings.Count(htmlSrc, ">") {
		return "", fmt.Errorf("%w: %d open vs %d close brackets",
			ErrUnbalancedMarkup, strings.Count(htmlSrc, "<"), strings.Count(htmlSrc, ">"))
	}

	doc, err := html.Parse(strings.NewReader(htmlSrc))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnbalancedMarkup, err)
	}

	w := &docWalker{}
	w.walk(doc)
	w.flushParagraph()

	out := strings.Join(w.blocks, "\n\n")
	out = entityReplacer.Replace(out)
	out = newlineRuns.ReplaceAllString(out, "\n\n")
	out = strings.TrimSpace(out)
	if out == "" {
		return "# " + fallbackLabel + "\n", nil
	}
	return out + "\n", nil
}

// RenderWithRecovery retries a failed render once after a best-effort
// cleanup of the input. If the retry fails too, the original error is
// propagated.
func (r *Renderer) RenderWithRecovery(htmlSrc, fallbackLabel string) (string, error) {
	out, err := r.Render(htmlSrc, fallbackLabel)
	if err == nil {
		return out, nil
	}

	r.logger.Warn("Render failed; attempting recovery", zap.Error(err))
	out, retryErr := r.Render(cleanMalformedHTML(htmlSrc), fallbackLabel)
	if retryErr != nil {
		r.logger.Warn("Render recovery failed", zap.Error(retryErr))
		return "", err
	}
	r.logger.Info("Render recovered after cleanup")
	return out, nil
}

// cleanMalformedHTML strips dangling brackets and collapses doubled ones so
// a second parse attempt has a chance.
func cleanMalformedHTML(src string) string {
	cleaned := strings.TrimRight(src, "<")
	cleaned = strings.TrimLeft(cleaned, ">")
	cleaned = strings.ReplaceAll(cleaned, "<<", "<")
	cleaned = strings.ReplaceAll(cleaned, ">>", ">")
	cleaned = strings.ReplaceAll(cleaned, "<>", "")
	return cleaned
}

// docWalker accumulates block units. Inline content between block elements
// collects into an implicit paragraph that is flushed when the next block
// element starts.
type docWalker struct {
	blocks []string
	para   inlineBuilder
}

func (w *docWalker) addBlock(s string) {
	if s != "" {
		w.blocks = append(w.blocks, s)
	}
}

func (w *docWalker) flushParagraph() {
	if t := w.para.String(); t != "" {
		w.blocks = append(w.blocks, t)
	}
	w.para = inlineBuilder{}
}

// walk renders n's children in Block mode.
func (w *docWalker) walk(n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode:
			w.para.addText(c.Data)
		case html.ElementNode:
			w.walkElement(c)
		}
	}
}

func (w *docWalker) walkElement(c *html.Node) {
	if _, skip := skippedTags[c.Data]; skip {
		return
	}
	switch c.Data {
	case "h1":
		w.flushParagraph()
		w.addBlock("# " + inlineContent(c))
	case "h2":
		w.flushParagraph()
		w.addBlock("## " + inlineContent(c))
	case "p":
		w.flushParagraph()
		w.addBlock(inlineContent(c))
	case "ul":
		w.flushParagraph()
		w.addBlock(listBlock(c, false))
	case "ol":
		w.flushParagraph()
		w.addBlock(listBlock(c, true))
	case "blockquote":
		w.flushParagraph()
		w.addBlock(quoteBlock(inlineContent(c)))
	case "li":
		// A li outside ul/ol still renders as a bullet.
		w.flushParagraph()
		if t := inlineContent(c); t != "" {
			w.addBlock("- " + t)
		}
	case "br":
		w.para.addBreak()
	case "strong", "b", "em", "i", "a", "img":
		renderInlineElement(c, &w.para)
	default:
		w.walk(c)
	}
}

// inlineContent renders n's children in Inline mode.
func inlineContent(n *html.Node) string {
	var ib inlineBuilder
	inlineChildren(n, &ib)
	return ib.String()
}

func inlineChildren(n *html.Node, ib *inlineBuilder) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode:
			ib.addText(c.Data)
		case html.ElementNode:
			if _, skip := skippedTags[c.Data]; skip {
				continue
			}
			renderInlineElement(c, ib)
		}
	}
}

// renderInlineElement applies the per-tag inline rules. Tags without a rule
// render their children transparently in the current mode.
func renderInlineElement(c *html.Node, ib *inlineBuilder) {
	switch c.Data {
	case "strong", "b":
		if t := inlineContent(c); t != "" {
			ib.addFragment("**" + t + "**")
		}
	case "em", "i":
		if t := inlineContent(c); t != "" {
			ib.addFragment("*" + t + "*")
		}
	case "a":
		t := inlineContent(c)
		if t == "" {
			return
		}
		href := attrValue(c, "href")
		if href == "" {
			href = "#"
		}
		ib.addFragment("[" + t + "](" + href + ")")
	case "img":
		src := attrValue(c, "src")
		if src == "" {
			return
		}
		ib.addFragment("![" + attrValue(c, "alt") + "](" + src + ")")
	case "br":
		ib.addBreak()
	default:
		inlineChildren(c, ib)
	}
}

// listBlock renders the li children of a ul/ol, one item per line. Items
// that render empty are dropped; ordered numbering counts emitted items.
func listBlock(n *html.Node, ordered bool) string {
	var lines []string
	num := 1
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || c.Data != "li" {
			continue
		}
		t := inlineContent(c)
		if t == "" {
			continue
		}
		if ordered {
			lines = append(lines, fmt.Sprintf("%d. %s", num, t))
			num++
		} else {
			lines = append(lines, "- "+t)
		}
	}
	return strings.Join(lines, "\n")
}

// quoteBlock prefixes every line of the inline text with "> ".
func quoteBlock(t string) string {
	if t == "" {
		return ""
	}
	lines := strings.Split(t, "\n")
	for i, l := range lines {
		lines[i] = "> " + l
	}
	return strings.Join(lines, "\n")
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// inlineBuilder joins inline fragments with single separating spaces. A hard
// line break suppresses the space for the fragment that follows it.
type inlineBuilder struct {
	sb strings.Builder
}

// addText collapses whitespace runs in a text node to single spaces before
// appending it as a fragment.
func (ib *inlineBuilder) addText(raw string) {
	ib.addFragment(strings.Join(strings.Fields(raw), " "))
}

func (ib *inlineBuilder) addFragment(s string) {
	if s == "" {
		return
	}
	if cur := ib.sb.String(); cur != "" && !strings.HasSuffix(cur, "\n") {
		ib.sb.WriteByte(' ')
	}
	ib.sb.WriteString(s)
}

// addBreak emits a Markdown hard line break (two spaces plus newline).
// Breaks at the start of the content or directly after another break
// collapse away.
func (ib *inlineBuilder) addBreak() {
	cur := ib.sb.String()
	if cur == "" || strings.HasSuffix(cur, "\n") {
		return
	}
	ib.sb.WriteString("  \n")
}

func (ib *inlineBuilder) String() string {
	return strings.TrimSpace(ib.sb.String())
}
