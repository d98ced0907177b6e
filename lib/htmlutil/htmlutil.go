package htmlutil

import (
	"bytes"
	"regexp"
	"slices"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer, nil, false)
	return buffer.String()
}

// GetTrimmedText concatenates every text node below `node`, each one trimmed
// of surrounding whitespace, ignoring the subtrees of any `skipTags` element.
func GetTrimmedText(node *html.Node, skipTags ...string) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer, skipTags, true)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer, skipTags []string, trim bool) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		if trim {
			buffer.WriteString(strings.TrimSpace(node.Data))
			return
		}
		buffer.WriteString(node.Data)
		return
	}
	if node.Type == html.ElementNode && slices.Contains(skipTags, node.Data) {
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer, skipTags, trim)
		child = child.NextSibling
	}
}

var innerWhitespace = regexp.MustCompile(`\s\s+`)

func removeNonPrintable(s string) string {
	newStr := strings.Builder{}
	for _, c := range s {
		if unicode.IsPrint(c) || unicode.IsSpace(c) {
			newStr.WriteRune(c)
		}
	}
	return newStr.String()
}

// CleanText returns the text of the selection on a single line with inner
// whitespace runs collapsed.
func CleanText(sel *goquery.Selection) string {
	text := removeNonPrintable(sel.Text())
	text = strings.TrimSpace(text)
	return innerWhitespace.ReplaceAllString(text, " ")
}

// Parse parses an html fragment into a document.
func Parse(fragment string) (*goquery.Document, error) {
	return goquery.NewDocumentFromReader(strings.NewReader(fragment))
}
