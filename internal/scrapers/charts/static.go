package charts

import (
	"regexp"
	"strings"
)

// Link is an entry of the navigation tree. Top level entries are the ones
// indented with a tab, deeper ones nest by their indentation.
type Link struct {
	Url      string `json:"url"`
	Name     string `json:"name"`
	Children []Link `json:"children,omitempty"`
}

// Variant is a link to the same dashboard under a different territorial
// division or population selection.
type Variant struct {
	Url     string `json:"url"`
	Name    string `json:"name"`
	Default bool   `json:"default,omitempty"`
}

// Static is the part of a page that does not depend on the selected region.
type Static struct {
	Links      []Link
	Territoris []Variant
	Poblacions []Variant
}

const (
	territoriParam   = "tipus_territori"
	poblacioParam    = "drop_es_residencia"
	defaultTerritori = territoriParam + "=aga"
	defaultPoblacio  = poblacioParam + "=2"
)

var (
	anchorRegex = regexp.MustCompile(`[ \t]*<a (?:id="(?:sap_|ambit_|up_)|class="dropdown-item")[^>]*>[^<]*</a>`)
	linkRegex   = regexp.MustCompile(`^([^<]*)<a [^ ]* href="([^"]*)"[^>]*>([^<]*)</a>`)
)

// ParseStatic extracts the navigation tree and the variant links of a page.
func ParseStatic(page string) Static {
	var static, territoris, poblacions []string
	for _, anchor := range anchorRegex.FindAllString(page, -1) {
		if strings.Contains(anchor, "?lang=") {
			continue
		}
		anchor = strings.ReplaceAll(anchor, "&amp;", "&")
		switch {
		case strings.Contains(anchor, "?"+territoriParam):
			territoris = append(territoris, anchor)
		case strings.Contains(anchor, "?"+poblacioParam):
			poblacions = append(poblacions, anchor)
		default:
			static = append(static, anchor)
		}
	}

	return Static{
		Links:      nestLinks(static),
		Territoris: parseVariants(territoris, defaultTerritori),
		Poblacions: parseVariants(poblacions, defaultPoblacio),
	}
}

func nestLinks(anchors []string) []Link {
	var links []Link
	// indentation of the last direct child of the last top level link
	var childIndent string
	for _, anchor := range anchors {
		m := linkRegex.FindStringSubmatch(anchor)
		if m == nil {
			continue
		}
		indent := m[1]
		link := Link{Url: m[2], Name: m[3]}

		if strings.Contains(indent, "\t") || len(links) == 0 {
			link.Children = []Link{}
			links = append(links, link)
			continue
		}
		parent := &links[len(links)-1]
		n := len(parent.Children)
		if n == 0 || len(indent) == len(childIndent) {
			parent.Children = append(parent.Children, link)
			childIndent = indent
			continue
		}
		last := &parent.Children[n-1]
		last.Children = append(last.Children, link)
	}
	return links
}

func parseVariants(anchors []string, defaultParam string) []Variant {
	var variants []Variant
	for _, anchor := range anchors {
		m := linkRegex.FindStringSubmatch(anchor)
		if m == nil {
			continue
		}
		variants = append(variants, Variant{
			Url:     m[2],
			Name:    m[3],
			Default: strings.Contains(m[2], defaultParam),
		})
	}
	return variants
}

func defaultName(variants []Variant) string {
	for _, v := range variants {
		if v.Default {
			return v.Name
		}
	}
	return ""
}

// walk calls fn for every link of the tree, parents first.
func walk(links []Link, fn func(Link)) {
	for _, l := range links {
		fn(l)
		walk(l.Children, fn)
	}
}
