package charts

import (
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"dashscrape/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
	"github.com/titanous/json5"
	"golang.org/x/net/html"
)

type Cell struct {
	Title   string `json:"title,omitempty"`
	Content any    `json:"content"`
}

// Seguiment is the follow-up table of a region.
type Seguiment struct {
	Name    string   `json:"name"`
	Headers []Cell   `json:"headers"`
	Body    [][]Cell `json:"body"`
}

type Detail struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

type Indicator struct {
	Detail []Detail `json:"detail,omitempty"`
	Name   string   `json:"name"`
	Value  any      `json:"value"`
}

// Situacio is the block of current indicators of a region.
type Situacio struct {
	Name     string      `json:"name"`
	Elements []Indicator `json:"elements"`
}

type Dataset struct {
	Data  []any  `json:"data"`
	Label string `json:"label"`
}

// Graph is a chart.js chart reduced to its values.
type Graph struct {
	Title  any       `json:"title"`
	Labels []any     `json:"labels,omitempty"`
	Data   []Dataset `json:"data"`
}

// Chart is everything a region page shows. It marshals as one object with
// every graph keyed by its canvas id.
type Chart struct {
	Url       string
	Seguiment *Seguiment
	Situacio  *Situacio
	Graphs    map[string]Graph
}

func (c Chart) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(c.Graphs)+3)
	for name, g := range c.Graphs {
		out[name] = g
	}
	if c.Seguiment != nil {
		out["seguiment"] = c.Seguiment
	}
	if c.Situacio != nil {
		out["situacio"] = c.Situacio
	}
	out["url"] = c.Url
	return json.Marshal(out)
}

var (
	graphRegex   = regexp.MustCompile(`(?s)var ctx [^']*'([^']*)'.*? new Chart\(ctx, (.*?)\);.*?var restaurar_button`)
	newlineRegex = regexp.MustCompile(`\r?\n\s*`)
	tooltipRegex = regexp.MustCompile(`,tooltips: .*`)
	detailRegex  = regexp.MustCompile(`<li>(.*?): (.*?)</li>`)
	numericRegex = regexp.MustCompile(`^-?[\d.]+(?:,\d+)?$`)
	leadingRegex = regexp.MustCompile(`^[+-]?(?:\d+\.?\d*|\.\d+)(?:[eE][+-]?\d+)?`)
)

// risk bands drawn as background areas
var ignoredDatasets = []string{"Baix", "Moderat", "Alt"}

// ParseChart extracts the tables and charts of a page.
func ParseChart(page string) (Chart, error) {
	doc, err := htmlutil.Parse(page)
	if err != nil {
		return Chart{}, err
	}

	chart := Chart{Graphs: map[string]Graph{}}
	if block := findBlock(doc, "Seguiment"); block != nil {
		chart.Seguiment = parseSeguiment(block)
	}
	if block := findBlock(doc, "Situació"); block != nil {
		chart.Situacio = parseSituacio(block)
	}

	for _, m := range graphRegex.FindAllStringSubmatch(page, -1) {
		graph, err := parseGraph(m[2])
		if err != nil {
			return Chart{}, fmt.Errorf("graph %s: %w", m[1], err)
		}
		chart.Graphs[m[1]] = graph
	}
	return chart, nil
}

// findBlock returns the element holding the h4 titled with `prefix`.
func findBlock(doc *goquery.Document, prefix string) *goquery.Selection {
	h4 := doc.Find("h4").FilterFunction(func(_ int, h *goquery.Selection) bool {
		return strings.HasPrefix(strings.TrimSpace(h.Text()), prefix+" ")
	}).First()
	if h4.Length() == 0 {
		return nil
	}
	return h4
}

// leadingText is the text of a node up to its first child element.
func leadingText(node *html.Node) string {
	var b strings.Builder
	for child := node.FirstChild; child != nil && child.Type == html.TextNode; child = child.NextSibling {
		b.WriteString(child.Data)
	}
	return strings.TrimSpace(b.String())
}

func parseSeguiment(h4 *goquery.Selection) *Seguiment {
	block := h4.Parent()
	seguiment := &Seguiment{
		Name:    leadingText(h4.Get(0)),
		Headers: []Cell{},
		Body:    [][]Cell{},
	}
	block.Find("thead th").Each(func(_ int, th *goquery.Selection) {
		seguiment.Headers = append(seguiment.Headers, Cell{
			Title:   th.AttrOr("title", ""),
			Content: htmlutil.CleanText(th),
		})
	})
	block.Find("tbody tr").Each(func(_ int, tr *goquery.Selection) {
		row := []Cell{}
		tr.Children().Filter("td, th").Each(func(_ int, cell *goquery.Selection) {
			// footnote marks
			cell.Find("strong").FilterFunction(func(_ int, s *goquery.Selection) bool {
				return strings.TrimSpace(s.Text()) == "*"
			}).Remove()

			text := htmlutil.CleanText(cell)
			var content any = text
			if numericRegex.MatchString(text) {
				content = number(text)
			}
			row = append(row, Cell{Title: cell.AttrOr("title", ""), Content: content})
		})
		seguiment.Body = append(seguiment.Body, row)
	})
	return seguiment
}

func parseSituacio(h4 *goquery.Selection) *Situacio {
	block := h4.Parent()
	situacio := &Situacio{
		Name:     leadingText(h4.Get(0)),
		Elements: []Indicator{},
	}
	block.Find("table").Each(func(_ int, table *goquery.Selection) {
		indicator := Indicator{
			Name:  htmlutil.CleanText(table.Find("thead")),
			Value: number(htmlutil.CleanText(table.Find("tbody"))),
		}
		for _, m := range detailRegex.FindAllStringSubmatch(table.AttrOr("title", ""), -1) {
			indicator.Detail = append(indicator.Detail, Detail{Name: m[1], Value: number(m[2])})
		}
		situacio.Elements = append(situacio.Elements, indicator)
	})
	return situacio
}

type chartConfig struct {
	Data struct {
		Labels   []any     `json:"labels"`
		Datasets []Dataset `json:"datasets"`
	} `json:"data"`
	Options struct {
		Title struct {
			Text any `json:"text"`
		} `json:"title"`
	} `json:"options"`
}

// parseGraph reads the configuration literal passed to chart.js. Everything
// from the tooltips option on holds callbacks, so it is cut before decoding.
func parseGraph(literal string) (Graph, error) {
	literal = newlineRegex.ReplaceAllString(literal, "")
	literal = tooltipRegex.ReplaceAllString(literal, "}}")

	var config chartConfig
	err := json5.Unmarshal([]byte(literal), &config)
	if err != nil {
		return Graph{}, err
	}

	graph := Graph{
		Title:  config.Options.Title.Text,
		Labels: config.Data.Labels,
		Data:   []Dataset{},
	}
	for _, d := range config.Data.Datasets {
		if slices.Contains(ignoredDatasets, d.Label) {
			continue
		}
		graph.Data = append(graph.Data, d)
	}
	return graph, nil
}

// parseNumber reads a number written with '.' thousands and ',' decimal
// separators, ignoring anything after its leading numeric part.
func parseNumber(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ".", "")
	s = strings.Replace(s, ",", ".", 1)
	lead := leadingRegex.FindString(s)
	if lead == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(lead, 64)
	return f, err == nil
}

// number is parseNumber as a JSON value, null when there is no number.
func number(s string) any {
	f, ok := parseNumber(s)
	if !ok {
		return nil
	}
	return f
}
