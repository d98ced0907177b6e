package bcn

import (
	"encoding/json"
	"fmt"
	"regexp"

	"dashscrape/internal/output"
)

// envelope is the shape shared by every dataset response.
type envelope struct {
	Values map[string]json.RawMessage `json:"values"`
	Errors json.RawMessage            `json:"errors"`
}

func decodeEnvelope(raw json.RawMessage) (envelope, error) {
	var e envelope
	err := json.Unmarshal(raw, &e)
	if err != nil {
		return envelope{}, fmt.Errorf("decode response: %w", err)
	}
	return e, nil
}

func (e envelope) value(key string, out any) error {
	raw, ok := e.Values[key]
	if !ok {
		return fmt.Errorf("missing value %q", key)
	}
	err := json.Unmarshal(raw, out)
	if err != nil {
		return fmt.Errorf("decode value %q: %w", key, err)
	}
	return nil
}

// errorMessages reads the `errors` field, which is either a list of messages
// or an object carrying a `custom.alert` message.
func errorMessages(raw json.RawMessage) []string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	var list []any
	if json.Unmarshal(raw, &list) == nil {
		messages := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				messages = append(messages, s)
				continue
			}
			encoded, _ := json.Marshal(item)
			messages = append(messages, string(encoded))
		}
		return messages
	}

	var custom struct {
		Custom *struct {
			Alert string `json:"alert"`
		} `json:"custom"`
	}
	if json.Unmarshal(raw, &custom) == nil {
		if custom.Custom == nil {
			return nil
		}
		return []string{custom.Custom.Alert}
	}
	return []string{string(raw)}
}

type plot struct {
	X struct {
		Theme struct {
			Colors  []string `json:"colors"`
			Tooltip struct {
				ValueDecimals *int `json:"valueDecimals"`
			} `json:"tooltip"`
		} `json:"theme"`
		HcOpts struct {
			PlotOptions struct {
				Treemap struct {
					LayoutAlgorithm any `json:"layoutAlgorithm"`
				} `json:"treemap"`
			} `json:"plotOptions"`
			YAxis struct {
				Type  string `json:"type"`
				Title struct {
					Text string `json:"text"`
				} `json:"title"`
			} `json:"yAxis"`
			Series []plotSeries `json:"series"`
		} `json:"hc_opts"`
	} `json:"x"`
}

type plotSeries struct {
	Name    *string `json:"name"`
	Type    string  `json:"type"`
	Tooltip struct {
		PointFormat string `json:"pointFormat"`
	} `json:"tooltip"`
	Data []struct {
		Y              any    `json:"y"`
		DadesVariableX string `json:"DadesVariableX"`
	} `json:"data"`
}

type Series struct {
	Name   string   `json:"name"`
	Type   string   `json:"type"`
	Format string   `json:"format"`
	Data   []any    `json:"data"`
	Range  []string `json:"range"`
	Dates  []string `json:"dates"`
}

var (
	sourceTextRegex   = regexp.MustCompile(`^.*<a[^>]*>([^<]*)</a>.*`)
	sourceUrlRegex    = regexp.MustCompile(`^.*<a [^>]*? href='([^']*)'>.*`)
	seriesNameRegex   = regexp.MustCompile(`^<b>([^:]*):.*$`)
	seriesFormatRegex = regexp.MustCompile(`^[^:]*: \{[^:]*:([^}]*)\}([^<]*).*$`)
	timelineTagRegex  = regexp.MustCompile(`(?s)^.*<td>([^<]*)</td>.*$`)
)

// submatch returns the first group of `re` in `s`, or `s` when it does not match.
func submatch(re *regexp.Regexp, s string) string {
	groups := re.FindStringSubmatch(s)
	if groups == nil {
		return s
	}
	return groups[1]
}

// parseGraph reads the values of the chart named `graph` into a section.
func parseGraph(graph string, e envelope) (*output.Record, error) {
	var description, title, source string
	var p plot
	for key, out := range map[string]any{
		"txtDescripcio" + graph:      &description,
		"txtTitolDescripcio" + graph: &title,
		"txtFont" + graph:            &source,
		"plot_" + graph:              &p,
	} {
		err := e.value(key, out)
		if err != nil {
			return nil, fmt.Errorf("graph %s: %w", graph, err)
		}
	}

	series := make([]Series, len(p.X.HcOpts.Series))
	for i, s := range p.X.HcOpts.Series {
		name := submatch(seriesNameRegex, s.Tooltip.PointFormat)
		if s.Name != nil {
			name = *s.Name
		}
		format := s.Tooltip.PointFormat
		if groups := seriesFormatRegex.FindStringSubmatch(format); groups != nil {
			format = fmt.Sprintf("{%s}%s", groups[1], groups[2])
		}

		out := Series{
			Name:   name,
			Type:   s.Type,
			Format: format,
			Data:   make([]any, len(s.Data)),
			Dates:  make([]string, len(s.Data)),
		}
		for j, point := range s.Data {
			out.Data[j] = point.Y
			out.Dates[j] = point.DadesVariableX
		}
		if len(out.Dates) > 0 {
			out.Range = []string{out.Dates[0], out.Dates[len(out.Dates)-1]}
		}
		series[i] = out
	}

	return &output.Record{
		Code:   graph,
		Values: series,
		Fields: map[string]any{
			"description": description,
			"title":       title,
			"theme": map[string]any{
				"colors":   p.X.Theme.Colors,
				"decimals": p.X.Theme.Tooltip.ValueDecimals,
			},
			"yAxis": map[string]any{
				"scale": p.X.HcOpts.PlotOptions.Treemap.LayoutAlgorithm,
				"type":  p.X.HcOpts.YAxis.Type,
				"label": p.X.HcOpts.YAxis.Title.Text,
			},
			"source": map[string]any{
				"text": submatch(sourceTextRegex, source),
				"url":  submatch(sourceUrlRegex, source),
			},
		},
	}, nil
}

type TimelineEvent struct {
	Date  string `json:"date"`
	Title string `json:"title"`
	Tag   string `json:"tag"`
}

func parseTimeline(e envelope) (*output.Record, error) {
	var title string
	err := e.value("txtTitolTimeline", &title)
	if err != nil {
		return nil, err
	}
	var timeline struct {
		X struct {
			Items []struct {
				Start   string `json:"start"`
				Title   string `json:"title"`
				Content string `json:"content"`
			} `json:"items"`
		} `json:"x"`
	}
	err = e.value("timelineNoticies", &timeline)
	if err != nil {
		return nil, err
	}

	events := make([]TimelineEvent, len(timeline.X.Items))
	for i, item := range timeline.X.Items {
		events[i] = TimelineEvent{
			Date:  item.Start,
			Title: item.Title,
			Tag:   submatch(timelineTagRegex, item.Content),
		}
	}
	var dateRange []string
	if len(events) > 0 {
		dateRange = []string{events[0].Date, events[len(events)-1].Date}
	}

	return &output.Record{
		Code:   "timeline",
		Values: events,
		Fields: map[string]any{
			"title": title,
			"type":  "timeline",
			"range": dateRange,
		},
	}, nil
}
