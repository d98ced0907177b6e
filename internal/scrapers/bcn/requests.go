package bcn

import (
	"encoding/json"
	"fmt"

	"dashscrape/internal/components/telemetry"
	"dashscrape/internal/output"
	"dashscrape/internal/pipeline"
)

const (
	report_requests_build = "requests.build"
)

// State is what parsed datasets leave behind for later queries.
type State struct {
	Menu       []MenuItem `json:"menu"`
	Paisos     []Option   `json:"paisos"`
	Provincies []Option   `json:"provincies"`
	Municipis  []Option   `json:"municipis"`
}

// Queries holds the JSON payloads the dashboard sends for each dataset, as
// captured from the browser. Only Init is required.
type Queries struct {
	Init             string `json:"init"`
	Timeline         string `json:"timeline"`
	Mobility         string `json:"mobility"`
	Consums          string `json:"consums"`
	Preus            string `json:"preus"`
	MobilitatOrigens string `json:"mobilitat_origens"`
	PortAeroport     string `json:"port_aeroport"`
}

const handshakeQuery = "0#0|o|"

// truthy follows the dashboard's own notion of a present value.
func truthy(v any) bool {
	switch v := v.(type) {
	case nil:
		return false
	case bool:
		return v
	case float64:
		return v != 0
	case string:
		return v != ""
	}
	return true
}

func hasField(field string) func(map[string]any) bool {
	return func(message map[string]any) bool {
		return truthy(message[field])
	}
}

func isIdle(message map[string]any) bool {
	busy, _ := message["busy"].(string)
	return busy == "idle"
}

type graphDataset struct {
	name     string
	seq      int
	query    string
	menuCode string
	graphs   []string
}

func (g graphDataset) descriptor() pipeline.Descriptor[State] {
	return pipeline.Descriptor[State]{
		Name:     g.name,
		Query:    pipeline.Static[State](fmt.Sprintf("%d#0|m|%s", g.seq, g.query)),
		Validate: hasField("values"),
		Parse: func(state *State, raw json.RawMessage, sink pipeline.ErrorSink) (*output.Record, error) {
			e, err := decodeEnvelope(raw)
			if err != nil {
				return nil, err
			}
			sink.Report(g.name, errorMessages(e.Errors)...)

			item, ok := FindMenu(g.menuCode, state.Menu)
			if !ok {
				return nil, fmt.Errorf("menu item not found: '%s'", g.menuCode)
			}

			record := &output.Record{
				Code: item.Code,
				Fields: map[string]any{
					"title": item.Name,
					"type":  "graph",
				},
			}
			for _, graph := range g.graphs {
				section, err := parseGraph(graph, e)
				if err != nil {
					return nil, err
				}
				record.Sections = append(record.Sections, section)
			}
			return record, nil
		},
	}
}

func parseHandshake(*State, json.RawMessage, pipeline.ErrorSink) (*output.Record, error) {
	return nil, nil
}

func parseInit(state *State, raw json.RawMessage, sink pipeline.ErrorSink) (*output.Record, error) {
	e, err := decodeEnvelope(raw)
	if err != nil {
		return nil, err
	}
	sink.Report("Initialization", errorMessages(e.Errors)...)

	var fragment struct {
		Html string `json:"html"`
	}
	err = e.value("sidebarMenuLeft", &fragment)
	if err != nil {
		return nil, err
	}
	state.Menu, err = ParseMenu(fragment.Html)
	if err != nil {
		return nil, err
	}

	for key, out := range map[string]*[]Option{
		"inputSeleccioIND_MOB_VIS_PAI": &state.Paisos,
		"inputSeleccioIND_MOB_VIS_PRO": &state.Provincies,
		"inputSeleccioIND_MOB_VIS_MUN": &state.Municipis,
	} {
		err = e.value(key, &fragment)
		if err != nil {
			return nil, err
		}
		*out, err = ParseOptions(fragment.Html)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
	}

	return &output.Record{
		Code: "menu",
		Fields: map[string]any{
			"type":       "menu",
			"menu":       state.Menu,
			"paisos":     state.Paisos,
			"provincies": state.Provincies,
			"municipis":  state.Municipis,
		},
	}, nil
}

func parseTimelineDataset(_ *State, raw json.RawMessage, sink pipeline.ErrorSink) (*output.Record, error) {
	e, err := decodeEnvelope(raw)
	if err != nil {
		return nil, err
	}
	sink.Report("Timeline", errorMessages(e.Errors)...)
	return parseTimeline(e)
}

// selectAllQuery selects every known region so the visitor charts include them all.
func selectAllQuery(state *State) string {
	type update struct {
		Method string `json:"method"`
		Data   struct {
			SelectMunicipis  []string `json:"selectMunicipis"`
			SelectProvincies []string `json:"selectProvincies"`
			SelectPaisos     []string `json:"selectPaisos"`
		} `json:"data"`
	}
	u := update{Method: "update"}
	u.Data.SelectMunicipis = optionCodes(state.Municipis)
	u.Data.SelectProvincies = optionCodes(state.Provincies)
	u.Data.SelectPaisos = optionCodes(state.Paisos)

	encoded, _ := json.Marshal(u)
	return "7#0|m|" + string(encoded)
}

// Descriptors lists every exchange in the order the dashboard expects them.
// Datasets without a configured query are left out.
func Descriptors(queries Queries, tel telemetry.API) ([]pipeline.Descriptor[State], error) {
	if queries.Init == "" {
		return nil, fmt.Errorf("bcn: the init query is not configured")
	}

	descriptors := []pipeline.Descriptor[State]{
		{
			Name:     "handshake",
			Query:    pipeline.Static[State](handshakeQuery),
			Validate: hasField("config"),
			Parse:    parseHandshake,
			Policy:   pipeline.AlwaysFetch,
		},
		{
			Name:     "init",
			Query:    pipeline.Static[State]("1#0|m|" + queries.Init),
			Validate: hasField("values"),
			Parse:    parseInit,
			Policy:   pipeline.AlwaysFetch,
		},
	}

	skip := func(name string) {
		tel.ReportWarning(report_requests_build, "query not configured, skipping dataset", name)
	}

	if queries.Timeline != "" {
		descriptors = append(descriptors, pipeline.Descriptor[State]{
			Name:     "timeline",
			Query:    pipeline.Static[State]("2#0|m|" + queries.Timeline),
			Validate: hasField("values"),
			Parse:    parseTimelineDataset,
		})
	} else {
		skip("timeline")
	}

	graphs := []graphDataset{
		{
			name:     "Mobility",
			seq:      3,
			query:    queries.Mobility,
			menuCode: "mobilitatVehicles",
			graphs:   []string{"IND_MOB_VEH_BCN", "IND_MOB_TRA_ZBE", "IND_MOB_TRA_PUB"},
		},
		{
			name:     "Consum",
			seq:      4,
			query:    queries.Consums,
			menuCode: "consums",
			graphs:   []string{"IND_ECO_CON_MAT_VEH", "IND_ECO_CON_AIG", "IND_ECO_CON_PRE_IBE", "IND_ECO_CON_ELE"},
		},
		{
			name:     "Preus",
			seq:      5,
			query:    queries.Preus,
			menuCode: "preus",
			graphs:   []string{"IND_ECO_PRE_CARB", "IND_ECO_PRE_CARN", "IND_ECO_PRE_PEI", "IND_ECO_PRE_FRU"},
		},
	}
	for _, g := range graphs {
		if g.query == "" {
			skip(g.name)
			continue
		}
		descriptors = append(descriptors, g.descriptor())
	}

	if queries.MobilitatOrigens != "" {
		descriptors = append(
			descriptors,
			pipeline.Descriptor[State]{
				Name:     "select all regions",
				Query:    pipeline.Computed[State](selectAllQuery),
				Validate: isIdle,
				Parse: func(*State, json.RawMessage, pipeline.ErrorSink) (*output.Record, error) {
					return nil, nil
				},
				Policy: pipeline.AlwaysFetch,
			},
			graphDataset{
				name:     "Visitants",
				seq:      6,
				query:    queries.MobilitatOrigens,
				menuCode: "mobilitatOrigens",
				graphs:   []string{"IND_MOB_VIS_PRO", "IND_MOB_VIS_MUN", "IND_MOB_VIS_PAI"},
			}.descriptor(),
		)
	} else {
		skip("Visitants")
	}

	if queries.PortAeroport != "" {
		descriptors = append(descriptors, graphDataset{
			name:     "portAeroport",
			seq:      6,
			query:    queries.PortAeroport,
			menuCode: "portAeroport",
			graphs:   []string{"IND_MOB_AERO_TOT", "IND_MOB_AERO_DET", "IND_MOB_PORT_SET", "IND_MOB_PORT_TIP_VAI"},
		}.descriptor())
	} else {
		skip("portAeroport")
	}

	return descriptors, nil
}
