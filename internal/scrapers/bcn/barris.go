package bcn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"dashscrape/internal/cache"
	"dashscrape/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

type Neighbourhood struct {
	Code int    `json:"code"`
	Name string `json:"name"`
	ID   string `json:"id"`
}

type District struct {
	Name     string          `json:"name"`
	Code     int             `json:"code"`
	Sections []Neighbourhood `json:"sections"`
}

// Barris are the city districts with their neighbourhoods and the SVG map
// drawing them.
type Barris struct {
	Districts json.RawMessage
	Svg       string
}

type barrisLink struct {
	name string
	id   string
	code string
}

type barrisList struct {
	code  string
	links []barrisLink
}

var (
	svgIndentRegex  = regexp.MustCompile(`(?m)^ {24}`)
	firstClassRegex = regexp.MustCompile(`^[^ ]* `)
)

func parseBarrisList(div *goquery.Selection) barrisList {
	class, _ := div.Attr("class")
	list := barrisList{
		code: strings.TrimPrefix(firstClassRegex.ReplaceAllString(class, ""), "barrios-"),
	}
	div.Find("ul").First().ChildrenFiltered("li").Each(func(_ int, li *goquery.Selection) {
		a := li.ChildrenFiltered("a").First()
		if a.Length() == 0 {
			return
		}
		id, _ := a.Attr("id")
		id = strings.TrimSuffix(id, "_boto")
		id = strings.TrimPrefix(id, "districte_")
		code, _ := a.Attr("codi")
		list.links = append(list.links, barrisLink{
			name: htmlutil.GetTrimmedText(a.Get(0), "small", "i"),
			id:   id,
			code: code,
		})
	})
	return list
}

// ParseBarrisPage extracts the district lists and the map from the
// neighbourhood information page.
func ParseBarrisPage(page string) ([]District, string, error) {
	doc, err := htmlutil.Parse(page)
	if err != nil {
		return nil, "", err
	}
	part := doc.Find("li.nav-item.dropdown").First()
	if part.Length() == 0 {
		return nil, "", fmt.Errorf("barris: navigation dropdown not found")
	}

	svg, err := goquery.OuterHtml(part.Find("svg").First())
	if err != nil {
		return nil, "", err
	}
	if svg == "" {
		return nil, "", fmt.Errorf("barris: map not found")
	}
	svg = strings.ReplaceAll(svgIndentRegex.ReplaceAllString(svg, ""), "\r", "")

	var lists []barrisList
	part.Find(`div.lista-distritos, div[class^="barrios-"]`).Each(func(_ int, div *goquery.Selection) {
		lists = append(lists, parseBarrisList(div))
	})
	if len(lists) < 2 {
		return nil, "", fmt.Errorf("barris: expected district and neighbourhood lists, got %d lists", len(lists))
	}

	districts, neighbourhoods := lists[0], lists[1:]
	out := make([]District, len(neighbourhoods))
	for i, list := range neighbourhoods {
		var name string
		found := false
		for _, d := range districts.links {
			if d.id == list.code {
				name = d.name
				found = true
				break
			}
		}
		if !found {
			return nil, "", fmt.Errorf("barris: district %q not found", list.code)
		}

		district := District{Name: name, Code: i + 1, Sections: []Neighbourhood{}}
		for _, link := range list.links {
			code, err := strconv.Atoi(link.code)
			if err != nil {
				return nil, "", fmt.Errorf("barris: neighbourhood %q code: %w", link.name, err)
			}
			district.Sections = append(district.Sections, Neighbourhood{
				Code: code,
				Name: link.name,
				ID:   link.id,
			})
		}
		out[i] = district
	}
	return out, svg, nil
}

func (s *Scraper) page(ctx context.Context, url string) ([]byte, error) {
	key := cache.URLKey(url)
	body, err := s.pages.Get(ctx, key)
	if err == nil {
		s.counters.ReadFromCache++
		return body, nil
	}
	if !errors.Is(err, cache.ErrNotFound) {
		s.tel.ReportWarning(report_scraper_barris, err, url)
	}

	body, err = s.fetcher.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	err = s.pages.Put(ctx, key, body)
	if err != nil {
		return nil, fmt.Errorf("save cache for %s: %w", url, err)
	}
	s.counters.Downloaded++
	return body, nil
}

func (s *Scraper) barrisOriginal(ctx context.Context) (Barris, error) {
	page, err := s.page(ctx, s.opts.BarrisUrl)
	if err != nil {
		return Barris{}, err
	}
	districts, svg, err := ParseBarrisPage(string(page))
	if err != nil {
		return Barris{}, err
	}
	encoded, err := json.Marshal(districts)
	if err != nil {
		return Barris{}, err
	}
	return Barris{Districts: encoded, Svg: svg}, nil
}

// barrisBackup reads the districts back from the last published output.
func (s *Scraper) barrisBackup(ctx context.Context) (Barris, error) {
	svg, err := s.fetcher.Get(ctx, s.opts.BackupSvgUrl)
	if err != nil {
		return Barris{}, fmt.Errorf("backup svg: %w", err)
	}
	index, err := s.fetcher.Get(ctx, s.opts.BackupIndexUrl)
	if err != nil {
		return Barris{}, fmt.Errorf("backup index: %w", err)
	}

	var records []struct {
		Code   string          `json:"code"`
		Barris json.RawMessage `json:"barris"`
	}
	err = json.Unmarshal(index, &records)
	if err != nil {
		return Barris{}, fmt.Errorf("backup index: %w", err)
	}
	for _, r := range records {
		if r.Code == "menu" && len(r.Barris) > 0 {
			return Barris{Districts: r.Barris, Svg: string(svg)}, nil
		}
	}
	return Barris{}, fmt.Errorf("backup index: no menu record with barris")
}

// Barris fetches the districts, falling back to the previously published
// copy when the original page cannot be fetched or parsed.
func (s *Scraper) Barris(ctx context.Context) (Barris, error) {
	barris, err := s.barrisOriginal(ctx)
	if err == nil {
		return barris, nil
	}
	if ctx.Err() != nil {
		return Barris{}, err
	}
	s.tel.ReportWarning(report_scraper_barris, err, "using backup from previous run")

	barris, backupErr := s.barrisBackup(ctx)
	if backupErr != nil {
		return Barris{}, errors.Join(err, backupErr)
	}
	return barris, nil
}
