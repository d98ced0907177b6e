package bcn

import (
	"fmt"
	"strings"

	"dashscrape/lib/htmlutil"

	"github.com/PuerkitoBio/goquery"
)

// MenuItem is one entry of the dashboard's sidebar menu.
type MenuItem struct {
	Name     string     `json:"name"`
	Code     string     `json:"code,omitempty"`
	Children []MenuItem `json:"children,omitempty"`
}

// Option is one entry of a region <select>.
type Option struct {
	Name string `json:"name"`
	Code string `json:"code,omitempty"`
}

// ParseMenu parses the first <ul> of `fragment` as a menu tree.
func ParseMenu(fragment string) ([]MenuItem, error) {
	doc, err := htmlutil.Parse(fragment)
	if err != nil {
		return nil, err
	}
	root := doc.Find("ul").First()
	if root.Length() == 0 {
		return nil, fmt.Errorf("menu: no list found")
	}
	return parseMenuList(root), nil
}

func parseMenuList(ul *goquery.Selection) []MenuItem {
	items := []MenuItem{}
	ul.ChildrenFiltered("li").Each(func(_ int, li *goquery.Selection) {
		var item MenuItem
		link := li.ChildrenFiltered("a").First()
		if link.Length() > 0 {
			item.Name = htmlutil.GetTrimmedText(link.Get(0), "small")
			code, _ := link.Attr("data-value")
			item.Code = strings.Trim(code, "\n\r ")
		}
		sub := li.ChildrenFiltered("ul").First()
		if sub.Length() > 0 {
			item.Children = parseMenuList(sub)
		}
		items = append(items, item)
	})
	return items
}

// ParseOptions parses the options of the first <select> of `fragment`.
func ParseOptions(fragment string) ([]Option, error) {
	doc, err := htmlutil.Parse(fragment)
	if err != nil {
		return nil, err
	}
	sel := doc.Find("select").First()
	if sel.Length() == 0 {
		return nil, fmt.Errorf("options: no select found")
	}

	options := []Option{}
	sel.ChildrenFiltered("option").Each(func(_ int, option *goquery.Selection) {
		code, _ := option.Attr("value")
		options = append(options, Option{
			Name: htmlutil.GetTrimmedText(option.Get(0), "small"),
			Code: code,
		})
	})
	return options, nil
}

// FindMenu searches the whole tree depth-first, siblings before children.
func FindMenu(code string, items []MenuItem) (MenuItem, bool) {
	for _, item := range items {
		if item.Code == code {
			return item, true
		}
	}
	for _, item := range items {
		if len(item.Children) == 0 {
			continue
		}
		found, ok := FindMenu(code, item.Children)
		if ok {
			return found, true
		}
	}
	return MenuItem{}, false
}

func optionCodes(options []Option) []string {
	codes := make([]string, len(options))
	for i, o := range options {
		codes[i] = o.Code
	}
	return codes
}
