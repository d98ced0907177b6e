package charts

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// testNavigation renders the navigation of a page selecting `territori` and
// `poblacio`.
func testNavigation(territori, poblacio string) string {
	r := strings.NewReplacer("{T}", territori, "{P}", poblacio)
	return r.Replace("<nav>\n" +
		"\t<a id=\"sap_0\" href=\"/regio?id=0\"></a>\n" +
		"\t<a id=\"ambit_1\" href=\"/regio?id=1&amp;id_html=x1\">Barcelonès</a>\n" +
		"        <a id=\"up_2\" href=\"/regio?id=2\"> Barcelona </a>\n" +
		"            <a id=\"up_3\" href=\"/regio?id=3\">Sants</a>\n" +
		"        <a id=\"up_4\" href=\"/regio?id=4\">Badalona</a>\n" +
		"<div class=\"dropdown-menu\">\n" +
		"  <a class=\"dropdown-item\" href=\"/?lang=es\">Castellano</a>\n" +
		"  <a class=\"dropdown-item\" href=\"/?tipus_territori=aga&amp;drop_es_residencia={P}\">Àrea</a>\n" +
		"  <a class=\"dropdown-item\" href=\"/?tipus_territori=com&amp;drop_es_residencia={P}\">Comarca</a>\n" +
		"  <a class=\"dropdown-item\" href=\"/?drop_es_residencia=2&amp;tipus_territori={T}\">Residents</a>\n" +
		"  <a class=\"dropdown-item\" href=\"/?drop_es_residencia=1&amp;tipus_territori={T}\">Tots</a>\n" +
		"</div>\n" +
		"</nav>\n")
}

func TestParseStatic(t *testing.T) {
	static := ParseStatic(testNavigation("com", "1"))

	expected := Static{
		Links: []Link{
			{Url: "/regio?id=0", Name: "", Children: []Link{}},
			{
				Url:  "/regio?id=1&id_html=x1",
				Name: "Barcelonès",
				Children: []Link{
					{
						Url:      "/regio?id=2",
						Name:     " Barcelona ",
						Children: []Link{{Url: "/regio?id=3", Name: "Sants"}},
					},
					{Url: "/regio?id=4", Name: "Badalona"},
				},
			},
		},
		Territoris: []Variant{
			{Url: "/?tipus_territori=aga&drop_es_residencia=1", Name: "Àrea", Default: true},
			{Url: "/?tipus_territori=com&drop_es_residencia=1", Name: "Comarca"},
		},
		Poblacions: []Variant{
			{Url: "/?drop_es_residencia=2&tipus_territori=com", Name: "Residents", Default: true},
			{Url: "/?drop_es_residencia=1&tipus_territori=com", Name: "Tots"},
		},
	}
	diff := cmp.Diff(expected, static)
	if diff != "" {
		t.Fatal(diff)
	}
}

func TestParseStaticWithoutNavigation(t *testing.T) {
	static := ParseStatic("<html><body><a href=\"/x\">x</a></body></html>")
	diff := cmp.Diff(Static{}, static)
	if diff != "" {
		t.Fatal(diff)
	}
}
