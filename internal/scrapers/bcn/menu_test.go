package bcn

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

const testMenuHtml = `<ul class="sidebar-menu">
  <li><a href="#" data-value=" resum ">Resum</a></li>
  <li>
    <a href="#">Mobilitat <small class="badge">nou</small></a>
    <ul>
      <li><a data-value="mobilitatVehicles">Vehicles</a></li>
      <li><a data-value="mobilitatOrigens">Visitants</a></li>
    </ul>
  </li>
  <li>
    <a href="#">Economia</a>
    <ul>
      <li><a data-value="consums">Consums</a></li>
      <li><a data-value="preus">Preus</a></li>
    </ul>
  </li>
</ul>`

func TestParseMenu(t *testing.T) {
	menu, err := ParseMenu(testMenuHtml)
	require.NoError(t, err)

	expected := []MenuItem{
		{Name: "Resum", Code: "resum"},
		{
			Name: "Mobilitat",
			Children: []MenuItem{
				{Name: "Vehicles", Code: "mobilitatVehicles"},
				{Name: "Visitants", Code: "mobilitatOrigens"},
			},
		},
		{
			Name: "Economia",
			Children: []MenuItem{
				{Name: "Consums", Code: "consums"},
				{Name: "Preus", Code: "preus"},
			},
		},
	}
	diff := cmp.Diff(expected, menu)
	if diff != "" {
		t.Fatal(diff)
	}
}

func TestParseMenuWithoutList(t *testing.T) {
	_, err := ParseMenu("<div>nothing</div>")
	require.Error(t, err)
}

func TestParseOptions(t *testing.T) {
	options, err := ParseOptions(`<div class="form-group"><div><select multiple>
		<option value="08019">Barcelona</option>
		<option value="08101">
			L'Hospitalet de Llobregat
		</option>
		<option>Altres</option>
	</select></div></div>`)
	require.NoError(t, err)
	require.Equal(t, []Option{
		{Name: "Barcelona", Code: "08019"},
		{Name: "L'Hospitalet de Llobregat", Code: "08101"},
		{Name: "Altres"},
	}, options)
}

func TestFindMenu(t *testing.T) {
	menu, err := ParseMenu(testMenuHtml)
	require.NoError(t, err)

	item, ok := FindMenu("preus", menu)
	require.True(t, ok)
	require.Equal(t, "Preus", item.Name)

	item, ok = FindMenu("resum", menu)
	require.True(t, ok)
	require.Equal(t, "Resum", item.Name)

	_, ok = FindMenu("missing", menu)
	require.False(t, ok)
}
