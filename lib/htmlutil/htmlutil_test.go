package htmlutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetTrimmedText(t *testing.T) {
	doc, err := Parse("<a>\n  Mobilitat <small>(new)</small>\n  <i>x</i><b> vehicles </b></a>")
	require.NoError(t, err)
	node := doc.Find("a").Get(0)

	require.Equal(t, "Mobilitat(new)xvehicles", GetTrimmedText(node))
	require.Equal(t, "Mobilitatvehicles", GetTrimmedText(node, "small", "i"))
	require.Equal(t, "\n  Mobilitat (new)\n  x vehicles ", GetText(node))
}

func TestCleanText(t *testing.T) {
	doc, err := Parse("<table><tr><td>\n   Casos\n   confirmats   </td></tr></table>")
	require.NoError(t, err)
	require.Equal(t, "Casos confirmats", CleanText(doc.Find("td")))
}
