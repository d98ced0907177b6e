package configutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type testNested struct {
	Rate    float64 `json:"rate"`
	BaseUrl string  `json:"base_url"`
}

type testConfig struct {
	Name    string            `json:"name"`
	Retries int               `json:"retries"`
	Nested  testNested        `json:"nested"`
	Queries map[string]string `json:"queries"`
}

func writeFile(t *testing.T, path, contents string) {
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))
}

func TestReadConfigMergesLocal(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "config.json5")
	writeFile(t, name, `{
		// comments and trailing commas are fine
		name: "base",
		retries: 3,
		nested: {rate: 1.5, base_url: "https://example.com"},
	}`)
	writeFile(t, filepath.Join(dir, "config.local.json5"), `{retries: 7}`)

	cfg, err := ReadConfig[testConfig](name)
	require.NoError(t, err)
	require.Equal(t, testConfig{
		Name:    "base",
		Retries: 7,
		Nested:  testNested{Rate: 1.5, BaseUrl: "https://example.com"},
	}, cfg)
}

func TestReadConfigMissing(t *testing.T) {
	_, err := ReadConfig[testConfig](filepath.Join(t.TempDir(), "config.json5"))
	require.True(t, os.IsNotExist(err))
}

func TestReadConfigWithDefaults(t *testing.T) {
	defaults := testConfig{
		Name:    "default",
		Retries: 20,
		Nested:  testNested{Rate: 1.8, BaseUrl: "https://default.example.com"},
	}

	cfg, err := ReadConfigWithDefaults(filepath.Join(t.TempDir(), "config.json5"), defaults)
	require.NoError(t, err)
	require.Equal(t, defaults, cfg)

	dir := t.TempDir()
	name := filepath.Join(dir, "config.json5")
	writeFile(t, name, `{nested: {rate: 4}, queries: {init: "{}"}}`)
	cfg, err = ReadConfigWithDefaults(name, defaults)
	require.NoError(t, err)
	require.Equal(t, testConfig{
		Name:    "default",
		Retries: 20,
		Nested:  testNested{Rate: 4, BaseUrl: "https://default.example.com"},
		Queries: map[string]string{"init": "{}"},
	}, cfg)
}

func TestReadConfigInvalid(t *testing.T) {
	name := filepath.Join(t.TempDir(), "config.json5")
	writeFile(t, name, `{name: `)
	_, err := ReadConfigWithDefaults(name, testConfig{})
	require.Error(t, err)
}

func TestFindUp(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))
	writeFile(t, filepath.Join(root, "a", "dashscrape.local.json5"), `{}`)

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(nested))
	defer os.Chdir(wd)

	path, err := FindUp("dashscrape.json5")
	require.NoError(t, err)
	require.Equal(t, "dashscrape.json5", filepath.Base(path))

	// the temp dir may sit behind a symlink
	expected, err := filepath.EvalSymlinks(filepath.Join(root, "a"))
	require.NoError(t, err)
	actual, err := filepath.EvalSymlinks(filepath.Dir(path))
	require.NoError(t, err)
	require.Equal(t, expected, actual)

	_, err = FindUp("missing.json5")
	require.True(t, os.IsNotExist(err))
}
