package results

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/kalambet/sdsx/internal/pipeline"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(name string, tokens int, cost string) *pipeline.DocumentRecord {
	return &pipeline.DocumentRecord{
		DocumentName: name,
		Sections: []pipeline.Field{
			{Key: "identification", Value: json.RawMessage(`{"material_name":"X"}`)},
			{Key: "toxicological_information", Value: json.RawMessage(`{"additional_information":[]}`)},
		},
		TotalTokens: tokens,
		TotalCost:   decimal.RequireFromString(cost),
	}
}

func TestFileLog_AppendAndList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "results.json")
	log := NewFileLog(path)

	got, err := log.List()
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, log.Append(record("a.pdf", 130, "0.03")))
	require.NoError(t, log.Append(record("b.pdf", 10, "0.001")))

	got, err = log.List()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a.pdf", got[0].DocumentName)
	assert.Equal(t, "b.pdf", got[1].DocumentName)
	assert.Equal(t, "0.03", got[0].TotalCost.String())
	assert.Equal(t, []string{"document_name", "identification", "toxicological_information", "total_tokens", "total_cost"}, got[0].Keys())

	var raw []map[string]any
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Len(t, raw, 2)

	// Key order survives indentation on disk.
	first := string(data)
	assert.Less(t, strings.Index(first, `"document_name"`), strings.Index(first, `"identification"`))
	assert.Less(t, strings.Index(first, `"toxicological_information"`), strings.Index(first, `"total_tokens"`))
}

func TestFileLog_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"not":"an array"}`), 0o600))

	log := NewFileLog(path)
	assert.Error(t, log.Append(record("a.pdf", 1, "0")))
	_, err := log.List()
	assert.Error(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `{"not":"an array"}`, string(data), "corrupt file must be left untouched")
}

func TestFileLog_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	log := NewFileLog(path)
	require.NoError(t, log.Append(record("a.pdf", 1, "0")))
	got, err := log.List()
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestFileLog_ConcurrentAppends(t *testing.T) {
	dir := t.TempDir()
	log := NewFileLog(filepath.Join(dir, "results.json"))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, log.Append(record(fmt.Sprintf("doc-%d.pdf", i), i, "0.01")))
		}()
	}
	wg.Wait()

	got, err := log.List()
	require.NoError(t, err)
	assert.Len(t, got, 20)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}
