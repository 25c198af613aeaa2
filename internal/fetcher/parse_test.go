package fetcher

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFTPURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		url      string
		wantHost string
		wantPath string
		wantErr  bool
	}{
		{name: "default port", url: "ftp://ftp.irs.gov/pub/eo1.csv", wantHost: "ftp.irs.gov:21", wantPath: "/pub/eo1.csv"},
		{name: "explicit port", url: "ftp://ftp.example.com:2121/data/file.txt", wantHost: "ftp.example.com:2121", wantPath: "/data/file.txt"},
		{name: "http rejected", url: "http://example.com/file.csv", wantErr: true},
		{name: "empty path", url: "ftp://ftp.example.com", wantErr: true},
		{name: "root path", url: "ftp://ftp.example.com/", wantErr: true},
		{name: "invalid", url: "://bad", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			host, path, err := parseFTPURL(tt.url)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, host)
			assert.Equal(t, tt.wantPath, path)
		})
	}
}

func TestStreamCSV(t *testing.T) {
	t.Parallel()

	in := "a, b ,c\n1,2\n# skipped\n3,4,5\n"
	rows, errs := StreamCSV(context.Background(), strings.NewReader(in), CSVOptions{TrimSpace: true, Comment: '#'})

	var got [][]string
	for r := range rows {
		got = append(got, r)
	}
	require.NoError(t, <-errs)
	assert.Equal(t, [][]string{{"a", "b", "c"}, {"1", "2"}, {"3", "4", "5"}}, got)
}

func TestStreamCSV_MalformedRow(t *testing.T) {
	t.Parallel()

	rows, errs := StreamCSV(context.Background(), strings.NewReader("a,\"b\n"), CSVOptions{})
	for range rows {
	}
	assert.Error(t, <-errs)
}

func TestStreamCSVRecords(t *testing.T) {
	t.Parallel()

	in := "\ufeffEIN,NAME,NTEE_CD\n123,DAV CHAPTER 1,W30\n456,SHORT\n"
	recs, errs := StreamCSVRecords(context.Background(), strings.NewReader(in), CSVOptions{})

	var got []map[string]string
	for r := range recs {
		got = append(got, r)
	}
	require.NoError(t, <-errs)
	require.Len(t, got, 2)
	assert.Equal(t, map[string]string{"ein": "123", "name": "DAV CHAPTER 1", "ntee_cd": "W30"}, got[0])
	assert.Equal(t, map[string]string{"ein": "456", "name": "SHORT"}, got[1])
}

func TestStreamCSVRecords_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	recs, errs := StreamCSVRecords(ctx, strings.NewReader("a\n1\n2\n"), CSVOptions{})
	for range recs {
	}
	assert.Error(t, <-errs)
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	type org struct {
		Name string `json:"name"`
	}
	o, err := DecodeJSONObject[org](strings.NewReader(`{"name":"AMVETS"}`))
	require.NoError(t, err)
	assert.Equal(t, "AMVETS", o.Name)

	o, err = DecodeJSON[org]([]byte(`{"name":"VFW"}`))
	require.NoError(t, err)
	assert.Equal(t, "VFW", o.Name)

	_, err = DecodeJSON[org]([]byte(`{`))
	assert.Error(t, err)
}
