package convert

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSPLToXQL(t *testing.T) {
	cases := []struct {
		name string
		spl  string
		want string
	}{
		{
			name: "index to dataset",
			spl:  `index=windows EventCode=4625`,
			want: `dataset = windows_raw EventCode=4625`,
		},
		{
			name: "sourcetype to filter",
			spl:  `sourcetype=WinEventLog:Security`,
			want: `filter WinEventLog:Security`,
		},
		{
			name: "stats count by",
			spl:  `index=auth | stats count by user`,
			want: `dataset = auth_raw | comp count() by user`,
		},
		{
			name: "where to filter",
			spl:  `index=proxy | where status=407`,
			want: `dataset = proxy_raw | filter status=407`,
		},
		{
			name: "table to fields",
			spl:  `index=dns | table query, answer`,
			want: `dataset = dns_raw | fields query, answer`,
		},
		{
			name: "whitespace trimmed",
			spl:  "  index=ids  \n",
			want: "dataset = ids_raw",
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := SPLToXQL(c.spl)
			require.NoError(t, err)
			assert.Equal(t, c.want, got)
		})
	}
}

func TestSPLToXQLEmpty(t *testing.T) {
	_, err := SPLToXQL("   ")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmptyQuery))
}

func TestSPLToXQLPassthrough(t *testing.T) {
	// Queries with no recognized constructs come back unchanged.
	got, err := SPLToXQL(`search failed login`)
	require.NoError(t, err)
	assert.Equal(t, `search failed login`, got)
}
