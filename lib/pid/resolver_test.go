package pid

import (
	"testing"

	"github.com/ValentinKolb/dProxy/lib/meta"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	stores := meta.NewStores()
	app, _ := stores.App("reported")
	require.NoError(t, app.Put(Key, "4711"))

	r := NewResolver(stores, map[string]int{"static": 42, "reported": 1})

	tests := []struct {
		name    string
		app     string
		want    int
		wantErr error
	}{
		{"FromMetaStore", "reported", 4711, nil},
		{"FromStaticTable", "static", 42, nil}, // shared scope holds 4711 and must not leak
		{"Unknown", "nobody", 0, ErrUnknownApp},
		{"EmptyAppCode", "", 0, ErrUnknownApp},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(tt.app)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
