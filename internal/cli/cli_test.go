package cli

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAddress(t *testing.T) {
	tests := []struct {
		addr      string
		scopePath []string
		id        string
		wantErr   bool
	}{
		{addr: "prod/web/server", scopePath: []string{"prod", "web"}, id: "server"},
		{addr: "server", scopePath: []string{}, id: "server"},
		{addr: "/prod/server/", scopePath: []string{"prod"}, id: "server"},
		{addr: "", wantErr: true},
		{addr: "///", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			scopePath, id, err := parseAddress(tt.addr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.scopePath, scopePath)
			assert.Equal(t, tt.id, id)
		})
	}
}

func TestParseScopePath(t *testing.T) {
	assert.Nil(t, parseScopePath(""))
	assert.Nil(t, parseScopePath("/"))
	assert.Equal(t, []string{"prod"}, parseScopePath("prod"))
	assert.Equal(t, []string{"prod", "web"}, parseScopePath("/prod/web/"))
}

func TestFormatAddress(t *testing.T) {
	assert.Equal(t, "server", formatAddress(nil, "server"))
	assert.Equal(t, "prod/web/server", formatAddress([]string{"prod", "web"}, "server"))
}

func TestOpenStoreUnknownBackend(t *testing.T) {
	orig := flagBackend
	flagBackend = "etcd"
	defer func() { flagBackend = orig }()

	_, _, err := openStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend")
}

func TestBuiltinRegistryCoversShippedKinds(t *testing.T) {
	reg := builtinRegistry()
	kinds := reg.Kinds()
	assert.Contains(t, kinds, "null")
	assert.Contains(t, kinds, "docker:container")
	assert.Contains(t, kinds, "docker:image")
	assert.Contains(t, kinds, "docker:network")
	assert.Contains(t, kinds, "docker:volume")
	assert.Contains(t, kinds, "aws:s3:bucket")
	assert.Contains(t, kinds, "aws:dynamodb:table")
}
