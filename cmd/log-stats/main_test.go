package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandFromStdin(t *testing.T) {
	dir := t.TempDir()
	orgs := filepath.Join(dir, "autnums")
	table := filepath.Join(dir, "table")
	srcs := filepath.Join(dir, "sources.yaml")
	require.NoError(t, os.WriteFile(orgs, []byte("15169 GOOGLE - Google LLC, US\n"), 0o644))
	require.NoError(t, os.WriteFile(table, []byte("8.8.8.0/24\t15169\n"), 0o644))
	require.NoError(t, os.WriteFile(srcs, []byte("sources:\n  - kind: apnic\n    org_url: "+orgs+"\n    url: "+table+"\n"), 0o644))

	cmd := newCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader("8.8.8.8 - - \"GET /\"\n9.9.9.9 - -\n"))
	cmd.SetArgs([]string{"--sources", srcs, "-"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "0\t1\tGOOGLE - Google LLC, US\n")
	assert.Contains(t, out.String(), "All rows: 2\n")
	assert.Contains(t, out.String(), "IPs with no infos (1): 9.9.9.9\n")
}

func TestCommandMissingFile(t *testing.T) {
	cmd := newCommand()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--sources", filepath.Join(t.TempDir(), "none.yaml"), filepath.Join(t.TempDir(), "missing.log")})
	assert.Error(t, cmd.Execute())
}
