package main

import (
	"io"
	"testing"

	"github.com/angelmondragon/circulation-backend/pkg/migrate"
)

func TestParseOptionsDefaults(t *testing.T) {
	opts, err := parseOptions(nil, io.Discard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.cmd != "up" || opts.dir != migrate.DefaultDir || opts.offline() {
		t.Fatalf("unexpected defaults %+v", opts)
	}
}

func TestParseOptionsRejects(t *testing.T) {
	cases := [][]string{
		{"-cmd", "create"},
		{"-cmd", "version"},
		{"-cmd", "drop"},
		{"-unknown"},
	}
	for _, args := range cases {
		if _, err := parseOptions(args, io.Discard); err == nil {
			t.Fatalf("expected %v to be rejected", args)
		}
	}
}

func TestParseOptionsOfflineCommands(t *testing.T) {
	opts, err := parseOptions([]string{"-cmd", "create", "-name", "add_holds"}, io.Discard)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !opts.offline() || opts.name != "add_holds" {
		t.Fatalf("unexpected options %+v", opts)
	}
	opts, err = parseOptions([]string{"-cmd", "version", "-version", "20261001090300"}, io.Discard)
	if err != nil || opts.offline() {
		t.Fatalf("version needs the database: %+v %v", opts, err)
	}
}
