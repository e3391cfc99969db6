package main

import "testing"

func TestParseTunnelArgs(t *testing.T) {
	cases := []struct {
		name       string
		args       []string
		localPort  string
		originID   string
	}{
		{name: "port only", args: []string{"9000"}, localPort: "9000"},
		{name: "port then origin", args: []string{"9000", "--origin", "prod"}, localPort: "9000", originID: "prod"},
		{name: "origin then port", args: []string{"--origin", "prod", "9000"}, localPort: "9000", originID: "prod"},
		{name: "missing port", args: []string{"--origin", "prod"}, localPort: "", originID: "prod"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			port, origin := parseTunnelArgs(c.args)
			if port != c.localPort || origin != c.originID {
				t.Fatalf("parseTunnelArgs(%v) = (%q, %q), want (%q, %q)", c.args, port, origin, c.localPort, c.originID)
			}
		})
	}
}
