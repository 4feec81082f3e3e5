package config

import "testing"

// TestDefaultValid verifies that the defaults pass validation.
func TestDefaultValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

// TestValidate verifies each rejected configuration.
func TestValidate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "host", mutate: func(c *Config) { c.Role = RoleHost }},
		{name: "join with url", mutate: func(c *Config) { c.Role = RoleJoin; c.WSURL = "ws://localhost:1/ws" }},
		{name: "zero pings", mutate: func(c *Config) { c.Pings = 0 }},
		{name: "join without url", mutate: func(c *Config) { c.Role = RoleJoin }, wantErr: true},
		{name: "unknown role", mutate: func(c *Config) { c.Role = "relay" }, wantErr: true},
		{name: "empty label", mutate: func(c *Config) { c.ChannelLabel = "" }, wantErr: true},
		{name: "empty reply", mutate: func(c *Config) { c.Reply = "" }, wantErr: true},
		{name: "negative pings", mutate: func(c *Config) { c.Pings = -1 }, wantErr: true},
		{name: "zero timeout", mutate: func(c *Config) { c.NegotiateTimeout = 0 }, wantErr: true},
		{name: "zero stats interval", mutate: func(c *Config) { c.StatsInterval = 0 }, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := Default()
			tc.mutate(&c)
			err := c.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("Validate() = %v", err)
			}
		})
	}
}
