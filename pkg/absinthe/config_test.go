package absinthe

import (
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"missing URI", Config{}, true},
		{"minimal valid", Config{URI: "ws://host/socket/websocket"}, false},
		{"nil ConnectParams", Config{URI: "ws://host", ConnectParams: nil}, false},
		{"map ConnectParams", Config{URI: "ws://host", ConnectParams: map[string]interface{}{"token": "x"}}, false},
		{"func ConnectParams", Config{URI: "ws://host", ConnectParams: func() (map[string]interface{}, error) { return nil, nil }}, false},
		{"func(int) ConnectParams", Config{URI: "ws://host", ConnectParams: func(int) (map[string]interface{}, error) { return nil, nil }}, false},
		{"unsupported ConnectParams", Config{URI: "ws://host", ConnectParams: 42}, true},
		{"negative ReceiveTimeout", Config{URI: "ws://host", ReceiveTimeout: -1}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestConfigReceiveTimeoutDefault(t *testing.T) {
	cfg := &Config{}
	if got := cfg.receiveTimeout(); got != DefaultReceiveTimeout {
		t.Fatalf("receiveTimeout() = %v, want %v", got, DefaultReceiveTimeout)
	}
	cfg.ReceiveTimeout = 5 * time.Second
	if got := cfg.receiveTimeout(); got != 5*time.Second {
		t.Fatalf("receiveTimeout() = %v, want 5s", got)
	}
}

func TestResolveConnectParams(t *testing.T) {
	literal := map[string]interface{}{"token": "abc"}
	got, err := resolveConnectParams(literal, 0)
	if err != nil || got["token"] != "abc" {
		t.Fatalf("literal params: got %v, err %v", got, err)
	}

	var seenCount int
	fn := func(reconnectCount int) (map[string]interface{}, error) {
		seenCount = reconnectCount
		return map[string]interface{}{"n": reconnectCount}, nil
	}
	if _, err := resolveConnectParams(fn, 3); err != nil {
		t.Fatalf("func(int) params: %v", err)
	}
	if seenCount != 3 {
		t.Fatalf("reconnectCount = %d, want 3", seenCount)
	}
}
