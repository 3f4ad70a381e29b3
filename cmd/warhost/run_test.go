package main

import (
	"context"
	"errors"
	"testing"
)

func TestBuildInfoString(t *testing.T) {
	tests := []struct {
		info buildInfo
		want string
	}{
		{buildInfo{Version: "dev"}, "dev"},
		{buildInfo{Version: "1.2.0", Commit: "abc1234"}, "1.2.0+abc1234"},
		{buildInfo{Version: "1.2.0", Commit: "abc1234", Modified: true}, "1.2.0+abc1234-dirty"},
	}
	for _, tt := range tests {
		if got := tt.info.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestStartWithRetryStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := startWithRetry(ctx, "test", func(context.Context) error {
		calls++
		cancel()
		return errors.New("address in use")
	}, 5)
	if err != nil {
		t.Fatalf("err = %v", err)
	}
	if calls != 1 {
		t.Fatalf("%d attempts after cancel", calls)
	}
}

func TestStartWithRetrySucceeds(t *testing.T) {
	calls := 0
	err := startWithRetry(context.Background(), "test", func(context.Context) error {
		calls++
		return nil
	}, 5)
	if err != nil || calls != 1 {
		t.Fatalf("err = %v, calls = %d", err, calls)
	}
}
