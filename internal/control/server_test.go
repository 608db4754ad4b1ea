package control_test

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/blahgeek/peervpn/internal/control"
)

func TestServeHandlesEchoVerb(t *testing.T) {
	t.Parallel()

	sockPath := filepath.Join(t.TempDir(), "control.sock")

	handler := func(verb string, args []string) (any, error) {
		if verb != "echo" {
			return nil, errors.New("unknown verb")
		}
		return args, nil
	}

	srv, err := control.Listen(sockPath, handler, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	cli, err := control.Dial(sockPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer cli.Close()

	resp, err := cli.Call("echo", "a", "b")
	if err != nil {
		t.Fatalf("Call: %v", err)
	}

	var got []string
	if err := json.Unmarshal(resp.Data, &got); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("got %v, want [a b]", got)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after context cancellation")
	}
}

func TestCallReportsRemoteError(t *testing.T) {
	t.Parallel()

	sockPath := filepath.Join(t.TempDir(), "control.sock")

	handler := func(string, []string) (any, error) {
		return nil, errors.New("boom")
	}

	srv, err := control.Listen(sockPath, handler, nil)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = srv.Serve(ctx) }()

	cli, err := control.Dial(sockPath)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer cli.Close()

	if _, err := cli.Call("anything"); err == nil {
		t.Error("Call returned nil error for a remote failure")
	} else if !errors.Is(err, control.ErrRemote) {
		t.Errorf("Call error = %v, want wrapped ErrRemote", err)
	}
}
