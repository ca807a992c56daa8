// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package services

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/thejerf/suture/v4"

	"github.com/tomtom215/quillsync/internal/logging"
)

func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

func newTestNATS() *EmbeddedNATSService {
	return NewEmbeddedNATSService(EmbeddedNATSConfig{Host: "127.0.0.1", Port: -1})
}

func TestEmbeddedNATSService(t *testing.T) {
	t.Run("accepts clients after Start", func(t *testing.T) {
		svc := newTestNATS()
		if err := svc.Start(); err != nil {
			t.Fatalf("Start: %v", err)
		}
		defer svc.Shutdown()

		if !svc.Running() {
			t.Fatal("server should be running")
		}
		nc, err := natsgo.Connect(svc.ClientURL())
		if err != nil {
			t.Fatalf("connect: %v", err)
		}
		defer nc.Close()

		sub, err := nc.SubscribeSync("legacy.room-1")
		if err != nil {
			t.Fatalf("subscribe: %v", err)
		}
		if err := nc.Publish("legacy.room-1", []byte("hello")); err != nil {
			t.Fatalf("publish: %v", err)
		}
		msg, err := sub.NextMsg(2 * time.Second)
		if err != nil {
			t.Fatalf("next msg: %v", err)
		}
		if string(msg.Data) != "hello" {
			t.Errorf("got %q, want hello", msg.Data)
		}
	})

	t.Run("Start is idempotent", func(t *testing.T) {
		svc := newTestNATS()
		if err := svc.Start(); err != nil {
			t.Fatalf("Start: %v", err)
		}
		defer svc.Shutdown()
		url := svc.ClientURL()
		if err := svc.Start(); err != nil {
			t.Fatalf("second Start: %v", err)
		}
		if svc.ClientURL() != url {
			t.Errorf("second Start replaced the server: %s != %s", svc.ClientURL(), url)
		}
	})

	t.Run("stops on context cancellation", func(t *testing.T) {
		svc := newTestNATS()
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan error, 1)
		go func() { done <- svc.Serve(ctx) }()

		deadline := time.Now().Add(5 * time.Second)
		for !svc.Running() && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		if !svc.Running() {
			t.Fatal("server did not start")
		}

		cancel()
		select {
		case err := <-done:
			if !errors.Is(err, context.Canceled) {
				t.Errorf("expected context.Canceled, got %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("Serve did not return")
		}
		if svc.Running() {
			t.Error("server should be stopped")
		}
		if svc.ClientURL() != "" {
			t.Error("ClientURL should be empty once stopped")
		}
	})

	t.Run("reports unexpected stop", func(t *testing.T) {
		svc := newTestNATS()
		if err := svc.Start(); err != nil {
			t.Fatalf("Start: %v", err)
		}

		done := make(chan error, 1)
		go func() { done <- svc.Serve(context.Background()) }()

		time.Sleep(50 * time.Millisecond)
		svc.Shutdown()

		select {
		case err := <-done:
			if !errors.Is(err, ErrNATSStopped) {
				t.Errorf("expected ErrNATSStopped, got %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("Serve did not return")
		}
	})

	t.Run("String returns service name", func(t *testing.T) {
		if got := newTestNATS().String(); got != "embedded-nats" {
			t.Errorf("expected embedded-nats, got %q", got)
		}
	})
}

func TestEmbeddedNATSService_RestartedBySupervisor(t *testing.T) {
	svc := newTestNATS()
	sup := suture.New("test-sup", suture.Spec{
		FailureThreshold: 5,
		FailureBackoff:   10 * time.Millisecond,
		Timeout:          5 * time.Second,
	})
	sup.Add(svc)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := sup.ServeBackground(ctx)
	defer func() {
		cancel()
		<-errCh
	}()

	waitRunning := func() string {
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if url := svc.ClientURL(); url != "" {
				return url
			}
			time.Sleep(10 * time.Millisecond)
		}
		t.Fatal("server did not come up")
		return ""
	}

	waitRunning()
	svc.Shutdown()
	url := waitRunning()

	nc, err := natsgo.Connect(url)
	if err != nil {
		t.Fatalf("connect after restart: %v", err)
	}
	nc.Close()
}
