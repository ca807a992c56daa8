// Quillsync - Real-time Collaborative Note Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/quillsync

package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// Layer selects the child supervisor a service runs under.
type Layer int

const (
	// LayerData holds services that own durable state.
	LayerData Layer = iota
	// LayerMessaging holds the relay rooms and the legacy transport.
	LayerMessaging
	// LayerAPI holds the network listeners.
	LayerAPI
)

var layerNames = [...]string{
	LayerData:      "data-layer",
	LayerMessaging: "messaging-layer",
	LayerAPI:       "api-layer",
}

func (l Layer) String() string {
	if l < 0 || int(l) >= len(layerNames) {
		return fmt.Sprintf("layer(%d)", int(l))
	}
	return layerNames[l]
}

// TreeConfig tunes restart behavior. Zero fields take suture's defaults.
type TreeConfig struct {
	// FailureThreshold is the decayed failure count that triggers backoff.
	FailureThreshold float64
	// FailureDecay is the half-life of the failure count in seconds.
	FailureDecay     float64
	FailureBackoff   time.Duration
	// ShutdownTimeout bounds how long each service gets to return from
	// Serve after its context is canceled.
	ShutdownTimeout time.Duration
}

// DefaultTreeConfig returns suture's own defaults.
func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5,
		FailureDecay:     30,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

func (c TreeConfig) spec(hook suture.EventHook) suture.Spec {
	d := DefaultTreeConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.FailureDecay <= 0 {
		c.FailureDecay = d.FailureDecay
	}
	if c.FailureBackoff <= 0 {
		c.FailureBackoff = d.FailureBackoff
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	return suture.Spec{
		EventHook:        hook,
		FailureThreshold: c.FailureThreshold,
		FailureDecay:     c.FailureDecay,
		FailureBackoff:   c.FailureBackoff,
		Timeout:          c.ShutdownTimeout,
	}
}

// Tree is the relay server's process tree: a root supervisor with one
// child per Layer. A crash in one layer restarts only that layer.
type Tree struct {
	root   *suture.Supervisor
	layers [len(layerNames)]*suture.Supervisor
}

// New builds the tree. Restarts, backoff and stop timeouts are logged
// through logger.
func New(logger *slog.Logger, config TreeConfig) *Tree {
	hook := (&sutureslog.Handler{Logger: logger}).MustHook()

	t := &Tree{root: suture.New("quillsync", config.spec(hook))}
	// Layers inherit the root's hook when added.
	for l := range t.layers {
		t.layers[l] = suture.New(Layer(l).String(), config.spec(nil))
		t.root.Add(t.layers[l])
	}
	return t
}

// Add runs svc under the given layer. It panics on an unknown layer.
func (t *Tree) Add(layer Layer, svc suture.Service) suture.ServiceToken {
	return t.layers[layer].Add(svc)
}

// Serve runs the tree until ctx is canceled.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground runs the tree in a goroutine. The channel receives one
// value when the tree stops and is never closed.
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// UnstoppedServiceReport lists services that outlived the shutdown
// timeout. Call it after Serve returns.
func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}
