package main

import (
	"context"
	"fmt"

	"github.com/dlorp/synapse-engine-sub002/domain/dialogue"
	"github.com/dlorp/synapse-engine-sub002/domain/modelclient"
)

// modelClientAdapter wraps a *modelclient.Client so its Generate method
// satisfies dialogue.ModelClient's interface-typed return. Generate
// itself returns the concrete *modelclient.TokenStream, which does not
// automatically satisfy an interface-typed method signature — Go
// requires the method sets to match exactly for interface satisfaction,
// not just the underlying concrete type to implement the interface.
type modelClientAdapter struct {
	client *modelclient.Client
}

func (a modelClientAdapter) Generate(ctx context.Context, params modelclient.Params) (dialogue.TokenStream, error) {
	return a.client.Generate(ctx, params)
}

// clientRegistry resolves a model id to the live Model Client cmd/synapsed
// constructed for it at startup, implementing dialogue.ClientProvider.
// Kept separate from domain/fleet.Manager's own client handle (which only
// needs the narrower Health-check surface) so neither package has to know
// about the other's interface.
type clientRegistry struct {
	clients map[string]*modelclient.Client
}

func newClientRegistry() *clientRegistry {
	return &clientRegistry{clients: make(map[string]*modelclient.Client)}
}

func (r *clientRegistry) register(id string, c *modelclient.Client) {
	r.clients[id] = c
}

func (r *clientRegistry) Client(modelID string) (dialogue.ModelClient, error) {
	c, ok := r.clients[modelID]
	if !ok {
		return nil, fmt.Errorf("no model client registered for %q", modelID)
	}
	return modelClientAdapter{client: c}, nil
}
