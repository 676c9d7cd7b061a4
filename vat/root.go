// Package vat assembles the process root: a singleton publish kit provided
// from the durable store, plus the version and parameters it was built with.
package vat

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"github.com/maxpert/pubkit/baggage"
	"github.com/maxpert/pubkit/cfg"
	"github.com/maxpert/pubkit/encoding"
	"github.com/maxpert/pubkit/provide"
	"github.com/maxpert/pubkit/pubsub"
	"github.com/rs/zerolog/log"
)

// Parameters the root is built with
type Parameters struct {
	Version   string
	Kind      string
	Singleton string
	Extra     map[string]string
	Codec     *encoding.Codec
	CacheSize int
}

// KitInfo is what the root reports about a provisioned kit
type KitInfo struct {
	Key      string `json:"key"`
	Kind     string `json:"kind"`
	Ref      string `json:"ref"`
	Sequence uint64 `json:"sequence"`
	Status   string `json:"status"`
}

// Root exposes the singleton kit. Building it again over the same store
// after a restart reattaches to the same kit.
type Root struct {
	params    Parameters
	maker     *pubsub.Maker[string]
	provider  *provide.Provider
	kit       *pubsub.Kit[string]
	publisher pubsub.Publisher[string]
}

// Build prepares the kind and provides the singleton kit. Roots built over
// one open store share the kind, the provider and so the kit.
func Build(ctx context.Context, store baggage.Store, params Parameters) (*Root, error) {
	if params.Kind == "" || params.Singleton == "" {
		return nil, fmt.Errorf("%w: kind and singleton key are required", pubsub.ErrInvalidArgument)
	}
	if params.Codec == nil {
		params.Codec = encoding.NewCodec(encoding.DefaultCompressThreshold)
	}
	if params.CacheSize < 1 {
		params.CacheSize = 1
	}

	maker := pubsub.Prepare[string](store, params.Kind,
		pubsub.WithCodec(params.Codec),
		pubsub.WithCounter(baggage.SharedCounter(store, params.CacheSize)),
	)
	provider := provide.NewProvider(store, params.Codec)

	kit, err := provide.Provide(ctx, provider, params.Singleton, provide.Kind[*pubsub.Kit[string]](maker))
	if err != nil {
		return nil, err
	}

	s := kit.Snapshot()
	log.Info().
		Str("version", params.Version).
		Str("kind", params.Kind).
		Str("kit", kit.Ref()).
		Uint64("seq", s.Sequence).
		Str("status", s.Status.String()).
		Msg("Root built")

	return &Root{
		params:    params,
		maker:     maker,
		provider:  provider,
		kit:       kit,
		publisher: kit.Publisher(),
	}, nil
}

// Version returns the version the root was built with
func (r *Root) Version() string {
	return r.params.Version
}

// Parameters returns a copy of the extra build parameters
func (r *Root) Parameters() map[string]string {
	return maps.Clone(r.params.Extra)
}

// Subscriber returns the shareable consumer facet of the singleton
func (r *Root) Subscriber() pubsub.Subscriber[string] {
	return r.kit.Subscriber()
}

func (r *Root) Publish(ctx context.Context, value string) error {
	return r.publisher.Publish(ctx, value)
}

func (r *Root) Finish(ctx context.Context, value string) error {
	return r.publisher.Finish(ctx, value)
}

func (r *Root) Fail(ctx context.Context, reason string) error {
	return r.publisher.Fail(ctx, errors.New(reason))
}

// Latest returns the committed state of the singleton without waiting
func (r *Root) Latest() pubsub.State[string] {
	return r.kit.Snapshot()
}

// LiveKits and Waiters report on kits resident in this process
func (r *Root) LiveKits() int { return r.maker.LiveKits() }

func (r *Root) Waiters() int { return r.maker.Waiters() }

// Keys lists provisioned keys
func (r *Root) Keys(ctx context.Context) ([]string, error) {
	return r.provider.Keys(ctx)
}

// Describe reports sequence and status of the kit provisioned under key
func (r *Root) Describe(ctx context.Context, key string) (KitInfo, error) {
	entry, err := r.provider.Lookup(ctx, key)
	if err != nil {
		return KitInfo{}, err
	}
	info := KitInfo{Key: key, Kind: entry.Kind, Ref: entry.Ref}
	if entry.Kind != r.maker.Name() {
		return info, fmt.Errorf("%w: %q holds %s", provide.ErrKindMismatch, key, entry.Kind)
	}

	kit, err := r.maker.Revive(ctx, entry.Ref)
	if err != nil {
		return info, err
	}
	s := kit.Snapshot()
	info.Sequence = s.Sequence
	info.Status = s.Status.String()
	return info, nil
}

// ParametersFromConfig maps the process configuration onto root parameters
func ParametersFromConfig(c *cfg.Configuration) Parameters {
	return Parameters{
		Version:   c.Vat.Version,
		Kind:      c.Kit.Kind,
		Singleton: c.Kit.SingletonKey,
		Extra:     maps.Clone(c.Vat.Parameters),
		Codec:     encoding.NewCodec(c.Store.CompressThreshold),
		CacheSize: c.Store.CounterCacheSize,
	}
}
