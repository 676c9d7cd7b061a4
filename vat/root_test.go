package vat

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/maxpert/pubkit/baggage"
	"github.com/maxpert/pubkit/cfg"
	"github.com/maxpert/pubkit/provide"
	"github.com/maxpert/pubkit/pubsub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testParams(version string) Parameters {
	return Parameters{
		Version:   version,
		Kind:      "DurablePublishKit",
		Singleton: "publishKitSingleton",
		Extra:     map[string]string{"version": version},
	}
}

func TestRootPublishSubscribe(t *testing.T) {
	ctx := context.Background()
	root, err := Build(ctx, baggage.NewMemoryStore(), testParams("v1"))
	require.NoError(t, err)

	assert.Equal(t, "v1", root.Version())
	assert.Equal(t, map[string]string{"version": "v1"}, root.Parameters())

	require.NoError(t, root.Publish(ctx, "foo"))
	u, err := root.Subscriber().GetUpdateSince(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, pubsub.Update[string]{Value: "foo", UpdateCount: 1}, u)

	require.NoError(t, root.Finish(ctx, "bar"))
	assert.ErrorIs(t, root.Publish(ctx, "late"), pubsub.ErrAlreadyTerminated)
	assert.Equal(t, pubsub.StatusFinished, root.Latest().Status)
}

func TestRootParametersAreCopied(t *testing.T) {
	root, err := Build(context.Background(), baggage.NewMemoryStore(), testParams("v1"))
	require.NoError(t, err)

	params := root.Parameters()
	params["version"] = "changed"
	assert.Equal(t, "v1", root.Parameters()["version"])
}

func TestRootFail(t *testing.T) {
	ctx := context.Background()
	root, err := Build(ctx, baggage.NewMemoryStore(), testParams("v1"))
	require.NoError(t, err)

	require.NoError(t, root.Fail(ctx, "bad input"))
	_, err = root.Subscriber().GetUpdateSince(ctx, 0)
	require.ErrorIs(t, err, pubsub.ErrFailed)
	assert.Equal(t, "bad input", root.Latest().Reason)
}

func TestRootUpgradeReattaches(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "baggage")

	store, err := baggage.OpenPebble(dir, true)
	require.NoError(t, err)
	v1, err := Build(ctx, store, testParams("v1"))
	require.NoError(t, err)
	require.NoError(t, v1.Publish(ctx, "foo"))
	sub := v1.Subscriber()
	u, err := sub.GetUpdateSince(ctx, 0)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = baggage.OpenPebble(dir, true)
	require.NoError(t, err)
	defer store.Close()
	v2, err := Build(ctx, store, testParams("v2"))
	require.NoError(t, err)
	assert.Equal(t, "v2", v2.Version())

	require.NoError(t, v2.Publish(ctx, "bar"))
	next, err := v2.Subscriber().GetUpdateSince(ctx, u.UpdateCount)
	require.NoError(t, err)
	assert.Equal(t, pubsub.Update[string]{Value: "bar", UpdateCount: 2}, next)

	require.NoError(t, v2.Finish(ctx, "done"))
	final, err := v2.Subscriber().GetUpdateSince(ctx, 2)
	require.NoError(t, err)
	assert.True(t, final.Done)
	assert.Equal(t, "done", final.Value)
}

func TestRootDescribe(t *testing.T) {
	ctx := context.Background()
	root, err := Build(ctx, baggage.NewMemoryStore(), testParams("v1"))
	require.NoError(t, err)
	require.NoError(t, root.Publish(ctx, "a"))

	keys, err := root.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"publishKitSingleton"}, keys)

	info, err := root.Describe(ctx, "publishKitSingleton")
	require.NoError(t, err)
	assert.Equal(t, "DurablePublishKit", info.Kind)
	assert.Equal(t, uint64(1), info.Sequence)
	assert.Equal(t, "active", info.Status)

	_, err = root.Describe(ctx, "missing")
	assert.ErrorIs(t, err, baggage.ErrNotFound)
	assert.Equal(t, 1, root.LiveKits())
}

func TestRootKindMismatch(t *testing.T) {
	ctx := context.Background()
	store := baggage.NewMemoryStore()
	_, err := Build(ctx, store, testParams("v1"))
	require.NoError(t, err)

	params := testParams("v2")
	params.Kind = "SomethingElse"
	_, err = Build(ctx, store, params)
	assert.ErrorIs(t, err, provide.ErrKindMismatch)
}

func TestRootsOverOneStoreShareTheKit(t *testing.T) {
	ctx := context.Background()
	store := baggage.NewMemoryStore()
	r1, err := Build(ctx, store, testParams("v1"))
	require.NoError(t, err)
	r2, err := Build(ctx, store, testParams("v2"))
	require.NoError(t, err)

	require.NoError(t, r2.Publish(ctx, "a"))
	require.NoError(t, r2.Publish(ctx, "b"))
	require.NoError(t, r2.Finish(ctx, "done"))

	assert.ErrorIs(t, r1.Publish(ctx, "late"), pubsub.ErrAlreadyTerminated)

	finished := pubsub.State[string]{Sequence: 3, Status: pubsub.StatusFinished, Value: "done"}
	assert.Equal(t, finished, r1.Latest())
	assert.Equal(t, 1, r1.LiveKits())

	info, err := r1.Describe(ctx, testParams("v1").Singleton)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), info.Sequence)
	assert.Equal(t, pubsub.StatusFinished.String(), info.Status)
}

func TestRootsInSeparateProcessesNeverRegress(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "baggage.db")
	open := func() baggage.Store {
		s, err := baggage.OpenSQLite(path, true)
		require.NoError(t, err)
		return s
	}

	serving := open()
	defer serving.Close()
	r1, err := Build(ctx, serving, testParams("v1"))
	require.NoError(t, err)

	cli := open()
	r2, err := Build(ctx, cli, testParams("v1"))
	require.NoError(t, err)
	require.NoError(t, r2.Publish(ctx, "a"))
	require.NoError(t, r2.Publish(ctx, "b"))
	require.NoError(t, r2.Finish(ctx, "done"))
	require.NoError(t, cli.Close())

	assert.ErrorIs(t, r1.Publish(ctx, "late"), pubsub.ErrAlreadyTerminated)

	finished := pubsub.State[string]{Sequence: 3, Status: pubsub.StatusFinished, Value: "done"}
	assert.Equal(t, finished, r1.Latest())

	after := open()
	defer after.Close()
	r3, err := Build(ctx, after, testParams("v1"))
	require.NoError(t, err)
	assert.Equal(t, finished, r3.Latest())
}

func TestBuildRequiresNames(t *testing.T) {
	_, err := Build(context.Background(), baggage.NewMemoryStore(), Parameters{Version: "v1"})
	assert.ErrorIs(t, err, pubsub.ErrInvalidArgument)
}

func TestParametersFromConfig(t *testing.T) {
	c := cfg.Default()
	c.Vat.Version = "v3"
	c.Vat.Parameters = map[string]string{"region": "local"}

	p := ParametersFromConfig(c)
	assert.Equal(t, "v3", p.Version)
	assert.Equal(t, c.Kit.Kind, p.Kind)
	assert.Equal(t, c.Kit.SingletonKey, p.Singleton)
	assert.Equal(t, "local", p.Extra["region"])
	assert.Equal(t, c.Store.CompressThreshold, p.Codec.CompressThreshold)
}
