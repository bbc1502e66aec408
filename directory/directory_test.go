package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	addr string
}

func (p *fakeProvider) Addr() string { return p.addr }

func (p *fakeProvider) Request(ctx context.Context, service string, payload []byte) ([]byte, error) {
	return payload, nil
}

func TestRegisterAndProviders(t *testing.T) {
	dir := New()
	one := &fakeProvider{addr: "10.0.0.1:4200"}
	two := &fakeProvider{addr: "10.0.0.2:4200"}

	dir.Register("billing", one)
	dir.Register("billing", two)
	dir.Register("search", one)

	providers := dir.Providers("billing")
	require.Len(t, providers, 2)
	require.Equal(t, "10.0.0.1:4200", providers[0].Addr())
	require.Equal(t, "10.0.0.2:4200", providers[1].Addr())

	require.Equal(t, []string{"billing", "search"}, dir.Services())
}

func TestUnknownServiceIsEmpty(t *testing.T) {
	dir := New()
	require.Empty(t, dir.Providers("nope"))
}

func TestUnregister(t *testing.T) {
	dir := New()
	one := &fakeProvider{addr: "10.0.0.1:4200"}
	two := &fakeProvider{addr: "10.0.0.2:4200"}
	dir.Register("billing", one)
	dir.Register("billing", two)

	dir.Unregister("billing", one.Addr())
	providers := dir.Providers("billing")
	require.Len(t, providers, 1)
	require.Equal(t, two.Addr(), providers[0].Addr())

	dir.Unregister("billing", two.Addr())
	require.Empty(t, dir.Providers("billing"))
	require.Empty(t, dir.Services())
}

func TestRemoveProviderEvictsEverywhere(t *testing.T) {
	dir := New()
	one := &fakeProvider{addr: "10.0.0.1:4200"}
	two := &fakeProvider{addr: "10.0.0.2:4200"}
	dir.Register("billing", one)
	dir.Register("search", one)
	dir.Register("search", two)

	dir.RemoveProvider(one.Addr())

	require.Empty(t, dir.Providers("billing"))
	search := dir.Providers("search")
	require.Len(t, search, 1)
	require.Equal(t, two.Addr(), search[0].Addr())
}

func TestSnapshot(t *testing.T) {
	dir := New()
	dir.Register("billing", &fakeProvider{addr: "b"})
	dir.Register("billing", &fakeProvider{addr: "a"})

	require.Equal(t, map[string][]string{"billing": {"a", "b"}}, dir.Snapshot())
}
