package hooks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doclite/doclite/internal/dberr"
)

type recordingPlugin struct {
	calls []string
}

func (p *recordingPlugin) OnBeforeInsert(ctx context.Context, payload any) error {
	p.calls = append(p.calls, "before")
	return nil
}

func (p *recordingPlugin) OnAfterInsert(ctx context.Context, payload any) error {
	p.calls = append(p.calls, "after")
	return nil
}

type failingPlugin struct{}

func (failingPlugin) OnBeforeInsert(ctx context.Context, payload any) error {
	return errors.New("boom")
}

type slowPlugin struct{}

func (slowPlugin) HookTimeout() time.Duration { return 10 * time.Millisecond }

func (slowPlugin) OnBeforeInsert(ctx context.Context, payload any) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestUseDiscoversHookMethods(t *testing.T) {
	d := New(ModeSafe, nil)
	events := d.Use("recorder", &recordingPlugin{})
	assert.ElementsMatch(t, []Event{EventBeforeInsert, EventAfterInsert}, events)
}

func TestDispatchRunsHooksInDispatchOrder(t *testing.T) {
	d := New(ModeSafe, nil)
	p := &recordingPlugin{}
	d.Use("recorder", p)

	require.NoError(t, d.Dispatch(context.Background(), EventBeforeInsert, nil))
	require.NoError(t, d.Dispatch(context.Background(), EventAfterInsert, nil))
	assert.Equal(t, []string{"before", "after"}, p.calls)
}

func TestStrictModePropagatesPluginError(t *testing.T) {
	d := New(ModeStrict, nil)
	d.Use("failing", failingPlugin{})

	err := d.Dispatch(context.Background(), EventBeforeInsert, nil)
	require.Error(t, err)
	var pe *dberr.PluginError
	assert.ErrorAs(t, err, &pe)
}

func TestSafeModeSwallowsPluginError(t *testing.T) {
	d := New(ModeSafe, nil)
	d.Use("failing", failingPlugin{})

	err := d.Dispatch(context.Background(), EventBeforeInsert, nil)
	assert.NoError(t, err)
}

func TestHookTimeoutRaisesPluginTimeoutError(t *testing.T) {
	d := New(ModeStrict, nil)
	d.Use("slow", slowPlugin{})

	err := d.Dispatch(context.Background(), EventBeforeInsert, nil)
	require.Error(t, err)
	var te *dberr.PluginTimeoutError
	assert.ErrorAs(t, err, &te)
}

func TestUnuseRemovesPlugin(t *testing.T) {
	d := New(ModeSafe, nil)
	p := &recordingPlugin{}
	d.Use("recorder", p)
	d.Unuse("recorder")

	require.NoError(t, d.Dispatch(context.Background(), EventBeforeInsert, nil))
	assert.Empty(t, p.calls)
}

func TestDispatchErrorSuppressesReentry(t *testing.T) {
	d := New(ModeSafe, nil)
	calls := 0
	reentrant := &reentrantErrorPlugin{dispatcher: d, calls: &calls}
	d.Use("reentrant", reentrant)

	d.DispatchError(context.Background(), errors.New("first failure"))
	assert.Equal(t, 1, calls)
}

type reentrantErrorPlugin struct {
	dispatcher *Dispatcher
	calls      *int
}

func (p *reentrantErrorPlugin) OnError(ctx context.Context, payload any) error {
	*p.calls++
	p.dispatcher.DispatchError(ctx, errors.New("nested failure"))
	return nil
}
