package zk

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	gozk "github.com/go-zookeeper/zk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/canopy/pkg/core"
)

func TestMapState(t *testing.T) {
	tests := []struct {
		in   gozk.State
		want core.State
		ok   bool
	}{
		{gozk.StateHasSession, core.StateConnected, true},
		{gozk.StateConnecting, core.StateConnecting, true},
		{gozk.StateDisconnected, core.StateConnecting, true},
		{gozk.StateExpired, core.StateExpired, true},
		{gozk.StateAuthFailed, core.StateAuthFailed, true},
		{gozk.StateConnected, core.StateUnknown, false},
		{gozk.StateUnknown, core.StateUnknown, true},
	}
	for _, tc := range tests {
		t.Run(tc.in.String(), func(t *testing.T) {
			got, ok := mapState(tc.in)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.ok, ok)
		})
	}
}

func TestMapErr(t *testing.T) {
	assert.NoError(t, mapErr(nil))

	err := mapErr(gozk.ErrNoNode)
	assert.ErrorIs(t, err, core.ErrNoNode)
	assert.ErrorIs(t, err, gozk.ErrNoNode, "the original error stays in the chain")

	assert.ErrorIs(t, mapErr(gozk.ErrConnectionClosed), core.ErrConnectionLoss)
	assert.ErrorIs(t, mapErr(gozk.ErrSessionExpired), core.ErrSessionExpired)
	assert.ErrorIs(t, mapErr(gozk.ErrNodeExists), core.ErrNodeExists)

	other := errors.New("boom")
	assert.Same(t, other, mapErr(other))
}

func TestMapEventType(t *testing.T) {
	assert.Equal(t, core.EventDataChanged, mapEventType(gozk.EventNodeDataChanged))
	assert.Equal(t, core.EventChildrenChanged, mapEventType(gozk.EventNodeChildrenChanged))
	assert.Equal(t, core.EventDeleted, mapEventType(gozk.EventNodeDeleted))
	assert.Equal(t, core.EventNotWatching, mapEventType(gozk.EventNotWatching))
	assert.Equal(t, core.EventNone, mapEventType(gozk.EventSession))
}

func TestConversions(t *testing.T) {
	acl := []core.ACL{{Perms: core.PermRead, Scheme: "world", ID: "anyone"}}
	assert.Equal(t, acl, fromACL(toACL(acl)))
	assert.Equal(t, gozk.WorldACL(gozk.PermRead), toACL(core.ReadACL))
	assert.Equal(t, core.OpenACL, fromACL(gozk.WorldACL(gozk.PermAll)))

	stat := fromStat(&gozk.Stat{Version: 3, Cversion: 2, EphemeralOwner: 7, NumChildren: 1, Mtime: 1500})
	assert.Equal(t, int32(3), stat.Version)
	assert.Equal(t, int32(2), stat.CVersion)
	assert.True(t, stat.Ephemeral())
	assert.Equal(t, time.UnixMilli(1500), stat.Modified)
	assert.Equal(t, core.Stat{}, fromStat(nil))

	assert.Equal(t, int32(gozk.FlagEphemeral), int32(core.FlagEphemeral))
	assert.Equal(t, int32(gozk.FlagSequence), int32(core.FlagSequence))
}

func TestSplitServers(t *testing.T) {
	assert.Equal(t, []string{"a:2181", "b:2181"}, splitServers(" a:2181, b:2181,"))
	assert.Empty(t, splitServers(""))
}

func TestDialer_EmptyAddress(t *testing.T) {
	_, err := NewDialer(nil)(context.Background(), " , ", time.Second, nil)
	require.ErrorIs(t, err, core.ErrBadArguments)
}

func TestPrinter(t *testing.T) {
	var buf bytes.Buffer
	p := printer{slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))}
	p.Printf("connected to %s", "127.0.0.1:2181")
	assert.Contains(t, buf.String(), "connected to 127.0.0.1:2181")
}
