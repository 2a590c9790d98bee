package router

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fileferry/fileferry/internal/hub"
	"github.com/fileferry/fileferry/internal/registry"
	"github.com/fileferry/fileferry/pkg/protocol"
)

type fakeOpener struct {
	mu    sync.Mutex
	paths []string
	err   error
}

func (f *fakeOpener) Open(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
	return f.err
}

type rig struct {
	hub    *hub.Hub
	reg    *registry.Registry
	router *Router
	opener *fakeOpener
}

func newRig() *rig {
	h := hub.New()
	reg := registry.New(h)
	opener := &fakeOpener{}
	logger := slog.New(slog.DiscardHandler)
	return &rig{
		hub:    h,
		reg:    reg,
		router: New(h, reg, opener, logger),
		opener: opener,
	}
}

func (r *rig) client(addr string) (hub.Session, <-chan protocol.Envelope) {
	ch := make(chan protocol.Envelope, 64)
	sess := r.hub.Connect(addr, func(env protocol.Envelope) error {
		ch <- env
		return nil
	})
	return sess, ch
}

func (r *rig) handle(senderID string, kind protocol.Kind, payload any) protocol.Envelope {
	env, err := protocol.NewEnvelope(kind, protocol.NewMsgID(), payload)
	if err != nil {
		panic(err)
	}
	r.router.Handle(context.Background(), senderID, env)
	return env
}

// waitKind reads envelopes until one of the wanted kind arrives, skipping
// unrelated traffic such as interleaved device list broadcasts.
func waitKind(t *testing.T, ch <-chan protocol.Envelope, kind protocol.Kind) protocol.Envelope {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case env := <-ch:
			if env.Kind == kind {
				return env
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func assertSilent(t *testing.T, ch <-chan protocol.Envelope) {
	t.Helper()
	select {
	case env := <-ch:
		t.Fatalf("unexpected envelope: %s", env.Kind)
	case <-time.After(100 * time.Millisecond):
	}
}

func decodeList(t *testing.T, env protocol.Envelope) []protocol.DeviceEntry {
	t.Helper()
	var entries []protocol.DeviceEntry
	require.NoError(t, env.DecodePayload(&entries))
	return entries
}

func TestRegisterAcksWithSessionID(t *testing.T) {
	r := newRig()
	sess, ch := r.client("a:1")

	sent := r.handle(sess.ID, protocol.KindRegisterDevice, protocol.RegisterDevice{Name: "MacBook", Type: "desktop"})

	ack := waitKind(t, ch, protocol.KindDeviceRegistered)
	assert.Equal(t, sent.MsgID, ack.MsgID, "ack echoes the request message ID")

	var reply protocol.DeviceRegistered
	require.NoError(t, ack.DecodePayload(&reply))
	assert.True(t, reply.Success)
	assert.Equal(t, sess.ID, reply.DeviceID)
}

// Scenario: two devices register in order; each sees only the other.
func TestRegisterBroadcastsPersonalizedDeviceList(t *testing.T) {
	r := newRig()
	s1, ch1 := r.client("a:1")
	s2, ch2 := r.client("b:2")

	r.handle(s1.ID, protocol.KindRegisterDevice, protocol.RegisterDevice{Name: "MacBook", Type: "desktop"})
	waitKind(t, ch1, protocol.KindDeviceRegistered)

	r.handle(s2.ID, protocol.KindRegisterDevice, protocol.RegisterDevice{Name: "iPhone", Type: "mobile"})

	l1 := decodeList(t, waitKind(t, ch1, protocol.KindDeviceList))
	require.Len(t, l1, 1)
	assert.Equal(t, "iPhone", l1[0].Name)
	assert.Equal(t, protocol.DeviceMobile, l1[0].Type)

	l2 := decodeList(t, waitKind(t, ch2, protocol.KindDeviceList))
	require.Len(t, l2, 1)
	assert.Equal(t, "MacBook", l2[0].Name)
	assert.Equal(t, protocol.DeviceDesktop, l2[0].Type)
}

// Round-trip: register then discover; the list has every other registered
// device and never the caller.
func TestDiscoverReturnsListWithoutCaller(t *testing.T) {
	r := newRig()
	s1, ch1 := r.client("a:1")
	s2, ch2 := r.client("b:2")

	r.handle(s1.ID, protocol.KindRegisterDevice, protocol.RegisterDevice{Name: "MacBook", Type: "desktop"})
	r.handle(s2.ID, protocol.KindRegisterDevice, protocol.RegisterDevice{Name: "iPhone", Type: "mobile"})
	waitKind(t, ch1, protocol.KindDeviceRegistered)
	waitKind(t, ch2, protocol.KindDeviceRegistered)

	r.handle(s1.ID, protocol.KindDiscoverDevices, struct{}{})
	list := decodeList(t, waitKind(t, ch1, protocol.KindDeviceList))
	require.Len(t, list, 1)
	assert.Equal(t, s2.ID, list[0].ID)
}

func TestOpenFolderTargeted(t *testing.T) {
	r := newRig()
	s1, _ := r.client("a:1")
	s2, ch2 := r.client("b:2")

	r.handle(s1.ID, protocol.KindOpenFolder, protocol.OpenFolder{FolderPath: "/docs", TargetDevice: s2.ID})

	got := waitKind(t, ch2, protocol.KindFolderOpened)
	var note protocol.FolderOpened
	require.NoError(t, got.DecodePayload(&note))
	assert.Equal(t, "/docs", note.FolderPath)
	assert.Equal(t, s1.ID, note.SourceDevice)
	assert.Equal(t, s1.ID, got.Source)
}

func TestOpenFolderDisconnectedTarget(t *testing.T) {
	r := newRig()
	s1, ch1 := r.client("a:1")
	s2, _ := r.client("b:2")

	r.router.Disconnect(s2.ID)
	sent := r.handle(s1.ID, protocol.KindOpenFolder, protocol.OpenFolder{FolderPath: "/docs", TargetDevice: s2.ID})

	got := waitKind(t, ch1, protocol.KindFolderOpenError)
	assert.Equal(t, sent.MsgID, got.MsgID)
	var e protocol.FolderOpenError
	require.NoError(t, got.DecodePayload(&e))
	assert.Equal(t, "target not found or disconnected", e.Error)
}

func TestOpenFolderLocalMode(t *testing.T) {
	r := newRig()
	sess, ch := r.client("a:1")

	r.handle(sess.ID, protocol.KindOpenFolder, protocol.OpenFolder{FolderPath: "/srv/shared"})

	got := waitKind(t, ch, protocol.KindFolderOpened)
	var note protocol.FolderOpened
	require.NoError(t, got.DecodePayload(&note))
	assert.Equal(t, "/srv/shared", note.FolderPath)
	assert.Empty(t, note.SourceDevice)
	assert.Equal(t, []string{"/srv/shared"}, r.opener.paths)
}

func TestOpenFolderLocalFailure(t *testing.T) {
	r := newRig()
	r.opener.err = errors.New("no display")
	sess, ch := r.client("a:1")

	r.handle(sess.ID, protocol.KindOpenFolder, protocol.OpenFolder{FolderPath: "/srv/shared"})

	got := waitKind(t, ch, protocol.KindFolderOpenError)
	var e protocol.FolderOpenError
	require.NoError(t, got.DecodePayload(&e))
	assert.Contains(t, e.Error, "no display")
}

func TestFileSelectedTargeted(t *testing.T) {
	r := newRig()
	s1, _ := r.client("a:1")
	s2, ch2 := r.client("b:2")
	_, ch3 := r.client("c:3")

	r.handle(s1.ID, protocol.KindRegisterDevice, protocol.RegisterDevice{Name: "MacBook", Type: "desktop"})
	r.handle(s1.ID, protocol.KindFileSelected, protocol.FileSelected{FilePath: "report.pdf", TargetDevice: s2.ID})

	got := waitKind(t, ch2, protocol.KindFileSelected)
	var sel protocol.FileSelected
	require.NoError(t, got.DecodePayload(&sel))
	assert.Equal(t, "report.pdf", sel.FilePath)
	assert.Equal(t, s1.ID, sel.SourceDevice)
	assert.Equal(t, "MacBook", sel.SourceDeviceName)
	assert.NotZero(t, sel.Timestamp)

	// ch3 sees only device list broadcasts, never the targeted selection.
	for {
		select {
		case env := <-ch3:
			require.NotEqual(t, protocol.KindFileSelected, env.Kind)
		case <-time.After(100 * time.Millisecond):
			return
		}
	}
}

// Scenario: an unresolvable target degrades to broadcast rather than
// dropping the selection.
func TestFileSelectedFallbackBroadcast(t *testing.T) {
	r := newRig()
	s1, ch1 := r.client("a:1")
	_, ch2 := r.client("b:2")
	_, ch3 := r.client("c:3")

	r.handle(s1.ID, protocol.KindFileSelected, protocol.FileSelected{
		FilePath:     "report.pdf",
		FileSize:     1024,
		TargetDevice: "nonexistent-id",
	})

	for _, ch := range []<-chan protocol.Envelope{ch1, ch2, ch3} {
		got := waitKind(t, ch, protocol.KindFileSelected)
		var sel protocol.FileSelected
		require.NoError(t, got.DecodePayload(&sel))
		assert.Equal(t, "report.pdf", sel.FilePath)
		assert.Equal(t, int64(1024), sel.FileSize)
		assert.Equal(t, s1.ID, sel.SourceDevice)
		assert.Equal(t, "Unknown Device", sel.SourceDeviceName, "unregistered sender")
		assert.NotZero(t, sel.Timestamp)
	}
}

func TestFileSelectedUntargetedBroadcast(t *testing.T) {
	r := newRig()
	s1, _ := r.client("a:1")
	_, ch2 := r.client("b:2")
	_, ch3 := r.client("c:3")

	r.handle(s1.ID, protocol.KindFileSelected, protocol.FileSelected{FilePath: "a.txt", Timestamp: 777})
	r.handle(s1.ID, protocol.KindFileSelected, protocol.FileSelected{FilePath: "a.txt", Timestamp: 777})

	// Duplicate sends are visible as duplicates; deduplication is the
	// receiver's burden.
	for _, ch := range []<-chan protocol.Envelope{ch2, ch3} {
		first := waitKind(t, ch, protocol.KindFileSelected)
		second := waitKind(t, ch, protocol.KindFileSelected)
		var a, b protocol.FileSelected
		require.NoError(t, first.DecodePayload(&a))
		require.NoError(t, second.DecodePayload(&b))
		assert.Equal(t, a.DedupeKey(), b.DedupeKey())
	}
}

func TestSourceCannotBeSpoofed(t *testing.T) {
	r := newRig()
	s1, _ := r.client("a:1")
	s2, ch2 := r.client("b:2")

	env, err := protocol.NewEnvelope(protocol.KindOpenFolder, protocol.NewMsgID(), protocol.OpenFolder{
		FolderPath:   "/docs",
		TargetDevice: s2.ID,
	})
	require.NoError(t, err)
	env.Source = "forged-session-id"
	r.router.Handle(context.Background(), s1.ID, env)

	got := waitKind(t, ch2, protocol.KindFolderOpened)
	var note protocol.FolderOpened
	require.NoError(t, got.DecodePayload(&note))
	assert.Equal(t, s1.ID, note.SourceDevice)
	assert.Equal(t, s1.ID, got.Source)
}

func TestPingPong(t *testing.T) {
	r := newRig()
	sess, ch := r.client("a:1")

	sent := r.handle(sess.ID, protocol.KindPing, protocol.Ping{})
	got := waitKind(t, ch, protocol.KindPong)
	assert.Equal(t, sent.MsgID, got.MsgID)

	var pong protocol.Pong
	require.NoError(t, got.DecodePayload(&pong))
	assert.NotZero(t, pong.Timestamp)
}

func TestPingBroadcastForm(t *testing.T) {
	r := newRig()
	s1, _ := r.client("a:1")
	_, ch2 := r.client("b:2")

	r.handle(s1.ID, protocol.KindPing, protocol.Ping{Broadcast: true})
	got := waitKind(t, ch2, protocol.KindPong)
	assert.Equal(t, "server", got.Source)
}

func TestMalformedDirectivesDropped(t *testing.T) {
	r := newRig()
	s1, ch1 := r.client("a:1")
	_, ch2 := r.client("b:2")

	r.handle(s1.ID, protocol.KindOpenFolder, protocol.OpenFolder{TargetDevice: "whatever"}) // no folderPath
	r.handle(s1.ID, protocol.KindFileSelected, protocol.FileSelected{})                     // no filePath
	r.handle(s1.ID, protocol.Kind("formatDisk"), struct{}{})                                // unknown kind

	assertSilent(t, ch1)
	assertSilent(t, ch2)
}

func TestDisconnectRepublishesList(t *testing.T) {
	r := newRig()
	s1, ch1 := r.client("a:1")
	s2, _ := r.client("b:2")

	r.handle(s1.ID, protocol.KindRegisterDevice, protocol.RegisterDevice{Name: "MacBook", Type: "desktop"})
	r.handle(s2.ID, protocol.KindRegisterDevice, protocol.RegisterDevice{Name: "iPhone", Type: "mobile"})

	l := decodeList(t, waitKind(t, ch1, protocol.KindDeviceList))
	for len(l) != 1 {
		l = decodeList(t, waitKind(t, ch1, protocol.KindDeviceList))
	}

	r.router.Disconnect(s2.ID)
	l = decodeList(t, waitKind(t, ch1, protocol.KindDeviceList))
	assert.Empty(t, l)

	// Duplicate disconnects stay safe and still republish.
	r.router.Disconnect(s2.ID)
	l = decodeList(t, waitKind(t, ch1, protocol.KindDeviceList))
	assert.Empty(t, l)
}

func TestDisconnectUnregisteredSession(t *testing.T) {
	r := newRig()
	s1, ch1 := r.client("a:1")
	s2, _ := r.client("b:2")

	r.handle(s1.ID, protocol.KindRegisterDevice, protocol.RegisterDevice{Name: "MacBook", Type: "desktop"})
	waitKind(t, ch1, protocol.KindDeviceRegistered)

	// s2 never registered: its disconnect changes nothing in the list.
	r.router.Disconnect(s2.ID)
	l := decodeList(t, waitKind(t, ch1, protocol.KindDeviceList))
	assert.Empty(t, l)
}

func TestNotifyBroadcastsStorageEvents(t *testing.T) {
	r := newRig()
	_, ch1 := r.client("a:1")
	_, ch2 := r.client("b:2")

	ok := r.router.Notify(protocol.KindFileUploaded, protocol.StorageEvent{
		FileID:   "f-1",
		Filename: "report.pdf",
		Owner:    "alice",
	})
	require.True(t, ok)

	for _, ch := range []<-chan protocol.Envelope{ch1, ch2} {
		got := waitKind(t, ch, protocol.KindFileUploaded)
		var ev protocol.StorageEvent
		require.NoError(t, got.DecodePayload(&ev))
		assert.Equal(t, "report.pdf", ev.Filename)
		assert.Equal(t, "alice", ev.Owner)
	}

	assert.False(t, r.router.Notify(protocol.KindPong, protocol.StorageEvent{Filename: "x"}))
}
