// Package router decides, per directive, between targeted unicast, fallback
// broadcast, and pure broadcast, and dispatches through the hub. It is
// fire-and-forget: at most one delivery attempt per routing decision, no
// retries, no pending-request state.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fileferry/fileferry/internal/hub"
	"github.com/fileferry/fileferry/internal/localopen"
	"github.com/fileferry/fileferry/internal/registry"
	"github.com/fileferry/fileferry/pkg/protocol"
)

// relaySource marks envelopes originated by the relay itself.
const relaySource = "server"

// errTargetNotFound is the reason reported when an openFolder target cannot
// be resolved.
const errTargetNotFound = "target not found or disconnected"

// unknownDeviceName is the sourceDeviceName fallback for senders that never
// registered or registered without a name.
const unknownDeviceName = "Unknown Device"

// Router routes inbound directives. Directives from one sender arrive from
// that connection's read loop and are processed in order; senders on
// different connections have no relative ordering.
type Router struct {
	hub    *hub.Hub
	reg    *registry.Registry
	opener localopen.Opener
	logger *slog.Logger
}

// New creates a router over the given hub and registry. opener handles the
// legacy local open action for untargeted openFolder directives.
func New(h *hub.Hub, reg *registry.Registry, opener localopen.Opener, logger *slog.Logger) *Router {
	return &Router{hub: h, reg: reg, opener: opener, logger: logger}
}

// Handle processes one inbound directive from the named sender. Malformed
// directives are dropped with a logged warning; no directive-processing error
// ever terminates the sender's connection.
func (rt *Router) Handle(ctx context.Context, senderID string, env protocol.Envelope) {
	// The sender's live session ID is authoritative, whatever the client put
	// in the envelope.
	env.Source = senderID
	if env.TS == 0 {
		env.TS = protocol.NowMillis()
	}
	rt.hub.Touch(senderID, time.Now())

	switch env.Kind {
	case protocol.KindRegisterDevice:
		rt.handleRegister(senderID, env)
	case protocol.KindDiscoverDevices:
		rt.handleDiscover(senderID, env)
	case protocol.KindOpenFolder:
		rt.handleOpenFolder(ctx, senderID, env)
	case protocol.KindFileSelected:
		rt.handleFileSelected(senderID, env)
	case protocol.KindPing:
		rt.handlePing(senderID, env)
	default:
		rt.logger.Warn("unknown directive kind", "kind", env.Kind, "session_id", senderID)
	}
}

// Disconnect removes a session and republishes the device list to everyone
// remaining. Safe to call more than once per session.
func (rt *Router) Disconnect(sessionID string) {
	rt.hub.Disconnect(sessionID)
	rt.reg.BroadcastList()
}

// Notify broadcasts a storage-mutation event from the storage collaborator
// verbatim to every connection. Only the three storage kinds are accepted.
func (rt *Router) Notify(kind protocol.Kind, ev protocol.StorageEvent) bool {
	switch kind {
	case protocol.KindFileUploaded, protocol.KindFileDeleted, protocol.KindFileRenamed:
	default:
		return false
	}
	env, err := protocol.NewEnvelope(kind, protocol.NewMsgID(), ev)
	if err != nil {
		rt.logger.Error("failed to create storage event envelope", "kind", kind, "error", err)
		return false
	}
	env.Source = relaySource
	rt.hub.Broadcast(env)
	return true
}

func (rt *Router) handleRegister(senderID string, env protocol.Envelope) {
	var raw protocol.RegisterDevice
	if err := env.DecodePayload(&raw); err != nil {
		rt.dropMalformed(senderID, env, err)
		return
	}

	if _, ok := rt.reg.Register(senderID, raw); !ok {
		// Session vanished between read and registration.
		return
	}
	rt.reg.BroadcastList()

	ack := protocol.DeviceRegistered{
		Success:  true,
		DeviceID: senderID,
		Message:  "device registered",
	}
	rt.reply(senderID, env.MsgID, protocol.KindDeviceRegistered, ack)
}

func (rt *Router) handleDiscover(senderID string, env protocol.Envelope) {
	rt.reply(senderID, env.MsgID, protocol.KindDeviceList, rt.reg.SnapshotFor(senderID))
}

func (rt *Router) handleOpenFolder(ctx context.Context, senderID string, env protocol.Envelope) {
	var req protocol.OpenFolder
	if err := env.DecodePayload(&req); err != nil {
		rt.dropMalformed(senderID, env, err)
		return
	}
	if req.FolderPath == "" {
		rt.dropMalformed(senderID, env, errMissingField("folderPath"))
		return
	}

	if req.TargetDevice == "" {
		// Legacy single-host mode: open on the relay machine and report back.
		if err := rt.opener.Open(ctx, req.FolderPath); err != nil {
			rt.logger.Error("local folder open failed", "path", req.FolderPath, "error", err)
			rt.reply(senderID, env.MsgID, protocol.KindFolderOpenError, protocol.FolderOpenError{Error: err.Error()})
			return
		}
		rt.reply(senderID, env.MsgID, protocol.KindFolderOpened, protocol.FolderOpened{FolderPath: req.FolderPath})
		return
	}

	note := protocol.FolderOpened{FolderPath: req.FolderPath, SourceDevice: senderID}
	out, err := protocol.NewEnvelope(protocol.KindFolderOpened, protocol.NewMsgID(), note)
	if err != nil {
		rt.logger.Error("failed to create folderOpened envelope", "error", err)
		return
	}
	out.Source = senderID
	out.Target = req.TargetDevice

	// A target that disconnects mid-route is unresolvable, never a dispatch
	// to a dangling handle.
	if !rt.hub.Send(req.TargetDevice, out) {
		rt.logger.Warn("openFolder target unresolvable", "from", senderID, "target", req.TargetDevice)
		rt.reply(senderID, env.MsgID, protocol.KindFolderOpenError, protocol.FolderOpenError{Error: errTargetNotFound})
	}
}

func (rt *Router) handleFileSelected(senderID string, env protocol.Envelope) {
	var sel protocol.FileSelected
	if err := env.DecodePayload(&sel); err != nil {
		rt.dropMalformed(senderID, env, err)
		return
	}
	if sel.FilePath == "" {
		rt.dropMalformed(senderID, env, errMissingField("filePath"))
		return
	}

	sel.SourceDevice = senderID
	sel.SourceDeviceName = rt.reg.DisplayName(senderID, unknownDeviceName)
	if sel.Timestamp == 0 {
		sel.Timestamp = protocol.NowMillis()
	}

	out, err := protocol.NewEnvelope(protocol.KindFileSelected, env.MsgID, sel)
	if err != nil {
		rt.logger.Error("failed to create fileSelected envelope", "error", err)
		return
	}
	out.Source = senderID

	if sel.TargetDevice != "" {
		out.Target = sel.TargetDevice
		if rt.hub.Send(sel.TargetDevice, out) {
			return
		}
		// Over-delivery beats silent loss: an unresolvable target degrades
		// to a broadcast.
		rt.logger.Warn("fileSelected target unresolvable, broadcasting", "from", senderID, "target", sel.TargetDevice)
		out.Target = ""
	}
	rt.hub.Broadcast(out)
}

func (rt *Router) handlePing(senderID string, env protocol.Envelope) {
	var ping protocol.Ping
	if len(env.Payload) > 0 {
		if err := env.DecodePayload(&ping); err != nil {
			rt.dropMalformed(senderID, env, err)
			return
		}
	}

	pong := protocol.Pong{Timestamp: protocol.NowMillis()}
	if ping.Broadcast {
		out, err := protocol.NewEnvelope(protocol.KindPong, env.MsgID, pong)
		if err != nil {
			return
		}
		out.Source = relaySource
		rt.hub.Broadcast(out)
		return
	}
	rt.reply(senderID, env.MsgID, protocol.KindPong, pong)
}

// reply unicasts a relay-originated directive to one session, echoing the
// message ID of the directive it answers.
func (rt *Router) reply(sessionID, msgID string, kind protocol.Kind, payload any) {
	env, err := protocol.NewEnvelope(kind, msgID, payload)
	if err != nil {
		rt.logger.Error("failed to create reply envelope", "kind", kind, "error", err)
		return
	}
	env.Source = relaySource
	env.Target = sessionID
	rt.hub.Send(sessionID, env)
}

func (rt *Router) dropMalformed(senderID string, env protocol.Envelope, err error) {
	rt.logger.Warn("malformed directive dropped", "kind", env.Kind, "session_id", senderID, "error", err)
}

func errMissingField(name string) error {
	return fmt.Errorf("missing required field %q", name)
}
