package ipc

import (
	"context"
	"log/slog"

	"fastsetupd/internal/bus"
	"fastsetupd/internal/domain"
)

// SubscriberID is the bus identity the IPC Client registers under.
const SubscriberID = "ipc"

// Client drains IPC requests off the bus, performs them against a
// Transport, and publishes the correlated reply (spec.md §4.2's IPC
// catalog, §9's request/response correlation design note).
type Client struct {
	bus       *bus.Bus
	transport Transport
	sub       *bus.Subscriber
}

// NewClient subscribes to the bus and returns a Client ready for Run.
func NewClient(b *bus.Bus, transport Transport) *Client {
	return &Client{
		bus:       b,
		transport: transport,
		sub:       b.Subscribe(SubscriberID),
	}
}

// Run drains the inbox until ctx is canceled or a Quit message arrives.
// It is meant to run on its own worker goroutine (spec.md §5).
func (c *Client) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.sub.Messages():
			if !ok {
				return
			}
			if msg.Kind == bus.KindQuit {
				return
			}
			c.handle(ctx, msg)
		}
	}
}

// Stop unsubscribes the client from the bus.
func (c *Client) Stop() {
	c.bus.Unsubscribe(SubscriberID)
}

// NotifyBLEAPConfigured publishes an inbound-only IPC_BLE_AP_CONFIGURED
// event, the entry point a BLE stack uses to hand the daemon an AP to try.
func (c *Client) NotifyBLEAPConfigured(ap domain.APInfo) {
	c.bus.Publish(bus.Message{Kind: bus.KindIPCBLEAPConfigured, Payload: bus.BLEAPConfigured{AP: ap}})
}

func (c *Client) handle(ctx context.Context, msg bus.Message) {
	req, ok := msg.Payload.(bus.ReqPayload)
	if !ok {
		return
	}

	switch msg.Kind {
	case bus.KindIPCSetMeshInfo:
		body := req.Body.(bus.SetMeshInfoReq)
		ok, err := c.transport.SetMeshInfo(ctx, body.Mesh)
		if err != nil {
			slog.Warn("ipc SetMeshInfo failed", "err", err)
		}
		c.reply(bus.KindIPCSetMeshInfoResp, req.ReqID, bus.SetMeshInfoResp{OK: ok})

	case bus.KindIPCStartMesh:
		ok, errCode, err := c.transport.StartMesh(ctx)
		if err != nil {
			slog.Warn("ipc StartMesh failed", "err", err)
		}
		c.reply(bus.KindIPCStartMeshResp, req.ReqID, bus.StartMeshResp{OK: ok, ErrCode: errCode})

	case bus.KindIPCStopMesh:
		ok, errCode, err := c.transport.StopMesh(ctx)
		if err != nil {
			slog.Warn("ipc StopMesh failed", "err", err)
		}
		c.reply(bus.KindIPCStopMeshResp, req.ReqID, bus.StopMeshResp{OK: ok, ErrCode: errCode})

	case bus.KindIPCScanPrivMesh:
		timeout, mesh, err := c.transport.ScanPrivMesh(ctx)
		if err != nil {
			slog.Warn("ipc ScanPrivMesh failed", "err", err)
		}
		c.reply(bus.KindIPCScanPrivMeshResp, req.ReqID, bus.ScanPrivMeshResp{Timeout: timeout, Mesh: mesh})

	case bus.KindIPCAPConnect:
		body := req.Body.(bus.APConnectReq)
		connected, err := c.transport.APConnect(ctx, body.AP)
		if err != nil {
			slog.Warn("ipc APConnect failed", "err", err)
		}
		c.reply(bus.KindIPCAPConnectResp, req.ReqID, bus.APConnectResp{AP: body.AP, Connected: connected})

	case bus.KindIPCAPDisconnect:
		if err := c.transport.APDisconnect(ctx); err != nil {
			slog.Warn("ipc APDisconnect failed", "err", err)
		}
		c.reply(bus.KindIPCAPDisconnectResp, req.ReqID, bus.APDisconnectResp{})
	}
}

func (c *Client) reply(kind bus.Kind, reqID uint64, body any) {
	c.bus.Publish(bus.Message{Kind: kind, Payload: bus.RespPayload{ReqID: reqID, Body: body}})
}
