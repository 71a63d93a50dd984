package coordinator

import (
	"log/slog"
	"sort"
	"time"

	magicdrag "github.com/roboricindustries/raycon-drag/pkg/schemas/magicdrag/v1"
)

type TabInfo struct {
	TabID          string
	LastActiveTime time.Time
	IsOnline       bool
}

// OnlineTabs lists the peers heard from within the tab timeout, ordered by
// id.
func (c *Coordinator) OnlineTabs() []TabInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TabInfo, 0, len(c.tabs))
	for _, info := range c.tabs {
		if info.IsOnline {
			out = append(out, info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TabID < out[j].TabID })
	return out
}

func (c *Coordinator) touch(peerID string) {
	_, known := c.tabs[peerID]
	c.tabs[peerID] = TabInfo{
		TabID:          peerID,
		LastActiveTime: c.opts.Clock(),
		IsOnline:       true,
	}
	if !known {
		c.log.Debug("peer online", slog.String("peer", peerID))
		c.metrics.OnlinePeers(len(c.tabs))
	}
}

// sweep forgets peers silent for longer than the tab timeout.
func (c *Coordinator) sweep() {
	now := c.opts.Clock()
	for id, info := range c.tabs {
		if now.Sub(info.LastActiveTime) > c.opts.TabTimeout {
			delete(c.tabs, id)
			c.log.Debug("peer offline", slog.String("peer", id))
		}
	}
	c.metrics.OnlinePeers(len(c.tabs))
}

// heartbeat announces this peer and sweeps stale ones.
func (c *Coordinator) heartbeat() {
	c.do(func(t *turn) {
		msg := c.newMessage(magicdrag.Heartbeat, "", "", magicdrag.Payload{})
		c.dispatch(t, msg)
		c.broadcast(t, msg)
		c.sweep()
	})
}

func (c *Coordinator) heartbeatLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.heartbeat()
		}
	}
}
