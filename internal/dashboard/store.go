package dashboard

import (
	"context"

	"headless-sentinel/internal/registry"
	"headless-sentinel/internal/store"
	"headless-sentinel/internal/types"
)

// EventStore is the read side of the event store the API serves
type EventStore interface {
	Query(ctx context.Context, f store.Filter) ([]types.Event, error)
	Stats(ctx context.Context, topN int) (*store.Stats, error)
	Watermarks(ctx context.Context) ([]store.Watermark, error)
	Ping(ctx context.Context) error
}

// HostSource reports per-host collection status
type HostSource interface {
	Statuses() []registry.HostStatus
}

// HostInfo is one entry of /api/v1/hosts
type HostInfo struct {
	registry.HostStatus
	Watermarks []store.Watermark `json:"watermarks"`
}

func hostInfos(statuses []registry.HostStatus, marks []store.Watermark) []HostInfo {
	byHost := make(map[string][]store.Watermark)
	for _, w := range marks {
		byHost[w.Host] = append(byHost[w.Host], w)
	}
	out := make([]HostInfo, 0, len(statuses))
	for _, s := range statuses {
		wm := byHost[s.Host]
		if wm == nil {
			wm = []store.Watermark{}
		}
		out = append(out, HostInfo{HostStatus: s, Watermarks: wm})
	}
	return out
}
