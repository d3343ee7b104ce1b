// Package streamregistry tracks which assets currently have a live
// outbound connection, and parks dispatches for assets that don't.
// It is the only place outbound Setpoints cross from a calling goroutine
// into the per-connection serving goroutine's mailbox.
package streamregistry

import (
	"sort"
	"sync"
	"time"

	"github.com/der-control/headend/internal/apierr"
	"github.com/der-control/headend/internal/domain"
)

// MailboxCapacity is the bounded outbound mailbox size per connection,
// per the concurrency model's "capacity >= 32" requirement.
const MailboxCapacity = 32

// AgentStream is the registry's view of one live connection: its
// outbound mailbox and the peer metadata captured at Register time.
type AgentStream struct {
	Outbound    chan domain.Setpoint
	Peer        string
	AssetName   string
	SiteName    string
	SiteID      string
	ConnectedAt time.Time
}

// NewAgentStream constructs a stream with a freshly allocated, empty
// mailbox — callers must not share mailboxes across streams.
func NewAgentStream(peer, assetName, siteName, siteID string) *AgentStream {
	return &AgentStream{
		Outbound:    make(chan domain.Setpoint, MailboxCapacity),
		Peer:        peer,
		AssetName:   assetName,
		SiteName:    siteName,
		SiteID:      siteID,
		ConnectedAt: time.Now().UTC(),
	}
}

// Registry holds two maps: asset_id -> live
// stream, and asset_id -> the one dispatch parked for later delivery.
// Both are protected by the same mutex; lock order relative to
// simstate is "streams/pending before sim_state", enforced by callers
// never holding simstate's lock while calling into this package.
type Registry struct {
	mu      sync.Mutex
	streams map[string]*AgentStream
	pending map[string]domain.Dispatch
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{
		streams: make(map[string]*AgentStream),
		pending: make(map[string]domain.Dispatch),
	}
}

// Register installs stream as the current connection for assetID,
// returning whatever stream previously held that slot (the caller logs
// and treats it as implicitly disconnected — see §4.5/§7). If a
// dispatch is parked for this asset, it is drained onto the new
// stream's mailbox immediately; delivered reports whether that send
// succeeded.
func (r *Registry) Register(assetID string, stream *AgentStream) (prev *AgentStream, delivered bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev = r.streams[assetID]
	r.streams[assetID] = stream

	if d, ok := r.pending[assetID]; ok {
		select {
		case stream.Outbound <- setpointFromDispatch(d):
			delete(r.pending, assetID)
			delivered = true
		default:
			// Mailbox is fresh and bounded at 32; this branch exists only
			// to make the non-blocking contract explicit, not because it
			// is expected to trigger.
		}
	}
	return prev, delivered
}

// Deregister removes and returns the current stream for assetID, if any.
func (r *Registry) Deregister(assetID string) *AgentStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.streams[assetID]
	delete(r.streams, assetID)
	return prev
}

// Get returns the current stream for assetID without mutating anything.
func (r *Registry) Get(assetID string) (*AgentStream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.streams[assetID]
	return s, ok
}

// OnlineAssetIDsForSite returns, sorted by id, the assets at siteID that
// currently have a live stream — the allocator's input set.
func (r *Registry) OnlineAssetIDsForSite(siteID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for assetID, s := range r.streams {
		if s.SiteID == siteID {
			ids = append(ids, assetID)
		}
	}
	sort.Strings(ids)
	return ids
}

// ListAll returns every currently connected asset id and its stream
// metadata, for the operator /agents listing.
func (r *Registry) ListAll() map[string]AgentStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]AgentStream, len(r.streams))
	for id, s := range r.streams {
		out[id] = *s
	}
	return out
}

// SendOrPark attempts a non-blocking delivery of d to its asset's
// current stream. On success any existing pending entry is cleared. On
// failure (no stream, or mailbox full) d becomes — or replaces — the
// asset's pending dispatch, guaranteeing at most one pending entry per
// asset, and an error is returned for the caller to log.
func (r *Registry) SendOrPark(d domain.Dispatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stream, ok := r.streams[d.AssetID]
	if ok {
		select {
		case stream.Outbound <- setpointFromDispatch(d):
			delete(r.pending, d.AssetID)
			return nil
		default:
			r.pending[d.AssetID] = d
			return apierr.Newf(apierr.MailboxFull, "mailbox full for asset %s", d.AssetID)
		}
	}

	r.pending[d.AssetID] = d
	return apierr.Newf(apierr.AgentNotConnected, "no stream registered for asset %s", d.AssetID)
}

// Len returns the current number of live streams.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.streams)
}

// PendingCount returns the current number of parked dispatches.
func (r *Registry) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func setpointFromDispatch(d domain.Dispatch) domain.Setpoint {
	return domain.Setpoint{
		AssetID:    d.AssetID,
		MW:         d.MW,
		DurationS:  d.DurationS,
		DispatchID: d.ID,
	}
}
