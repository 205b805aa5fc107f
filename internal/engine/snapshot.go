package engine

import (
	"github.com/roach88/adminsync/internal/adminapi"
	"github.com/roach88/adminsync/internal/bulk"
	"github.com/roach88/adminsync/internal/health"
	"github.com/roach88/adminsync/internal/pushchannel"
	"github.com/roach88/adminsync/internal/query"
)

// ConnectionState is the push channel as shown to the operator.
type ConnectionState string

const (
	ConnDisconnected ConnectionState = "disconnected"
	ConnConnecting   ConnectionState = "connecting"
	ConnConnected    ConnectionState = "connected"
	// ConnDegraded: the push channel failed and has not reconnected while
	// the engine is running. Data still flows via REST and polling.
	ConnDegraded ConnectionState = "degraded"
)

// Snapshot is the UI-facing view of the engine, rebuilt after every event.
//
// Slices and maps inside a Snapshot are shared with the engine and must be
// treated as read-only.
type Snapshot struct {
	// Version increases with every published snapshot.
	Version uint64

	Query    query.Params
	Result   *adminapi.FetchResult
	Err      error
	Fetching bool
	// Stale is true while an invalidation has not yet been served by a
	// successful fetch.
	Stale bool

	Stats         *adminapi.Stats
	StatsErr      error
	StatsFetching bool

	Connection ConnectionState
	Health     health.State

	Selection []string
	LastBulk  *bulk.Report
}

// Records returns the applied page's records, or nil.
func (s Snapshot) Records() []adminapi.Record {
	if s.Result == nil {
		return nil
	}
	return s.Result.Records
}

// hasRecord reports whether id is on the applied page.
func (s Snapshot) hasRecord(id string) bool {
	for _, r := range s.Records() {
		if r.ID == id {
			return true
		}
	}
	return false
}

func connectionState(seen, running, failed bool, s pushchannel.State) ConnectionState {
	switch {
	case !seen:
		return ConnDisconnected
	case s == pushchannel.Connected:
		return ConnConnected
	case failed && running:
		return ConnDegraded
	case s == pushchannel.Connecting:
		return ConnConnecting
	default:
		return ConnDisconnected
	}
}
