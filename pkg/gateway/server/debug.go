package server

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/tsarna/vinculum-gateway/pkg/gateway/session"
	"go.uber.org/zap"
)

// ShardCount is the number of live sessions on one shard.
type ShardCount struct {
	session.Shard
	Sessions int `json:"sessions"`
}

// SessionsReport is the body served by ServeSessions.
type SessionsReport struct {
	Count    int                `json:"count"`
	Shards   []ShardCount       `json:"shards"`
	Sessions []*session.Session `json:"sessions"`
}

// Report summarises the live sessions.
func (l *Listener) Report() SessionsReport {
	byShard := l.registry.CountByShard()
	shards := make([]ShardCount, 0, len(byShard))
	for shard, n := range byShard {
		shards = append(shards, ShardCount{Shard: shard, Sessions: n})
	}
	sort.Slice(shards, func(i, j int) bool {
		if shards[i].Count != shards[j].Count {
			return shards[i].Count < shards[j].Count
		}
		return shards[i].ID < shards[j].ID
	})

	sessions := l.registry.Snapshot()
	return SessionsReport{
		Count:    len(sessions),
		Shards:   shards,
		Sessions: sessions,
	}
}

// ServeSessions writes the session report as JSON.
func (l *Listener) ServeSessions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(l.Report()); err != nil {
		l.logger.Debug("Failed to write session report", zap.Error(err))
	}
}
