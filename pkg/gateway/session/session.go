// Package session tracks the live gateway connections.
package session

import (
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Shard is the shard a client says it belongs to.
type Shard struct {
	ID    uint16 `json:"id"`
	Count uint16 `json:"count"`
}

// ParseShard parses a "<id>,<count>" query value. Anything else, including a
// value with only one part or a number that does not fit in 16 bits, yields
// nil.
func ParseShard(value string) *Shard {
	idPart, countPart, ok := strings.Cut(value, ",")
	if !ok {
		return nil
	}

	id, err := strconv.ParseUint(strings.TrimSpace(idPart), 10, 16)
	if err != nil {
		return nil
	}
	count, err := strconv.ParseUint(strings.TrimSpace(countPart), 10, 16)
	if err != nil {
		return nil
	}

	return &Shard{ID: uint16(id), Count: uint16(count)}
}

func (s Shard) String() string {
	return strconv.FormatUint(uint64(s.ID), 10) + "," + strconv.FormatUint(uint64(s.Count), 10)
}

// Session describes one live connection. It is not modified after creation.
type Session struct {
	ID          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	Shard       *Shard    `json:"shard,omitempty"`
	ConnectedAt time.Time `json:"connected_at"`
}

// New creates a session with a fresh random id.
func New(remoteAddr string, shard *Shard) *Session {
	return &Session{
		ID:          uuid.NewString(),
		RemoteAddr:  remoteAddr,
		Shard:       shard,
		ConnectedAt: time.Now(),
	}
}
