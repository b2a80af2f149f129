package events

import (
	"encoding/json"
	"fmt"
)

// Scope identifies which id of an Event its topic was derived from.
type Scope string

const (
	ScopeGuild   Scope = "guild"
	ScopeChannel Scope = "channel"
	ScopeUser    Scope = "user"
)

// Event is a domain event routed to every subscriber of its topic.
//
// Exactly one of GuildID, ChannelID and UserID is expected to be set. If more
// than one is set the guild id wins, then the channel id, then the user id.
// An empty string means "not set".
type Event struct {
	Name      string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	GuildID   string          `json:"guild_id,omitempty"`
	ChannelID string          `json:"channel_id,omitempty"`
	UserID    string          `json:"user_id,omitempty"`
}

// NewEvent creates an unscoped event with data encoded as JSON.
// Use WithScope to give it a routing key.
func NewEvent(name string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", name, err)
	}
	return Event{Name: name, Data: raw}, nil
}

// WithScope returns a copy of the event with the id for scope set to id.
func (e Event) WithScope(scope Scope, id string) Event {
	switch scope {
	case ScopeGuild:
		e.GuildID = id
	case ScopeChannel:
		e.ChannelID = id
	case ScopeUser:
		e.UserID = id
	}
	return e
}

// Route returns the scope and id the event is routed by.
func (e Event) Route() (Scope, string, error) {
	switch {
	case e.GuildID != "":
		return ScopeGuild, e.GuildID, nil
	case e.ChannelID != "":
		return ScopeChannel, e.ChannelID, nil
	case e.UserID != "":
		return ScopeUser, e.UserID, nil
	}
	return "", "", ErrMissingRoutingKey
}

// Topic returns the routing key of the event.
func (e Event) Topic() (string, error) {
	_, topic, err := e.Route()
	return topic, err
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	if len(e.Data) == 0 {
		return json.Unmarshal([]byte("null"), v)
	}
	return json.Unmarshal(e.Data, v)
}

// payload returns the bytes that travel over the wire for the event data.
func (e Event) payload() []byte {
	if len(e.Data) == 0 {
		return []byte("null")
	}
	return e.Data
}
