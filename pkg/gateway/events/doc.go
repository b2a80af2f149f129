// Package events implements the gateway's topic-addressed publish/subscribe bus.
//
// A Bus is constructed once at startup and shared by reference. Initialize pins
// it to exactly one Backend for the life of the process: a RabbitMQ-backed
// BrokerBackend when a broker URL is configured and reachable, otherwise the
// in-process LocalBackend. Both backends route events by topic, where the
// topic is the event's guild, channel or user id (in that order of
// precedence), and both deliver to a subscription's Handler from a dedicated
// goroutine, one event at a time.
package events
