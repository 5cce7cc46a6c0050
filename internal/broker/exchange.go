package broker

import (
	"slices"
	"sync"
)

// Exchange maps channels to subscribers and subscribers to channels. Both
// directions change under one lock, so a subscriber is in a channel's set
// exactly when the channel is in the subscriber's set.
//
// Only the broker mutates an Exchange; everything else reads it.
type Exchange struct {
	mu            sync.RWMutex
	channels      map[string]map[string]Subscriber // channel -> id -> subscriber
	subscriptions map[string]map[string]struct{}   // id -> channels
}

// NewExchange returns an empty Exchange.
func NewExchange() *Exchange {
	return &Exchange{
		channels:      make(map[string]map[string]Subscriber),
		subscriptions: make(map[string]map[string]struct{}),
	}
}

func (x *Exchange) add(sub Subscriber, channel string) (already bool) {
	x.mu.Lock()
	defer x.mu.Unlock()

	id := sub.ID()
	subs, ok := x.channels[channel]
	if !ok {
		subs = make(map[string]Subscriber)
		x.channels[channel] = subs
	}
	if _, ok := subs[id]; ok {
		return true
	}
	subs[id] = sub

	chans, ok := x.subscriptions[id]
	if !ok {
		chans = make(map[string]struct{})
		x.subscriptions[id] = chans
	}
	chans[channel] = struct{}{}
	return false
}

func (x *Exchange) remove(id, channel string) (was bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.removeLocked(id, channel)
}

func (x *Exchange) removeLocked(id, channel string) bool {
	subs, ok := x.channels[channel]
	if !ok {
		return false
	}
	if _, ok := subs[id]; !ok {
		return false
	}
	delete(subs, id)
	if len(subs) == 0 {
		delete(x.channels, channel)
	}

	chans := x.subscriptions[id]
	delete(chans, channel)
	if len(chans) == 0 {
		delete(x.subscriptions, id)
	}
	return true
}

func (x *Exchange) removeAll(id string) []string {
	x.mu.Lock()
	defer x.mu.Unlock()

	removed := make([]string, 0, len(x.subscriptions[id]))
	for channel := range x.subscriptions[id] {
		removed = append(removed, channel)
	}
	for _, channel := range removed {
		x.removeLocked(id, channel)
	}
	slices.Sort(removed)
	return removed
}

// Subscribers returns a snapshot of channel's subscribers.
func (x *Exchange) Subscribers(channel string) []Subscriber {
	x.mu.RLock()
	defer x.mu.RUnlock()

	subs := make([]Subscriber, 0, len(x.channels[channel]))
	for _, sub := range x.channels[channel] {
		subs = append(subs, sub)
	}
	return subs
}

// SubscriberCount returns the number of subscribers of channel.
func (x *Exchange) SubscriberCount(channel string) int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.channels[channel])
}

// Channels returns the sorted channels subscriber id is subscribed to.
func (x *Exchange) Channels(id string) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()

	out := make([]string, 0, len(x.subscriptions[id]))
	for channel := range x.subscriptions[id] {
		out = append(out, channel)
	}
	slices.Sort(out)
	return out
}

// ChannelCount returns the number of channels subscriber id is subscribed to.
func (x *Exchange) ChannelCount(id string) int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.subscriptions[id])
}

// IsSubscribed reports whether subscriber id is subscribed to channel.
func (x *Exchange) IsSubscribed(id, channel string) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, ok := x.subscriptions[id][channel]
	return ok
}

// ChannelNames returns the sorted names of channels with subscribers.
func (x *Exchange) ChannelNames() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()

	out := make([]string, 0, len(x.channels))
	for channel := range x.channels {
		out = append(out, channel)
	}
	slices.Sort(out)
	return out
}
