package events

// Channel is a bit set of delivery channels.
type Channel uint8

const (
	// ChannelWebSocket publishes to the broker topic user:{id}:{stream}.
	ChannelWebSocket Channel = 1 << iota

	// ChannelPush additionally enqueues a Web Push delivery for the user.
	ChannelPush
)

// Route says where an event kind goes.
type Route struct {
	Stream   Stream
	WireType EventType
	Channels Channel
}

// Has reports whether the route includes c.
func (r Route) Has(c Channel) bool {
	return r.Channels&c != 0
}

// routes is the single routing table for every kind. Adding a Kind without a
// row here fails TestRoutes_CoverAllKinds.
var routes = map[Kind]Route{
	KindTaskCreated:         {Stream: StreamTasks, WireType: EventTypeTaskCreated, Channels: ChannelWebSocket},
	KindTaskUpdated:         {Stream: StreamTasks, WireType: EventTypeTaskUpdate, Channels: ChannelWebSocket},
	KindTaskCompleted:       {Stream: StreamTasks, WireType: EventTypeTaskUpdate, Channels: ChannelWebSocket | ChannelPush},
	KindTaskDeleted:         {Stream: StreamTasks, WireType: EventTypeTaskDeleted, Channels: ChannelWebSocket},
	KindGenericNotification: {Stream: StreamNotifications, WireType: EventTypeNotification, Channels: ChannelWebSocket | ChannelPush},
}

// RouteFor returns the route for a kind.
func RouteFor(k Kind) (Route, bool) {
	r, ok := routes[k]
	return r, ok
}

// Route returns the route for the event's kind.
func (e DomainEvent) Route() (Route, bool) {
	return RouteFor(e.kind)
}

// Topic returns the broker topic the event is published to.
func (e DomainEvent) Topic() (string, bool) {
	r, ok := RouteFor(e.kind)
	if !ok {
		return "", false
	}
	return Topic(e.userID, r.Stream), true
}
