package websocket

// EventTypeNotification tags relay messages carrying a group notification
const EventTypeNotification = "notification"

// Envelope is the only frame the hub ever writes to a connection
type Envelope struct {
	Message string `json:"message"`
}

// GroupMessage is the relay payload: which group, and what to tell it
type GroupMessage struct {
	Group   string `json:"group"`
	Message string `json:"message"`
}
