package model

// ConnectionState is the state of the live seat event subscription.
// The seat board uses it to decide how far live data can be trusted
// and to show a reconnecting indicator.
type ConnectionState string

const (
	ConnDisconnected ConnectionState = "disconnected"
	ConnConnecting   ConnectionState = "connecting"
	ConnConnected    ConnectionState = "connected"
)
