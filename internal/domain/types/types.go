package types

// Enum для состояния транспортного соединения
type ConnState string

const (
	Disconnected ConnState = "DISCONNECTED"
	Connecting   ConnState = "CONNECTING"
	Connected    ConnState = "CONNECTED"
)

// Enum для фазы оффера
type OfferPhase string

const (
	OfferPending   OfferPhase = "PENDING"
	OfferAccepting OfferPhase = "ACCEPTING"
	OfferRemoved   OfferPhase = "REMOVED"
)

// Enum для статуса водителя (authoritative record on the backend)
type DriverStatus string

func (s DriverStatus) String() string {
	return string(s)
}

const (
	StatusActive   DriverStatus = "ACTIVE"
	StatusInactive DriverStatus = "INACTIVE"
	StatusBlocked  DriverStatus = "BLOCKED"
)

// Wire envelope discriminators. Outbound envelopes additionally
// carry role:"driver" and the driver id.
type MessageType string

const (
	MsgPing             MessageType = "ping"
	MsgLocationUpdate   MessageType = "locationUpdate"
	MsgRideRequest      MessageType = "rideRequest"
	MsgRideRejected     MessageType = "rideRejected"
	MsgRideAccepted     MessageType = "rideAccepted"
	MsgRideStatusUpdate MessageType = "rideStatusUpdate"
)

// RejectReason identifies which path removed an offer.
type RejectReason string

const (
	RejectByDriver RejectReason = "driver_declined"
	RejectExpired  RejectReason = "auto-expired"
)
