package castprotocol

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/vishen/go-chromecast/cast"
)

const (
	defaultReceiverAppID = "CC1AD845"

	senderID          = "sender-0"
	receiverID        = "receiver-0"
	namespaceReceiver = "urn:x-cast:com.google.cast.receiver"
	namespaceMedia    = "urn:x-cast:com.google.cast.media"
)

// sender is the part of cast.Conn used for custom commands.
type sender interface {
	Send(requestID int, payload cast.Payload, sourceID, destinationID, namespace string) error
}

// Request ID counter for Chromecast messages
var requestIDCounter int32

func nextRequestID() int {
	return int(atomic.AddInt32(&requestIDCounter, 1))
}

// LoadPayload is a LOAD command carrying our own MediaItem.
type LoadPayload struct {
	Type        string    `json:"type"`
	RequestId   int       `json:"requestId"`
	Media       MediaItem `json:"media"`
	CurrentTime float64   `json:"currentTime"`
	Autoplay    bool      `json:"autoplay"`
}

// SetRequestId implements cast.Payload interface
func (p *LoadPayload) SetRequestId(id int) {
	p.RequestId = id
}

var _ cast.Payload = (*LoadPayload)(nil)

// launchDefaultReceiver asks the device to start the default media receiver
// without loading anything, so the following LOAD is the only one.
func launchDefaultReceiver(conn sender) error {
	payload := &cast.LaunchRequest{
		PayloadHeader: cast.LaunchHeader,
		AppId:         defaultReceiverAppID,
	}
	requestID := nextRequestID()
	payload.SetRequestId(requestID)

	if err := conn.Send(requestID, payload, senderID, receiverID, namespaceReceiver); err != nil {
		return fmt.Errorf("send launch: %w", err)
	}
	return nil
}

func sendLoad(conn sender, transportID string, r LoadRequest, autoplay bool) error {
	start := r.StartTime
	if start < 0 || math.IsNaN(start) {
		start = 0
	}
	payload := &LoadPayload{
		Type:        "LOAD",
		Media:       r.mediaItem(),
		CurrentTime: start,
		Autoplay:    autoplay,
	}
	requestID := nextRequestID()
	payload.SetRequestId(requestID)

	if err := conn.Send(requestID, payload, senderID, transportID, namespaceMedia); err != nil {
		return fmt.Errorf("send load: %w", err)
	}
	return nil
}
