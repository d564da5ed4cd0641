package notify

import (
	"net/url"
	"path"
	"time"

	"github.com/yndnr/tokvault-go/internal/core/domain"
	"github.com/yndnr/tokvault-go/internal/core/service"
)

// EventDownloadReady is the event type of a delivery notification.
const EventDownloadReady = "download.ready"

// Event is the wire form of a notification.
type Event struct {
	Type        string    `json:"type"`
	Recipient   string    `json:"recipient"`
	OrderID     string    `json:"order_id"`
	ProductID   string    `json:"product_id"`
	ProductName string    `json:"product_name,omitempty"`
	URL         string    `json:"download_url"`
	ExpiresAt   time.Time `json:"expires_at"`
	MaxUses     int       `json:"max_downloads"`
	SentAt      time.Time `json:"sent_at"`
}

// NewEvent converts a service notification into an event.
func NewEvent(n service.Notification, now time.Time) Event {
	return Event{
		Type:        EventDownloadReady,
		Recipient:   n.Recipient,
		OrderID:     n.OrderID,
		ProductID:   n.ProductID,
		ProductName: n.ProductName,
		URL:         n.URL,
		ExpiresAt:   n.ExpiresAt.UTC(),
		MaxUses:     n.MaxUses,
		SentAt:      now.UTC(),
	}
}

// maskURL hides the token in a download link for logging.
func maskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***REDACTED***"
	}
	dir, last := path.Split(u.Path)
	u.Path = dir + domain.MaskToken(last)
	u.RawPath = ""
	return u.String()
}
