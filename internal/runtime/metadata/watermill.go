package metadata

import (
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
)

const keyPrefix = "sockflow_"

// FromWatermill keeps the sockflow headers of a Watermill message. Headers
// set by the backend or by other middleware are dropped.
func FromWatermill(md message.Metadata) Metadata {
	result := make(Metadata, len(md))
	for k, v := range md {
		if strings.HasPrefix(k, keyPrefix) {
			result[k] = v
		}
	}
	return result
}

// ToWatermill copies the envelope headers into a fresh Watermill map.
func ToWatermill(md Metadata) message.Metadata {
	wm := make(message.Metadata, len(md))
	for k, v := range md {
		wm[k] = v
	}
	return wm
}
