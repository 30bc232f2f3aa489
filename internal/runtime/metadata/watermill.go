package metadata

import "github.com/ThreeDotsLabs/watermill/message"

// FromWatermill copies watermill metadata. The result is never nil.
func FromWatermill(md message.Metadata) Metadata {
	return Metadata(md).Clone()
}

// ToWatermill copies m into watermill metadata. The result is never nil.
func ToWatermill(m Metadata) message.Metadata {
	return message.Metadata(m.Clone())
}

// Apply sets every entry of m on msg, keeping headers already present on msg
// that m does not override.
func Apply(msg *message.Message, m Metadata) {
	if msg.Metadata == nil {
		msg.Metadata = make(message.Metadata, len(m))
	}
	for k, v := range m {
		msg.Metadata.Set(k, v)
	}
}
