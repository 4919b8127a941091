package domain

// Internal routes a request to its target inside the worker.
type Internal struct {
	RouterID       string `json:"routerId,omitempty"`
	TransportID    string `json:"transportId,omitempty"`
	ProducerID     string `json:"producerId,omitempty"`
	ConsumerID     string `json:"consumerId,omitempty"`
	DataProducerID string `json:"dataProducerId,omitempty"`
	DataConsumerID string `json:"dataConsumerId,omitempty"`
}
