package domain

import (
	"github.com/google/uuid"
)

type RouterID uuid.UUID
type TransportID uuid.UUID
type ProducerID uuid.UUID
type ConsumerID uuid.UUID
type DataProducerID uuid.UUID
type DataConsumerID uuid.UUID

func NewRouterID() RouterID {
	return RouterID(uuid.New())
}

func NewTransportID() TransportID {
	return TransportID(uuid.New())
}

func NewProducerID() ProducerID {
	return ProducerID(uuid.New())
}

func NewConsumerID() ConsumerID {
	return ConsumerID(uuid.New())
}

func NewDataProducerID() DataProducerID {
	return DataProducerID(uuid.New())
}

func NewDataConsumerID() DataConsumerID {
	return DataConsumerID(uuid.New())
}

func ParseRouterID(s string) (RouterID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return RouterID{}, err
	}
	return RouterID(id), nil
}

func ParseProducerID(s string) (ProducerID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return ProducerID{}, err
	}
	return ProducerID(id), nil
}

func ParseDataProducerID(s string) (DataProducerID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return DataProducerID{}, err
	}
	return DataProducerID(id), nil
}

func (id RouterID) String() string {
	return uuid.UUID(id).String()
}

func (id TransportID) String() string {
	return uuid.UUID(id).String()
}

func (id ProducerID) String() string {
	return uuid.UUID(id).String()
}

func (id ConsumerID) String() string {
	return uuid.UUID(id).String()
}

func (id DataProducerID) String() string {
	return uuid.UUID(id).String()
}

func (id DataConsumerID) String() string {
	return uuid.UUID(id).String()
}

// The worker sees every id as its canonical string form.

func (id RouterID) MarshalText() ([]byte, error)       { return uuid.UUID(id).MarshalText() }
func (id TransportID) MarshalText() ([]byte, error)    { return uuid.UUID(id).MarshalText() }
func (id ProducerID) MarshalText() ([]byte, error)     { return uuid.UUID(id).MarshalText() }
func (id ConsumerID) MarshalText() ([]byte, error)     { return uuid.UUID(id).MarshalText() }
func (id DataProducerID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id DataConsumerID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }

func (id *RouterID) UnmarshalText(b []byte) error       { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *TransportID) UnmarshalText(b []byte) error    { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *ProducerID) UnmarshalText(b []byte) error     { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *ConsumerID) UnmarshalText(b []byte) error     { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *DataProducerID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *DataConsumerID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }
