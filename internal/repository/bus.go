package repository

// MessageBus is the publish side of the event bus. The NATS transport
// implements it; the engine publishes ledger events through it.
type MessageBus interface {
	Publish(topic string, data []byte) error
}
