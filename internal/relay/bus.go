package relay

import "sync"

// Message is one addressed payload on the relay. Payload carries an
// encrypted envelope; the relay never sees plaintext.
type Message struct {
	ID        string
	SenderID  string
	Recipient string
	Payload   []byte
}

// messageBus is the in-process transport behind the mock backend.
// Messages published before a recipient subscribes wait in a mailbox
// and are replayed on subscription. Delivery runs on the publisher's
// goroutine so one sender's messages arrive in publish order; handlers
// must not block.
type messageBus struct {
	mu          sync.Mutex
	subscribers map[string]func(Message)
	mailbox     map[string][]Message
}

var globalBus = &messageBus{
	subscribers: make(map[string]func(Message)),
	mailbox:     make(map[string][]Message),
}

func (b *messageBus) publish(msg Message) {
	b.mu.Lock()
	handler, ok := b.subscribers[msg.Recipient]
	if !ok {
		b.mailbox[msg.Recipient] = append(b.mailbox[msg.Recipient], msg)
	}
	b.mu.Unlock()
	if ok {
		handler(msg)
	}
}

func (b *messageBus) subscribe(recipient string, handler func(Message)) {
	b.mu.Lock()
	b.subscribers[recipient] = handler
	pending := append([]Message(nil), b.mailbox[recipient]...)
	delete(b.mailbox, recipient)
	b.mu.Unlock()

	for _, msg := range pending {
		handler(msg)
	}
}

func (b *messageBus) unsubscribe(recipient string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, recipient)
}
