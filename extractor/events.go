package extractor

// Event is a progress notification emitted during Extract. It is either a
// MessageFetchEvent or an AttachmentWriteEvent.
type Event interface {
	isEvent()
}

// MessageFetchEvent is emitted before each page fetch.
type MessageFetchEvent struct {
	// StartIndex is the 1-based index of the first message of the page.
	StartIndex int
	PageSize   int
}

// AttachmentWriteEvent is emitted right before an attachment is written.
type AttachmentWriteEvent struct {
	SourceName string
	StoredName string
	MessageID  string
}

func (MessageFetchEvent) isEvent()    {}
func (AttachmentWriteEvent) isEvent() {}

// EventHandler receives events synchronously, in the order the announced
// operations happen.
type EventHandler interface {
	HandleEvent(Event)
}

// EventHandlerFunc adapts a plain function to EventHandler.
type EventHandlerFunc func(Event)

func (f EventHandlerFunc) HandleEvent(evt Event) {
	f(evt)
}
