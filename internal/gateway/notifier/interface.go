package notifier

// TextNotifier delivers rendered text to one channel (Telegram, a log, a test
// recorder).
type TextNotifier interface {
	SendText(text string) error
}

// Sink accepts typed events. Implementations must not block the caller.
type Sink interface {
	Notify(e Event)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Notify(Event) {}
