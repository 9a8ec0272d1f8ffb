package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Variant string

const (
	VariantDefault     Variant = "default"
	VariantDestructive Variant = "destructive"
)

// Notification is a user-facing message about the outcome of an operation.
type Notification struct {
	ID          string    `json:"id"`
	Variant     Variant   `json:"variant"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

func New(variant Variant, title, description string) Notification {
	return Notification{
		ID:          uuid.NewString(),
		Variant:     variant,
		Title:       title,
		Description: description,
		CreatedAt:   time.Now(),
	}
}

func Success(title, description string) Notification {
	return New(VariantDefault, title, description)
}

func Destructive(title, description string) Notification {
	return New(VariantDestructive, title, description)
}

type Notifier interface {
	Notify(Notification)
}

// Func adapts a plain function to Notifier.
type Func func(Notification)

func (f Func) Notify(n Notification) { f(n) }

type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log}
}

func (l *LogNotifier) Notify(n Notification) {
	level := slog.LevelInfo
	if n.Variant == VariantDestructive {
		level = slog.LevelWarn
	}
	l.log.Log(context.Background(), level, n.Title, "description", n.Description, "id", n.ID)
}

type multi []Notifier

func (m multi) Notify(n Notification) {
	for _, target := range m {
		target.Notify(n)
	}
}

// Multi delivers each notification to all non-nil targets in order.
func Multi(targets ...Notifier) Notifier {
	out := make(multi, 0, len(targets))
	for _, t := range targets {
		if t != nil {
			out = append(out, t)
		}
	}
	return out
}

// Feed keeps the most recent notifications for a screen to poll.
type Feed struct {
	mu    sync.Mutex
	items []Notification
	limit int
}

func NewFeed(limit int) *Feed {
	if limit <= 0 {
		limit = 50
	}
	return &Feed{limit: limit}
}

func (f *Feed) Notify(n Notification) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.items = append(f.items, n)
	if over := len(f.items) - f.limit; over > 0 {
		f.items = append(f.items[:0:0], f.items[over:]...)
	}
}

// List returns the retained notifications, oldest first.
func (f *Feed) List() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Notification, len(f.items))
	copy(out, f.items)
	return out
}

// Drain returns the retained notifications and forgets them.
func (f *Feed) Drain() []Notification {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := f.items
	f.items = nil
	if out == nil {
		out = []Notification{}
	}
	return out
}
