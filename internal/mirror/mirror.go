// Package mirror fans session changes out to independent observers and
// forwards their commands back to the session.
package mirror

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/glebovdev/somafm-tui/internal/metadata"
	"github.com/glebovdev/somafm-tui/internal/session"
	"github.com/glebovdev/somafm-tui/internal/station"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrUnbound is returned by commands issued before Bind.
var ErrUnbound = errors.New("mirror is not bound to a session")

// Observer is a control surface: it renders or re-advertises session
// snapshots. Returned errors are logged and never reach other observers.
type Observer interface {
	Name() string
	OnStateChanged(session.Snapshot) error
	OnMetadataChanged(session.Snapshot) error
}

// Controller is the command side of the session.
type Controller interface {
	PlayChannel(ch station.Station) error
	Pause()
	Resume()
	TogglePause() error
	Play() error
	Stop()
	Next() error
	Previous() error
	SetVolume(percent int)
	Snapshot() session.Snapshot
}

// DeliveryError describes a failed delivery to one observer.
type DeliveryError struct {
	Observer string
	Event    string
	Err      error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivering %s to %s: %v", e.Event, e.Observer, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

type subscriber struct {
	id       string
	observer Observer
	seq      uint64
}

// Mirror implements session.Publisher.
type Mirror struct {
	mu          sync.RWMutex
	subscribers map[string]subscriber
	seq         uint64
	controller  Controller

	// onError is called for every failed delivery. Tests hook it.
	onError func(*DeliveryError)
}

func New() *Mirror {
	return &Mirror{
		subscribers: make(map[string]subscriber),
		onError: func(err *DeliveryError) {
			log.Warn().Err(err.Err).Str("observer", err.Observer).Str("event", err.Event).Msg("Control surface delivery failed")
		},
	}
}

// Bind sets the controller commands are forwarded to.
func (m *Mirror) Bind(c Controller) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.controller = c
}

// Subscribe registers o and returns its subscriber id.
func (m *Mirror) Subscribe(o Observer) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	id := uuid.NewString()
	m.subscribers[id] = subscriber{id: id, observer: o, seq: m.seq}

	log.Debug().Str("observer", o.Name()).Str("id", id).Msg("Observer subscribed")
	return id
}

// Unsubscribe removes the observer registered under id. It reports whether one was removed.
func (m *Mirror) Unsubscribe(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	sub, ok := m.subscribers[id]
	if !ok {
		return false
	}
	delete(m.subscribers, id)

	log.Debug().Str("observer", sub.observer.Name()).Str("id", id).Msg("Observer unsubscribed")
	return true
}

func (m *Mirror) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscribers)
}

// observers returns subscribers in registration order.
func (m *Mirror) observers() []subscriber {
	m.mu.RLock()
	subs := make([]subscriber, 0, len(m.subscribers))
	for _, sub := range m.subscribers {
		subs = append(subs, sub)
	}
	m.mu.RUnlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].seq < subs[j].seq })
	return subs
}

func (m *Mirror) PublishState(snap session.Snapshot) {
	for _, sub := range m.observers() {
		m.deliver(sub, "state", func() error { return sub.observer.OnStateChanged(snap) })
	}
}

func (m *Mirror) PublishMetadata(snap session.Snapshot) {
	for _, sub := range m.observers() {
		m.deliver(sub, "metadata", func() error { return sub.observer.OnMetadataChanged(snap) })
	}
}

// deliver runs one observer callback, turning errors and panics into a
// logged DeliveryError.
func (m *Mirror) deliver(sub subscriber, event string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			m.onError(&DeliveryError{
				Observer: sub.observer.Name(),
				Event:    event,
				Err:      fmt.Errorf("panic: %v", r),
			})
		}
	}()

	if err := fn(); err != nil {
		m.onError(&DeliveryError{Observer: sub.observer.Name(), Event: event, Err: err})
	}
}

func (m *Mirror) bound() (Controller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.controller == nil {
		return nil, ErrUnbound
	}
	return m.controller, nil
}

func (m *Mirror) PlayChannel(ch station.Station) error {
	c, err := m.bound()
	if err != nil {
		return err
	}
	return c.PlayChannel(ch)
}

func (m *Mirror) Pause() {
	if c, err := m.bound(); err == nil {
		c.Pause()
	}
}

func (m *Mirror) Resume() {
	if c, err := m.bound(); err == nil {
		c.Resume()
	}
}

func (m *Mirror) TogglePause() error {
	c, err := m.bound()
	if err != nil {
		return err
	}
	return c.TogglePause()
}

func (m *Mirror) Play() error {
	c, err := m.bound()
	if err != nil {
		return err
	}
	return c.Play()
}

func (m *Mirror) Stop() {
	if c, err := m.bound(); err == nil {
		c.Stop()
	}
}

func (m *Mirror) Next() error {
	c, err := m.bound()
	if err != nil {
		return err
	}
	return c.Next()
}

func (m *Mirror) Previous() error {
	c, err := m.bound()
	if err != nil {
		return err
	}
	return c.Previous()
}

func (m *Mirror) SetVolume(percent int) {
	if c, err := m.bound(); err == nil {
		c.SetVolume(percent)
	}
}

// Snapshot returns the bound session's snapshot, or a stopped one before Bind.
func (m *Mirror) Snapshot() session.Snapshot {
	c, err := m.bound()
	if err != nil {
		return session.Snapshot{State: session.Stopped, Track: metadata.Sentinel()}
	}
	return c.Snapshot()
}
