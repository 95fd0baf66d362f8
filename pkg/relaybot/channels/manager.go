package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Manager owns the relay's transports. It merges every channel's events into
// one stream for the single-consumer relay loop, routes replies back by
// channel name and keeps per-channel traffic counters for health reporting.
type Manager struct {
	logger *slog.Logger

	mu       sync.RWMutex
	channels map[string]*managed

	events   chan *IncomingMessage
	wg       sync.WaitGroup
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// managed is a registered channel plus its traffic counters.
type managed struct {
	Channel

	received   atomic.Int64
	sent       atomic.Int64
	sendErrors atomic.Int64
	lastEvent  atomic.Int64 // unix nanos
}

// NewManager creates a channel manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:   logger.With("component", "channels"),
		channels: make(map[string]*managed),
		events:   make(chan *IncomingMessage, 256),
	}
}

// Register adds a channel. Must be called before Start.
func (m *Manager) Register(ch Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := ch.Name()
	if _, exists := m.channels[name]; exists {
		return fmt.Errorf("channel %q already registered", name)
	}
	m.channels[name] = &managed{Channel: ch}
	m.logger.Info("channel registered", "channel", name)
	return nil
}

// Start connects every registered channel concurrently and starts forwarding
// their events. Channels that fail to connect are logged and left out. It
// fails only when channels were registered and none connected.
func (m *Manager) Start(ctx context.Context) error {
	ctx, m.cancel = context.WithCancel(ctx)

	m.mu.RLock()
	all := make([]*managed, 0, len(m.channels))
	for _, mc := range m.channels {
		all = append(all, mc)
	}
	m.mu.RUnlock()

	if len(all) == 0 {
		m.logger.Warn("no channels registered")
		return nil
	}

	errs := make([]error, len(all))
	var connecting sync.WaitGroup
	for i, mc := range all {
		i, mc := i, mc
		connecting.Add(1)
		go func() {
			defer connecting.Done()
			if err := mc.Connect(ctx); err != nil {
				errs[i] = fmt.Errorf("%s: %w", mc.Name(), err)
				m.logger.Error("failed to connect channel", "channel", mc.Name(), "error", err)
				return
			}
			m.logger.Info("channel connected", "channel", mc.Name())
			m.wg.Add(1)
			go m.forward(ctx, mc)
		}()
	}
	connecting.Wait()

	var failed int
	for _, err := range errs {
		if err != nil {
			failed++
		}
	}
	if failed == len(all) {
		return fmt.Errorf("no channel connected: %w", errors.Join(errs...))
	}

	m.logger.Info("channel manager started", "connected", len(all)-failed, "failed", failed)
	return nil
}

// forward copies one channel's events into the merged stream, filling in the
// source channel name when the transport left it empty.
func (m *Manager) forward(ctx context.Context, mc *managed) {
	defer m.wg.Done()

	in := mc.Receive()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			if msg == nil {
				continue
			}
			if msg.Channel == "" {
				msg.Channel = mc.Name()
			}
			mc.received.Add(1)
			mc.lastEvent.Store(time.Now().UnixNano())

			select {
			case m.events <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Stop disconnects every channel and closes the merged stream once all
// forwarders have returned. Safe to call more than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		if m.cancel != nil {
			m.cancel()
		}

		m.mu.RLock()
		for name, mc := range m.channels {
			if err := mc.Disconnect(); err != nil {
				m.logger.Error("failed to disconnect channel", "channel", name, "error", err)
			}
		}
		m.mu.RUnlock()

		m.wg.Wait()
		close(m.events)
		m.logger.Info("channel manager stopped")
	})
}

// Messages returns the merged event stream. It is closed by Stop.
func (m *Manager) Messages() <-chan *IncomingMessage {
	return m.events
}

// Send delivers msg to conversation `to` on the named channel.
func (m *Manager) Send(ctx context.Context, channelName, to string, msg *OutgoingMessage) error {
	m.mu.RLock()
	mc, ok := m.channels[channelName]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrChannelNotFound, channelName)
	}
	if !mc.IsConnected() {
		mc.sendErrors.Add(1)
		return fmt.Errorf("%q: %w", channelName, ErrChannelDisconnected)
	}

	if err := mc.Send(ctx, to, msg); err != nil {
		mc.sendErrors.Add(1)
		return fmt.Errorf("send via %s: %w", channelName, err)
	}
	mc.sent.Add(1)
	return nil
}

// Names returns the registered channel names in sorted order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HealthAll returns each channel's own health merged with the relay's
// traffic counters for it.
func (m *Manager) HealthAll() map[string]HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make(map[string]HealthStatus, len(m.channels))
	for name, mc := range m.channels {
		st := mc.Health()

		details := make(map[string]any, len(st.Details)+3)
		for k, v := range st.Details {
			details[k] = v
		}
		details["received"] = mc.received.Load()
		details["sent"] = mc.sent.Load()
		details["send_errors"] = mc.sendErrors.Load()
		st.Details = details

		st.ErrorCount += int(mc.sendErrors.Load())
		if last := mc.lastEvent.Load(); last != 0 {
			if t := time.Unix(0, last); t.After(st.LastMessageAt) {
				st.LastMessageAt = t
			}
		}
		statuses[name] = st
	}
	return statuses
}
