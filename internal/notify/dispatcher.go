package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pam-platform/reliability/internal/incident"
	"github.com/pam-platform/reliability/pkg/logger"
)

// sendTimeout bounds one channel delivery. A slow channel must not hold up
// the others past this.
const sendTimeout = 10 * time.Second

// Delivery records the outcome of one channel send.
type Delivery struct {
	Channel string `json:"channel"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Dispatcher routes incident notifications to the channels configured for
// the incident's escalation level. Channels are invoked concurrently and
// failures are isolated per channel.
type Dispatcher struct {
	routing Routing
	log     *logger.Logger

	mu       sync.RWMutex
	channels map[string]Channel
}

// NewDispatcher creates a dispatcher. Nil routing uses the defaults.
func NewDispatcher(routing Routing, log *logger.Logger) *Dispatcher {
	if routing == nil {
		routing = DefaultRouting()
	}
	return &Dispatcher{
		routing:  routing,
		log:      log.Component("notify"),
		channels: make(map[string]Channel),
	}
}

// Register installs a channel under its name.
func (d *Dispatcher) Register(ch Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels[ch.Name()] = ch
}

// ChannelsFor returns the channel names routed for an escalation level.
func (d *Dispatcher) ChannelsFor(level incident.EscalationLevel) []string {
	return d.routing[level.Clamp()]
}

// Notify fans the incident out to every channel for its escalation level
// and returns one delivery record per routed channel. One channel failing
// never prevents the others from being attempted.
func (d *Dispatcher) Notify(ctx context.Context, inc *incident.Incident, notificationType string) []Delivery {
	names := d.ChannelsFor(inc.EscalationLevel)
	if len(names) == 0 {
		d.log.Debug("no notification channels for level",
			"incident_id", inc.IncidentID,
			"escalation_level", inc.EscalationLevel.String(),
		)
		return nil
	}

	payload := NewPayload(inc, notificationType)
	deliveries := make([]Delivery, len(names))

	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			deliveries[i] = d.send(ctx, name, payload)
		}(i, name)
	}
	wg.Wait()

	for _, del := range deliveries {
		if !del.Success {
			d.log.Error("notification delivery failed",
				"incident_id", inc.IncidentID,
				"channel", del.Channel,
				"error", del.Error,
			)
		}
	}
	return deliveries
}

func (d *Dispatcher) send(ctx context.Context, name string, payload Payload) (del Delivery) {
	del = Delivery{Channel: name}

	defer func() {
		if r := recover(); r != nil {
			del.Success = false
			del.Error = fmt.Sprintf("channel panicked: %v", r)
		}
	}()

	d.mu.RLock()
	ch, ok := d.channels[name]
	d.mu.RUnlock()
	if !ok {
		del.Error = "channel not registered"
		return del
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	if err := ch.Send(sendCtx, payload); err != nil {
		del.Error = err.Error()
		return del
	}
	del.Success = true
	return del
}
