// Package bridge republishes bus events onto NATS subjects so external
// collaborators can observe a cube without linking against it. The
// bridge is one-way: inbound control is out of scope.
package bridge

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/nenadatanasovski/memory-cube/internal/events"
	"github.com/nenadatanasovski/memory-cube/internal/types"
)

// SubjectPrefix roots every published subject
const SubjectPrefix = "cube.events."

// Bridge forwards every bus event to NATS
type Bridge struct {
	bus    *events.Bus
	logger *zap.Logger

	nc    *nats.Conn
	subID string
}

// New connects to a NATS server and prepares the bridge
func New(url string, bus *events.Bus, logger *zap.Logger) (*Bridge, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	nc, err := nats.Connect(url,
		nats.Name("memory-cube-bridge"),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, types.Wrap(types.KindIO, "bridge.connect", err)
	}
	return &Bridge{bus: bus, logger: logger.Named("bridge"), nc: nc}, nil
}

// Start subscribes to every bus event and begins forwarding
func (b *Bridge) Start() {
	b.subID = b.bus.Subscribe(events.Wildcard, func(e events.Event) error {
		return b.forward(e)
	})
	b.logger.Info("event bridge started", zap.String("server", b.nc.ConnectedUrl()))
}

// Close detaches from the bus and drains the connection
func (b *Bridge) Close() {
	if b.subID != "" {
		b.bus.Unsubscribe(b.subID)
		b.subID = ""
	}
	if b.nc != nil {
		b.nc.Drain()
		b.nc = nil
	}
}

func (b *Bridge) forward(e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return types.Wrap(types.KindIO, "bridge.forward", err)
	}
	if err := b.nc.Publish(SubjectFor(e.Type), data); err != nil {
		return types.Wrap(types.KindIO, "bridge.forward", err)
	}
	return nil
}

// SubjectFor maps an event type onto its NATS subject, e.g.
// node.created -> cube.events.node.created
func SubjectFor(t events.EventType) string {
	return SubjectPrefix + string(t)
}
