package discovery

import (
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/localsend/localsend-cli/log"
	"github.com/localsend/localsend-cli/metrics"
	"github.com/localsend/localsend-cli/protocol"
)

// multicastTTL keeps beacons on the local segment.
const multicastTTL = 1

// Announcer broadcasts the sender's signed beacon on a timer. The beacon
// payload is fixed for the lifetime of the announcer, so it is signed
// once at Start.
type Announcer struct {
	cfg     Config
	phrase  string
	payload protocol.Announce

	pkt []byte
	pc  net.PacketConn
	dst *net.UDPAddr

	mu      sync.Mutex
	closed  bool
	started bool
	closeCh chan struct{}
	wg      sync.WaitGroup

	log *log.Logger
}

// NewAnnouncer creates an announcer broadcasting payload signed with the
// canonical code phrase.
func NewAnnouncer(cfg Config, canonicalPhrase string, payload protocol.Announce) *Announcer {
	cfg.defaults()
	return &Announcer{
		cfg:     cfg,
		phrase:  canonicalPhrase,
		payload: payload,
		closeCh: make(chan struct{}),
		log:     log.Default().Module("discovery"),
	}
}

// Start signs the beacon, opens the multicast socket, and begins the
// broadcast loop. The first beacon goes out immediately.
func (a *Announcer) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	if a.started {
		return nil
	}

	env, err := protocol.SignBeacon(a.phrase, a.payload)
	if err != nil {
		return err
	}
	pkt, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("discovery: marshal beacon: %w", err)
	}

	pc, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return fmt.Errorf("discovery: open announce socket: %w", err)
	}
	p4 := ipv4.NewPacketConn(pc)
	p4.SetMulticastTTL(multicastTTL)
	// Loopback on: a receiver on the same host must see the beacons.
	p4.SetMulticastLoopback(true)

	a.pkt = pkt
	a.pc = pc
	a.dst = &net.UDPAddr{IP: net.ParseIP(a.cfg.Group), Port: a.cfg.Port}
	a.started = true

	a.wg.Add(1)
	go a.loop()

	a.log.Debug("announcer started", "group", a.cfg.Group, "port", a.cfg.Port, "interval", a.cfg.Interval)
	return nil
}

func (a *Announcer) loop() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	a.send()
	for {
		select {
		case <-a.closeCh:
			return
		case <-ticker.C:
			a.send()
		}
	}
}

func (a *Announcer) send() {
	if _, err := a.pc.WriteTo(a.pkt, a.dst); err != nil {
		a.log.Debug("beacon write failed", "err", err)
		return
	}
	metrics.BeaconsSent.Inc()
}

// Stop halts the broadcast loop and closes the socket. Idempotent.
func (a *Announcer) Stop() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	started := a.started
	close(a.closeCh)
	a.mu.Unlock()

	if started {
		a.wg.Wait()
		a.pc.Close()
	}
	a.log.Debug("announcer stopped")
}
