package discovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/libp2p/go-reuseport"
	"golang.org/x/net/ipv4"

	"github.com/localsend/localsend-cli/log"
	"github.com/localsend/localsend-cli/metrics"
	"github.com/localsend/localsend-cli/phrase"
	"github.com/localsend/localsend-cli/protocol"
)

// readPollInterval bounds how long a blocked read can delay shutdown.
const readPollInterval = time.Second

// Listener receives beacons on the multicast group and delivers verified
// peers on Devices(). Datagrams that fail HMAC verification are counted
// and, for signature mismatches, logged once each as possible spoofing;
// malformed datagrams are dropped silently.
type Listener struct {
	cfg         Config
	phrase      string
	phraseHash  string
	selfSession string

	pc     net.PacketConn
	p4     *ipv4.PacketConn
	joined []*net.Interface
	devCh  chan Device

	mu      sync.Mutex
	closed  bool
	started bool
	closeCh chan struct{}
	wg      sync.WaitGroup

	log *log.Logger
}

// NewListener creates a listener for beacons signed with the canonical
// code phrase. Beacons carrying selfSession as their cliSessionId are
// ignored, so a process never discovers itself.
func NewListener(cfg Config, canonicalPhrase, selfSession string) *Listener {
	cfg.defaults()
	return &Listener{
		cfg:         cfg,
		phrase:      canonicalPhrase,
		phraseHash:  phrase.Hash(canonicalPhrase),
		selfSession: selfSession,
		devCh:       make(chan Device, cfg.ChanBuffer),
		closeCh:     make(chan struct{}),
		log:         log.Default().Module("discovery"),
	}
}

// Start binds the multicast port with address reuse, joins the group on
// every eligible interface, and begins reading datagrams.
func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return ErrClosed
	}
	if l.started {
		return nil
	}

	bindAddr := fmt.Sprintf("0.0.0.0:%d", l.cfg.Port)
	pc, err := reuseport.ListenPacket("udp4", bindAddr)
	if err != nil {
		// Reuse options can be unsupported; a plain bind still works when
		// no other process holds the port.
		pc, err = net.ListenPacket("udp4", bindAddr)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrPortInUse, err)
		}
	}

	p4 := ipv4.NewPacketConn(pc)
	group := &net.UDPAddr{IP: net.ParseIP(l.cfg.Group)}

	ifaces, _ := net.Interfaces()
	for i := range ifaces {
		ifi := &ifaces[i]
		if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagMulticast == 0 {
			continue
		}
		if err := p4.JoinGroup(ifi, group); err == nil {
			l.joined = append(l.joined, ifi)
		}
	}
	if len(l.joined) == 0 {
		// No per-interface join succeeded; let the stack pick one.
		if err := p4.JoinGroup(nil, group); err != nil {
			pc.Close()
			return fmt.Errorf("discovery: join group %s: %w", l.cfg.Group, err)
		}
		l.joined = append(l.joined, nil)
	}

	l.pc = pc
	l.p4 = p4
	l.started = true

	l.wg.Add(1)
	go l.readLoop()

	l.log.Debug("listener started", "group", l.cfg.Group, "port", l.cfg.Port, "interfaces", len(l.joined))
	return nil
}

// Devices returns the channel of verified peers. It is closed by Stop.
func (l *Listener) Devices() <-chan Device {
	return l.devCh
}

func (l *Listener) readLoop() {
	defer l.wg.Done()

	buf := make([]byte, 64<<10)
	for {
		select {
		case <-l.closeCh:
			return
		default:
		}

		l.pc.SetReadDeadline(time.Now().Add(readPollInterval))
		n, src, err := l.pc.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			select {
			case <-l.closeCh:
				return
			default:
			}
			l.log.Debug("read failed", "err", err)
			continue
		}
		l.handleDatagram(buf[:n], src)
	}
}

// handleDatagram verifies one beacon and, if it belongs to this session,
// delivers the peer. The device channel is never blocked on: when the
// consumer lags, later beacons repeat the same peer anyway.
func (l *Listener) handleDatagram(b []byte, src net.Addr) {
	var env protocol.BeaconEnvelope
	if err := json.Unmarshal(b, &env); err != nil {
		metrics.BeaconsRejected.Inc()
		return
	}

	ann, err := protocol.VerifyBeacon(l.phrase, env)
	if err != nil {
		metrics.BeaconsRejected.Inc()
		if errors.Is(err, protocol.ErrBeaconSignature) {
			l.log.Warn("beacon signature mismatch, possible spoofing attempt", "from", src.String())
		}
		return
	}

	if !ann.CliMode || ann.CodeHash != l.phraseHash {
		metrics.BeaconsRejected.Inc()
		return
	}
	if l.selfSession != "" && ann.CliSessionID == l.selfSession {
		return
	}

	udp, ok := src.(*net.UDPAddr)
	if !ok {
		return
	}

	metrics.BeaconsReceived.Inc()
	dev := Device{
		Alias:       ann.Alias,
		IP:          udp.IP,
		Port:        ann.Port,
		Scheme:      ann.Protocol,
		Fingerprint: ann.Fingerprint,
		SessionID:   ann.CliSessionID,
	}
	select {
	case l.devCh <- dev:
	default:
	}
}

// Stop halts the read loop, leaves the multicast group on every joined
// interface, closes the socket, and closes the device channel.
// Idempotent.
func (l *Listener) Stop() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	started := l.started
	close(l.closeCh)
	l.mu.Unlock()

	if started {
		l.wg.Wait()
		group := &net.UDPAddr{IP: net.ParseIP(l.cfg.Group)}
		for _, ifi := range l.joined {
			l.p4.LeaveGroup(ifi, group)
		}
		l.pc.Close()
	}
	close(l.devCh)
	l.log.Debug("listener stopped")
}
