package transfer

import (
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/localsend/localsend-cli/catalog"
	"github.com/localsend/localsend-cli/discovery"
	"github.com/localsend/localsend-cli/identity"
	"github.com/localsend/localsend-cli/log"
	"github.com/localsend/localsend-cli/metrics"
	"github.com/localsend/localsend-cli/phrase"
	"github.com/localsend/localsend-cli/protocol"
)

// SendConfig configures one sending run.
type SendConfig struct {
	// Paths are the files and directories to offer.
	Paths []string

	// Port for the HTTPS server; 0 probes the LocalSend range.
	Port int

	// Timeout bounds the wait for a receiver to connect.
	Timeout time.Duration

	// Phrase overrides the generated code phrase when non-empty.
	Phrase string

	// Out is the terminal stream, stdout when nil.
	Out io.Writer
}

// Send offers the given paths to one receiver: it scans the catalog,
// generates the session identity and code phrase, starts the HTTPS server
// and the beacon announcer, then waits for the receiver to connect and for
// every file to be delivered.
func Send(cfg SendConfig) error {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}
	logger := log.Default().Module("transfer")

	cat, err := catalog.Scan(cfg.Paths)
	if err != nil {
		return fmt.Errorf("transfer: scan files: %w", err)
	}

	code := cfg.Phrase
	if code == "" {
		code, err = phrase.Generate()
		if err != nil {
			return fmt.Errorf("transfer: generate phrase: %w", err)
		}
	} else {
		code = phrase.Normalize(code)
		if !phrase.Validate(code) {
			return fmt.Errorf("%w: %q", phrase.ErrInvalidPhrase, code)
		}
	}

	id, err := identity.New()
	if err != nil {
		return fmt.Errorf("transfer: build identity: %w", err)
	}

	port := cfg.Port
	if port == 0 {
		port, err = probePort()
		if err != nil {
			return err
		}
	}

	srv := NewServer(ServerConfig{
		Identity: id,
		Catalog:  cat,
		Phrase:   code,
		Port:     port,
		OnDelivered: func(fd protocol.FileDescriptor) {
			fmt.Fprintf(out, "  delivered %s (%s)\n", fd.Name, humanize.Bytes(fd.Size))
		},
	})
	if err := srv.Start(); err != nil {
		return err
	}
	defer srv.Stop()

	ann := discovery.NewAnnouncer(discovery.Config{}, code, protocol.Announce{
		Alias:        protocol.Alias,
		Version:      protocol.Version,
		DeviceModel:  protocol.DeviceModel,
		DeviceType:   protocol.DeviceTypeHeadless,
		Fingerprint:  id.Fingerprint(),
		Port:         srv.Port(),
		Protocol:     protocol.SchemeHTTPS,
		Download:     true,
		Announcement: true,
		Announce:     true,
		CodeHash:     phrase.Hash(code),
		CliSessionID: uuid.NewString(),
		CliMode:      true,
	})
	if err := ann.Start(); err != nil {
		return err
	}
	defer ann.Stop()

	fmt.Fprintf(out, "Sending %d files (%s)\n", cat.Count(), humanize.Bytes(cat.TotalSize()))
	fmt.Fprintf(out, "\n    %s\n\n", code)
	fmt.Fprintf(out, "On the receiving machine, run: localsend %s\n", code)
	logger.Info("waiting for receiver", "port", srv.Port(), "files", cat.Count(), "timeout", cfg.Timeout)

	select {
	case <-srv.Connected():
		fmt.Fprintln(out, "Receiver connected")
	case <-time.After(cfg.Timeout):
		return fmt.Errorf("%w: no receiver connected after %s", ErrTimeout, cfg.Timeout)
	}

	// The receiver holds the beacon payload it needs; stop broadcasting.
	ann.Stop()

	<-srv.Done()
	fmt.Fprintf(out, "Transfer complete, %d files delivered\n", srv.DeliveredCount())
	logger.Debug("run finished", "metrics", metrics.DefaultRegistry.Snapshot())
	return nil
}

// probePort finds a free TCP port in the LocalSend range by binding and
// closing.
func probePort() (int, error) {
	for p := protocol.DefaultPort; p < protocol.PortRangeEnd; p++ {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", p))
		if err != nil {
			continue
		}
		ln.Close()
		return p, nil
	}
	return 0, ErrNoFreePort
}
