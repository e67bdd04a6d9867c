package transfer

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/localsend/localsend-cli/discovery"
	"github.com/localsend/localsend-cli/identity"
	"github.com/localsend/localsend-cli/log"
	"github.com/localsend/localsend-cli/metrics"
	"github.com/localsend/localsend-cli/phrase"
)

// ReceiveConfig configures one receiving run.
type ReceiveConfig struct {
	// Phrase is the code phrase announced by the sender.
	Phrase string

	// OutDir is the destination directory, "." when empty.
	OutDir string

	// AutoAccept skips the manifest confirmation prompt.
	AutoAccept bool

	// Timeout bounds the wait for a matching sender to appear.
	Timeout time.Duration

	// In and Out are the terminal streams, defaulting to stdin/stdout.
	In  io.Reader
	Out io.Writer

	// Prompter resolves name conflicts; nil uses In/Out interactively.
	Prompter Prompter

	// Progress enables per-file progress bars on stderr.
	Progress bool
}

// Receive waits for a sender announcing the given code phrase and runs
// the download flow against it.
func Receive(cfg ReceiveConfig) error {
	code := phrase.Normalize(cfg.Phrase)
	if !phrase.Validate(code) {
		return fmt.Errorf("%w: %q", phrase.ErrInvalidPhrase, code)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}
	logger := log.Default().Module("transfer")

	id, err := identity.New()
	if err != nil {
		return fmt.Errorf("transfer: build identity: %w", err)
	}

	lst := discovery.NewListener(discovery.Config{}, code, uuid.NewString())
	if err := lst.Start(); err != nil {
		return err
	}
	defer lst.Stop()

	fmt.Fprintf(out, "Waiting for a sender announcing %q...\n", code)
	logger.Info("listening for beacons", "timeout", cfg.Timeout)

	var peer discovery.Device
	select {
	case d, ok := <-lst.Devices():
		if !ok {
			return errors.New("transfer: discovery stopped unexpectedly")
		}
		peer = d
	case <-time.After(cfg.Timeout):
		return fmt.Errorf("%w: no sender found after %s", ErrTimeout, cfg.Timeout)
	}
	lst.Stop()

	fmt.Fprintf(out, "Found %s at %s\n", peer.Alias, peer.Endpoint())
	logger.Info("sender found", "endpoint", peer.Endpoint(), "fingerprint", peer.Fingerprint)

	client, err := NewClient(ClientConfig{
		Phrase:     code,
		OutDir:     cfg.OutDir,
		AutoAccept: cfg.AutoAccept,
		Identity:   id,
		Prompter:   cfg.Prompter,
		In:         cfg.In,
		Out:        cfg.Out,
		Progress:   cfg.Progress,
	})
	if err != nil {
		return err
	}
	err = client.Run(peer)
	logger.Debug("run finished", "metrics", metrics.DefaultRegistry.Snapshot())
	return err
}
