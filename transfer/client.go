package transfer

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"

	"github.com/localsend/localsend-cli/discovery"
	"github.com/localsend/localsend-cli/identity"
	"github.com/localsend/localsend-cli/log"
	"github.com/localsend/localsend-cli/metrics"
	"github.com/localsend/localsend-cli/protocol"
)

// handshakeTimeout bounds the prepare-upload round trip. Downloads run
// without an overall timeout since large files take as long as they take.
const handshakeTimeout = 15 * time.Second

// ClientConfig carries the receiver-side settings.
type ClientConfig struct {
	// Phrase is the canonical code phrase shared with the sender.
	Phrase string

	// OutDir is the destination directory, "." when empty.
	OutDir string

	// AutoAccept skips the manifest confirmation prompt.
	AutoAccept bool

	Identity *identity.Identity

	// Prompter resolves name conflicts; defaults to an interactive
	// prompter over In/Out.
	Prompter Prompter

	// In and Out are the terminal streams, defaulting to stdin/stdout.
	In  io.Reader
	Out io.Writer

	// Progress enables per-file progress bars on stderr.
	Progress bool
}

// Client runs the receiving flow against one discovered sender: pinned
// TLS, authenticated handshake, manifest confirmation, then downloads in
// deterministic manifest order through the sink.
type Client struct {
	cfg  ClientConfig
	in   *bufio.Reader
	sink *Sink
	log  *log.Logger
}

// NewClient prepares the destination sink and the terminal streams.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.OutDir == "" {
		cfg.OutDir = "."
	}
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}

	// One buffered reader serves both the confirmation prompt and the
	// default conflict prompter, so no input is lost between them.
	in := bufio.NewReader(cfg.In)
	if cfg.Prompter == nil {
		cfg.Prompter = &ioPrompter{in: in, out: cfg.Out}
	}

	sink, err := NewSink(cfg.OutDir, cfg.Prompter)
	if err != nil {
		return nil, err
	}
	return &Client{
		cfg:  cfg,
		in:   in,
		sink: sink,
		log:  log.Default().Module("transfer"),
	}, nil
}

// Run executes the full receiving flow against peer.
func (c *Client) Run(peer discovery.Device) error {
	tr := &http.Transport{TLSClientConfig: identity.ClientTLSConfig(peer.Fingerprint)}
	defer tr.CloseIdleConnections()
	base := peer.Endpoint() + protocol.APIPrefix

	resp, err := c.prepareUpload(tr, base, peer.Fingerprint)
	if err != nil {
		return err
	}
	c.log.Info("handshake accepted", "peer", peer.Endpoint(), "session", resp.SessionID, "files", len(resp.Files))

	if len(resp.Files) == 0 {
		fmt.Fprintln(c.cfg.Out, "Nothing to receive")
		return nil
	}

	ids := sortedFileIDs(resp.Files)
	c.printManifest(peer, resp.Files, ids)

	if !c.cfg.AutoAccept {
		ok, err := c.confirm()
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(c.cfg.Out, "Transfer cancelled")
			return ErrDeclined
		}
	}

	httpc := &http.Client{Transport: tr}
	start := time.Now()
	filesBefore := metrics.FilesReceived.Value()
	bytesBefore := metrics.BytesReceived.Count()

	for _, id := range ids {
		fd := resp.Files[id]
		n, err := c.download(httpc, base, resp.SessionID, fd)
		if err != nil {
			if errors.Is(err, ErrFileTooLarge) {
				c.log.Warn("file skipped", "name", fd.Name, "err", err)
				fmt.Fprintf(c.cfg.Out, "Skipped %s: exceeds the per-file size limit\n", fd.Name)
				continue
			}
			return err
		}
		metrics.FilesReceived.Inc()
		metrics.BytesReceived.Mark(n)
	}

	received := metrics.FilesReceived.Value() - filesBefore
	total := metrics.BytesReceived.Count() - bytesBefore
	fmt.Fprintf(c.cfg.Out, "Received %d files (%s) in %s\n",
		received, humanize.Bytes(uint64(total)), time.Since(start).Round(10*time.Millisecond))
	return nil
}

// prepareUpload authenticates with the code phrase and fetches the
// manifest. The proof binds the current timestamp to the pinned server
// fingerprint, so a beacon replayed by a third party is useless to it.
func (c *Client) prepareUpload(tr *http.Transport, base, peerFingerprint string) (*protocol.PrepareUploadResponse, error) {
	ts := protocol.TimestampNow()
	reqBody := protocol.PrepareUploadRequest{
		Info: protocol.DeviceInfo{
			Alias:       protocol.Alias,
			Version:     protocol.Version,
			DeviceModel: protocol.DeviceModel,
			DeviceType:  protocol.DeviceTypeHeadless,
			Fingerprint: c.cfg.Identity.Fingerprint(),
		},
		Files: map[string]protocol.FileDescriptor{},
		CliAuth: &protocol.CliAuth{
			Timestamp: ts,
			Proof:     protocol.ComputeProof(c.cfg.Phrase, ts, peerFingerprint),
		},
	}
	raw, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("transfer: encode handshake: %w", err)
	}

	httpc := &http.Client{Transport: tr, Timeout: handshakeTimeout}
	resp, err := httpc.Post(base+protocol.PrepareUploadPath, "application/json", bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("transfer: handshake failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("transfer: read handshake response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("transfer: handshake rejected: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var out protocol.PrepareUploadResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("transfer: decode handshake response: %w", err)
	}
	if out.SessionID == "" {
		return nil, errors.New("transfer: handshake response missing session id")
	}
	return &out, nil
}

// download streams one file into the sink and verifies the byte count
// against the manifest.
func (c *Client) download(httpc *http.Client, base, sessionID string, fd protocol.FileDescriptor) (int64, error) {
	u := fmt.Sprintf("%s%s?sessionId=%s&fileId=%s",
		base, protocol.DownloadPath, url.QueryEscape(sessionID), url.QueryEscape(fd.ID))
	resp, err := httpc.Get(u)
	if err != nil {
		return 0, fmt.Errorf("transfer: download %s: %w", fd.Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("transfer: download %s: %s", fd.Name, resp.Status)
	}

	body := io.Reader(resp.Body)
	var bar *progressbar.ProgressBar
	if c.cfg.Progress {
		bar = newProgressBar(int64(fd.Size), fd.Name)
		body = io.TeeReader(resp.Body, bar)
	}

	path, n, err := c.sink.Store(fd.Name, fd.Size, body)
	if err != nil {
		return 0, err
	}
	if uint64(n) != fd.Size {
		os.Remove(path)
		return 0, fmt.Errorf("transfer: download %s: short body, got %d of %d bytes", fd.Name, n, fd.Size)
	}
	if bar != nil {
		bar.Finish()
	}
	return n, nil
}

func (c *Client) printManifest(peer discovery.Device, files map[string]protocol.FileDescriptor, ids []string) {
	var total uint64
	for _, fd := range files {
		total += fd.Size
	}
	fmt.Fprintf(c.cfg.Out, "%s offers %d files (%s):\n", peer.Alias, len(ids), humanize.Bytes(total))
	for _, id := range ids {
		fd := files[id]
		fmt.Fprintf(c.cfg.Out, "  %-48s %s\n", fd.Name, humanize.Bytes(fd.Size))
	}
}

// confirm reads the manifest prompt answer: empty, y and yes accept,
// anything else cancels.
func (c *Client) confirm() (bool, error) {
	fmt.Fprint(c.cfg.Out, "Accept and download? [Y/n] ")
	line, err := c.in.ReadString('\n')
	if err != nil && line == "" {
		return false, fmt.Errorf("transfer: read confirmation: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "", "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// sortedFileIDs fixes the download order: by offered name, with the id as
// a tie breaker.
func sortedFileIDs(files map[string]protocol.FileDescriptor) []string {
	ids := make([]string, 0, len(files))
	for id := range files {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := files[ids[i]], files[ids[j]]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return ids[i] < ids[j]
	})
	return ids
}

func newProgressBar(size int64, name string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(size,
		progressbar.OptionSetDescription(name),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(10),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() { fmt.Fprint(os.Stderr, "\n") }),
		progressbar.OptionFullWidth(),
	)
}
