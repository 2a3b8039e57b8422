package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/pterm/pterm/putils"
	"github.com/urfave/cli/v2"

	"github.com/luca-patrignani/byzantine-generals/agreement"
	"github.com/luca-patrignani/byzantine-generals/config"
	"github.com/luca-patrignani/byzantine-generals/message"
	"github.com/luca-patrignani/byzantine-generals/metrics"
	"github.com/luca-patrignani/byzantine-generals/network"
)

var configFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "roster TOML file; the four generals scenario is used when omitted",
}

var transportFlag = &cli.StringFlag{
	Name:  "transport",
	Value: "local",
	Usage: "how simulated participants talk: local (in memory) or http",
}

var metricsFlag = &cli.StringFlag{
	Name:  "metrics",
	Usage: "local host:port to bind a metrics servlet (optional)",
}

var idFlag = &cli.StringFlag{
	Name:     "id",
	Usage:    "roster id of the participant to run",
	Required: true,
}

var certsDirFlag = &cli.StringFlag{
	Name:  "certs",
	Usage: "directory holding <id>.crt, <id>.key and roster.pem, required when the roster enables tls",
}

var outFlag = &cli.StringFlag{
	Name:  "out",
	Value: "certs",
	Usage: "directory to write certificates to",
}

var verboseFlag = &cli.BoolFlag{
	Name:  "verbose",
	Usage: "log protocol steps",
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "byzantine",
		Usage: "agree on a value among generals, one of which may lie",
		Flags: []cli.Flag{verboseFlag},
		Commands: []*cli.Command{
			{
				Name:   "simulate",
				Usage:  "run every participant of the roster in this process",
				Flags:  []cli.Flag{configFlag, transportFlag, metricsFlag},
				Action: simulateCmd,
			},
			{
				Name:   "node",
				Usage:  "run one participant of the roster over http",
				Flags:  []cli.Flag{configFlag, idFlag, certsDirFlag, metricsFlag},
				Action: nodeCmd,
			},
			{
				Name:   "roster",
				Usage:  "print the effective roster",
				Flags:  []cli.Flag{configFlag},
				Action: rosterCmd,
			},
			{
				Name:   "certs",
				Usage:  "generate a self-signed certificate for every participant",
				Flags:  []cli.Flag{configFlag, outFlag},
				Action: certsCmd,
			},
			{
				Name:   "discover",
				Usage:  "find the other participants on this host and print the roster",
				Flags:  []cli.Flag{idFlag, addressFlag, valueFlag, portsFlag, expectFlag, waitFlag},
				Action: discoverCmd,
			},
		},
	}
}

func newLogger(verbose bool) *slog.Logger {
	level := pterm.LogLevelWarn
	if verbose {
		level = pterm.LogLevelDebug
	}
	handler := pterm.NewSlogHandler(pterm.DefaultLogger.WithLevel(level))
	return slog.New(handler)
}

func loadRoster(c *cli.Context) (*config.Roster, error) {
	if !c.IsSet(configFlag.Name) {
		return config.Default(), nil
	}
	return config.Load(c.String(configFlag.Name))
}

func startMetrics(c *cli.Context, logger *slog.Logger) (func(), error) {
	if !c.IsSet(metricsFlag.Name) {
		return func() {}, nil
	}
	l, err := metrics.Start(logger, c.String(metricsFlag.Name))
	if err != nil {
		return nil, fmt.Errorf("starting metrics: %w", err)
	}
	pterm.Info.Printfln("Metrics served on http://%s/metrics", l.Addr())
	return func() { _ = l.Close() }, nil
}

func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
}

func printBanner() {
	_ = pterm.DefaultBigText.WithLetters(
		putils.LettersFromStringWithStyle("B", pterm.FgRed.ToStyle()),
		putils.LettersFromStringWithStyle("yzantine ", pterm.FgDarkGray.ToStyle()),
		putils.LettersFromStringWithStyle("G", pterm.FgRed.ToStyle()),
		putils.LettersFromStringWithStyle("enerals", pterm.FgDarkGray.ToStyle()),
	).Render()
}

// report is what one participant produced.
type report struct {
	member  config.Member
	outcome agreement.Outcome
	err     error
}

func simulateCmd(c *cli.Context) error {
	logger := newLogger(c.Bool(verboseFlag.Name))
	r, err := loadRoster(c)
	if err != nil {
		return err
	}
	stopMetrics, err := startMetrics(c, logger)
	if err != nil {
		return err
	}
	defer stopMetrics()

	printBanner()
	ctx, cancel := signalContext(c)
	defer cancel()

	spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("Running %d generals over %s transport...", len(r.Participants), c.String(transportFlag.Name)))
	reports, err := simulate(ctx, r, c.String(transportFlag.Name), logger)
	if err != nil {
		spinner.Fail(err.Error())
		return err
	}
	spinner.Success("Run complete")
	printReports(reports)
	return failures(reports)
}

// simulate runs every participant of r concurrently and returns their
// reports in roster order.
func simulate(ctx context.Context, r *config.Roster, transport string, logger *slog.Logger) ([]report, error) {
	var (
		channelFor func(message.ParticipantID) (agreement.Channel, error)
		closeAll   = func() error { return nil }
	)
	switch transport {
	case "local":
		hub := network.NewHub(r.IDs(), 0)
		channelFor = func(id message.ParticipantID) (agreement.Channel, error) {
			return hub.Endpoint(id)
		}
	case "http":
		peers, err := startPeers(r, logger)
		if err != nil {
			return nil, err
		}
		channelFor = func(id message.ParticipantID) (agreement.Channel, error) {
			return peers[id], nil
		}
		closeAll = func() error {
			var errs []error
			for _, p := range peers {
				errs = append(errs, p.Close())
			}
			return errors.Join(errs...)
		}
	default:
		return nil, fmt.Errorf("unknown transport %q", transport)
	}

	ps, err := agreement.FromRoster(r, channelFor, agreement.WithLogger(logger))
	if err != nil {
		_ = closeAll()
		return nil, err
	}
	reports := make([]report, len(ps))
	var wg sync.WaitGroup
	for i, p := range ps {
		member, _ := r.Member(p.ID())
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, err := p.Run(ctx)
			reports[i] = report{member: member, outcome: o, err: err}
		}()
	}
	wg.Wait()
	if err := closeAll(); err != nil {
		logger.Warn("closing peers", "err", err)
	}
	return reports, nil
}

func nodeCmd(c *cli.Context) error {
	logger := newLogger(c.Bool(verboseFlag.Name))
	r, err := loadRoster(c)
	if err != nil {
		return err
	}
	id := message.ParticipantID(c.String(idFlag.Name))
	member, ok := r.Member(id)
	if !ok {
		return fmt.Errorf("participant %s is not in the roster", id)
	}
	stopMetrics, err := startMetrics(c, logger)
	if err != nil {
		return err
	}
	defer stopMetrics()

	var opts []network.PeerOption
	if r.TLS {
		if !c.IsSet(certsDirFlag.Name) {
			return fmt.Errorf("the roster enables tls: --%s is required", certsDirFlag.Name)
		}
		if opts, err = loadTLSOptions(c.String(certsDirFlag.Name), id); err != nil {
			return err
		}
	}
	peer, err := startPeer(r, id, logger, opts...)
	if err != nil {
		return err
	}
	defer peer.Close()
	pterm.Info.Printfln("%s listening on %s", id, member.Address)

	p, err := agreement.FromMember(r, id, peer, agreement.WithLogger(logger))
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(c)
	defer cancel()
	o, err := p.Run(ctx)
	rep := report{member: member, outcome: o, err: err}
	printReports([]report{rep})
	return failures([]report{rep})
}

func rosterCmd(c *cli.Context) error {
	r, err := loadRoster(c)
	if err != nil {
		return err
	}
	b, err := r.TOML()
	if err != nil {
		return err
	}
	_, err = c.App.Writer.Write(b)
	return err
}

func certsCmd(c *cli.Context) error {
	r, err := loadRoster(c)
	if err != nil {
		return err
	}
	dir := c.String(outFlag.Name)
	if err := writeCertificates(r, dir); err != nil {
		return err
	}
	pterm.Success.Printfln("Certificates for %d participants written to %s", len(r.Participants), dir)
	return nil
}

func failures(reports []report) error {
	var errs []error
	for _, rep := range reports {
		if rep.err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", rep.member.ID, rep.err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%d participant(s) failed: %w", len(errs), errors.Join(errs...))
}
