// Command horstbeacon runs either side of a broadcast-authenticated UDP
// stream: a sender that signs and broadcasts whatever arrives on stdin, or
// a receiver that verifies incoming broadcasts and writes each delivered
// payload, tagged with its verification state, to stdout.
package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/urfave/cli"

	"github.com/mvarga/horstbeacon/bcerr"
	"github.com/mvarga/horstbeacon/blocksign"
	"github.com/mvarga/horstbeacon/config"
	"github.com/mvarga/horstbeacon/datagram"
	"github.com/mvarga/horstbeacon/diag"
	"github.com/mvarga/horstbeacon/pipeline"
	"github.com/mvarga/horstbeacon/transport"
)

func profileFromContext(c *cli.Context) config.Profile {
	if c.Bool("debug") {
		return config.Debug()
	}
	return config.Production()
}

func cmdSender(c *cli.Context) error {
	bcerr.EnableLogging("[horstbeacon-sender]")
	profile := profileFromContext(c)

	signer, err := blocksign.OpenSigner(
		c.String("identity"),
		profile.Horst,
		profile.NumLayers,
		profile.KeyCharges,
		runtime.NumCPU(),
		profile.MaxPerLayer,
		c.Uint64("seed"),
	)
	if err != nil {
		return fmt.Errorf("opening sender identity: %w", err)
	}
	defer signer.Close()

	var running atomic.Bool
	running.Store(true)

	sender, err := transport.NewSender(c.String("listen"), config.DatagramSize, config.SubscriberLifetime, config.DatagramPacingDelay, &running)
	if err != nil {
		return fmt.Errorf("starting sender transport: %w", err)
	}
	defer sender.Close()

	pipe := pipeline.NewSenderPipeline(signer, sender, diag.NoopSink{}, 16, &running)
	go pipe.Run()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		running.Store(false)
	}()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for running.Load() && scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		if !pipe.Submit(line) {
			bcerr.Logf("sender: queue full, dropping a frame")
		}
	}

	running.Store(false)
	pipe.Stop()
	if err := pipe.Err(); err != nil {
		return fmt.Errorf("sender pipeline aborted: %w", err)
	}
	return nil
}

func cmdReceiver(c *cli.Context) error {
	bcerr.EnableLogging("[horstbeacon-receiver]")
	profile := profileFromContext(c)

	verifier, err := blocksign.OpenVerifier(c.String("identity"), profile.Horst, profile.MaxPerLayer)
	if err != nil {
		return fmt.Errorf("opening receiver identity: %w", err)
	}
	defer verifier.Close()

	var running atomic.Bool
	running.Store(true)

	receiver, err := transport.NewReceiver(
		c.String("listen"),
		c.String("sender"),
		config.DatagramSize,
		config.HeartbeatPeriod,
		&running,
	)
	if err != nil {
		return fmt.Errorf("starting receiver transport: %w", err)
	}
	defer receiver.Close()

	asm := datagram.NewAssembler(config.DatagramSize, config.ReassemblyTTL)
	pipe := pipeline.NewReceiverPipeline(receiver, asm, verifier, diag.NoopSink{}, 16, &running)
	pipe.StrictMode = c.Bool("strict")
	go pipe.Run()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		running.Store(false)
	}()

	for running.Load() {
		select {
		case delivered, ok := <-pipe.Out():
			if !ok {
				return nil
			}
			fmt.Printf("[%s] %s\n", delivered.State, delivered.Payload)
		case <-time.After(time.Second):
		}
	}
	return nil
}

func main() {
	app := cli.NewApp()
	app.Name = "horstbeacon"
	app.Usage = "broadcast-authenticate a data stream over UDP with HORST signatures"

	app.Commands = []cli.Command{
		{
			Name:  "sender",
			Usage: "sign and broadcast lines read from stdin",
			Flags: []cli.Flag{
				cli.BoolFlag{Name: "debug", Usage: "use the cheaper debug HORST profile instead of production"},
				cli.StringFlag{Name: "identity", Value: filepath.Join(config.IdentityDir, config.SenderIdentityFile), Usage: "path to this process's persisted identity file"},
				cli.StringFlag{Name: "listen", Value: "0.0.0.0:9900", Usage: "address to listen for subscriber heartbeats on"},
				cli.Uint64Flag{Name: "seed", Usage: "CSPRNG seed for a fresh identity (ignored if one already exists)"},
			},
			Action: cmdSender,
		},
		{
			Name:  "receiver",
			Usage: "verify broadcasts and print delivered payloads to stdout",
			Flags: []cli.Flag{
				cli.BoolFlag{Name: "debug", Usage: "use the cheaper debug HORST profile instead of production"},
				cli.StringFlag{Name: "identity", Value: filepath.Join(config.IdentityDir, config.ReceiverIdentityFile), Usage: "path to this process's persisted identity file"},
				cli.StringFlag{Name: "listen", Value: "0.0.0.0:0", Usage: "address to listen for fragments on"},
				cli.StringFlag{Name: "sender", Usage: "sender's heartbeat address (host:port)"},
				cli.BoolFlag{Name: "strict", Usage: "suppress unverified payloads instead of delivering them annotated"},
			},
			Action: cmdReceiver,
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
