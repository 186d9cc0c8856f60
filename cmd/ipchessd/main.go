package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	"github.com/urfave/cli/v2"

	"github.com/ipchess/ipchessd/challenge"
	"github.com/ipchess/ipchessd/node"
)

var log = logging.Logger("ipchessd")

func main() {
	app := &cli.App{
		Name:                 "ipchessd",
		Usage:                "run an ipchess peer-to-peer challenge daemon",
		EnableBashCompletion: true,
		Commands: []*cli.Command{
			genKeyCommand,
			runCommand,
		},
		Action: func(c *cli.Context) error {
			return cli.ShowAppHelp(c)
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

var genKeyCommand = &cli.Command{
	Name:  "genkey",
	Usage: "generate an identity key and print its peer id",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "out",
			Value: "./identity.key",
			Usage: "output path for the generated private key",
		},
	},
	Action: func(c *cli.Context) error {
		priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
		if err != nil {
			return err
		}
		bts, err := crypto.MarshalPrivateKey(priv)
		if err != nil {
			return err
		}
		if err := os.WriteFile(c.String("out"), bts, 0o600); err != nil {
			return err
		}
		id, err := peer.IDFromPrivateKey(priv)
		if err != nil {
			return err
		}
		log.Infow("generated identity", "peer", id, "file", c.String("out"))
		return nil
	},
}

var runCommand = &cli.Command{
	Name:  "run",
	Usage: "start the daemon and serve the ipchess protocol",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:  "identity",
			Value: "./identity.key",
			Usage: "path to a key file generated by genkey",
		},
		&cli.StringFlag{
			Name:  "listen",
			Value: "/ip4/0.0.0.0/tcp/4001",
			Usage: "multiaddr to listen on",
		},
		&cli.StringSliceFlag{
			Name:  "peer",
			Usage: "bootstrap peer multiaddr (repeatable), e.g. /ip4/1.2.3.4/tcp/4001/p2p/Qm...",
		},
		&cli.DurationFlag{
			Name:  "accept-timeout",
			Value: challenge.DefaultAcceptTimeout,
			Usage: "how long an outbound challenge waits to be accepted",
		},
		&cli.DurationFlag{
			Name:  "reveal-timeout",
			Value: challenge.DefaultRevealTimeout,
			Usage: "how long an accepted inbound challenge waits for the reveal",
		},
	},
	Action: func(c *cli.Context) error {
		priv, err := loadOrGenerateIdentity(c.String("identity"))
		if err != nil {
			return err
		}

		listen, err := multiaddr.NewMultiaddr(c.String("listen"))
		if err != nil {
			return fmt.Errorf("invalid listen multiaddr: %w", err)
		}

		h, err := libp2p.New(
			libp2p.Identity(priv),
			libp2p.ListenAddrs(listen),
		)
		if err != nil {
			return err
		}
		defer h.Close()

		cfg := challenge.DefaultConfig(rand.Reader)
		cfg.AcceptTimeout = c.Duration("accept-timeout")
		cfg.RevealTimeout = c.Duration("reveal-timeout")

		n, err := node.New(h, *cfg, 30*time.Second)
		if err != nil {
			return err
		}
		defer n.Close()

		log.Infow("listening", "peer", h.ID(), "addrs", h.Addrs())

		for _, addr := range c.StringSlice("peer") {
			info, err := peerAddrInfo(addr)
			if err != nil {
				log.Warnw("skipping malformed bootstrap peer", "addr", addr, "error", err)
				continue
			}
			n.AddAddress(info.ID, info.Addrs[0])
		}

		go logEvents(n)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()
		log.Infow("shutting down")
		return nil
	},
}

func logEvents(n *node.Node) {
	for ev := range n.Events() {
		log.Infow("event", "event", fmt.Sprintf("%#v", ev))
	}
}

func loadOrGenerateIdentity(path string) (crypto.PrivKey, error) {
	bts, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
		if err != nil {
			return nil, err
		}
		marshaled, err := crypto.MarshalPrivateKey(priv)
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(path, marshaled, 0o600); err != nil {
			return nil, err
		}
		return priv, nil
	}
	return crypto.UnmarshalPrivateKey(bts)
}

func peerAddrInfo(addr string) (*peer.AddrInfo, error) {
	maddr, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return nil, err
	}
	return peer.AddrInfoFromP2pAddr(maddr)
}
