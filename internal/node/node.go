// Package node assembles one cosigner cluster member.
package node

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"cosigner/internal/cluster"
	"cosigner/internal/config"
	"cosigner/internal/model"
	"cosigner/internal/protocol/securechannel"
	"cosigner/internal/service/router"
	"cosigner/internal/service/transport"
	"cosigner/internal/utils/log"
	"cosigner/internal/wallet"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const beaconBindHost = "0.0.0.0"

type (
	Deps struct {
		Accounts wallet.AccountStore
		// Roster is optional; without it the roster starts empty on restart.
		Roster cluster.RosterStore
	}

	Node struct {
		cfg       config.Config
		dir       *cluster.Directory
		channel   *securechannel.Channel
		client    *transport.Client
		messenger *transport.SecureMessenger
		router    *router.Router
		server    *transport.HttpServer
		beacon    *cluster.Beacon
		eth       *wallet.Ethereum
	}
)

func New(cfg config.Config, deps Deps) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	secret, err := cfg.Secret()
	if err != nil {
		return nil, err
	}
	priv, err := cluster.NewIdentity()
	if err != nil {
		return nil, err
	}

	dir := cluster.NewDirectory(priv, cfg.Host, cfg.ListenPort, cfg.RPCPort)
	channel := securechannel.New(dir, securechannel.NewNonceLedger())
	client := transport.NewClient(cfg.RPCTimeout)
	messenger := transport.NewSecureMessenger(client, channel)
	dir.SetMessenger(messenger)
	if deps.Roster != nil {
		dir.SetRosterStore(deps.Roster)
	}

	eth := wallet.NewEthereum(deps.Accounts, secret)
	r := router.New(dir, channel)
	r.RegisterWallet(eth.Currency(), eth)

	n := &Node{
		cfg:       cfg,
		dir:       dir,
		channel:   channel,
		client:    client,
		messenger: messenger,
		router:    r,
		server:    transport.NewHttpServer(r, dir, cfg.PollInterval, cfg.RPCTimeout),
		beacon:    cluster.NewBeacon(dir, beaconBindHost, cfg.BeaconHost, cfg.BeaconPort, cfg.BeaconInterval),
		eth:       eth,
	}
	log.Info("node created", zap.String("serverId", dir.Self().ServerID), zap.String("rpc", dir.Self().RPCAddress()))
	return n, nil
}

// Run serves until ctx is cancelled or a component fails.
func (n *Node) Run(ctx context.Context) error {
	if err := n.dir.Restore(ctx); err != nil {
		log.Warn("restore roster failed", zap.Error(err))
	}
	for _, p := range n.dir.Peers() {
		n.dir.Greet(ctx, p)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return n.server.Serve(ctx, net.JoinHostPort(n.cfg.Host, strconv.Itoa(n.cfg.RPCPort)))
	})
	g.Go(func() error {
		return n.server.Process(ctx)
	})
	g.Go(func() error {
		// several members on one host cannot share the beacon port
		if err := n.beacon.Run(ctx); err != nil {
			log.Warn("discovery beacon disabled", zap.Error(err))
		}
		return nil
	})
	g.Go(func() error {
		return n.dir.RunHeartbeat(ctx, n.cfg.HeartbeatInterval)
	})
	err := g.Wait()
	n.dir.Wait()
	return err
}

// Join bootstraps from the roster published by the member at addr, for
// networks where the discovery beacon does not reach.
func (n *Node) Join(ctx context.Context, addr string) error {
	servers, err := n.client.FetchServers(ctx, addr)
	if err != nil {
		return fmt.Errorf("join %s: %w", addr, err)
	}
	self := n.dir.Self().ServerID
	var greet []model.Server
	for _, s := range servers {
		if s.ServerID == "" || s.ServerID == self {
			continue
		}
		n.dir.Register(s)
		greet = append(greet, s)
	}
	for _, s := range greet {
		n.dir.Greet(ctx, s)
	}
	log.Info("joined cluster", zap.String("via", addr), zap.Int("servers", len(greet)))
	return nil
}

// Broadcast sends cmd to every peer over the secure channel and returns
// the replies keyed by ServerID. A peer that did not answer maps to cmd.
func (n *Node) Broadcast(ctx context.Context, cmd string) map[string]string {
	peers := n.dir.Peers()
	replies := make(map[string]string, len(peers))
	for _, p := range peers {
		replies[p.ServerID] = n.messenger.Exchange(ctx, p, cmd)
	}
	return replies
}

func (n *Node) Self() model.Server {
	return n.dir.Self()
}

func (n *Node) Directory() *cluster.Directory {
	return n.dir
}

func (n *Node) Router() *router.Router {
	return n.router
}

func (n *Node) Wallet() *wallet.Ethereum {
	return n.eth
}
