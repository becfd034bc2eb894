package roster

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"cosigner/internal/model"
	"cosigner/internal/service/redis"
)

const keyPrefix = "cosigner:roster:"

type (
	// RosterRepo keeps one server's view of its peers in Redis. The snapshot
	// expires after ttl so a long-dead cluster is not resurrected.
	RosterRepo struct {
		svc *redis.RedisService
		key string
		ttl time.Duration
	}
)

// Key names the snapshot of the server listening on host:rpcPort.
func Key(host string, rpcPort int) string {
	return keyPrefix + net.JoinHostPort(host, strconv.Itoa(rpcPort))
}

func NewRosterRepo(svc *redis.RedisService, key string, ttl time.Duration) *RosterRepo {
	return &RosterRepo{
		svc: svc,
		key: key,
		ttl: ttl,
	}
}

func (r *RosterRepo) SaveRoster(ctx context.Context, servers []model.Server) error {
	if err := r.svc.SetJSON(ctx, r.key, servers, r.ttl); err != nil {
		return fmt.Errorf("save roster: %w", err)
	}
	return nil
}

// LoadRoster returns nil, nil when no snapshot exists.
func (r *RosterRepo) LoadRoster(ctx context.Context) ([]model.Server, error) {
	var servers []model.Server
	err := r.svc.GetJSON(ctx, r.key, &servers)
	if errors.Is(err, redis.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}
	return servers, nil
}

func (r *RosterRepo) Clear(ctx context.Context) error {
	return r.svc.Del(ctx, r.key)
}
