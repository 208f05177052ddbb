package storage

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

type RedisTLSConfig struct {
	Enabled bool
	CAFile  string
}

type RedisConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	TLS      RedisTLSConfig
}

const scanBatch = 256

type redisStore struct {
	client valkey.Client
}

func NewRedis(cfg RedisConfig) (Store, error) {
	if cfg.Address == "" {
		return nil, errors.New("storage: redis address required")
	}

	option := valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	}

	if cfg.TLS.Enabled {
		tlsConfig := &tls.Config{}
		if cfg.TLS.CAFile != "" {
			caData, err := os.ReadFile(cfg.TLS.CAFile)
			if err != nil {
				return nil, fmt.Errorf("storage: read redis ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caData) {
				return nil, errors.New("storage: redis ca file contains no certificates")
			}
			tlsConfig.RootCAs = pool
		}
		option.TLSConfig = tlsConfig
	}

	client, err := valkey.NewClient(option)
	if err != nil {
		return nil, fmt.Errorf("storage: redis client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("storage: redis ping: %w", err)
	}

	return &redisStore{client: client}, nil
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	resp := s.client.Do(ctx, s.client.B().Get().Key(key).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("storage: redis get: %w", err)
	}
	payload, err := resp.AsBytes()
	if err != nil {
		return nil, false, fmt.Errorf("storage: redis get bytes: %w", err)
	}
	return payload, true, nil
}

func (s *redisStore) Set(ctx context.Context, key string, value []byte) error {
	cmd := s.client.B().Set().Key(key).Value(string(value)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		if isOutOfMemory(err) {
			return fmt.Errorf("%w: %v", ErrQuotaExceeded, err)
		}
		return fmt.Errorf("storage: redis set: %w", err)
	}
	return nil
}

// redisOOMPrefix opens the error reply Redis and Valkey send when a write
// would exceed maxmemory: "OOM command not allowed when used memory > 'maxmemory'."
const redisOOMPrefix = "OOM"

func isOutOfMemory(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), redisOOMPrefix)
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(key).Build()).Error(); err != nil {
		return fmt.Errorf("storage: redis del: %w", err)
	}
	return nil
}

func (s *redisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	var (
		cursor uint64
		keys   []string
	)
	pattern := escapeGlob(prefix) + "*"
	for {
		cmd := s.client.B().Scan().Cursor(cursor).Match(pattern).Count(scanBatch).Build()
		entry, err := s.client.Do(ctx, cmd).AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("storage: redis scan: %w", err)
		}
		keys = append(keys, entry.Elements...)
		cursor = entry.Cursor
		if cursor == 0 {
			return keys, nil
		}
	}
}

func (s *redisStore) Close(context.Context) error {
	s.client.Close()
	return nil
}

func escapeGlob(in string) string {
	var b strings.Builder
	b.Grow(len(in))
	for _, r := range in {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
