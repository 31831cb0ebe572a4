/*
Copyright 2025 The memcore Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package kv

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"k8s.io/client-go/util/workqueue"
	"k8s.io/klog/v2"

	"github.com/lumora-ai/memcore/pkg/utils/env"
	"github.com/lumora-ai/memcore/pkg/utils/logging"
)

const (
	defaultZeroGBinary  = "0g-storage-client"
	defaultZeroGTimeout = 30 * time.Second
	defaultZeroGRetries = 3

	// walletKeyEnvVar names the environment variable holding the wallet
	// secret. The secret is environment-only and is never accepted through
	// configuration or written to logs.
	walletKeyEnvVar = "ZEROG_WALLET_KEY"
)

// ZeroGConfig holds the configuration for the chain-backed store. The
// wallet secret is deliberately absent; it is read from ZEROG_WALLET_KEY at
// construction time.
type ZeroGConfig struct {
	// Binary is the path of the external command-line client.
	Binary string `json:"binary"`
	// Nodes are the comma-separated write endpoints.
	Nodes []string `json:"nodes"`
	// ReadNode is the endpoint used for reads.
	ReadNode string `json:"readNode"`
	// RPCURL is the chain RPC endpoint.
	RPCURL string `json:"rpcUrl"`
	// StreamID is the KV stream written to.
	StreamID string `json:"streamId"`
	// Timeout bounds each client invocation.
	Timeout time.Duration `json:"timeout"`
	// MaxRetries bounds retries on timeout or non-zero exit.
	MaxRetries int `json:"maxRetries"`
}

// ZeroGConfigFromEnv builds a ZeroGConfig from the ZEROG_* environment
// variables.
func ZeroGConfigFromEnv() *ZeroGConfig {
	return &ZeroGConfig{
		Binary:     env.GetString("ZEROG_BINARY", defaultZeroGBinary),
		Nodes:      env.GetStringSlice("ZEROG_NODES"),
		ReadNode:   env.GetString("ZEROG_READ_NODE", ""),
		RPCURL:     env.GetString("ZEROG_RPC_URL", ""),
		StreamID:   env.GetString("ZEROG_STREAM_ID", ""),
		Timeout:    time.Duration(env.GetInt("ZEROG_TIMEOUT", 0)) * time.Second,
		MaxRetries: env.GetInt("ZEROG_MAX_RETRIES", defaultZeroGRetries),
	}
}

type zeroGWrite struct {
	key   string
	value string // base64-encoded; empty string is a tombstone
}

// ZeroGStore implements the Store interface over a content-addressed,
// append-only chain storage, driven through an external command-line
// client.
//
// Values must not contain literal newline or comma characters on the wire,
// so every value is Base64-encoded before submission and decoded on read.
// Deletion is modelled by writing the empty string.
//
// Writes are asynchronous: Put enqueues to a single background uploader and
// returns; Flush blocks until every queued write is durable on chain.
type ZeroGStore struct {
	cfg       *ZeroGConfig
	walletKey string

	queue   workqueue.TypedInterface[*zeroGWrite]
	pending sync.WaitGroup
	done    chan struct{}
}

var _ Store = &ZeroGStore{}

// NewZeroGStore creates a ZeroGStore and starts its uploader. Missing
// endpoints or a missing wallet secret are fatal configuration errors.
func NewZeroGStore(ctx context.Context, cfg *ZeroGConfig) (*ZeroGStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("zerog: configuration is required")
	}
	if len(cfg.Nodes) == 0 {
		return nil, fmt.Errorf("zerog: ZEROG_NODES is required")
	}
	if cfg.ReadNode == "" {
		return nil, fmt.Errorf("zerog: ZEROG_READ_NODE is required")
	}
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("zerog: ZEROG_RPC_URL is required")
	}
	if cfg.StreamID == "" {
		return nil, fmt.Errorf("zerog: ZEROG_STREAM_ID is required")
	}

	walletKey := os.Getenv(walletKeyEnvVar)
	if walletKey == "" {
		return nil, fmt.Errorf("zerog: %s is required", walletKeyEnvVar)
	}

	if cfg.Binary == "" {
		cfg.Binary = defaultZeroGBinary
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultZeroGTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = defaultZeroGRetries
	}

	s := &ZeroGStore{
		cfg:       cfg,
		walletKey: walletKey,
		queue:     workqueue.NewTyped[*zeroGWrite](),
		done:      make(chan struct{}),
	}
	go s.uploader(ctx)

	return s, nil
}

// uploader is the single background goroutine draining queued writes onto
// the chain.
func (s *ZeroGStore) uploader(ctx context.Context) {
	defer close(s.done)
	logger := klog.FromContext(ctx).WithName("kv.ZeroGStore.uploader")

	for {
		write, shutdown := s.queue.Get()
		if shutdown {
			return
		}

		func(write *zeroGWrite) {
			defer s.queue.Done(write)
			defer s.pending.Done()

			if err := s.submitWrite(ctx, write); err != nil {
				// The write is lost; the startup validator repairs the
				// resulting drift on the next pass.
				logger.Error(err, "dropping failed chain write", "key", write.key)
			}
		}(write)
	}
}

// submitWrite pushes a single key/value line through the client with the
// configured retry budget.
func (s *ZeroGStore) submitWrite(ctx context.Context, write *zeroGWrite) error {
	line := write.key + "," + write.value
	_, err := s.invoke(ctx, strings.NewReader(line+"\n"),
		"kv-write",
		"--stream-id", s.cfg.StreamID,
		"--node", strings.Join(s.cfg.Nodes, ","),
		"--url", s.cfg.RPCURL,
	)
	return err
}

// invoke runs the external client with exponential backoff on either
// timeout or non-zero exit. The wallet secret travels only through the
// child's environment.
func (s *ZeroGStore) invoke(ctx context.Context, stdin *strings.Reader, args ...string) ([]byte, error) {
	run := func() ([]byte, error) {
		callCtx, cancel := context.WithTimeout(ctx, requireTimeout(ctx, s.cfg.Timeout))
		defer cancel()

		cmd := exec.CommandContext(callCtx, s.cfg.Binary, args...)
		cmd.Env = append(os.Environ(), walletKeyEnvVar+"="+s.walletKey)
		if stdin != nil {
			if _, err := stdin.Seek(0, 0); err != nil {
				return nil, backoff.Permanent(err)
			}
			cmd.Stdin = stdin
		}

		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			return nil, fmt.Errorf("%s %s: %w: %s",
				s.cfg.Binary, args[0], err, strings.TrimSpace(stderr.String()))
		}
		return stdout.Bytes(), nil
	}

	out, err := backoff.Retry(ctx, run,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(s.cfg.MaxRetries)),
	)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Get reads a single key from the read node.
func (s *ZeroGStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	values, err := s.BatchGet(ctx, []string{key})
	if err != nil {
		return nil, false, err
	}
	value, ok := values[key]
	return value, ok, nil
}

// Put enqueues the write to the background uploader and returns. Use Flush
// to wait for durability.
func (s *ZeroGStore) Put(ctx context.Context, key string, value []byte) error {
	encoded := base64.StdEncoding.EncodeToString(value)
	s.enqueue(ctx, &zeroGWrite{key: key, value: encoded})
	return nil
}

// Delete writes an empty-string tombstone; reads skip empty values so the
// key appears absent.
func (s *ZeroGStore) Delete(ctx context.Context, key string) (bool, error) {
	_, present, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	s.enqueue(ctx, &zeroGWrite{key: key, value: ""})
	return present, nil
}

func (s *ZeroGStore) enqueue(ctx context.Context, write *zeroGWrite) {
	s.pending.Add(1)
	s.queue.Add(write)
	klog.FromContext(ctx).V(logging.TRACE).WithName("kv.ZeroGStore").Info(
		"queued chain write", "key", write.key)
}

// BatchGet reads the given keys in one client invocation. Tombstoned and
// missing keys are omitted.
func (s *ZeroGStore) BatchGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	args := []string{
		"kv-read",
		"--stream-id", s.cfg.StreamID,
		"--node", s.cfg.ReadNode,
	}
	args = append(args, keys...)

	stdout, err := s.invoke(ctx, nil, args...)
	if err != nil {
		return nil, fmt.Errorf("zerog batch read failed: %w", err)
	}

	if err := parseKVLines(stdout, func(key string, value []byte) bool {
		out[key] = value
		return true
	}); err != nil {
		return nil, err
	}
	return out, nil
}

// BatchDelete tombstones the given keys and returns the count that were
// present.
func (s *ZeroGStore) BatchDelete(ctx context.Context, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	existing, err := s.BatchGet(ctx, keys)
	if err != nil {
		return 0, err
	}
	for _, key := range keys {
		s.enqueue(ctx, &zeroGWrite{key: key, value: ""})
	}
	return len(existing), nil
}

// Iterate lists the full stream from the read node. Tombstones are skipped.
func (s *ZeroGStore) Iterate(ctx context.Context, fn func(key string, value []byte) bool) error {
	stdout, err := s.invoke(ctx, nil,
		"kv-list",
		"--stream-id", s.cfg.StreamID,
		"--node", s.cfg.ReadNode,
	)
	if err != nil {
		return fmt.Errorf("zerog list failed: %w", err)
	}
	return parseKVLines(stdout, fn)
}

// Flush blocks until the uploader has drained every queued write.
func (s *ZeroGStore) Flush(_ context.Context) error {
	s.pending.Wait()
	return nil
}

// Close flushes queued writes and stops the uploader. Shutdown must call
// Close, otherwise queued writes are lost.
func (s *ZeroGStore) Close(ctx context.Context) error {
	if err := s.Flush(ctx); err != nil {
		return err
	}
	s.queue.ShutDown()
	<-s.done
	return nil
}

// parseKVLines decodes "key,base64value" lines from client output. Empty
// values are tombstones and are skipped.
func parseKVLines(raw []byte, fn func(key string, value []byte) bool) error {
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		key, encoded, found := strings.Cut(line, ",")
		if !found {
			return fmt.Errorf("zerog: malformed client output line %q", line)
		}
		if encoded == "" {
			continue
		}

		value, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return fmt.Errorf("zerog: failed to decode value for key %q: %w", key, err)
		}
		if len(value) == 0 {
			continue
		}
		if !fn(key, value) {
			return nil
		}
	}
	return scanner.Err()
}
