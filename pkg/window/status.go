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

package window

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cast"
	"k8s.io/klog/v2"
)

// Request status values published on the channel.
const (
	StatusStart   = "start"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// statusTTL bounds how long a request's status hash survives after its
// last update.
const statusTTL = time.Hour

// TenantKeyProvider scopes status keys per tenant.
type TenantKeyProvider interface {
	TenantKey(ctx context.Context) string
}

// DefaultTenantKeyProvider scopes everything under one tenant.
type DefaultTenantKeyProvider struct{}

func (DefaultTenantKeyProvider) TenantKey(context.Context) string {
	return "default"
}

// StatusChannel publishes per-request processing status on a Redis hash
// with a sliding TTL. Writes are best-effort: a Redis outage degrades
// progress reporting, never the ingest path, so failures are logged and
// swallowed.
type StatusChannel struct {
	client  redis.UniversalClient
	tenants TenantKeyProvider
}

// NewStatusChannel wraps a Redis client. A nil tenants falls back to the
// single-tenant provider.
func NewStatusChannel(client redis.UniversalClient, tenants TenantKeyProvider) *StatusChannel {
	if tenants == nil {
		tenants = DefaultTenantKeyProvider{}
	}
	return &StatusChannel{client: client, tenants: tenants}
}

func (c *StatusChannel) key(ctx context.Context, requestID string) string {
	return fmt.Sprintf("request_status:%s:%s", c.tenants.TenantKey(ctx), requestID)
}

// MarkStart records that a request entered processing, with the request
// line that owns it.
func (c *StatusChannel) MarkStart(ctx context.Context, requestID, url, method string) {
	c.write(ctx, requestID, map[string]any{
		"status":     StatusStart,
		"url":        url,
		"method":     method,
		"start_time": time.Now().Unix(),
	})
}

// MarkSuccess records that a request completed, with its response code
// and elapsed milliseconds.
func (c *StatusChannel) MarkSuccess(ctx context.Context, requestID string, httpCode int, timeMs int64) {
	c.write(ctx, requestID, map[string]any{
		"status":    StatusSuccess,
		"http_code": httpCode,
		"time_ms":   timeMs,
		"end_time":  time.Now().Unix(),
	})
}

// MarkFailed records that a request failed, with the failure detail.
func (c *StatusChannel) MarkFailed(ctx context.Context, requestID string, httpCode int, timeMs int64, errorMessage string) {
	c.write(ctx, requestID, map[string]any{
		"status":        StatusFailed,
		"http_code":     httpCode,
		"time_ms":       timeMs,
		"error_message": errorMessage,
		"end_time":      time.Now().Unix(),
	})
}

// write applies the field diff and refreshes the TTL in one pipeline.
func (c *StatusChannel) write(ctx context.Context, requestID string, fields map[string]any) {
	key := c.key(ctx, requestID)

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, statusTTL)
		return nil
	})
	if err != nil {
		klog.FromContext(ctx).Error(err, "failed to publish request status",
			"request_id", requestID, "status", fields["status"])
	}
}

// Get reads a request's status hash. Numeric fields come back as int64
// and ttl_seconds carries the key's remaining lifetime. A missing or
// expired request reads as absent.
func (c *StatusChannel) Get(ctx context.Context, requestID string) (map[string]any, bool, error) {
	key := c.key(ctx, requestID)

	var (
		hash *redis.MapStringStringCmd
		ttl  *redis.DurationCmd
	)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		hash = pipe.HGetAll(ctx, key)
		ttl = pipe.TTL(ctx, key)
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to read status for %q: %w", requestID, err)
	}

	raw := hash.Val()
	if len(raw) == 0 {
		return nil, false, nil
	}

	status := make(map[string]any, len(raw)+1)
	for field, value := range raw {
		if n, err := cast.ToInt64E(value); err == nil {
			status[field] = n
			continue
		}
		status[field] = value
	}
	if remaining := ttl.Val(); remaining > 0 {
		status["ttl_seconds"] = int64(remaining / time.Second)
	}
	return status, true, nil
}
