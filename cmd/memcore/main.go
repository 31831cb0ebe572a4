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

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"k8s.io/klog/v2"

	"github.com/lumora-ai/memcore/pkg/memcore"
)

const shutdownTimeout = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	logger := klog.FromContext(ctx).WithName("memcore")

	config := memcore.ConfigFromEnv(ctx)

	service, err := memcore.NewService(ctx, config)
	if err != nil {
		logger.Error(err, "failed to create service")
		os.Exit(1)
	}
	logger.Info("service created")

	service.Run(ctx)
	logger.Info("service running")

	<-ctx.Done()
	logger.Info("shutting down")

	// The signal context is done; give the flush its own deadline.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := service.Shutdown(shutdownCtx); err != nil {
		logger.Error(err, "shutdown finished with errors")
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}
