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

// Package logging defines the verbosity levels used with klog throughout
// the module.
package logging

const (
	// DEFAULT is the level for ordinary operational messages.
	DEFAULT = 0
	// DEBUG is the level for messages useful when diagnosing a component.
	DEBUG = 4
	// TRACE is the level for per-operation messages on hot paths.
	TRACE = 5
)
