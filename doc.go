// Copyright 2026 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package bootvisor brings a fixed set of services up under an external
// process supervisor.  It does this once, at startup, in four steps:
// the executables are fetched to local disk (unless already there), a
// supervision config describing how to run them is written, the
// supervisor is started with that config, and each service is started
// if, and only if, the supervisor does not already report it running.
//
// The supervisor itself is outside this package.  It is driven through
// the SupervisorClient interface; PM2 is an implementation that uses the
// pm2 command line.  Once started, the managed processes belong to the
// supervisor, and nothing here touches them directly.
//
package bootvisor
