// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package deploy hands deployable archives found by the watcher to a
// deployment target.
package deploy

import (
	"context"
	"io"
	"time"
)

// Handle describes an installed archive.
type Handle struct {
	// Name is the archive file name, used as the deployment identity.
	Name string

	// Location is where the archive was installed.
	Location string

	// Files is the number of regular files extracted.
	Files int

	DeployedAt time.Time
}

// Deployer installs and removes archives by name.
type Deployer interface {
	// Deploy installs the archive read from r, replacing any previous
	// deployment with the same name.
	Deploy(ctx context.Context, name string, r io.Reader) (Handle, error)

	// Undeploy removes the deployment with the given name.
	Undeploy(ctx context.Context, name string) error
}
