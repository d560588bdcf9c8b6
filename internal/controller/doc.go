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

// Package controller turns watched files into nested watches, configuration
// deliveries and deployments.
//
// # Classification
//
// Every dispatched file is classified by extension:
//
//   - key/value files (.properties, .cfg) are parsed into flat maps
//   - documents (.xml) are parsed into XML trees
//   - archives (.jar, .zip) are handed to the Deployer
//
// The file's base name without extension is its key. Keys starting with a
// reserved namespace declare nested watch subscriptions instead of carrying
// configuration:
//
//	# loadwatch.fileinstall-conf.cfg
//	loadwatch.fileinstall.dir = conf
//	loadwatch.fileinstall.filter = **/*.properties
//
//	<!-- loadwatch.watchers.xml -->
//	<watchers>
//	  <watcher name="conf" root="conf" maxEventsPerMinute="60">
//	    <filter type="glob">
//	      <patterns>
//	        <pattern>**/*.xml</pattern>
//	        <pattern>!**/draft-*</pattern>
//	      </patterns>
//	    </filter>
//	  </watcher>
//	</watchers>
//
// Every other configuration file is stored and delivered to the consumers
// registered for its key. Deleting it delivers a nil configuration. The same
// changes are streamed to Updates subscribers, which NewMux exposes as a
// websocket on /updates when built WithUpdates.
//
// # Concurrency
//
// File events from all subscriptions are handled one at a time. Replacing a
// nested subscription stops the old one and waits for it before the new one
// starts, so a key is never observed by two subscriptions at once. Consumer
// deliveries and deployments run on the dispatch pool.
package controller
