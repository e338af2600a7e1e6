// Copyright 2024 SpooledFS Authors
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

// Package artifacts embeds the files shipped inside the binary.
package artifacts

import _ "embed"

// GlobalSettings is the default settings file, written to the config
// directory on first use.
//
//go:embed global/settings.yaml
var GlobalSettings []byte
