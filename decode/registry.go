// SCOPEDECODE - Protocol and measurement decoding for captured instrument waveforms.
// Copyright (C) 2016 Douglas Hall
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

package decode

import (
	"fmt"
	"sort"
	"sync"
)

var (
	registryMutex sync.Mutex
	registry      = make(map[string]NewFunc)
)

// NewFunc constructs a fresh, unconnected decoder.
type NewFunc func() Decoder

// Register makes a decoder available by name. Protocol packages call it from
// init.
func Register(name string, fn NewFunc) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if fn == nil {
		panic("decode: new decoder func is nil")
	}
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("decode: decoder already registered (%s)", name))
	}
	registry[name] = fn
}

// New constructs the decoder registered as name.
func New(name string) (Decoder, error) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	fn, exists := registry[name]
	if !exists {
		return nil, fmt.Errorf("invalid protocol: %q", name)
	}
	return fn(), nil
}

// Names lists registered decoders in lexical order.
func Names() (names []string) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
