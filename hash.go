// Copyright 2024 The Cockroach Authors
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

package linkedhash

import "hash/maphash"

var stepSeed = maphash.MakeSeed()

// djb2 is Bernstein's rolling string hash, h = h*33 + c. It is the default
// primary hash and ignores the seed so that slot placement is reproducible.
func djb2(key string, _ uint64) uint64 {
	h := uint64(5381)
	for i := 0; i < len(key); i++ {
		h = (h << 5) + h + uint64(key[i])
	}
	return h
}

// stepHash is the default step hash. It must be independent of djb2 so that
// keys which collide on their primary slot take different strides.
func stepHash(key string, seed uint64) uint64 {
	return maphash.String(stepSeed, key) ^ seed
}
