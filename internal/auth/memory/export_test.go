// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

package memory

// Len returns the number of stored users.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}
