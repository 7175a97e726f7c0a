// Package memory implements the storage ports in process memory.
//
// It backs STORAGE_BACKEND=memory and the service tests. Values are copied on the way in and
// out so callers never share mutable state with the store.
package memory
