// Package cache provides a generic, thread-safe LRU cache.
//
// The filter package uses it to keep parsed content-filter expressions and
// compiled MATCH/LIKE patterns, which are looked up on every sample a
// filtered reader evaluates:
//
//	c, err := cache.NewLRU[*regexp.Regexp](256)
//	if re, ok := c.Get(key); ok {
//	    return re
//	}
//	_, err = c.Set(key, compiled)
//
// Hit, miss and eviction counts are always tracked and available from
// Stats.
package cache
