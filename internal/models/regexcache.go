package models

import (
	"regexp"
	"sync"
)

// regexCache memoizes compiled patterns used by MappingRule.Matches so that
// ResolveModel, called on every forwarded request, doesn't recompile the
// same regex on each call.
type regexCache struct {
	mu    sync.RWMutex
	cache map[string]*regexp.Regexp
}

var compileCache = &regexCache{cache: make(map[string]*regexp.Regexp)}

func (c *regexCache) get(pattern string) (*regexp.Regexp, error) {
	c.mu.RLock()
	re, ok := c.cache[pattern]
	c.mu.RUnlock()
	if ok {
		return re, nil
	}

	compiled, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[pattern] = compiled
	c.mu.Unlock()
	return compiled, nil
}
