package config

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// SweepMarkerKey returns the cache key holding the unix time of the last
// request-triggered sweep. The marker is advisory and never treated as state.
func (r *CacheKeyStruct) SweepMarkerKey() string {
	return "lifecycle:sweep:last_run"
}

var CacheKey = NewCacheKeyStruct()
