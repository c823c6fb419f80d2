package cache

// Cache events published through the engine bus. Store is the configured
// store name, Key the caller-visible (unprefixed) key.

type HitEvent struct {
	Store string
	Key   string
}

func (HitEvent) EventName() string { return "cache.hit" }

type MissEvent struct {
	Store string
	Key   string
}

func (MissEvent) EventName() string { return "cache.miss" }

type WriteEvent struct {
	Store string
	Key   string
}

func (WriteEvent) EventName() string { return "cache.write" }

type ForgetEvent struct {
	Store string
	Key   string
}

func (ForgetEvent) EventName() string { return "cache.forget" }
