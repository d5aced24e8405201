package main

import "time"

// GlobalFlags holds flags that are not configuration keys.
type GlobalFlags struct {
	ConfigPath string
	NoColor    bool
}

// RunFlags Flag structs to decouple cobra from logic for testing.
type RunFlags struct {
	Once        bool          // exit once ready instead of waiting for a signal
	StopTimeout time.Duration // overrides backend.stop_timeout when > 0
}
